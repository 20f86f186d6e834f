// Package orchestrator drives one phase's executor session: it owns the
// tmux pane, feeds output through the prompt detector, and answers or
// escalates the questions that surface (C7). This file carries the result
// type consumed by the completion contract (C11); the run loop that
// produces it is in run.go.
package orchestrator

import "fmt"

// ResultKind discriminates how an executor session ended.
type ResultKind int

const (
	// Completed means the executor process exited on its own: the session
	// ran to completion without operator or error interruption.
	Completed ResultKind = iota
	// Detached means a human detached the session or sent an interrupt
	// before the executor finished.
	Detached
	// Errored means the session ended because of an orchestrator-level
	// failure (tmux, watcher, or supervisor error), not executor exit.
	Errored
)

// Result is the terminal outcome of one orchestrator run.
type Result struct {
	Kind   ResultKind
	Detail string // set for Errored
}

// Describe renders a one-line human-readable summary, used in completion
// contract failure reasons.
func (r Result) Describe() string {
	switch r.Kind {
	case Completed:
		return "completed"
	case Detached:
		return "detached"
	case Errored:
		return fmt.Sprintf("error: %s", r.Detail)
	default:
		return "unknown"
	}
}
