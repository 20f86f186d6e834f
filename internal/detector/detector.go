// Package detector is the Prompt Detector (C4): a state machine combining
// silence timeouts with pattern matching over the most recent non-empty
// line. Detector and orchestrator statuses are modeled as tagged unions
// with per-state fields; transitions are explicit functions (spec §9).
package detector

import (
	"time"

	"github.com/battysh/batty/internal/promptpattern"
)

// StateKind discriminates SupervisorState's variant.
type StateKind int

const (
	Working StateKind = iota
	Paused
	Question
	Answering
)

// State is the tagged SupervisorState of spec §3.
type State struct {
	Kind StateKind

	// Paused fields
	Since          time.Time
	LastLine       string
	UnknownEmitted bool

	// Question fields
	Prompt     string
	DetectedAt time.Time

	// Answering fields
	InjectedAt time.Time
}

// EventKind discriminates the detector's emitted events.
type EventKind int

const (
	NoEvent EventKind = iota
	PromptDetected
	UnknownRequest
	Silence
	Resumed
	WaitingForResume
)

// Event is what a detector call produces.
type Event struct {
	Kind   EventKind
	Prompt promptpattern.DetectedPrompt
}

// Config mirrors internal/common/config.DetectorConfig's effective values.
type Config struct {
	SilenceTimeout         time.Duration
	AnswerCooldown         time.Duration
	UnknownRequestFallback bool
}

// Detector is the C4 prompt-detector state machine. It is not safe for
// concurrent use; it is owned exclusively by its orchestrator.
type Detector struct {
	cfg Config
	tbl promptpattern.Table

	state          StateKind
	lastLine       string
	lastOutputTime time.Time

	pausedSince          time.Time
	pausedUnknownEmitted bool

	questionPrompt     string
	questionDetectedAt time.Time

	answeringInjectedAt time.Time

	now func() time.Time
}

// New returns a Detector starting in Working state.
func New(cfg Config, tbl promptpattern.Table) *Detector {
	return &Detector{cfg: cfg, tbl: tbl, state: Working, now: time.Now}
}

// State returns a snapshot of the current tagged state.
func (d *Detector) State() State {
	switch d.state {
	case Paused:
		return State{Kind: Paused, Since: d.pausedSince, LastLine: d.lastLine, UnknownEmitted: d.pausedUnknownEmitted}
	case Question:
		return State{Kind: Question, Prompt: d.questionPrompt, DetectedAt: d.questionDetectedAt}
	case Answering:
		return State{Kind: Answering, InjectedAt: d.answeringInjectedAt}
	default:
		return State{Kind: Working}
	}
}

// OnOutput is called when a new non-empty stripped line is produced.
func (d *Detector) OnOutput(line string) Event {
	now := d.now()

	switch d.state {
	case Working, Paused:
		d.lastLine = line
		d.lastOutputTime = now
		if prompt, ok := d.tbl.MatchPrompt(line); ok {
			d.enterQuestion(line, now)
			return Event{Kind: PromptDetected, Prompt: prompt}
		}
		d.state = Working
		return Event{Kind: NoEvent}

	case Question:
		// Any new non-empty line means the agent resumed, by itself or via
		// a human typing past the detector.
		d.state = Working
		d.lastLine = line
		d.lastOutputTime = now
		return Event{Kind: Resumed}

	case Answering:
		d.state = Working
		d.lastLine = line
		d.lastOutputTime = now
		return Event{Kind: Resumed}

	default:
		return Event{Kind: NoEvent}
	}
}

func (d *Detector) enterQuestion(prompt string, now time.Time) {
	d.state = Question
	d.questionPrompt = prompt
	d.questionDetectedAt = now
}

// Tick is called periodically (e.g. every 100ms).
func (d *Detector) Tick() Event {
	now := d.now()

	switch d.state {
	case Working:
		if !d.lastOutputTime.IsZero() && now.Sub(d.lastOutputTime) >= d.cfg.SilenceTimeout && d.lastLine != "" {
			d.pausedSince = d.lastOutputTime
			d.pausedUnknownEmitted = false
			d.state = Paused

			if prompt, ok := d.tbl.MatchPrompt(d.lastLine); ok {
				d.enterQuestion(d.lastLine, now)
				return Event{Kind: PromptDetected, Prompt: prompt}
			}
			if d.cfg.UnknownRequestFallback {
				d.pausedUnknownEmitted = true
				return Event{Kind: UnknownRequest}
			}
			return Event{Kind: Silence}
		}
		return Event{Kind: NoEvent}

	case Paused:
		if !d.pausedUnknownEmitted && d.cfg.UnknownRequestFallback {
			d.pausedUnknownEmitted = true
			return Event{Kind: UnknownRequest}
		}
		return Event{Kind: Silence}

	case Answering:
		if d.now().Sub(d.answeringInjectedAt) >= d.cfg.AnswerCooldown {
			d.state = Working
			d.lastOutputTime = now
			return Event{Kind: Resumed}
		}
		return Event{Kind: WaitingForResume}

	default:
		return Event{Kind: NoEvent}
	}
}

// AnswerInjected transitions unconditionally to Answering, called after a
// send-keys injection.
func (d *Detector) AnswerInjected() {
	d.state = Answering
	d.answeringInjectedAt = d.now()
}

// HumanOverride unconditionally transitions to Working and resets the
// silence clock, called when the user types directly into the session.
func (d *Detector) HumanOverride() {
	d.state = Working
	d.lastOutputTime = d.now()
}
