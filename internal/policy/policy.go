// Package policy is the Policy Engine (C5): a pure function of (policy
// tier, auto-answer table, prompt text). It performs no I/O.
package policy

import (
	"github.com/battysh/batty/internal/common/config"
)

// Tier is the configured policy tier.
type Tier string

const (
	Observe Tier = "observe"
	Suggest Tier = "suggest"
	Act     Tier = "act"
)

// Kind discriminates a Decision's variant.
type Kind int

const (
	KindObserve Kind = iota
	KindSuggest
	KindAct
	KindEscalate
)

// Decision is the tagged result of evaluating a prompt.
type Decision struct {
	Kind     Kind
	Prompt   string
	Response string // set for Suggest and Act
}

// Engine maps (tier, auto-answer table, prompt) to a Decision.
type Engine struct {
	tier       Tier
	autoAnswer config.OrderedAnswers
}

// New returns a policy Engine. Table iteration order is insertion order —
// this is an observable contract for tie resolution (spec §4.5).
func New(tier Tier, autoAnswer config.OrderedAnswers) *Engine {
	return &Engine{tier: tier, autoAnswer: autoAnswer}
}

// Tier returns the engine's configured policy tier.
func (e *Engine) Tier() Tier { return e.tier }

// Evaluate maps a detected prompt to a Decision. The first table entry
// whose key is a substring of prompt wins.
func (e *Engine) Evaluate(prompt string) Decision {
	matched, ok := e.autoAnswer.Match(prompt)

	switch e.tier {
	case Observe:
		return Decision{Kind: KindObserve, Prompt: prompt}

	case Suggest:
		if ok {
			return Decision{Kind: KindSuggest, Prompt: prompt, Response: matched.Response}
		}
		return Decision{Kind: KindEscalate, Prompt: prompt}

	case Act:
		if ok {
			return Decision{Kind: KindAct, Prompt: prompt, Response: matched.Response}
		}
		return Decision{Kind: KindEscalate, Prompt: prompt}

	default:
		return Decision{Kind: KindEscalate, Prompt: prompt}
	}
}
