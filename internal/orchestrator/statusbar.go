package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/battysh/batty/internal/multiplexer"
)

// Indicator is the status bar's state symbol.
type Indicator int

const (
	IndicatorStateChange Indicator = iota
	IndicatorAction
	IndicatorOK
	IndicatorThinking
	IndicatorNeedsInput
	IndicatorFailure
)

func (i Indicator) symbol() string {
	switch i {
	case IndicatorStateChange:
		return "●"
	case IndicatorAction:
		return "→"
	case IndicatorOK:
		return "✓"
	case IndicatorThinking:
		return "?"
	case IndicatorNeedsInput:
		return "⚠"
	case IndicatorFailure:
		return "✗"
	default:
		return "?"
	}
}

// StatusBar manages the tmux status bar and terminal title for one
// orchestrator session, debounced to roughly 5 updates/sec to avoid tmux
// overhead when the detector ticks frequently.
type StatusBar struct {
	gateway     *multiplexer.Gateway
	session     string
	phase       string
	lastUpdate  time.Time
	minInterval time.Duration
}

// NewStatusBar builds a StatusBar bound to one tmux session.
func NewStatusBar(gateway *multiplexer.Gateway, session, phase string) *StatusBar {
	return &StatusBar{
		gateway:     gateway,
		session:     session,
		phase:       phase,
		minInterval: 200 * time.Millisecond,
	}
}

// Init styles the status bar and sets its initial content.
func (s *StatusBar) Init(ctx context.Context) error {
	if err := s.gateway.SetStatusStyle(ctx, s.session, "bg=colour235,fg=colour136"); err != nil {
		return err
	}
	if err := s.gateway.SetOption(ctx, s.session, "status-left-length", "80"); err != nil {
		return err
	}
	if err := s.gateway.SetOption(ctx, s.session, "status-right-length", "40"); err != nil {
		return err
	}
	return s.Update(ctx, IndicatorStateChange, "starting")
}

// Update sets the status bar, skipping the update if called too soon
// after the last one.
func (s *StatusBar) Update(ctx context.Context, indicator Indicator, message string) error {
	return s.update(ctx, indicator, message, false)
}

// ForceUpdate bypasses the debounce window.
func (s *StatusBar) ForceUpdate(ctx context.Context, indicator Indicator, message string) error {
	return s.update(ctx, indicator, message, true)
}

func (s *StatusBar) update(ctx context.Context, indicator Indicator, message string, force bool) error {
	if !force && !s.lastUpdate.IsZero() && time.Since(s.lastUpdate) < s.minInterval {
		return nil
	}

	left := fmt.Sprintf(" [batty] %s | %s %s", s.phase, indicator.symbol(), message)
	_ = s.gateway.SetStatusLeft(ctx, s.session, left) // best-effort

	title := fmt.Sprintf("[batty] %s | %s", s.phase, message)
	_ = s.gateway.SetTitle(ctx, s.session, title) // best-effort

	s.lastUpdate = time.Now()
	return nil
}
