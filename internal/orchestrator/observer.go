package orchestrator

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Observer receives orchestrator events for logging, status displays, or
// test assertions. Implementations must be safe for sequential use from
// the run loop; Run never calls an Observer from more than one goroutine.
type Observer interface {
	OnAutoAnswer(prompt, response string)
	OnEscalate(prompt string)
	OnSuggest(prompt, response string)
	OnEvent(message string)
}

// LogFileObserver appends formatted orchestrator events to a plain text
// log file, for the operator tailing it in the split log pane.
type LogFileObserver struct {
	mu      sync.Mutex
	logPath string
}

// NewLogFileObserver creates the log file's parent directory and returns
// an observer that appends to it.
func NewLogFileObserver(logPath string) (*LogFileObserver, error) {
	if dir := filepath.Dir(logPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log dir %s: %w", dir, err)
		}
	}
	return &LogFileObserver{logPath: logPath}, nil
}

func (o *LogFileObserver) append(line string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	f, err := os.OpenFile(o.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	fmt.Fprintln(f, line)
}

func (o *LogFileObserver) OnAutoAnswer(prompt, response string) {
	o.append(fmt.Sprintf("[batty] auto-answered: %q -> %s", prompt, response))
}

func (o *LogFileObserver) OnEscalate(prompt string) {
	o.append(fmt.Sprintf("[batty] NEEDS INPUT: %q", prompt))
}

func (o *LogFileObserver) OnSuggest(prompt, response string) {
	o.append(fmt.Sprintf("[batty] suggestion: respond to %q with %q", prompt, response))
}

func (o *LogFileObserver) OnEvent(message string) {
	o.append("[batty] " + message)
}

// MultiObserver fans one Observer call out to every observer in order.
// Used to drive the log pane file and an optional dashboard tap off the
// same run without either depending on the other.
type MultiObserver struct {
	observers []Observer
}

// NewMultiObserver returns a MultiObserver forwarding to each of
// observers in order. Any nil entries are skipped.
func NewMultiObserver(observers ...Observer) *MultiObserver {
	filtered := make([]Observer, 0, len(observers))
	for _, o := range observers {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	return &MultiObserver{observers: filtered}
}

func (m *MultiObserver) OnAutoAnswer(prompt, response string) {
	for _, o := range m.observers {
		o.OnAutoAnswer(prompt, response)
	}
}

func (m *MultiObserver) OnEscalate(prompt string) {
	for _, o := range m.observers {
		o.OnEscalate(prompt)
	}
}

func (m *MultiObserver) OnSuggest(prompt, response string) {
	for _, o := range m.observers {
		o.OnSuggest(prompt, response)
	}
}

func (m *MultiObserver) OnEvent(message string) {
	for _, o := range m.observers {
		o.OnEvent(message)
	}
}
