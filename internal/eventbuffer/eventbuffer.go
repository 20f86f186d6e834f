// Package eventbuffer holds the PipeEvent taxonomy (spec §3) and the
// bounded, thread-safe rolling buffer the orchestrator composes into a
// Tier-2 context packet.
package eventbuffer

import (
	"fmt"
	"strings"
	"sync"
)

// Kind discriminates a PipeEvent's variant.
type Kind int

const (
	TaskStarted Kind = iota
	TaskCompleted
	FileCreated
	FileModified
	CommandRan
	TestRan
	PromptDetected
	CommitMade
	OutputLine
)

// Event is the tagged PipeEvent union. Only the fields relevant to Kind are
// populated by the extractor; the rest are zero.
type Event struct {
	Kind Kind

	TaskID  string
	Title   string
	Path    string
	Command string
	Success *bool // nil = unknown
	Passed  bool
	Detail  string
	Prompt  string
	Hash    string
	Message string
	Line    string
}

// DefaultCapacity is the buffer's default bounded size.
const DefaultCapacity = 50

// Buffer is a bounded FIFO of Event, safe for concurrent producers and
// consumers. The oldest entry is evicted on overflow.
type Buffer struct {
	mu       sync.Mutex
	events   []Event
	capacity int
}

// New returns a Buffer with the given capacity.
func New(capacity int) *Buffer {
	return &Buffer{capacity: capacity}
}

// Push appends an event, evicting the oldest if the buffer is full.
func (b *Buffer) Push(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.events) >= b.capacity {
		b.events = b.events[1:]
	}
	b.events = append(b.events, e)
}

// Snapshot returns a copy of all events currently in the buffer.
func (b *Buffer) Snapshot() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.events))
	copy(out, b.events)
	return out
}

// Len returns the number of events currently buffered.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// IsEmpty reports whether the buffer holds no events.
func (b *Buffer) IsEmpty() bool {
	return b.Len() == 0
}

// Clear removes all buffered events.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = nil
}

// FormatSummary renders a compact, human-readable summary of the buffer's
// contents for the Tier-2 context packet (spec §4.6).
func (b *Buffer) FormatSummary() string {
	events := b.Snapshot()
	if len(events) == 0 {
		return "(no events yet)"
	}

	var sb strings.Builder
	for _, e := range events {
		sb.WriteString(formatEvent(e))
		sb.WriteByte('\n')
	}
	return sb.String()
}

func formatEvent(e Event) string {
	switch e.Kind {
	case TaskStarted:
		return fmt.Sprintf("-> task #%s started: %s", e.TaskID, e.Title)
	case TaskCompleted:
		return fmt.Sprintf("v task #%s completed", e.TaskID)
	case FileCreated:
		return fmt.Sprintf("+ %s", e.Path)
	case FileModified:
		return fmt.Sprintf("~ %s", e.Path)
	case CommandRan:
		status := ""
		if e.Success != nil {
			if *e.Success {
				status = " ok"
			} else {
				status = " failed"
			}
		}
		return fmt.Sprintf("$ %s%s", e.Command, status)
	case TestRan:
		icon := "x"
		if e.Passed {
			icon = "v"
		}
		return fmt.Sprintf("%s test: %s", icon, e.Detail)
	case PromptDetected:
		return fmt.Sprintf("? %s", e.Prompt)
	case CommitMade:
		short := e.Hash
		if len(short) > 7 {
			short = short[:7]
		}
		return fmt.Sprintf("@ commit %s: %s", short, e.Message)
	case OutputLine:
		if len(e.Line) > 80 {
			return "  " + e.Line[:77] + "..."
		}
		return "  " + e.Line
	default:
		return ""
	}
}
