// Package extractor is the Event Extractor (C3): polls a pane-mirror file,
// strips terminal escapes, classifies lines against a regex pattern table,
// and pushes structured events into a shared eventbuffer.Buffer.
package extractor

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/tuzig/vt10x"

	"github.com/battysh/batty/internal/eventbuffer"
)

// termCols bounds the one-row terminal emulator used to resolve escape
// sequences into plain text; lines with more visible characters than this
// are truncated, the same way a real terminal of that width would wrap.
const termCols = 4096

type classifier func(m []string) eventbuffer.Event

type eventRule struct {
	re       *regexp.Regexp
	classify classifier
}

// Patterns is a compiled, ordered event-classification table. The first
// rule to match a line wins.
type Patterns struct {
	rules []eventRule
}

// DefaultPatterns builds the default event extraction table, tuned to
// common agent output (Claude Code, Codex, Aider) after ANSI stripping.
func DefaultPatterns() Patterns {
	return Patterns{rules: []eventRule{
		{
			regexp.MustCompile(`(?i)(?:picked|claimed|starting|working on)\s+(?:and moved\s+)?task\s+#?(\d+)(?::\s+(.+))?`),
			func(m []string) eventbuffer.Event {
				return eventbuffer.Event{Kind: eventbuffer.TaskStarted, TaskID: m[1], Title: m[2]}
			},
		},
		{
			regexp.MustCompile(`(?i)(?:moved task\s+#?(\d+).*(?:done|complete)|task\s+#?(\d+)\s+(?:done|complete))`),
			func(m []string) eventbuffer.Event {
				id := m[1]
				if id == "" {
					id = m[2]
				}
				return eventbuffer.Event{Kind: eventbuffer.TaskCompleted, TaskID: id}
			},
		},
		{
			regexp.MustCompile(`(?:\[[\w/-]+\s+([0-9a-f]{7,40})\]\s+(.+)|commit\s+([0-9a-f]{7,40}))`),
			func(m []string) eventbuffer.Event {
				hash := m[1]
				if hash == "" {
					hash = m[3]
				}
				return eventbuffer.Event{Kind: eventbuffer.CommitMade, Hash: hash, Message: m[2]}
			},
		},
		{
			regexp.MustCompile(`test result:\s*(ok|FAILED)`),
			func(m []string) eventbuffer.Event {
				return eventbuffer.Event{Kind: eventbuffer.TestRan, Passed: m[1] == "ok", Detail: m[0]}
			},
		},
		{
			regexp.MustCompile(`(?i)(?:created?\s+(?:file\s+)?|wrote\s+|writing\s+to\s+)([\w/.+\-]+\.\w+)`),
			func(m []string) eventbuffer.Event {
				return eventbuffer.Event{Kind: eventbuffer.FileCreated, Path: m[1]}
			},
		},
		{
			regexp.MustCompile(`(?i)(?:edit(?:ed|ing)?\s+|modif(?:ied|ying)\s+)([\w/.+\-]+\.\w+)`),
			func(m []string) eventbuffer.Event {
				return eventbuffer.Event{Kind: eventbuffer.FileModified, Path: m[1]}
			},
		},
		{
			regexp.MustCompile(`(?:^\$\s+(.+)|Running:\s+(.+))`),
			func(m []string) eventbuffer.Event {
				cmd := m[1]
				if cmd == "" {
					cmd = m[2]
				}
				return eventbuffer.Event{Kind: eventbuffer.CommandRan, Command: cmd}
			},
		},
		{
			regexp.MustCompile(`(?i)(?:allow\s+tool|continue\?|\[y/n\]|do you want to proceed)`),
			func(m []string) eventbuffer.Event {
				return eventbuffer.Event{Kind: eventbuffer.PromptDetected, Prompt: m[0]}
			},
		},
	}}
}

// Classify returns the first matching event classification for line, or
// false if nothing in the table matches.
func (p Patterns) Classify(line string) (eventbuffer.Event, bool) {
	for _, rule := range p.rules {
		if m := rule.re.FindStringSubmatch(line); m != nil {
			return rule.classify(m), true
		}
	}
	return eventbuffer.Event{}, false
}

// Watcher polls a pane-mirror log file, maintaining a byte offset and a
// partial-line buffer so that a restart can re-read any incomplete line
// (spec §4.3, §9 event buffer/pane mirror coupling).
type Watcher struct {
	path       string
	patterns   Patterns
	buffer     *eventbuffer.Buffer
	position   int64
	lineBuffer strings.Builder
	term       vt10x.Terminal
}

// NewWatcher returns a Watcher starting at byte offset 0.
func NewWatcher(path string, buf *eventbuffer.Buffer) *Watcher {
	return NewWatcherAt(path, buf, 0)
}

// NewWatcherAt returns a Watcher resuming from a specific byte offset.
func NewWatcherAt(path string, buf *eventbuffer.Buffer, position int64) *Watcher {
	return &Watcher{
		path: path, patterns: DefaultPatterns(), buffer: buf, position: position,
		term: vt10x.New(vt10x.WithSize(termCols, 1)),
	}
}

// stripEscapes resolves line's terminal escape sequences into the plain
// text a real terminal would display, by replaying it through a one-row
// virtual terminal rather than pattern-matching CSI/OSC sequences by hand.
func (w *Watcher) stripEscapes(line string) string {
	w.term.Write([]byte("\x1b[2K\r"))
	w.term.Write([]byte(line))

	var sb strings.Builder
	for col := 0; col < termCols; col++ {
		g := w.term.Cell(col, 0)
		if g.Char == 0 {
			sb.WriteByte(' ')
			continue
		}
		sb.WriteRune(g.Char)
	}
	return sb.String()
}

// Poll reads any new bytes since the last poll, extracts complete lines,
// classifies them, and pushes matching events into the buffer. It returns
// the number of events extracted.
func (w *Watcher) Poll() (int, error) {
	f, err := os.Open(w.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to open pipe log: %s: %w", w.path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err == nil && w.position > info.Size() {
		w.position = info.Size()
	}

	if _, err := f.Seek(w.position, io.SeekStart); err != nil {
		return 0, fmt.Errorf("failed to seek in pipe log: %w", err)
	}

	newBytes, err := io.ReadAll(f)
	if err != nil {
		return 0, fmt.Errorf("failed to read pipe log: %w", err)
	}
	if len(newBytes) == 0 {
		return 0, nil
	}
	w.position += int64(len(newBytes))

	w.lineBuffer.WriteString(strings.ToValidUTF8(string(newBytes), "�"))

	count := 0
	rest := w.lineBuffer.String()
	for {
		idx := strings.IndexByte(rest, '\n')
		if idx < 0 {
			break
		}
		line := rest[:idx]
		rest = rest[idx+1:]

		trimmed := strings.TrimSpace(w.stripEscapes(line))
		if trimmed == "" {
			continue
		}
		if event, ok := w.patterns.Classify(trimmed); ok {
			w.buffer.Push(event)
			count++
		}
	}
	w.lineBuffer.Reset()
	w.lineBuffer.WriteString(rest)

	return count, nil
}

// CheckpointOffset returns position - len(partial line buffer), so a
// restart can safely re-read any incomplete line.
func (w *Watcher) CheckpointOffset() int64 {
	remaining := int64(w.lineBuffer.Len())
	if remaining > w.position {
		return 0
	}
	return w.position - remaining
}

// Buffer returns the underlying event buffer.
func (w *Watcher) Buffer() *eventbuffer.Buffer { return w.buffer }
