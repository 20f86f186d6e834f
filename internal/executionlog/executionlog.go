// Package executionlog is the Execution Log (C12): a single append-only
// JSONL file, one object per line, shared by every writer through an
// internal mutex. It also maintains a best-effort sqlite mirror that the
// observer dashboard's tailer polls for recent events without re-parsing
// the whole file.
package executionlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// EventKind is the closed enumeration from spec §4.12.
type EventKind string

const (
	TaskRead               EventKind = "task_read"
	WorktreeCreated        EventKind = "worktree_created"
	AgentLaunched          EventKind = "agent_launched"
	PromptDetected         EventKind = "prompt_detected"
	AutoResponse           EventKind = "auto_response"
	PolicyDecision         EventKind = "policy_decision"
	TestExecuted           EventKind = "test_executed"
	TestResult             EventKind = "test_result"
	Commit                 EventKind = "commit"
	Merge                  EventKind = "merge"
	SessionStarted         EventKind = "session_started"
	SessionEnded           EventKind = "session_ended"
	RunCompleted           EventKind = "run_completed"
	RunFailed              EventKind = "run_failed"
	PhaseWorktreeCreated   EventKind = "phase_worktree_created"
	PhaseWorktreeFinalized EventKind = "phase_worktree_finalized"
	PhaseSelectionDecision EventKind = "phase_selection_decision"
	LaunchContextSnapshot  EventKind = "launch_context_snapshot"
	AgentOutput            EventKind = "agent_output"
)

// Per-kind data payloads. Each mirrors one LogEvent variant's fields.
type TaskReadData struct {
	TaskID int    `json:"task_id"`
	Title  string `json:"title"`
	Status string `json:"status"`
}

type WorktreeCreatedData struct {
	TaskID int    `json:"task_id"`
	Path   string `json:"path"`
	Branch string `json:"branch"`
}

type AgentLaunchedData struct {
	Agent   string `json:"agent"`
	Program string `json:"program"`
	WorkDir string `json:"work_dir"`
}

type PromptDetectedData struct {
	Kind        string `json:"kind"`
	MatchedText string `json:"matched_text"`
}

type AutoResponseData struct {
	Prompt   string `json:"prompt"`
	Response string `json:"response"`
}

type PolicyDecisionData struct {
	Decision string `json:"decision"`
	Prompt   string `json:"prompt"`
}

type TestExecutedData struct {
	Command  string `json:"command"`
	Passed   bool   `json:"passed"`
	ExitCode *int   `json:"exit_code,omitempty"`
}

type TestResultData struct {
	Attempt     int  `json:"attempt"`
	Passed      bool `json:"passed"`
	OutputLines int  `json:"output_lines"`
}

type CommitData struct {
	Hash    string `json:"hash"`
	Message string `json:"message"`
}

type MergeData struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

type SessionStartedData struct {
	Phase string `json:"phase"`
}

type SessionEndedData struct {
	Result string `json:"result"`
}

type RunCompletedData struct {
	Summary string `json:"summary"`
}

type RunFailedData struct {
	Reason string `json:"reason"`
}

type PhaseWorktreeData struct {
	Phase  string `json:"phase"`
	Path   string `json:"path"`
	Branch string `json:"branch"`
}

type PhaseSelectionDecisionData struct {
	Phase    string `json:"phase"`
	OrderKey string `json:"order_key"`
	Selected bool   `json:"selected"`
	Reason   string `json:"reason"`
}

type LaunchContextSnapshotData struct {
	Snapshot string `json:"snapshot"`
}

type AgentOutputData struct {
	Line string `json:"line"`
}

// entry is one JSONL line: `{timestamp, event, data}` per spec §4.12.
type entry struct {
	Timestamp string    `json:"timestamp"`
	Event     EventKind `json:"event"`
	Data      any       `json:"data"`
}

// Log is the mutex-guarded JSONL writer plus its sqlite mirror.
type Log struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	db     *sqlx.DB // nil if the mirror couldn't be opened; best-effort only
}

// Open creates (or appends to) the JSONL file at path, creating parent
// directories as needed, and opens a sqlite mirror at the same path with a
// ".sqlite" extension.
func Open(path string) (*Log, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create execution log directory: %s: %w", dir, err)
		}
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open execution log: %s: %w", path, err)
	}

	l := &Log{file: file, writer: bufio.NewWriter(file)}

	sqlitePath := strings.TrimSuffix(path, filepath.Ext(path)) + ".sqlite"
	if db, err := openMirror(sqlitePath); err == nil {
		l.db = db
	}

	return l, nil
}

func openMirror(path string) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		event TEXT NOT NULL,
		data TEXT NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Log appends one event, flushing the JSONL file immediately. The sqlite
// mirror write is best-effort: a failure there never fails the call, since
// the JSONL file is the single source of truth (spec §4.12, §7).
func (l *Log) Log(kind EventKind, data any) error {
	e := entry{Timestamp: nowISO8601(), Event: kind, Data: data}
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal execution log entry: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.writer.Write(line); err != nil {
		return fmt.Errorf("failed to write execution log entry: %w", err)
	}
	if err := l.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write execution log entry: %w", err)
	}
	if err := l.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush execution log: %w", err)
	}

	if l.db != nil {
		dataJSON, _ := json.Marshal(data)
		_, _ = l.db.Exec(`INSERT INTO events (timestamp, event, data) VALUES (?, ?, ?)`,
			e.Timestamp, string(kind), string(dataJSON))
	}

	return nil
}

// Close flushes and closes the underlying file and sqlite mirror.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.db != nil {
		_ = l.db.Close()
	}
	if err := l.writer.Flush(); err != nil {
		return err
	}
	return l.file.Close()
}

func nowISO8601() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// FormatOrderKey renders a phase order-key vector as a dotted string, e.g.
// [2, 5] -> "2.5", for the phase_selection_decision event.
func FormatOrderKey(orderKey []int) string {
	parts := make([]string, len(orderKey))
	for i, v := range orderKey {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ".")
}
