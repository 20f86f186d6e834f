package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSchedulerTask(t *testing.T, dir string, id int, status string, dependsOn []int, claimedBy string) string {
	t.Helper()
	deps := "depends_on: []"
	if len(dependsOn) > 0 {
		var lines []string
		for _, d := range dependsOn {
			lines = append(lines, fmt.Sprintf("  - %d", d))
		}
		deps = "depends_on:\n" + strings.Join(lines, "\n")
	}
	claimLine := ""
	if claimedBy != "" {
		claimLine = fmt.Sprintf("claimed_by: %s\n", claimedBy)
	}
	content := fmt.Sprintf("---\nid: %d\ntitle: task-%d\nstatus: %s\npriority: high\ntags: []\n%s\n%sclass: standard\n---\n\nTask %d\n",
		id, id, status, deps, claimLine, id)
	path := filepath.Join(dir, fmt.Sprintf("%03d-task-%d.md", id, id))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

type mockRunner struct {
	mu      sync.Mutex
	calls   [][]string
	outputs []CommandResult
}

func newMockRunner(outputs ...CommandResult) *mockRunner {
	return &mockRunner{outputs: outputs}
}

func (m *mockRunner) Run(ctx context.Context, program string, args []string, cwd string) (CommandResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	full := append([]string{program}, args...)
	m.calls = append(m.calls, full)

	if len(m.outputs) == 0 {
		return CommandResult{Success: false, Stderr: "mock exhausted"}, nil
	}
	next := m.outputs[0]
	m.outputs = m.outputs[1:]
	return next, nil
}

func (m *mockRunner) Calls() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]string{}, m.calls...)
}

func TestReadyFrontierUsesDagDependencies(t *testing.T) {
	dir := t.TempDir()
	tasksDir := filepath.Join(dir, "tasks")
	require.NoError(t, os.MkdirAll(tasksDir, 0o755))
	writeSchedulerTask(t, tasksDir, 1, "done", nil, "")
	writeSchedulerTask(t, tasksDir, 2, "backlog", []int{1}, "")
	writeSchedulerTask(t, tasksDir, 3, "backlog", []int{2}, "")

	s := New(dir, []string{"agent-a"}, DefaultConfig(), newMockRunner())
	snapshot, err := s.PollBoard()
	require.NoError(t, err)
	ready, err := s.ReadyFrontier(snapshot)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, ready)
}

func TestTickDispatchesReadyTaskToIdleAgent(t *testing.T) {
	dir := t.TempDir()
	tasksDir := filepath.Join(dir, "tasks")
	require.NoError(t, os.MkdirAll(tasksDir, 0o755))
	writeSchedulerTask(t, tasksDir, 1, "done", nil, "")
	writeSchedulerTask(t, tasksDir, 2, "backlog", []int{1}, "agent-a")

	runner := newMockRunner(CommandResult{Success: true, Stdout: "Picked and moved task #2: example"})
	s := New(dir, []string{"agent-a"}, DefaultConfig(), runner)

	tick, err := s.Tick(context.Background(), 100)
	require.NoError(t, err)

	require.Len(t, tick.Dispatched, 1)
	assert.Equal(t, Dispatch{Agent: "agent-a", TaskID: 2, TaskTitle: "task-2"}, tick.Dispatched[0])
	assert.False(t, tick.AllDone)
	assert.Equal(t, 2, tick.TotalTasks)
	assert.Equal(t, 1, tick.DoneTasks)

	state := s.AgentStates()["agent-a"]
	assert.Equal(t, Busy, state.Kind)
	assert.Equal(t, 2, state.TaskID)
	assert.Equal(t, int64(100), state.LastProgressEpoch)
}

func TestClaimVerificationFailureReleasesTask(t *testing.T) {
	dir := t.TempDir()
	tasksDir := filepath.Join(dir, "tasks")
	require.NoError(t, os.MkdirAll(tasksDir, 0o755))
	writeSchedulerTask(t, tasksDir, 1, "done", nil, "")
	writeSchedulerTask(t, tasksDir, 2, "backlog", []int{1}, "someone-else")

	runner := newMockRunner(
		CommandResult{Success: true, Stdout: "Picked and moved task #2: example"},
		CommandResult{Success: true, Stdout: "Updated task #2"},
	)
	s := New(dir, []string{"agent-a"}, DefaultConfig(), runner)

	_, err := s.Tick(context.Background(), 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "claim verification failed")

	var releaseCalled bool
	for _, call := range runner.Calls() {
		for _, arg := range call {
			if arg == "--release" {
				releaseCalled = true
			}
		}
	}
	assert.True(t, releaseCalled, "expected release call after failed claim verification")
}

func TestHandleAgentCrashReleasesClaimAndMarksIdle(t *testing.T) {
	dir := t.TempDir()
	tasksDir := filepath.Join(dir, "tasks")
	require.NoError(t, os.MkdirAll(tasksDir, 0o755))
	writeSchedulerTask(t, tasksDir, 1, "done", nil, "")
	writeSchedulerTask(t, tasksDir, 2, "backlog", []int{1}, "agent-a")

	runner := newMockRunner(
		CommandResult{Success: true, Stdout: "Picked and moved task #2: example"},
		CommandResult{Success: true, Stdout: "Updated task #2"},
	)
	s := New(dir, []string{"agent-a"}, DefaultConfig(), runner)

	_, err := s.Tick(context.Background(), 42)
	require.NoError(t, err)

	require.NoError(t, s.HandleAgentCrash(context.Background(), "agent-a"))
	assert.Equal(t, AgentState{Kind: Idle}, s.AgentStates()["agent-a"])
}

func TestStuckReportedAndBusyAgentPreventsDeadlock(t *testing.T) {
	dir := t.TempDir()
	tasksDir := filepath.Join(dir, "tasks")
	require.NoError(t, os.MkdirAll(tasksDir, 0o755))
	writeSchedulerTask(t, tasksDir, 1, "review", nil, "")

	cfg := DefaultConfig()
	cfg.StuckTimeout = 30 * time.Second
	s := New(dir, []string{"agent-a"}, cfg, newMockRunner())
	s.agentStates["agent-a"] = AgentState{Kind: Busy, TaskID: 99, LastProgressEpoch: 10}

	tick, err := s.Tick(context.Background(), 50)
	require.NoError(t, err)
	assert.False(t, tick.AllDone)
	assert.Equal(t, 1, tick.TotalTasks)
	assert.Equal(t, 0, tick.DoneTasks)
	assert.False(t, tick.Deadlocked)
	require.Len(t, tick.Stuck, 1)
	assert.Equal(t, "agent-a", tick.Stuck[0].Agent)
	assert.Equal(t, 99, tick.Stuck[0].TaskID)
}

func TestParsePickedTaskIDExtractsIdentifier(t *testing.T) {
	id, ok := parsePickedTaskID("Picked and moved task #12: test")
	require.True(t, ok)
	assert.Equal(t, 12, id)

	_, ok = parsePickedTaskID("nothing here")
	assert.False(t, ok)
}

func TestSchedulerDispatchesDistinctTasksAcrossAgents(t *testing.T) {
	dir := t.TempDir()
	tasksDir := filepath.Join(dir, "tasks")
	require.NoError(t, os.MkdirAll(tasksDir, 0o755))
	writeSchedulerTask(t, tasksDir, 1, "backlog", nil, "agent-a")
	writeSchedulerTask(t, tasksDir, 2, "backlog", nil, "agent-b")

	runner := newMockRunner(
		CommandResult{Success: true, Stdout: "Picked and moved task #1: example"},
		CommandResult{Success: true, Stdout: "Picked and moved task #2: example"},
	)
	s := New(dir, []string{"agent-a", "agent-b"}, DefaultConfig(), runner)

	tick, err := s.Tick(context.Background(), 100)
	require.NoError(t, err)
	require.Len(t, tick.Dispatched, 2)

	seen := map[int]bool{}
	for _, d := range tick.Dispatched {
		seen[d.TaskID] = true
	}
	assert.Len(t, seen, 2, "expected unique dispatched task IDs")
}

func TestEmptyBoardIsImmediatelyComplete(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "tasks"), 0o755))

	s := New(dir, []string{"agent-a"}, DefaultConfig(), newMockRunner())
	tick, err := s.Tick(context.Background(), 100)
	require.NoError(t, err)
	assert.True(t, tick.AllDone)
	assert.False(t, tick.Deadlocked)
	assert.Empty(t, tick.Ready)
	assert.Empty(t, tick.Dispatched)
}
