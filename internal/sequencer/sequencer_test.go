package sequencer

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/battysh/batty/internal/executionlog"
)

func writeSeqTask(t *testing.T, tasksDir string, id int, title, status string) {
	t.Helper()
	content := fmt.Sprintf("---\nid: %d\ntitle: %s\nstatus: %s\npriority: high\ntags: []\ndepends_on: []\n---\n\nTask %d\n",
		id, title, status, id)
	path := filepath.Join(tasksDir, fmt.Sprintf("%03d-%s.md", id, title))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func setupSeqPhase(t *testing.T, projectRoot, phase string, statuses []string) string {
	t.Helper()
	dir := filepath.Join(projectRoot, ".batty", "kanban", phase, "tasks")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for i, status := range statuses {
		writeSeqTask(t, dir, i+1, fmt.Sprintf("task-%d", i+1), status)
	}
	return filepath.Dir(dir)
}

func TestParsePhaseOrderAcceptsNumericFormats(t *testing.T) {
	key, ok := ParsePhaseOrder("phase-1")
	require.True(t, ok)
	assert.Equal(t, []int{1}, key)

	key, ok = ParsePhaseOrder("phase-2.5")
	require.True(t, ok)
	assert.Equal(t, []int{2, 5}, key)

	key, ok = ParsePhaseOrder("phase-10.2.3")
	require.True(t, ok)
	assert.Equal(t, []int{10, 2, 3}, key)
}

func TestParsePhaseOrderRejectsNonNumericFormats(t *testing.T) {
	for _, name := range []string{"phase-", "phase-3b", "phase-a", "docs-update"} {
		_, ok := ParsePhaseOrder(name)
		assert.False(t, ok, "expected %q to be rejected", name)
	}
}

func TestDiscoverySortsDeterministicallyAndSkipsCompletedPhases(t *testing.T) {
	dir := t.TempDir()
	setupSeqPhase(t, dir, "phase-2.10", []string{"backlog"})
	setupSeqPhase(t, dir, "phase-1", []string{"done"})
	setupSeqPhase(t, dir, "phase-2", []string{"backlog"})
	setupSeqPhase(t, dir, "phase-2.4", []string{"in-progress"})
	setupSeqPhase(t, dir, "phase-3", []string{"todo"})
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".batty", "kanban", "phase-3b"), 0o755))

	discovery, err := DiscoverPhasesForSequencing(dir)
	require.NoError(t, err)

	var names []string
	for _, c := range discovery.Selected {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"phase-2", "phase-2.4", "phase-2.10", "phase-3"}, names)

	var skippedComplete *SelectionDecision
	for i, d := range discovery.Decisions {
		if d.Phase == "phase-1" {
			skippedComplete = &discovery.Decisions[i]
		}
	}
	require.NotNil(t, skippedComplete)
	assert.False(t, skippedComplete.Selected)
	assert.Contains(t, skippedComplete.Reason, "already complete")
}

func TestStopPolicyIsFailFastByDefault(t *testing.T) {
	assert.True(t, ShouldContinueAfterPhase(Merged, StopOnFailure))
	assert.False(t, ShouldContinueAfterPhase(Failed, StopOnFailure))
	assert.False(t, ShouldContinueAfterPhase(Escalated, StopOnFailure))
}

func TestContinuePolicyAllowsProgressAfterFailures(t *testing.T) {
	assert.True(t, ShouldContinueAfterPhase(Merged, ContinueOnFailure))
	assert.True(t, ShouldContinueAfterPhase(Failed, ContinueOnFailure))
	assert.True(t, ShouldContinueAfterPhase(Escalated, ContinueOnFailure))
}

func TestLogsPhaseSelectionDecisionsForAuditability(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "execution.jsonl")
	log, err := executionlog.Open(logPath)
	require.NoError(t, err)
	defer log.Close()

	decisions := []SelectionDecision{
		{Phase: "phase-2", OrderKey: []int{2}, Selected: true, Reason: "phase selected for execution"},
		{Phase: "phase-1", OrderKey: []int{1}, Selected: false, Reason: "phase already complete (all active tasks are done)"},
	}

	require.NoError(t, LogPhaseSelectionDecisions(log, decisions))

	content, err := os.ReadFile(logPath)
	require.NoError(t, err)
	lines := splitLines(string(content))
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"event":"phase_selection_decision"`)
	assert.Contains(t, lines[0], `"phase":"phase-2"`)
	assert.Contains(t, lines[0], `"order_key":"2"`)
	assert.Contains(t, lines[1], `"selected":false`)
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i, r := range s {
		if r == '\n' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}
