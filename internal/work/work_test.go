package work

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/battysh/batty/internal/agentreg"
	"github.com/battysh/batty/internal/common/config"
	"github.com/battysh/batty/internal/task"
)

func makeTask(id int, title string, status task.Status, deps []int) task.Task {
	return task.Task{ID: id, Title: title, Status: status, DependsOn: deps}
}

func testConfig() *config.Config {
	return &config.Config{
		Defaults: config.DefaultsConfig{Agent: "claude", Policy: "observe", MaxRetries: 3},
	}
}

func TestComposeLaunchContextIncludesRequiredSources(t *testing.T) {
	tmp := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmp, "CLAUDE.md"), []byte("# Steering\nUse workflow.\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(tmp, "kanban", "phase-1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(tmp, "kanban", "phase-1", "PHASE.md"), []byte("# Phase 1\nBuild it.\n"), 0o644))

	tasks := []task.Task{
		makeTask(1, "scaffolding", task.Done, nil),
		makeTask(2, "CI setup", task.Backlog, []int{1}),
	}
	adapter, ok := agentreg.FromName("claude")
	require.True(t, ok)

	lc, err := composeLaunchContext("phase-1", tasks, tmp, testConfig(), "observe", adapter, "")
	require.NoError(t, err)

	assert.Contains(t, lc.Prompt, "## Active Agent Instructions")
	assert.Contains(t, lc.Prompt, "Use workflow.")
	assert.Contains(t, lc.Prompt, "## Phase Context")
	assert.Contains(t, lc.Prompt, "Build it.")
	assert.Contains(t, lc.Prompt, "#2 [backlog] CI setup (depends on: #1)")
	assert.Equal(t, "CLAUDE.md", filepath.Base(lc.InstructionsPath))
}

func TestComposeLaunchContextErrorsWhenInstructionFileMissing(t *testing.T) {
	tmp := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(tmp, "kanban", "phase-1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(tmp, "kanban", "phase-1", "PHASE.md"), []byte("Phase doc\n"), 0o644))

	adapter, ok := agentreg.FromName("claude")
	require.True(t, ok)

	_, err := composeLaunchContext("phase-1", nil, tmp, testConfig(), "observe", adapter, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required agent instruction file")
}

func TestComposeLaunchContextErrorsWhenPhaseDocMissing(t *testing.T) {
	tmp := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmp, "CLAUDE.md"), []byte("Steering\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(tmp, "kanban", "phase-1"), 0o755))

	adapter, ok := agentreg.FromName("claude")
	require.True(t, ok)

	_, err := composeLaunchContext("phase-1", nil, tmp, testConfig(), "observe", adapter, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required phase context file")
}

func TestComposeLaunchContextAppliesCodexWrapper(t *testing.T) {
	tmp := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmp, "AGENTS.md"), []byte("Codex steering\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(tmp, "kanban", "phase-1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(tmp, "kanban", "phase-1", "PHASE.md"), []byte("Phase doc\n"), 0o644))

	adapter, ok := agentreg.FromName("codex")
	require.True(t, ok)

	lc, err := composeLaunchContext("phase-1", []task.Task{makeTask(9, "wrapping", task.Backlog, nil)}, tmp, testConfig(), "observe", adapter, "")
	require.NoError(t, err)

	assert.Contains(t, lc.Prompt, "Codex under Batty supervision")
	assert.Equal(t, "AGENTS.md", filepath.Base(lc.InstructionsPath))
}

func TestMissingPhaseBoardIsError(t *testing.T) {
	tmp := t.TempDir()
	err := RunPhase(nil, Options{Phase: "phase-1", AgentName: "claude", ProjectRoot: tmp}, testConfig(), nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "phase board not found")
}

func TestResolvePolicyTierDefaultsWhenOverrideEmpty(t *testing.T) {
	tier, err := resolvePolicyTier("", "act")
	require.NoError(t, err)
	assert.Equal(t, "act", tier)
}

func TestResolvePolicyTierRejectsUnknownOverride(t *testing.T) {
	_, err := resolvePolicyTier("bogus", "observe")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown policy")
}

func TestDisplayPathFallsBackOutsideRoot(t *testing.T) {
	assert.Equal(t, "sub/file.md", displayPath("/root/project", "/root/project/sub/file.md"))
	assert.Equal(t, "/elsewhere/file.md", displayPath("/root/project", "/elsewhere/file.md"))
}

func TestConfigSourceLabelFallsBackToDefaults(t *testing.T) {
	assert.Contains(t, configSourceLabel(""), "defaults")
	assert.Equal(t, "/x/.batty/config.toml", configSourceLabel("/x/.batty/config.toml"))
}
