package dod

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/battysh/batty/internal/common/config"
	"github.com/battysh/batty/internal/task"
)

func TestResolvePrefersTaskOverrideOverDefault(t *testing.T) {
	retries := 5
	override := &task.Override{DoD: "make test", MaxRetries: &retries}
	defaults := config.DefaultsConfig{DoD: "go test ./...", MaxRetries: 3}

	cfg, ok := Resolve(override, defaults, "/work")
	require.True(t, ok)
	assert.Equal(t, "make test", cfg.Command)
	assert.Equal(t, 5, cfg.MaxRetries)
}

func TestResolveFallsBackToDefaults(t *testing.T) {
	defaults := config.DefaultsConfig{DoD: "go test ./...", MaxRetries: 3}
	cfg, ok := Resolve(nil, defaults, "/work")
	require.True(t, ok)
	assert.Equal(t, "go test ./...", cfg.Command)
	assert.Equal(t, 3, cfg.MaxRetries)
}

func TestResolveNoCommandConfiguredIsFalse(t *testing.T) {
	_, ok := Resolve(nil, config.DefaultsConfig{}, "/work")
	assert.False(t, ok)
}

func TestRunCapturesExitCodeOnFailure(t *testing.T) {
	cfg := Config{Command: "exit 3", WorkDir: "."}
	result, err := Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.False(t, result.Passed)
	assert.Equal(t, 3, result.ExitCode)
}

func TestRunPassesOnZeroExit(t *testing.T) {
	cfg := Config{Command: "true", WorkDir: "."}
	result, err := Run(context.Background(), cfg)
	require.NoError(t, err)
	assert.True(t, result.Passed)
}

func TestRunCycleFailsAfterExhaustingRetries(t *testing.T) {
	cfg := Config{Command: "false", MaxRetries: 2, WorkDir: "."}
	var failures int
	outcome, err := RunCycle(context.Background(), cfg, func(attempt int, r Result) {
		failures++
	})
	require.NoError(t, err)
	assert.Equal(t, Failed, outcome.Kind)
	assert.Len(t, outcome.Results, 3)
	assert.Equal(t, 3, failures)
}

func TestRunCycleStopsOnFirstPass(t *testing.T) {
	cfg := Config{Command: "true", MaxRetries: 5, WorkDir: "."}
	outcome, err := RunCycle(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, Passed, outcome.Kind)
	assert.Equal(t, 1, outcome.Attempt)
}

func TestCountLines(t *testing.T) {
	assert.Equal(t, 0, CountLines(""))
	assert.Equal(t, 1, CountLines("one line"))
	assert.Equal(t, 3, CountLines("a\nb\nc"))
}
