// Package dod runs a project's Definition-of-Done shell command: the
// test gate that verifies an agent's work before a task or phase is
// considered complete.
package dod

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/creack/pty"
	"github.com/google/uuid"

	"github.com/battysh/batty/internal/common/config"
	"github.com/battysh/batty/internal/task"
)

// Config resolves the DoD command, retry budget, and working directory for
// one run.
type Config struct {
	Command    string
	MaxRetries int
	WorkDir    string
}

// Resolve picks the effective DoD configuration: task-level overrides win
// over project defaults. The second return is false when no command is
// configured at either level (no DoD for this run).
func Resolve(taskOverride *task.Override, defaults config.DefaultsConfig, workDir string) (Config, bool) {
	command := defaults.DoD
	maxRetries := defaults.MaxRetries

	if taskOverride != nil {
		if taskOverride.DoD != "" {
			command = taskOverride.DoD
		}
		if taskOverride.MaxRetries != nil {
			maxRetries = *taskOverride.MaxRetries
		}
	}

	if command == "" {
		return Config{}, false
	}
	return Config{Command: command, MaxRetries: maxRetries, WorkDir: workDir}, true
}

// Result is the outcome of a single DoD run.
type Result struct {
	Passed        bool
	Output        string
	ExitCode      int
	HasExit       bool
	CorrelationID string // ties this invocation to its execution log entries
}

// Run executes the DoD command once via `sh -c` in cfg.WorkDir, behind a
// pty: DoD commands frequently shell out to further interactive tooling
// (test runners with TTY-aware progress output, linters that colorize only
// on a terminal) that behaves differently, or misbehaves, without one.
func Run(ctx context.Context, cfg Config) (Result, error) {
	correlationID := uuid.New().String()

	cmd := exec.CommandContext(ctx, "sh", "-c", cfg.Command)
	cmd.Dir = cfg.WorkDir

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return Result{}, fmt.Errorf("failed to start DoD command under pty: %s: %w", cfg.Command, err)
	}
	defer ptmx.Close()

	var output bytes.Buffer
	_, _ = io.Copy(&output, ptmx)

	runErr := cmd.Wait()
	combined := output.String()

	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			return Result{Passed: false, Output: combined, ExitCode: exitErr.ExitCode(), HasExit: true, CorrelationID: correlationID}, nil
		}
		return Result{}, fmt.Errorf("failed to execute DoD command: %s: %w", cfg.Command, runErr)
	}

	return Result{Passed: true, Output: combined, ExitCode: 0, HasExit: true, CorrelationID: correlationID}, nil
}

// OutcomeKind discriminates the tagged result of a full DoD retry cycle.
type OutcomeKind int

const (
	NoDoD OutcomeKind = iota
	Passed
	Failed
)

// Outcome carries the attempt history of a DoD cycle.
type Outcome struct {
	Kind    OutcomeKind
	Attempt int // 1-indexed attempt that passed, set for Passed
	Results []Result
}

// RunCycle runs the DoD command up to cfg.MaxRetries+1 times, calling
// onFailure after each failed attempt so the caller can feed the failure
// back to the agent before the next retry.
func RunCycle(ctx context.Context, cfg Config, onFailure func(attempt int, r Result)) (Outcome, error) {
	totalAttempts := cfg.MaxRetries + 1
	var results []Result

	for attempt := 1; attempt <= totalAttempts; attempt++ {
		result, err := Run(ctx, cfg)
		if err != nil {
			return Outcome{}, err
		}
		if result.Passed {
			return Outcome{Kind: Passed, Attempt: attempt, Results: append(results, result)}, nil
		}
		if onFailure != nil {
			onFailure(attempt, result)
		}
		results = append(results, result)
	}

	return Outcome{Kind: Failed, Results: results}, nil
}

// CountLines returns the number of lines in output, used for audit logging
// without retaining the full captured output.
func CountLines(output string) int {
	if output == "" {
		return 0
	}
	return strings.Count(output, "\n") + 1
}
