// Package completion evaluates the completion contract for a finished
// phase run (C11): a phase is complete only when the kanban board, its
// milestone task, the phase summary artifact, the DoD command, and the
// executor's terminal state all agree.
package completion

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/battysh/batty/internal/common/config"
	"github.com/battysh/batty/internal/common/logger"
	"github.com/battysh/batty/internal/dod"
	"github.com/battysh/batty/internal/orchestrator"
	"github.com/battysh/batty/internal/task"
)

const defaultDoDCommand = "go test ./..."

const milestoneTag = "milestone"

// Decision is the outcome of evaluating one phase's completion contract.
type Decision struct {
	IsComplete     bool
	BoardAllDone   bool
	MilestoneDone  bool
	SummaryExists  bool
	DoDPassed      bool
	ExecutorStable bool
	Reasons        []string
	SummaryPath    string // empty if no summary artifact was found
	DoDCommand     string
	DoDExecuted      bool
	DoDExitCode      int
	DoDHasExitCode   bool
	DoDOutputLines   int
	DoDCorrelationID string // ties this run's DoD invocation to its execution log entries
}

// FailureSummary renders a one-line verdict suitable for logging or a
// phase-summary report.
func (d Decision) FailureSummary() string {
	if d.IsComplete {
		return "completion contract passed"
	}
	return fmt.Sprintf("completion contract failed: %s", strings.Join(d.Reasons, "; "))
}

// EvaluatePhaseCompletion reloads phase tasks fresh from disk and checks
// every leg of the completion contract. The DoD command only runs when the
// board, milestone, and summary checks already pass and the executor
// reached a stable Completed state, matching the cost/ordering tradeoff of
// not running tests against an obviously-incomplete phase.
func EvaluatePhaseCompletion(
	ctx context.Context,
	phase string,
	executionRoot string,
	defaults config.DefaultsConfig,
	result orchestrator.Result,
) (Decision, error) {
	tasksDir := filepath.Join(executionRoot, "kanban", phase, "tasks")
	tasks, err := task.LoadDir(tasksDir, logger.Default())
	if err != nil {
		return Decision{}, fmt.Errorf("failed to reload tasks from %s: %w", tasksDir, err)
	}

	var active []task.Task
	for _, t := range tasks {
		if t.Status != task.Archived {
			active = append(active, t)
		}
	}

	var pending []string
	for _, t := range active {
		if t.Status != task.Done {
			pending = append(pending, fmt.Sprintf("#%d (%s)", t.ID, t.Status))
		}
	}
	boardAllDone := len(pending) == 0

	var milestones []task.Task
	for _, t := range active {
		for _, tag := range t.Tags {
			if tag == milestoneTag {
				milestones = append(milestones, t)
				break
			}
		}
	}
	milestoneDone := len(milestones) > 0 && allDone(milestones)

	summaryPath, summaryExists := locatePhaseSummary(executionRoot, phase)

	executorStable := result.Kind == orchestrator.Completed

	var reasons []string
	if !boardAllDone {
		reasons = append(reasons, fmt.Sprintf("board incomplete; non-done tasks: %s", strings.Join(pending, ", ")))
	}
	if len(milestones) == 0 {
		reasons = append(reasons, "no milestone task found (expected a task tagged 'milestone')")
	} else if !milestoneDone {
		var incomplete []string
		for _, t := range milestones {
			if t.Status != task.Done {
				incomplete = append(incomplete, fmt.Sprintf("#%d (%s)", t.ID, t.Status))
			}
		}
		reasons = append(reasons, fmt.Sprintf("milestone task not done; pending milestones: %s", strings.Join(incomplete, ", ")))
	}
	if !summaryExists {
		paths := expectedSummaryPaths(executionRoot, phase)
		reasons = append(reasons, fmt.Sprintf("phase summary artifact missing; expected one of: %s", strings.Join(paths, ", ")))
	}
	if !executorStable {
		reasons = append(reasons, fmt.Sprintf("executor not in stable completed state (%s)", result.Describe()))
	}

	dodCommand := defaults.DoD
	if dodCommand == "" {
		dodCommand = defaultDoDCommand
	}
	shouldRunDoD := boardAllDone && milestoneDone && summaryExists && executorStable

	decision := Decision{
		BoardAllDone:   boardAllDone,
		MilestoneDone:  milestoneDone,
		SummaryExists:  summaryExists,
		ExecutorStable: executorStable,
		SummaryPath:    summaryPath,
		DoDCommand:     dodCommand,
	}

	if shouldRunDoD {
		dodResult, err := dod.Run(ctx, dod.Config{Command: dodCommand, WorkDir: executionRoot})
		if err != nil {
			return Decision{}, fmt.Errorf("failed to execute completion DoD command %q in %s: %w", dodCommand, executionRoot, err)
		}
		decision.DoDExecuted = true
		decision.DoDPassed = dodResult.Passed
		decision.DoDExitCode = dodResult.ExitCode
		decision.DoDHasExitCode = dodResult.HasExit
		decision.DoDOutputLines = dod.CountLines(dodResult.Output)
		decision.DoDCorrelationID = dodResult.CorrelationID
		logger.Default().WithCorrelationID(dodResult.CorrelationID).Info("DoD command executed",
			zap.Int("exit_code", dodResult.ExitCode),
			zap.Bool("passed", dodResult.Passed))
		if !dodResult.Passed {
			exitDesc := "unknown"
			if dodResult.HasExit {
				exitDesc = fmt.Sprintf("%d", dodResult.ExitCode)
			}
			reasons = append(reasons, fmt.Sprintf("DoD command failed: %q (exit code: %s)", dodCommand, exitDesc))
		}
	}

	decision.Reasons = reasons
	decision.IsComplete = boardAllDone && milestoneDone && summaryExists && decision.DoDPassed && executorStable
	return decision, nil
}

func allDone(tasks []task.Task) bool {
	for _, t := range tasks {
		if t.Status != task.Done {
			return false
		}
	}
	return true
}

func expectedSummaryPaths(executionRoot, phase string) []string {
	return []string{
		filepath.Join(executionRoot, "phase-summary.md"),
		filepath.Join(executionRoot, "kanban", phase, "phase-summary.md"),
	}
}

func locatePhaseSummary(executionRoot, phase string) (string, bool) {
	for _, p := range expectedSummaryPaths(executionRoot, phase) {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, true
		}
	}
	return "", false
}
