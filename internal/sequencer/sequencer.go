// Package sequencer discovers runnable phase boards for "batty work all":
// it sorts them deterministically by numeric phase order, skips
// already-complete phases, and provides stop/continue policy helpers for
// multi-phase execution loops (C13).
package sequencer

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/battysh/batty/internal/common/paths"
	"github.com/battysh/batty/internal/executionlog"
	"github.com/battysh/batty/internal/task"
)

// Candidate is one selected phase ready to run.
type Candidate struct {
	Name      string
	Directory string
	OrderKey  []int
}

// SelectionDecision records why a discovered phase was selected or skipped.
type SelectionDecision struct {
	Phase    string
	OrderKey []int
	Selected bool
	Reason   string
}

// Discovery is the full result of one discovery pass.
type Discovery struct {
	Selected  []Candidate
	Decisions []SelectionDecision
}

type parsedEntry struct {
	name      string
	directory string
	orderKey  []int
}

// DiscoverPhasesForSequencing enumerates phase directories under the
// project's kanban root, keeping only names matching
// "phase-<numeric>(.<numeric>)*", sorted by the numeric vector with name as
// tie-breaker, skipping phases whose tasks/ directory exists and holds at
// least one non-archived task, every one of them done.
func DiscoverPhasesForSequencing(projectRoot string) (Discovery, error) {
	kanbanRoot := paths.ResolveKanbanRoot(projectRoot)

	entries, err := os.ReadDir(kanbanRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return Discovery{}, nil
		}
		return Discovery{}, fmt.Errorf("failed to read kanban root %s: %w", kanbanRoot, err)
	}

	var parsed []parsedEntry
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		orderKey, ok := ParsePhaseOrder(name)
		if !ok {
			continue
		}
		parsed = append(parsed, parsedEntry{
			name:      name,
			directory: filepath.Join(kanbanRoot, name),
			orderKey:  orderKey,
		})
	}

	sort.Slice(parsed, func(i, j int) bool {
		cmp := compareOrderKeys(parsed[i].orderKey, parsed[j].orderKey)
		if cmp != 0 {
			return cmp < 0
		}
		return parsed[i].name < parsed[j].name
	})

	var selected []Candidate
	var decisions []SelectionDecision

	for _, p := range parsed {
		complete, err := phaseIsComplete(p.directory)
		if err != nil {
			return Discovery{}, fmt.Errorf("failed to determine completion state for phase %s: %w", p.name, err)
		}

		if complete {
			decisions = append(decisions, SelectionDecision{
				Phase: p.name, OrderKey: p.orderKey, Selected: false,
				Reason: "phase already complete (all active tasks are done)",
			})
			continue
		}

		decisions = append(decisions, SelectionDecision{
			Phase: p.name, OrderKey: p.orderKey, Selected: true,
			Reason: "phase selected for execution",
		})
		selected = append(selected, Candidate{Name: p.name, Directory: p.directory, OrderKey: p.orderKey})
	}

	return Discovery{Selected: selected, Decisions: decisions}, nil
}

// ParsePhaseOrder parses a phase directory name into sortable numeric
// segments, e.g. "phase-2.5" -> [2, 5]. Returns false for any non-numeric
// or malformed suffix.
func ParsePhaseOrder(phase string) ([]int, bool) {
	suffix, ok := strings.CutPrefix(phase, "phase-")
	if !ok || suffix == "" {
		return nil, false
	}

	var segments []int
	for _, piece := range strings.Split(suffix, ".") {
		if piece == "" {
			return nil, false
		}
		for _, r := range piece {
			if r < '0' || r > '9' {
				return nil, false
			}
		}
		value, err := strconv.Atoi(piece)
		if err != nil {
			return nil, false
		}
		segments = append(segments, value)
	}

	return segments, true
}

func compareOrderKeys(a, b []int) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return len(a) - len(b)
}

func phaseIsComplete(phaseDir string) (bool, error) {
	tasksDir := filepath.Join(phaseDir, "tasks")
	if info, err := os.Stat(tasksDir); err != nil || !info.IsDir() {
		return false, nil
	}

	tasks, err := task.LoadDir(tasksDir, nil)
	if err != nil {
		return false, fmt.Errorf("failed to load tasks from %s: %w", tasksDir, err)
	}

	activeCount := 0
	for _, t := range tasks {
		if t.Status == task.Archived {
			continue
		}
		activeCount++
		if t.Status != task.Done {
			return false, nil
		}
	}

	return activeCount > 0, nil
}

// FailurePolicy controls whether the sequencer continues after a
// non-Merged phase outcome.
type FailurePolicy int

const (
	StopOnFailure FailurePolicy = iota
	ContinueOnFailure
)

// RunOutcome is the terminal result of one phase's execution.
type RunOutcome int

const (
	Merged RunOutcome = iota
	Failed
	Escalated
)

// ShouldContinueAfterPhase decides whether the sequencer proceeds to the
// next phase. Default behavior is fail-fast: stop on Failed or Escalated.
func ShouldContinueAfterPhase(outcome RunOutcome, policy FailurePolicy) bool {
	switch outcome {
	case Merged:
		return true
	case Failed, Escalated:
		return policy == ContinueOnFailure
	default:
		return false
	}
}

// LogPhaseSelectionDecisions writes every selection decision to the
// execution log for auditability, in the order given.
func LogPhaseSelectionDecisions(log *executionlog.Log, decisions []SelectionDecision) error {
	for _, d := range decisions {
		err := log.Log(executionlog.PhaseSelectionDecision, executionlog.PhaseSelectionDecisionData{
			Phase:    d.Phase,
			OrderKey: executionlog.FormatOrderKey(d.OrderKey),
			Selected: d.Selected,
			Reason:   d.Reason,
		})
		if err != nil {
			return err
		}
	}
	return nil
}
