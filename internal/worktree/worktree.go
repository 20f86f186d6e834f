// Package worktree is the Phase Worktree Manager (C8): it creates per-run
// isolated git worktrees named deterministically from the phase and a
// monotonically increasing run number, and finalizes them based on run
// outcome.
package worktree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/battysh/batty/internal/common/logger"
	"github.com/battysh/batty/internal/vcs"
)

// RunOutcome is the terminal state of a phase run, used to decide
// finalization.
type RunOutcome int

const (
	Completed RunOutcome = iota
	Failed
	DryRun
)

// CleanupDecision is the result of Finalize.
type CleanupDecision int

const (
	Cleaned CleanupDecision = iota
	KeptForReview
	KeptForFailure
)

func (d CleanupDecision) String() string {
	switch d {
	case Cleaned:
		return "cleaned"
	case KeptForReview:
		return "kept_for_review"
	case KeptForFailure:
		return "kept_for_failure"
	default:
		return "unknown"
	}
}

// PhaseWorktree is a record of one isolated run.
type PhaseWorktree struct {
	RepoRoot    string
	BaseBranch  string
	StartCommit string
	Branch      string
	Path        string
}

// Manager creates and finalizes phase worktrees.
type Manager struct {
	log *logger.Logger
}

// NewManager returns a worktree Manager.
func NewManager(log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Default()
	}
	return &Manager{log: log}
}

// Prepare creates a new isolated worktree for phase under project_root's
// repository. The run number is the smallest unused integer greater than
// every existing `<phase-slug>-run-NNN` branch or worktree directory.
func (m *Manager) Prepare(ctx context.Context, projectRoot, phase string) (*PhaseWorktree, error) {
	repoRoot, err := vcs.RepoTopLevel(ctx, projectRoot)
	if err != nil {
		return nil, err
	}
	gw := vcs.New(repoRoot)

	baseBranch, err := gw.CurrentBranch(ctx)
	if err != nil {
		return nil, err
	}
	startCommit, err := gw.ResolveCommit(ctx, "HEAD")
	if err != nil {
		return nil, err
	}

	worktreesRoot := filepath.Join(repoRoot, ".batty", "worktrees")
	if err := os.MkdirAll(worktreesRoot, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create worktrees directory %s: %w", worktreesRoot, err)
	}

	phaseSlug := sanitizePhaseForBranch(phase)
	prefix := phaseSlug + "-run-"

	runNumber, err := nextRunNumber(ctx, gw, worktreesRoot, prefix)
	if err != nil {
		return nil, err
	}

	for {
		branch := fmt.Sprintf("%s%03d", prefix, runNumber)
		path := filepath.Join(worktreesRoot, branch)

		exists, err := gw.BranchExists(ctx, branch)
		if err != nil {
			return nil, err
		}
		if pathExists(path) || exists {
			runNumber++
			continue
		}

		if err := gw.WorktreeAdd(ctx, branch, path, baseBranch); err != nil {
			return nil, err
		}

		m.log.Info("phase worktree created", zap.String("phase", phase), zap.String("branch", branch), zap.String("path", path))

		return &PhaseWorktree{
			RepoRoot:    repoRoot,
			BaseBranch:  baseBranch,
			StartCommit: startCommit,
			Branch:      branch,
			Path:        path,
		}, nil
	}
}

// Resolve resumes the latest existing phase worktree unless forceNew is set
// or none exists, in which case it creates a new one. Returns the worktree
// and whether it was resumed.
func (m *Manager) Resolve(ctx context.Context, projectRoot, phase string, forceNew bool) (*PhaseWorktree, bool, error) {
	if !forceNew {
		existing, err := m.latest(ctx, projectRoot, phase)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			return existing, true, nil
		}
	}

	wt, err := m.Prepare(ctx, projectRoot, phase)
	return wt, false, err
}

func (m *Manager) latest(ctx context.Context, projectRoot, phase string) (*PhaseWorktree, error) {
	repoRoot, err := vcs.RepoTopLevel(ctx, projectRoot)
	if err != nil {
		return nil, err
	}
	gw := vcs.New(repoRoot)

	baseBranch, err := gw.CurrentBranch(ctx)
	if err != nil {
		return nil, err
	}

	worktreesRoot := filepath.Join(repoRoot, ".batty", "worktrees")
	entries, err := os.ReadDir(worktreesRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", worktreesRoot, err)
	}

	phaseSlug := sanitizePhaseForBranch(phase)
	prefix := phaseSlug + "-run-"

	var bestRun int
	var bestBranch, bestPath string
	found := false

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		branch := entry.Name()
		run, ok := parseRunNumber(branch, prefix)
		if !ok {
			continue
		}

		exists, err := gw.BranchExists(ctx, branch)
		if err != nil {
			return nil, err
		}
		if !exists {
			m.log.Warn("skipping stale phase worktree directory without branch",
				zap.String("branch", branch), zap.String("path", filepath.Join(worktreesRoot, branch)))
			continue
		}

		if !found || run > bestRun {
			bestRun, bestBranch, bestPath = run, branch, filepath.Join(worktreesRoot, branch)
			found = true
		}
	}

	if !found {
		return nil, nil
	}

	startCommit, err := gw.ResolveCommit(ctx, bestBranch)
	if err != nil {
		return nil, err
	}

	return &PhaseWorktree{
		RepoRoot:    repoRoot,
		BaseBranch:  baseBranch,
		StartCommit: startCommit,
		Branch:      bestBranch,
		Path:        bestPath,
	}, nil
}

// Finalize applies the cleanup rule of spec §4.8 for the given outcome.
func (m *Manager) Finalize(ctx context.Context, wt *PhaseWorktree, outcome RunOutcome) (CleanupDecision, error) {
	gw := vcs.New(wt.RepoRoot)

	switch outcome {
	case Failed:
		return KeptForFailure, nil

	case DryRun:
		if err := gw.WorktreeRemove(ctx, wt.Path); err != nil {
			return 0, err
		}
		if err := gw.DeleteBranch(ctx, wt.Branch); err != nil {
			return 0, err
		}
		return Cleaned, nil

	case Completed:
		branchTip, err := gw.ResolveCommit(ctx, wt.Branch)
		if err != nil {
			return 0, err
		}
		if branchTip == wt.StartCommit {
			return KeptForReview, nil
		}

		merged, err := gw.IsAncestor(ctx, wt.Branch, wt.BaseBranch)
		if err != nil {
			return 0, err
		}
		if !merged {
			return KeptForReview, nil
		}

		if err := gw.WorktreeRemove(ctx, wt.Path); err != nil {
			return 0, err
		}
		if err := gw.DeleteBranch(ctx, wt.Branch); err != nil {
			return 0, err
		}
		return Cleaned, nil

	default:
		return 0, fmt.Errorf("worktree: unknown run outcome %d", outcome)
	}
}

func nextRunNumber(ctx context.Context, gw *vcs.Gateway, worktreesRoot, prefix string) (int, error) {
	maxRun := 0

	branches, err := gw.ListBranches(ctx)
	if err != nil {
		return 0, err
	}
	for _, branch := range branches {
		if run, ok := parseRunNumber(branch, prefix); ok && run > maxRun {
			maxRun = run
		}
	}

	entries, err := os.ReadDir(worktreesRoot)
	if err != nil && !os.IsNotExist(err) {
		return 0, fmt.Errorf("failed to read %s: %w", worktreesRoot, err)
	}
	for _, entry := range entries {
		if run, ok := parseRunNumber(entry.Name(), prefix); ok && run > maxRun {
			maxRun = run
		}
	}

	return maxRun + 1, nil
}

// parseRunNumber extracts the zero-padded (>=3 digit) numeric suffix after
// prefix, e.g. "phase-2-run-001" with prefix "phase-2-run-" -> 1.
func parseRunNumber(name, prefix string) (int, bool) {
	suffix, ok := strings.CutPrefix(name, prefix)
	if !ok || len(suffix) < 3 {
		return 0, false
	}
	for _, c := range suffix {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(suffix)
	if err != nil {
		return 0, false
	}
	return n, true
}

// sanitizePhaseForBranch lowercases and collapses any run of characters
// that are not ascii-alphanumeric into a single '-', trimming leading and
// trailing dashes. An entirely non-alphanumeric phase name becomes "phase".
func sanitizePhaseForBranch(phase string) string {
	var b strings.Builder
	lastDash := false
	for _, c := range phase {
		switch {
		case c >= 'a' && c <= 'z' || c >= '0' && c <= '9':
			b.WriteRune(c)
			lastDash = false
		case c >= 'A' && c <= 'Z':
			b.WriteRune(c - 'A' + 'a')
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		return "phase"
	}
	return slug
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
