// Package vcs is the Source-control Gateway (C2): a thin wrapper over the
// git binary used by the worktree manager and merge queue. Every operation
// surfaces exit status and stderr so callers can classify failures.
package vcs

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Gateway invokes git against a fixed repo root.
type Gateway struct {
	RepoRoot string
}

// New returns a Gateway rooted at repoRoot.
func New(repoRoot string) *Gateway {
	return &Gateway{RepoRoot: repoRoot}
}

// Result is the outcome of one git invocation.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

func (g *Gateway) run(ctx context.Context, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.RepoRoot
	var out, errOut strings.Builder
	cmd.Stdout = &out
	cmd.Stderr = &errOut

	err := cmd.Run()
	res := Result{Stdout: strings.TrimSpace(out.String()), Stderr: strings.TrimSpace(errOut.String())}
	if exitErr, ok := err.(*exec.ExitError); ok {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("vcs: run git %v: %w", args, err)
	}
	res.ExitCode = 0
	return res, nil
}

// RepoTopLevel resolves the repository root for dir via rev-parse.
func RepoTopLevel(ctx context.Context, dir string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--show-toplevel")
	cmd.Dir = dir
	var out, errOut strings.Builder
	cmd.Stdout = &out
	cmd.Stderr = &errOut
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("not a git repository: %s", strings.TrimSpace(errOut.String()))
	}
	root := strings.TrimSpace(out.String())
	if root == "" {
		return "", fmt.Errorf("git rev-parse returned empty repository root")
	}
	return root, nil
}

// CurrentBranch returns the checked-out branch name, rejecting detached HEAD.
func (g *Gateway) CurrentBranch(ctx context.Context) (string, error) {
	res, err := g.run(ctx, "branch", "--show-current")
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("failed to determine current branch: %s", res.Stderr)
	}
	if res.Stdout == "" {
		return "", fmt.Errorf("detached HEAD is not supported; checkout a branch first")
	}
	return res.Stdout, nil
}

// ResolveCommit resolves rev (e.g. "HEAD", a branch name) to a commit hash.
func (g *Gateway) ResolveCommit(ctx context.Context, rev string) (string, error) {
	res, err := g.run(ctx, "rev-parse", rev)
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("failed to resolve revision %q: %s", rev, res.Stderr)
	}
	if res.Stdout == "" {
		return "", fmt.Errorf("git rev-parse returned empty commit for %q", rev)
	}
	return res.Stdout, nil
}

// BranchExists reports whether a local branch ref exists.
func (g *Gateway) BranchExists(ctx context.Context, branch string) (bool, error) {
	res, err := g.run(ctx, "show-ref", "--verify", "--quiet", "refs/heads/"+branch)
	if err != nil {
		return false, err
	}
	switch res.ExitCode {
	case 0:
		return true, nil
	case 1:
		return false, nil
	default:
		return false, fmt.Errorf("failed to check branch %q: %s", branch, res.Stderr)
	}
}

// ListBranches returns every local branch's short name.
func (g *Gateway) ListBranches(ctx context.Context) ([]string, error) {
	res, err := g.run(ctx, "for-each-ref", "--format=%(refname:short)", "refs/heads")
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("failed to list branches: %s", res.Stderr)
	}
	if res.Stdout == "" {
		return nil, nil
	}
	return strings.Split(res.Stdout, "\n"), nil
}

// IsAncestor reports whether branch is an ancestor of base (i.e. merged).
func (g *Gateway) IsAncestor(ctx context.Context, branch, base string) (bool, error) {
	res, err := g.run(ctx, "merge-base", "--is-ancestor", branch, base)
	if err != nil {
		return false, err
	}
	switch res.ExitCode {
	case 0:
		return true, nil
	case 1:
		return false, nil
	default:
		return false, fmt.Errorf("failed to check merge status for %q into %q: %s", branch, base, res.Stderr)
	}
}

// WorktreeAdd creates branch at path, based on base.
func (g *Gateway) WorktreeAdd(ctx context.Context, branch, path, base string) error {
	res, err := g.run(ctx, "worktree", "add", "-b", branch, path, base)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("git worktree add failed: %s", res.Stderr)
	}
	return nil
}

// WorktreeRemove force-removes a worktree directory. Idempotent: a missing
// worktree is not an error.
func (g *Gateway) WorktreeRemove(ctx context.Context, path string) error {
	res, err := g.run(ctx, "worktree", "remove", "--force", path)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		if strings.Contains(res.Stderr, "is not a working tree") {
			return nil
		}
		return fmt.Errorf("failed to remove worktree %q: %s", path, res.Stderr)
	}
	return nil
}

// DeleteBranch force-deletes a branch. Idempotent: a missing branch is not
// an error.
func (g *Gateway) DeleteBranch(ctx context.Context, branch string) error {
	exists, err := g.BranchExists(ctx, branch)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	res, err := g.run(ctx, "branch", "-D", branch)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("failed to delete branch %q: %s", branch, res.Stderr)
	}
	return nil
}

// Switch checks out branch in the repo's primary working tree.
func (g *Gateway) Switch(ctx context.Context, branch string) error {
	res, err := g.run(ctx, "switch", branch)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("failed to switch to branch %q: %s", branch, res.Stderr)
	}
	return nil
}

// Rebase rebases the current branch onto target.
func (g *Gateway) Rebase(ctx context.Context, target string) error {
	res, err := g.run(ctx, "rebase", target)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("rebase onto %q failed: %s", target, res.Stderr)
	}
	return nil
}

// RebaseAbort aborts an in-progress rebase. Best-effort: errors are ignored
// by callers since the repo may not be mid-rebase.
func (g *Gateway) RebaseAbort(ctx context.Context) error {
	_, err := g.run(ctx, "rebase", "--abort")
	return err
}

// PullRebase does a best-effort `git pull --rebase` on the checked-out
// branch, used to refresh the target branch between merge-queue retries.
func (g *Gateway) PullRebase(ctx context.Context) error {
	_, err := g.run(ctx, "pull", "--rebase")
	return err
}

// MergeFastForwardOnly fast-forward-merges branch into the current branch.
func (g *Gateway) MergeFastForwardOnly(ctx context.Context, branch string) error {
	res, err := g.run(ctx, "merge", "--ff-only", branch)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("ff-only merge failed for branch %q: %s", branch, res.Stderr)
	}
	return nil
}
