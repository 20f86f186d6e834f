// Package mergequeue is the Merge Queue (C10): a strict single-consumer
// FIFO of completed-run merge requests. Each request is rebased onto the
// target branch, gated by a verify command, then fast-forward merged.
package mergequeue

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/battysh/batty/internal/vcs"
)

// Request is one pending merge.
type Request struct {
	TaskID int
	Agent  string
	Branch string
}

// Result is a completed merge.
type Result struct {
	TaskID int
	Agent  string
	Branch string
}

// Queue is a FIFO; process_next (Go: ProcessNext) handles exactly one
// request at a time. There is no concurrent merging.
type Queue struct {
	repoRoot      string
	targetBranch  string
	verifyCommand string
	rebaseRetries int
	items         []Request
}

// New returns an empty merge queue targeting targetBranch.
func New(repoRoot, targetBranch, verifyCommand string, rebaseRetries int) *Queue {
	return &Queue{
		repoRoot:      repoRoot,
		targetBranch:  targetBranch,
		verifyCommand: verifyCommand,
		rebaseRetries: rebaseRetries,
	}
}

// Enqueue appends a request to the back of the queue.
func (q *Queue) Enqueue(req Request) {
	q.items = append(q.items, req)
}

// Len returns the number of pending requests.
func (q *Queue) Len() int { return len(q.items) }

// IsEmpty reports whether the queue has no pending requests.
func (q *Queue) IsEmpty() bool { return len(q.items) == 0 }

// ProcessNext pops and processes the oldest request, or returns (nil, nil)
// if the queue is empty.
func (q *Queue) ProcessNext(ctx context.Context) (*Result, error) {
	if len(q.items) == 0 {
		return nil, nil
	}
	req := q.items[0]
	q.items = q.items[1:]

	gw := vcs.New(q.repoRoot)

	if err := q.rebaseOntoTarget(ctx, gw, req.Branch); err != nil {
		return nil, err
	}

	// Test gate after rebase, before merge.
	verifyErr := q.runVerify(ctx)
	if verifyErr != nil {
		return nil, fmt.Errorf("merge queue test gate failed for branch %q: %w", req.Branch, verifyErr)
	}

	if err := gw.Switch(ctx, q.targetBranch); err != nil {
		return nil, err
	}
	if err := gw.MergeFastForwardOnly(ctx, req.Branch); err != nil {
		return nil, err
	}

	return &Result{TaskID: req.TaskID, Agent: req.Agent, Branch: req.Branch}, nil
}

func (q *Queue) rebaseOntoTarget(ctx context.Context, gw *vcs.Gateway, branch string) error {
	var lastErr error
	for attempt := 0; attempt <= q.rebaseRetries; attempt++ {
		if err := gw.Switch(ctx, branch); err != nil {
			return err
		}
		rebaseErr := gw.Rebase(ctx, q.targetBranch)
		if rebaseErr == nil {
			return gw.Switch(ctx, q.targetBranch)
		}
		lastErr = rebaseErr

		_ = gw.RebaseAbort(ctx)
		if err := gw.Switch(ctx, q.targetBranch); err != nil {
			return err
		}

		if attempt == q.rebaseRetries {
			return fmt.Errorf("rebase failed for branch %q onto %q: %w", branch, q.targetBranch, lastErr)
		}

		// Refresh the target branch before retrying. Best-effort: not every
		// repo has an upstream configured.
		_ = gw.PullRebase(ctx)
	}
	return fmt.Errorf("rebase failed for branch %q onto %q: %w", branch, q.targetBranch, lastErr)
}

func (q *Queue) runVerify(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "sh", "-lc", q.verifyCommand)
	cmd.Dir = q.repoRoot
	var out, errOut strings.Builder
	cmd.Stdout = &out
	cmd.Stderr = &errOut
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(errOut.String())
		if msg == "" {
			msg = err.Error()
		}
		return fmt.Errorf("%s", msg)
	}
	return nil
}
