// Package scheduler drives parallel agent dispatch across a kanban board
// (C9): it polls board state, computes the dependency-ready frontier from
// the task DAG, dispatches ready tasks to idle agents via a claim command,
// verifies claim ownership from task frontmatter, and detects completions,
// deadlocks, and stuck agents.
package scheduler

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/battysh/batty/internal/dag"
	"github.com/battysh/batty/internal/task"
)

// Config tunes one scheduler instance.
type Config struct {
	PollInterval  time.Duration
	StuckTimeout  time.Duration
	KanbanProgram string
}

// DefaultConfig mirrors the defaults used for phase execution.
func DefaultConfig() Config {
	return Config{
		PollInterval:  5 * time.Second,
		StuckTimeout:  300 * time.Second,
		KanbanProgram: "kanban-md",
	}
}

// AgentStateKind discriminates an agent slot's current state.
type AgentStateKind int

const (
	Idle AgentStateKind = iota
	Busy
)

// AgentState is one agent slot's dispatch state.
type AgentState struct {
	Kind              AgentStateKind
	TaskID            int
	LastProgressEpoch int64
}

// Dispatch records one task handed to one agent during a tick.
type Dispatch struct {
	Agent     string
	TaskID    int
	TaskTitle string
}

// StuckAgent flags an agent that hasn't progressed within StuckTimeout.
type StuckAgent struct {
	Agent       string
	TaskID      int
	StalledSecs int64
}

// Tick is the full result of one scheduler poll-and-dispatch cycle.
type Tick struct {
	Ready       []int
	Completed   []int
	Dispatched  []Dispatch
	AllDone     bool
	TotalTasks  int
	DoneTasks   int
	Deadlocked  bool
	Stuck       []StuckAgent
}

// BoardSnapshot is one poll's view of every task file under a board
// directory, keyed by id for stable iteration.
type BoardSnapshot struct {
	Tasks map[int]task.Task
	order []int
}

func (s BoardSnapshot) completedIDs() map[int]bool {
	out := make(map[int]bool)
	for id, t := range s.Tasks {
		if t.Status == taskDone {
			out[id] = true
		}
	}
	return out
}

const taskDone = task.Done
const taskArchived = task.Archived

func (s BoardSnapshot) remainingCount() int {
	n := 0
	for _, t := range s.Tasks {
		if t.Status != taskDone && t.Status != taskArchived {
			n++
		}
	}
	return n
}

func (s BoardSnapshot) taskPath(id int) (string, bool) {
	t, ok := s.Tasks[id]
	if !ok {
		return "", false
	}
	return t.SourcePath, true
}

// CommandResult is the outcome of one shelled-out kanban command.
type CommandResult struct {
	Success bool
	Stdout  string
	Stderr  string
}

// CommandRunner abstracts the kanban CLI invocation so tests can stub it.
type CommandRunner interface {
	Run(ctx context.Context, program string, args []string, cwd string) (CommandResult, error)
}

// ShellCommandRunner runs the kanban program as a real subprocess.
type ShellCommandRunner struct{}

func (ShellCommandRunner) Run(ctx context.Context, program string, args []string, cwd string) (CommandResult, error) {
	cmd := exec.CommandContext(ctx, program, args...)
	cmd.Dir = cwd

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			return CommandResult{Success: false, Stdout: stdout.String(), Stderr: stderr.String()}, nil
		}
		return CommandResult{}, fmt.Errorf("failed to run command %q in %s: %w", program, cwd, err)
	}
	return CommandResult{Success: true, Stdout: stdout.String(), Stderr: stderr.String()}, nil
}

// Scheduler holds per-run agent dispatch state across ticks.
type Scheduler struct {
	boardDir    string
	config      Config
	runner      CommandRunner
	agentStates map[string]AgentState
	knownDone   map[int]bool
}

// New constructs a Scheduler with every named agent starting Idle.
func New(boardDir string, agentNames []string, cfg Config, runner CommandRunner) *Scheduler {
	states := make(map[string]AgentState, len(agentNames))
	for _, name := range agentNames {
		states[name] = AgentState{Kind: Idle}
	}
	return &Scheduler{
		boardDir:    boardDir,
		config:      cfg,
		runner:      runner,
		agentStates: states,
		knownDone:   make(map[int]bool),
	}
}

// PollBoard reloads every task file under boardDir/tasks.
func (s *Scheduler) PollBoard() (BoardSnapshot, error) {
	tasksDir := s.boardDir + "/tasks"
	tasks, err := task.LoadDir(tasksDir, nil)
	if err != nil {
		return BoardSnapshot{}, fmt.Errorf("failed to load tasks from %s: %w", tasksDir, err)
	}

	snap := BoardSnapshot{Tasks: make(map[int]task.Task, len(tasks))}
	for _, t := range tasks {
		snap.Tasks[t.ID] = t
		snap.order = append(snap.order, t.ID)
	}
	sort.Ints(snap.order)
	return snap, nil
}

// ReadyFrontier builds a fresh DAG from the snapshot and returns its ready
// set given currently-completed task ids.
func (s *Scheduler) ReadyFrontier(snapshot BoardSnapshot) ([]int, error) {
	nodes := make([]dag.Node, 0, len(snapshot.Tasks))
	for _, id := range snapshot.order {
		t := snapshot.Tasks[id]
		nodes = append(nodes, dag.Node{ID: t.ID, Status: string(t.Status), DependsOn: t.DependsOn})
	}
	d, err := dag.Build(nodes)
	if err != nil {
		return nil, err
	}
	return d.ReadySet(snapshot.completedIDs()), nil
}

// Tick runs one full poll/dispatch/detect cycle. nowEpoch is the caller's
// monotonic progress clock, passed in rather than read from the system
// clock so ticks are reproducible in tests.
func (s *Scheduler) Tick(ctx context.Context, nowEpoch int64) (Tick, error) {
	snapshot, err := s.PollBoard()
	if err != nil {
		return Tick{}, err
	}

	completed := s.detectCompletions(snapshot)
	s.markCompletedAgentsIdle(completed)

	ready, err := s.ReadyFrontier(snapshot)
	if err != nil {
		return Tick{}, err
	}

	dispatched, err := s.dispatchReady(ctx, snapshot, ready, nowEpoch)
	if err != nil {
		return Tick{}, err
	}

	deadlocked := s.detectDeadlock(snapshot, ready)
	stuck := s.detectStuck(nowEpoch)

	return Tick{
		Ready:      ready,
		Completed:  completed,
		Dispatched: dispatched,
		AllDone:    snapshot.remainingCount() == 0,
		TotalTasks: snapshot.remainingCount() + len(snapshot.completedIDs()),
		DoneTasks:  len(snapshot.completedIDs()),
		Deadlocked: deadlocked,
		Stuck:      stuck,
	}, nil
}

// AgentStates returns a read-only snapshot of current agent states.
func (s *Scheduler) AgentStates() map[string]AgentState {
	out := make(map[string]AgentState, len(s.agentStates))
	for k, v := range s.agentStates {
		out[k] = v
	}
	return out
}

// MarkAgentProgress bumps an agent's last-progress epoch, resetting its
// stuck timer.
func (s *Scheduler) MarkAgentProgress(agent string, nowEpoch int64) {
	state, ok := s.agentStates[agent]
	if !ok || state.Kind != Busy {
		return
	}
	state.LastProgressEpoch = nowEpoch
	s.agentStates[agent] = state
}

// HandleAgentCrash releases any claim the agent held and returns it to Idle.
func (s *Scheduler) HandleAgentCrash(ctx context.Context, agent string) error {
	state, ok := s.agentStates[agent]
	if ok && state.Kind == Busy {
		if err := s.releaseClaim(ctx, state.TaskID); err != nil {
			return err
		}
	}
	s.agentStates[agent] = AgentState{Kind: Idle}
	return nil
}

func (s *Scheduler) detectCompletions(snapshot BoardSnapshot) []int {
	doneNow := snapshot.completedIDs()
	var newlyDone []int
	for id := range doneNow {
		if !s.knownDone[id] {
			newlyDone = append(newlyDone, id)
		}
	}
	sort.Ints(newlyDone)
	s.knownDone = doneNow
	return newlyDone
}

func (s *Scheduler) markCompletedAgentsIdle(completed []int) {
	if len(completed) == 0 {
		return
	}
	completedSet := make(map[int]bool, len(completed))
	for _, id := range completed {
		completedSet[id] = true
	}
	for agent, state := range s.agentStates {
		if state.Kind == Busy && completedSet[state.TaskID] {
			s.agentStates[agent] = AgentState{Kind: Idle}
		}
	}
}

func (s *Scheduler) dispatchReady(ctx context.Context, snapshot BoardSnapshot, ready []int, nowEpoch int64) ([]Dispatch, error) {
	if len(ready) == 0 {
		return nil, nil
	}

	readySet := make(map[int]bool, len(ready))
	for _, id := range ready {
		readySet[id] = true
	}

	var dispatched []Dispatch
	for _, agent := range s.idleAgents() {
		taskID, ok, err := s.tryPickForAgent(ctx, agent, readySet)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		if err := s.verifyClaim(ctx, snapshot, taskID, agent); err != nil {
			return nil, err
		}

		s.agentStates[agent] = AgentState{Kind: Busy, TaskID: taskID, LastProgressEpoch: nowEpoch}

		title := "task"
		if t, ok := snapshot.Tasks[taskID]; ok {
			title = t.Title
		}
		dispatched = append(dispatched, Dispatch{Agent: agent, TaskID: taskID, TaskTitle: title})
	}

	return dispatched, nil
}

func (s *Scheduler) idleAgents() []string {
	var names []string
	for name, state := range s.agentStates {
		if state.Kind == Idle {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

var pickedTaskRe = regexp.MustCompile(`task #(\d+)`)

func (s *Scheduler) tryPickForAgent(ctx context.Context, agent string, readySet map[int]bool) (int, bool, error) {
	args := []string{
		"pick", "--claim", agent,
		"--status", "backlog",
		"--move", "in-progress",
		"--dir", s.boardDir,
	}

	result, err := s.runner.Run(ctx, s.config.KanbanProgram, args, s.boardDir)
	if err != nil {
		return 0, false, err
	}
	if !result.Success {
		return 0, false, nil
	}

	taskID, ok := parsePickedTaskID(result.Stdout)
	if !ok {
		return 0, false, fmt.Errorf("scheduler dispatch could not parse picked task id from output")
	}

	if !readySet[taskID] {
		if err := s.releaseClaim(ctx, taskID); err != nil {
			return 0, false, err
		}
		return 0, false, fmt.Errorf("scheduler dispatched non-ready task #%d for agent %s", taskID, agent)
	}

	return taskID, true, nil
}

func (s *Scheduler) verifyClaim(ctx context.Context, snapshot BoardSnapshot, taskID int, agent string) error {
	path, ok := snapshot.taskPath(taskID)
	if !ok {
		_ = s.releaseClaim(ctx, taskID)
		return fmt.Errorf("picked task #%d not found in current board snapshot", taskID)
	}

	claimedBy, err := parseClaimedBy(path)
	if err != nil {
		return err
	}
	if claimedBy != agent {
		_ = s.releaseClaim(ctx, taskID)
		return fmt.Errorf("claim verification failed for task #%d: expected %q, found %q", taskID, agent, claimedBy)
	}

	return nil
}

func (s *Scheduler) releaseClaim(ctx context.Context, taskID int) error {
	args := []string{"edit", fmt.Sprintf("%d", taskID), "--release", "--dir", s.boardDir}
	result, err := s.runner.Run(ctx, s.config.KanbanProgram, args, s.boardDir)
	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("failed to release claim for task #%d: %s", taskID, result.Stderr)
	}
	return nil
}

func (s *Scheduler) detectDeadlock(snapshot BoardSnapshot, ready []int) bool {
	allIdle := true
	for _, state := range s.agentStates {
		if state.Kind != Idle {
			allIdle = false
			break
		}
	}
	return len(ready) == 0 && allIdle && snapshot.remainingCount() > 0
}

func (s *Scheduler) detectStuck(nowEpoch int64) []StuckAgent {
	var stuck []StuckAgent
	for agent, state := range s.agentStates {
		if state.Kind != Busy {
			continue
		}
		stalled := nowEpoch - state.LastProgressEpoch
		if stalled < 0 {
			stalled = 0
		}
		if time.Duration(stalled)*time.Second >= s.config.StuckTimeout {
			stuck = append(stuck, StuckAgent{Agent: agent, TaskID: state.TaskID, StalledSecs: stalled})
		}
	}
	sort.Slice(stuck, func(i, j int) bool { return stuck[i].Agent < stuck[j].Agent })
	return stuck
}

func parsePickedTaskID(stdout string) (int, bool) {
	m := pickedTaskRe.FindStringSubmatch(stdout)
	if m == nil {
		return 0, false
	}
	id, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return id, true
}

type claimFrontmatter struct {
	ClaimedBy string `yaml:"claimed_by"`
}

// parseClaimedBy reads only the claim-ownership field from a task file's
// frontmatter, independent of the rest of task.Task's parsing, since the
// claim lock is set directly by the kanban CLI and never round-trips
// through an Override.
func parseClaimedBy(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read task file %s: %w", path, err)
	}

	trimmed := strings.TrimSpace(string(content))
	if !strings.HasPrefix(trimmed, "---") {
		return "", fmt.Errorf("task file %s missing opening frontmatter delimiter", path)
	}
	afterOpen := strings.TrimPrefix(trimmed[3:], "\n")
	closeIdx := strings.Index(afterOpen, "\n---")
	if closeIdx < 0 {
		return "", fmt.Errorf("task file %s missing closing frontmatter delimiter", path)
	}
	fm := afterOpen[:closeIdx]

	var parsed claimFrontmatter
	if err := yaml.Unmarshal([]byte(fm), &parsed); err != nil {
		return "", fmt.Errorf("failed to parse frontmatter for %s: %w", path, err)
	}
	return parsed.ClaimedBy, nil
}
