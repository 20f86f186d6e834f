// Package work implements the `batty work <phase>` pipeline: it validates
// a phase board, isolates the run in its own worktree, composes the
// agent's launch context, and drives the orchestrator to completion.
package work

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/battysh/batty/internal/agentreg"
	"github.com/battysh/batty/internal/common/config"
	"github.com/battysh/batty/internal/common/logger"
	"github.com/battysh/batty/internal/detector"
	"github.com/battysh/batty/internal/executionlog"
	"github.com/battysh/batty/internal/multiplexer"
	"github.com/battysh/batty/internal/observer"
	"github.com/battysh/batty/internal/orchestrator"
	"github.com/battysh/batty/internal/policy"
	"github.com/battysh/batty/internal/task"
	"github.com/battysh/batty/internal/tier2"
	"github.com/battysh/batty/internal/worktree"
)

// Options configures one `batty work` invocation.
type Options struct {
	Phase            string
	AgentName        string
	PolicyOverride   string // "", "observe", "suggest", or "act"
	AutoAttach       bool
	ForceNewWorktree bool
	DryRun           bool
	ProjectRoot      string
	ConfigPath       string // empty if config came from defaults
}

// LaunchContext is the composed prompt plus the sources it drew from.
type LaunchContext struct {
	Prompt            string
	InstructionsPath  string
	PhaseDocPath      string
	ConfigSourceLabel string
}

// RunPhase runs the full work pipeline for one phase: validates the board,
// resolves an isolated worktree, composes the launch context, spawns the
// agent under the orchestrator, and finalizes the worktree by run outcome.
func RunPhase(ctx context.Context, opts Options, cfg *config.Config, stop <-chan struct{}, log *logger.Logger) error {
	if log == nil {
		log = logger.Default()
	}

	sourceTasksDir := filepath.Join(opts.ProjectRoot, "kanban", opts.Phase, "tasks")
	if info, err := os.Stat(sourceTasksDir); err != nil || !info.IsDir() {
		return fmt.Errorf("phase board not found: %s (expected %s)", opts.Phase, sourceTasksDir)
	}

	wtManager := worktree.NewManager(log)
	phaseWorktree, resumed, err := wtManager.Resolve(ctx, opts.ProjectRoot, opts.Phase, opts.ForceNewWorktree)
	if err != nil {
		return fmt.Errorf("failed to resolve isolated worktree for phase %s: %w", opts.Phase, err)
	}
	executionRoot := phaseWorktree.Path
	log = log.WithRun(phaseWorktree.Branch)

	log.Info("phase worktree prepared",
		zap.String("phase", opts.Phase), zap.String("branch", phaseWorktree.Branch),
		zap.String("base_branch", phaseWorktree.BaseBranch), zap.String("worktree", executionRoot),
		zap.Bool("resumed", resumed))

	tasksDir := filepath.Join(executionRoot, "kanban", opts.Phase, "tasks")
	tasks, err := task.LoadDir(tasksDir, log)
	if err != nil {
		return fmt.Errorf("failed to load tasks from %s: %w", tasksDir, err)
	}
	log.Info("loaded phase board", zap.String("phase", opts.Phase), zap.Int("task_count", len(tasks)))

	logDir := filepath.Join(opts.ProjectRoot, ".batty", "logs", phaseWorktree.Branch)
	execLogPath := filepath.Join(logDir, "execution.jsonl")
	execLog, err := executionlog.Open(execLogPath)
	if err != nil {
		return fmt.Errorf("failed to create execution log at %s: %w", execLogPath, err)
	}
	defer execLog.Close()
	log.Info("execution log created", zap.String("log", execLogPath))

	_ = execLog.Log(executionlog.SessionStarted, executionlog.SessionStartedData{Phase: opts.Phase})
	_ = execLog.Log(executionlog.PhaseWorktreeCreated, executionlog.PhaseWorktreeData{
		Phase: opts.Phase, Path: executionRoot, Branch: phaseWorktree.Branch,
	})
	for _, t := range tasks {
		log.WithTaskID(t.ID).Debug("task read", zap.String("status", string(t.Status)))
		_ = execLog.Log(executionlog.TaskRead, executionlog.TaskReadData{
			TaskID: t.ID, Title: t.Title, Status: string(t.Status),
		})
	}

	adapter, ok := agentreg.FromName(opts.AgentName)
	if !ok {
		return fmt.Errorf("unknown agent: %s", opts.AgentName)
	}
	log = log.WithAgentID(adapter.Name())

	policyTier, err := resolvePolicyTier(opts.PolicyOverride, cfg.Defaults.Policy)
	if err != nil {
		return err
	}

	launchContext, err := composeLaunchContext(opts.Phase, tasks, executionRoot, cfg, policyTier, adapter, opts.ConfigPath)
	if err != nil {
		return err
	}

	snapshotPath := filepath.Join(logDir, fmt.Sprintf("%s-launch-context.md", opts.Phase))
	if err := os.WriteFile(snapshotPath, []byte(launchContext.Prompt), 0o644); err != nil {
		return fmt.Errorf("failed to write launch context snapshot to %s: %w", snapshotPath, err)
	}
	_ = execLog.Log(executionlog.LaunchContextSnapshot, executionlog.LaunchContextSnapshotData{
		Snapshot: launchContext.Prompt,
	})

	if opts.DryRun {
		fmt.Printf("[batty] dry-run launch context for %s:\n\n", opts.Phase)
		fmt.Println("----- BEGIN BATTY LAUNCH CONTEXT -----")
		fmt.Println(launchContext.Prompt)
		fmt.Println("----- END BATTY LAUNCH CONTEXT -----")
		fmt.Printf("\n[batty] launch context snapshot: %s\n", snapshotPath)

		_ = execLog.Log(executionlog.RunCompleted, executionlog.RunCompletedData{Summary: "dry-run launch context composed"})
		finalizeWorktree(log, execLog, wtManager, opts.Phase, phaseWorktree, worktree.DryRun)
		_ = execLog.Log(executionlog.SessionEnded, executionlog.SessionEndedData{Result: "DryRun"})
		return nil
	}

	policyEngine := policy.New(policy.Tier(policyTier), cfg.Policy.AutoAnswer)

	spawnCfg := adapter.SpawnConfig(launchContext.Prompt, executionRoot)
	_ = execLog.Log(executionlog.AgentLaunched, executionlog.AgentLaunchedData{
		Agent: adapter.Name(), Program: spawnCfg.Program, WorkDir: spawnCfg.WorkDir,
	})

	var tier2Cfg *tier2.Config
	if cfg.Supervisor.Enabled {
		tier2Cfg = &tier2.Config{
			Program:      cfg.Supervisor.Program,
			Args:         cfg.Supervisor.Args,
			Timeout:      cfg.Supervisor.Timeout(),
			SystemPrompt: tier2.LoadProjectDocs(executionRoot),
			TraceIO:      cfg.Supervisor.TraceIO,
		}
	}

	orchCfg := orchestrator.Config{
		Spawn:    spawnCfg,
		Patterns: adapter.PromptPatterns(),
		Policy:   policyEngine,
		Detector: detector.Config{
			SilenceTimeout:         cfg.Detector.SilenceTimeout(),
			AnswerCooldown:         cfg.Detector.AnswerCooldown(),
			UnknownRequestFallback: cfg.Detector.UnknownRequestFallback,
		},
		Phase:            opts.Phase,
		ProjectRoot:      opts.ProjectRoot,
		Tier2:            tier2Cfg,
		LogPane:          true,
		LogPaneHeightPct: 20,
		ExecutionLog:     execLog,
	}

	fileObserver, err := orchestrator.NewLogFileObserver(filepath.Join(logDir, "orchestrator.log"))
	if err != nil {
		return fmt.Errorf("failed to create orchestrator log observer: %w", err)
	}

	runObserver, stopDashboard := startDashboard(ctx, cfg, opts.Phase, execLogPath, fileObserver, log)
	defer stopDashboard()

	log.Info("launching tmux-based supervised session", zap.String("agent", adapter.Name()), zap.String("phase", opts.Phase))
	session := multiplexer.SessionName(opts.Phase)
	fmt.Printf("\x1b[36m[batty]\x1b[0m starting %s in tmux session '%s'\n", opts.Phase, session)
	verb := "created"
	if resumed {
		verb = "resumed"
	}
	fmt.Printf("\x1b[36m[batty]\x1b[0m worktree %s: %s (%s)\n", verb, executionRoot, phaseWorktree.Branch)
	if !opts.AutoAttach {
		fmt.Printf("\x1b[36m[batty]\x1b[0m attach with: batty attach %s\n", opts.Phase)
	}

	result, runErr := orchestrator.Run(ctx, multiplexer.New(), orchCfg, runObserver, stop, log)
	if runErr != nil {
		finalizeWorktree(log, execLog, wtManager, opts.Phase, phaseWorktree, worktree.Failed)
		return runErr
	}

	switch result.Kind {
	case orchestrator.Completed:
		_ = execLog.Log(executionlog.RunCompleted, executionlog.RunCompletedData{Summary: "executor completed"})
		log.Info("session completed")
	case orchestrator.Detached:
		_ = execLog.Log(executionlog.SessionEnded, executionlog.SessionEndedData{Result: "detached/stopped"})
		log.Info("session detached")
	}

	runOutcome := worktree.Completed
	if result.Kind == orchestrator.Detached {
		runOutcome = worktree.Failed
	}
	finalizeWorktree(log, execLog, wtManager, opts.Phase, phaseWorktree, runOutcome)
	_ = execLog.Log(executionlog.SessionEnded, executionlog.SessionEndedData{Result: result.Describe()})

	fmt.Printf("\n\x1b[36m[batty]\x1b[0m session complete. Log: %s\n", execLogPath)
	return nil
}

func finalizeWorktree(log *logger.Logger, execLog *executionlog.Log, mgr *worktree.Manager, phase string, wt *worktree.PhaseWorktree, outcome worktree.RunOutcome) {
	decision, err := mgr.Finalize(context.Background(), wt, outcome)
	if err != nil {
		log.Warn("failed to finalize phase worktree", zap.Error(err), zap.String("branch", wt.Branch))
		return
	}

	switch decision {
	case worktree.Cleaned:
		_ = execLog.Log(executionlog.PhaseWorktreeFinalized, executionlog.PhaseWorktreeData{
			Phase: phase, Path: wt.Path, Branch: wt.Branch,
		})
		log.Info("worktree cleaned", zap.String("phase", phase), zap.String("branch", wt.Branch))
	case worktree.KeptForReview:
		_ = execLog.Log(executionlog.PhaseWorktreeFinalized, executionlog.PhaseWorktreeData{
			Phase: phase, Path: wt.Path, Branch: wt.Branch,
		})
		fmt.Printf("\x1b[36m[batty]\x1b[0m retained worktree for review: %s (%s)\n", wt.Path, wt.Branch)
	case worktree.KeptForFailure:
		_ = execLog.Log(executionlog.PhaseWorktreeFinalized, executionlog.PhaseWorktreeData{
			Phase: phase, Path: wt.Path, Branch: wt.Branch,
		})
		fmt.Printf("\x1b[36m[batty]\x1b[0m retained failed worktree: %s (%s)\n", wt.Path, wt.Branch)
	}
}

// startDashboard brings up the optional read-only dashboard when
// [observer].enabled and wires it to tail the run's execution log
// mirror and to tap the orchestrator's live event stream. Disabled by
// default: a disabled dashboard returns fileObserver unchanged and a
// no-op stop func, so it costs nothing when not configured.
func startDashboard(ctx context.Context, cfg *config.Config, phase, execLogPath string, fileObserver *orchestrator.LogFileObserver, log *logger.Logger) (orchestrator.Observer, func()) {
	if !cfg.Observer.Enabled {
		return fileObserver, func() {}
	}

	srv := observer.NewServer(cfg.Observer.Addr, log)
	dashboardCtx, cancel := context.WithCancel(ctx)
	srv.Start(dashboardCtx)

	sqlitePath := strings.TrimSuffix(execLogPath, filepath.Ext(execLogPath)) + ".sqlite"
	if tailer, err := observer.NewTailer(sqlitePath, phase, srv.Hub(), log); err != nil {
		log.Warn("dashboard execution log tailing unavailable", zap.Error(err))
	} else {
		go tailer.Run(dashboardCtx)
	}

	combined := orchestrator.NewMultiObserver(fileObserver, observer.NewBridgeObserver(srv.Hub(), phase))
	return combined, func() {
		cancel()
		if err := srv.Shutdown(); err != nil {
			log.Warn("dashboard server shutdown error", zap.Error(err))
		}
	}
}

func resolvePolicyTier(override, defaultTier string) (string, error) {
	if override == "" {
		return defaultTier, nil
	}
	switch override {
	case "observe", "suggest", "act":
		return override, nil
	default:
		return "", fmt.Errorf("unknown policy: %s (expected observe/suggest/act)", override)
	}
}

// composeLaunchContext builds the deterministic launch prompt: required
// steering docs, phase docs, board state, and effective policy/default
// config. The result is adapter-wrapped before being returned.
func composeLaunchContext(
	phase string,
	tasks []task.Task,
	executionRoot string,
	cfg *config.Config,
	policyTier string,
	adapter agentreg.Adapter,
	configPath string,
) (LaunchContext, error) {
	instructionsPath, err := resolveInstructionFile(executionRoot, adapter)
	if err != nil {
		return LaunchContext{}, err
	}
	instructions, err := os.ReadFile(instructionsPath)
	if err != nil {
		return LaunchContext{}, fmt.Errorf("failed to read required agent instructions file %s: %w", instructionsPath, err)
	}

	phaseDocPath := filepath.Join(executionRoot, "kanban", phase, "PHASE.md")
	if info, err := os.Stat(phaseDocPath); err != nil || info.IsDir() {
		return LaunchContext{}, fmt.Errorf(
			"missing required phase context file: %s. Add kanban/%s/PHASE.md before running `batty work %s`",
			phaseDocPath, phase, phase)
	}
	phaseDoc, err := os.ReadFile(phaseDocPath)
	if err != nil {
		return LaunchContext{}, fmt.Errorf("failed to read required phase context file %s: %w", phaseDocPath, err)
	}

	raw := buildPhasePrompt(phase, tasks, executionRoot, instructionsPath, string(instructions),
		phaseDocPath, string(phaseDoc), cfg, policyTier, configPath)

	return LaunchContext{
		Prompt:            adapter.WrapLaunchPrompt(raw),
		InstructionsPath:  instructionsPath,
		PhaseDocPath:      phaseDocPath,
		ConfigSourceLabel: configSourceLabel(configPath),
	}, nil
}

// resolveInstructionFile checks the adapter's instruction candidates, in
// order, at the project root, refusing the launch if none is present.
func resolveInstructionFile(executionRoot string, adapter agentreg.Adapter) (string, error) {
	for _, candidate := range adapter.InstructionCandidates() {
		path := filepath.Join(executionRoot, candidate)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}

	return "", fmt.Errorf(
		"missing required agent instruction file for '%s'. Checked [%s] in %s. Add one of these files at the project root before running `batty work`",
		adapter.Name(), strings.Join(adapter.InstructionCandidates(), ", "), executionRoot)
}

func buildPhasePrompt(
	phase string,
	tasks []task.Task,
	projectRoot, instructionsPath, instructions, phaseDocPath, phaseDoc string,
	cfg *config.Config,
	policyTier string,
	configPath string,
) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are working on the %s board for the project at %s.\n\n", phase, projectRoot)

	var backlog, inProgress, done int
	for _, t := range tasks {
		switch t.Status {
		case task.Backlog:
			backlog++
		case task.InProgress:
			inProgress++
		case task.Done:
			done++
		}
	}
	fmt.Fprintf(&b, "Board status: %d backlog, %d in-progress, %d done (of %d total)\n\n",
		backlog, inProgress, done, len(tasks))

	fmt.Fprintf(&b, "Agent instructions source: %s\n\n", displayPath(projectRoot, instructionsPath))
	b.WriteString("## Active Agent Instructions\n")
	b.WriteString(strings.TrimSpace(instructions))
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "Phase context source: %s\n\n", displayPath(projectRoot, phaseDocPath))
	b.WriteString("## Phase Context\n")
	b.WriteString(strings.TrimSpace(phaseDoc))
	b.WriteString("\n\n")

	b.WriteString("## Current Board State\n")
	if len(tasks) == 0 {
		b.WriteString("(no tasks)\n")
	} else {
		for _, t := range tasks {
			deps := ""
			if len(t.DependsOn) > 0 {
				parts := make([]string, len(t.DependsOn))
				for i, d := range t.DependsOn {
					parts[i] = fmt.Sprintf("#%d", d)
				}
				deps = fmt.Sprintf(" (depends on: %s)", strings.Join(parts, ", "))
			}
			fmt.Fprintf(&b, "  #%d [%s] %s%s\n", t.ID, t.Status, t.Title, deps)
		}
	}
	b.WriteString("\n")

	b.WriteString("## .batty/config.toml Policy and Execution Defaults\n")
	fmt.Fprintf(&b, "source: %s\n", configSourceLabel(configPath))
	fmt.Fprintf(&b, "defaults.agent: %s\n", cfg.Defaults.Agent)
	fmt.Fprintf(&b, "defaults.policy: %s\n", cfg.Defaults.Policy)
	fmt.Fprintf(&b, "effective.policy: %s\n", policyTier)
	dod := cfg.Defaults.DoD
	if dod == "" {
		dod = "(none)"
	}
	fmt.Fprintf(&b, "defaults.dod: %s\n", dod)
	fmt.Fprintf(&b, "defaults.max_retries: %d\n", cfg.Defaults.MaxRetries)
	fmt.Fprintf(&b, "supervisor.enabled: %t\n", cfg.Supervisor.Enabled)
	fmt.Fprintf(&b, "supervisor.program: %s\n", cfg.Supervisor.Program)
	fmt.Fprintf(&b, "supervisor.args: [%s]\n", strings.Join(cfg.Supervisor.Args, ", "))
	fmt.Fprintf(&b, "supervisor.timeout_secs: %d\n", cfg.Supervisor.TimeoutSecs)
	fmt.Fprintf(&b, "detector.silence_timeout_secs: %d\n", cfg.Detector.SilenceTimeoutSecs)
	fmt.Fprintf(&b, "detector.answer_cooldown_millis: %d\n", cfg.Detector.AnswerCooldownMillis)
	fmt.Fprintf(&b, "detector.unknown_request_fallback: %t\n", cfg.Detector.UnknownRequestFallback)

	answers := append(config.OrderedAnswers{}, cfg.Policy.AutoAnswer...)
	sort.Slice(answers, func(i, j int) bool { return answers[i].Pattern < answers[j].Pattern })
	if len(answers) == 0 {
		b.WriteString("policy.auto_answer: (none)\n")
	} else {
		b.WriteString("policy.auto_answer:\n")
		for _, a := range answers {
			fmt.Fprintf(&b, "  - %q => %q\n", a.Pattern, a.Response)
		}
	}
	b.WriteString("\n")

	b.WriteString("Follow the workflow in the active agent instructions to pick tasks, implement, test, and close them.\n")
	b.WriteString("Work through the backlog in dependency order.\n")

	return b.String()
}

func displayPath(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return rel
}

func configSourceLabel(configPath string) string {
	if configPath == "" {
		return "(defaults — no .batty/config.toml found)"
	}
	return configPath
}
