package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/battysh/batty/internal/agentreg"
	"github.com/battysh/batty/internal/common/logger"
	"github.com/battysh/batty/internal/detector"
	"github.com/battysh/batty/internal/eventbuffer"
	"github.com/battysh/batty/internal/executionlog"
	"github.com/battysh/batty/internal/extractor"
	"github.com/battysh/batty/internal/multiplexer"
	"github.com/battysh/batty/internal/policy"
	"github.com/battysh/batty/internal/promptpattern"
	"github.com/battysh/batty/internal/tier2"
)

// Config configures one orchestrated executor session.
type Config struct {
	Spawn    agentreg.SpawnConfig
	Patterns promptpattern.Table
	Policy   *policy.Engine
	Detector detector.Config
	Phase    string
	// ProjectRoot locates .batty/logs for pipe output and the orchestrator
	// log pane.
	ProjectRoot string
	// PollInterval paces the supervision loop. Defaults to 200ms if zero.
	PollInterval time.Duration
	// BufferSize bounds the event buffer fed to Tier 2 context. Defaults
	// to 50 if zero.
	BufferSize int
	// Tier2 configures the supervisor escalation gateway. Nil disables
	// Tier 2; unanswered prompts escalate straight to the human.
	Tier2 *tier2.Config
	// LogPane creates a split pane tailing the orchestrator log.
	LogPane bool
	// LogPaneHeightPct is the log pane's height as a percentage of the
	// session height. Defaults to 20 if zero.
	LogPaneHeightPct int
	// ExecutionLog records structured events for later audit, if set.
	ExecutionLog *executionlog.Log
}

func (c Config) pollInterval() time.Duration {
	if c.PollInterval > 0 {
		return c.PollInterval
	}
	return 200 * time.Millisecond
}

func (c Config) bufferSize() int {
	if c.BufferSize > 0 {
		return c.BufferSize
	}
	return 50
}

func (c Config) logPaneHeightPct() int {
	if c.LogPaneHeightPct > 0 {
		return c.LogPaneHeightPct
	}
	return 20
}

// Run drives one orchestrated executor session to completion: it creates
// a tmux session for the agent, pipes its output to a log file, polls the
// pane for new lines, classifies prompts, and auto-answers or escalates
// per policy (C7). Run returns when the executor exits, stop is closed, or
// an unrecoverable error occurs.
func Run(ctx context.Context, gateway *multiplexer.Gateway, cfg Config, observer Observer, stop <-chan struct{}, log *logger.Logger) (Result, error) {
	if log == nil {
		log = logger.Default()
	}

	version, err := gateway.CheckTmux(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("tmux unavailable: %w", err)
	}
	log.Info("tmux available", zap.String("tmux_version", version))

	session := multiplexer.SessionName(cfg.Phase)
	logDir := filepath.Join(cfg.ProjectRoot, ".batty", "logs")
	pipeLog := filepath.Join(logDir, fmt.Sprintf("%s-pty-output.log", cfg.Phase))

	if err := gateway.CreateSession(ctx, session, cfg.Spawn.Program, cfg.Spawn.Args, cfg.Spawn.WorkDir); err != nil {
		return Result{}, fmt.Errorf("failed to create tmux session for phase %s: %w", cfg.Phase, err)
	}
	observer.OnEvent(fmt.Sprintf("● session '%s' created", session))
	logEvent(cfg.ExecutionLog, executionlog.AgentLaunched, executionlog.AgentLaunchedData{
		Agent: cfg.Phase, Program: cfg.Spawn.Program, WorkDir: cfg.Spawn.WorkDir,
	})

	if err := gateway.SetupPipeToFile(ctx, session, pipeLog); err != nil {
		return Result{}, fmt.Errorf("failed to set up pipe-pane: %w", err)
	}
	observer.OnEvent(fmt.Sprintf("● pipe-pane -> %s", pipeLog))

	statusBar := NewStatusBar(gateway, session, cfg.Phase)
	if err := statusBar.Init(ctx); err != nil {
		log.Warn("status bar init failed", zap.Error(err))
	}
	observer.OnEvent("● status bar initialized")

	orchLog := filepath.Join(logDir, "orchestrator.log")
	if cfg.LogPane {
		if err := setupLogPane(ctx, gateway, session, orchLog, cfg.logPaneHeightPct()); err != nil {
			log.Warn("log pane setup failed", zap.Error(err))
		} else {
			observer.OnEvent("● log pane created")
		}
	}

	buffer := eventbuffer.New(cfg.bufferSize())
	watcher := extractor.NewWatcher(pipeLog, buffer)
	promptDetector := detector.New(cfg.Detector, cfg.Patterns)

	log.Info("orchestrator loop starting", zap.String("session", session))
	observer.OnEvent("● supervising")
	_ = statusBar.Update(ctx, IndicatorOK, "supervising")

	// The Event Extractor runs as a dedicated worker alongside the main
	// loop, pushing into the shared, mutex-guarded event buffer;
	// extractorCtx bounds its lifetime to this Run call rather than the
	// outer ctx, so it always stops before Run returns regardless of why
	// the main loop exited.
	extractorCtx, stopExtractor := context.WithCancel(ctx)
	g, _ := errgroup.WithContext(extractorCtx)
	g.Go(func() error {
		runExtractorWorker(extractorCtx, watcher, cfg.pollInterval(), log)
		return nil
	})

	result := runLoop(ctx, gateway, session, cfg, observer, statusBar, promptDetector, buffer, stop, log)

	stopExtractor()
	_ = g.Wait()

	log.Info("orchestrator loop ended", zap.String("result", result.Describe()))
	return result, nil
}

// runExtractorWorker polls watcher at interval until ctx is done, logging
// poll errors but never stopping on one. It runs independently of the main
// supervision loop's cadence.
func runExtractorWorker(ctx context.Context, watcher *extractor.Watcher, interval time.Duration, log *logger.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := watcher.Poll(); err != nil {
				log.Warn("pipe watcher poll error", zap.Error(err))
			}
		}
	}
}

// runLoop is the polling supervision loop: it checks for a stop signal or
// session exit, classifies the most recent non-empty pane line, and reacts
// to silence via the detector's tick.
func runLoop(
	ctx context.Context,
	gateway *multiplexer.Gateway,
	session string,
	cfg Config,
	observer Observer,
	statusBar *StatusBar,
	promptDetector *detector.Detector,
	buffer *eventbuffer.Buffer,
	stop <-chan struct{},
	log *logger.Logger,
) Result {
	poll := cfg.pollInterval()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			observer.OnEvent("● stopped by signal")
			_ = statusBar.ForceUpdate(ctx, IndicatorStateChange, "stopped")
			return Result{Kind: Detached}
		case <-ctx.Done():
			observer.OnEvent("● stopped by signal")
			_ = statusBar.ForceUpdate(ctx, IndicatorStateChange, "stopped")
			return Result{Kind: Detached}
		default:
		}

		if !gateway.SessionExists(ctx, session) {
			observer.OnEvent("✓ executor exited")
			_ = statusBar.ForceUpdate(ctx, IndicatorOK, "completed")
			return Result{Kind: Completed}
		}

		if pane, err := gateway.CapturePane(ctx, session); err == nil {
			if line := lastNonEmptyLine(pane); line != "" {
				event := promptDetector.OnOutput(line)
				if event.Kind == detector.PromptDetected {
					handlePrompt(ctx, gateway, session, event.Prompt, cfg, promptDetector, observer, statusBar, buffer, log)
				}
			}
		}

		switch tickEvent := promptDetector.Tick(); tickEvent.Kind {
		case detector.PromptDetected:
			handlePrompt(ctx, gateway, session, tickEvent.Prompt, cfg, promptDetector, observer, statusBar, buffer, log)
		case detector.Silence:
			log.Debug("silence detected")
		}

		select {
		case <-ticker.C:
		case <-stop:
		case <-ctx.Done():
		}
	}
}

func lastNonEmptyLine(pane string) string {
	lines := strings.Split(pane, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			return lines[i]
		}
	}
	return ""
}

// handlePrompt evaluates policy for a detected prompt and acts: Tier 1
// auto-answer via send-keys, Tier 2 supervisor call when configured and
// Tier 1 escalates, or direct escalation to the human.
func handlePrompt(
	ctx context.Context,
	gateway *multiplexer.Gateway,
	session string,
	prompt promptpattern.DetectedPrompt,
	cfg Config,
	promptDetector *detector.Detector,
	observer Observer,
	statusBar *StatusBar,
	buffer *eventbuffer.Buffer,
	log *logger.Logger,
) {
	if prompt.Kind == promptpattern.Completion || prompt.Kind == promptpattern.Error {
		return
	}

	decision := cfg.Policy.Evaluate(prompt.MatchedText)
	logEvent(cfg.ExecutionLog, executionlog.PolicyDecision, executionlog.PolicyDecisionData{
		Decision: decisionLabel(decision.Kind), Prompt: prompt.MatchedText,
	})

	switch decision.Kind {
	case policy.KindAct:
		log.Info("Tier 1 auto-answer", zap.String("prompt", decision.Prompt), zap.String("response", decision.Response))
		observer.OnAutoAnswer(decision.Prompt, decision.Response)
		_ = statusBar.Update(ctx, IndicatorAction, "answered: "+decision.Response)

		if err := gateway.SendKeys(ctx, session, decision.Response, true); err != nil {
			log.Warn("send-keys auto-answer failed", zap.Error(err))
		}
		logEvent(cfg.ExecutionLog, executionlog.AutoResponse, executionlog.AutoResponseData{
			Prompt: decision.Prompt, Response: decision.Response,
		})

		promptDetector.AnswerInjected()
		_ = statusBar.Update(ctx, IndicatorOK, "supervising")

	case policy.KindSuggest:
		observer.OnSuggest(decision.Prompt, decision.Response)
		_ = statusBar.Update(ctx, IndicatorThinking, "suggest: "+decision.Response)

	case policy.KindEscalate:
		if cfg.Tier2 != nil {
			observer.OnEvent("? supervisor thinking...")
			_ = statusBar.ForceUpdate(ctx, IndicatorThinking, "supervisor thinking...")

			contextPrompt := tier2.ComposeContext(buffer.FormatSummary(), decision.Prompt, cfg.Tier2.SystemPrompt)
			result, err := tier2.Call(ctx, *cfg.Tier2, contextPrompt)
			t2log := log.WithCorrelationID(result.CorrelationID)
			switch {
			case err != nil:
				log.Warn("Tier 2 error", zap.Error(err))
				observer.OnEscalate(fmt.Sprintf("%s (supervisor error)", decision.Prompt))
				_ = statusBar.ForceUpdate(ctx, IndicatorNeedsInput, "NEEDS INPUT")
			case result.Kind == tier2.Answer:
				t2log.Info("Tier 2 answer", zap.String("prompt", decision.Prompt), zap.String("response", result.Response))
				observer.OnAutoAnswer(decision.Prompt, result.Response)
				_ = statusBar.Update(ctx, IndicatorAction, "T2: "+result.Response)

				if err := gateway.SendKeys(ctx, session, result.Response, true); err != nil {
					log.Warn("send-keys Tier 2 answer failed", zap.Error(err))
				}
				promptDetector.AnswerInjected()
				_ = statusBar.Update(ctx, IndicatorOK, "supervising")
			case result.Kind == tier2.Escalate:
				t2log.Info("Tier 2 escalated to human", zap.String("reason", result.Reason))
				observer.OnEscalate(fmt.Sprintf("%s (supervisor: %s)", decision.Prompt, result.Reason))
				_ = statusBar.ForceUpdate(ctx, IndicatorNeedsInput, "NEEDS INPUT")
			default:
				t2log.Warn("Tier 2 call failed", zap.String("error", result.Error))
				observer.OnEscalate(fmt.Sprintf("%s (supervisor failed: %s)", decision.Prompt, result.Error))
				_ = statusBar.ForceUpdate(ctx, IndicatorNeedsInput, "NEEDS INPUT")
			}
		} else {
			observer.OnEscalate(decision.Prompt)
			_ = statusBar.ForceUpdate(ctx, IndicatorNeedsInput, "NEEDS INPUT")
		}

	case policy.KindObserve:
		// no action, decision logged above
	}
}

func decisionLabel(kind policy.Kind) string {
	switch kind {
	case policy.KindObserve:
		return "observe"
	case policy.KindSuggest:
		return "suggest"
	case policy.KindAct:
		return "act"
	case policy.KindEscalate:
		return "escalate"
	default:
		return "unknown"
	}
}

// setupLogPane splits the session to show a tail -f of the orchestrator
// log file, keeping the executor pane focused. Failure is non-fatal: the
// operator loses the split pane but the session keeps running.
func setupLogPane(ctx context.Context, gateway *multiplexer.Gateway, session, logPath string, heightPct int) error {
	lines := 50 * heightPct / 100
	if lines < 3 {
		lines = 3
	}
	return gateway.SplitVerticalByLines(ctx, session, lines, []string{"tail", "-f", logPath})
}

// logEvent is a best-effort wrapper: a nil execution log is a no-op, and
// a logging failure never aborts the orchestrator loop.
func logEvent(log *executionlog.Log, kind executionlog.EventKind, data any) {
	if log == nil {
		return
	}
	_ = log.Log(kind, data)
}
