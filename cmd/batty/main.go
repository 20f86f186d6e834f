// Package main is the batty CLI: work a kanban phase under supervision,
// attach to a running session, or print the effective project config.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/battysh/batty/internal/common/config"
	"github.com/battysh/batty/internal/common/logger"
	"github.com/battysh/batty/internal/multiplexer"
	"github.com/battysh/batty/internal/work"
)

var (
	verboseCount int

	workParallel         int
	workAgent            string
	workPolicy           string
	workAutoAttach       bool
	workForceNewWorktree bool
	workDryRun           bool
)

var rootCmd = &cobra.Command{
	Use:   "batty",
	Short: "Hierarchical agent command system for software development",
	Long: `batty supervises interactive coding-agent CLIs (Claude Code, Codex, Aider, ...)
so they can make progress on kanban-board tasks with minimal human intervention.`,
	SilenceUsage: true,
}

var workCmd = &cobra.Command{
	Use:   "work <phase>",
	Short: "Execute a task or work through a phase board",
	Args:  cobra.ExactArgs(1),
	RunE:  runWork,
}

var attachCmd = &cobra.Command{
	Use:   "attach <phase>",
	Short: "Attach to a running batty tmux session",
	Args:  cobra.ExactArgs(1),
	RunE:  runAttach,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show project configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfig,
}

func init() {
	rootCmd.PersistentFlags().CountVarP(&verboseCount, "verbose", "v", "increase verbosity (-v, -vv, -vvv)")

	workCmd.Flags().IntVar(&workParallel, "parallel", 1, "number of parallel agents")
	workCmd.Flags().StringVar(&workAgent, "agent", "", "override the default agent")
	workCmd.Flags().StringVar(&workPolicy, "policy", "", "override the default policy (observe|suggest|act)")
	workCmd.Flags().BoolVar(&workAutoAttach, "auto-attach", false, "attach to the tmux session once it starts")
	workCmd.Flags().BoolVar(&workForceNewWorktree, "force-new-worktree", false, "always create a fresh worktree instead of resuming")
	workCmd.Flags().BoolVar(&workDryRun, "dry-run", false, "compose and print the launch context without spawning an agent")

	rootCmd.AddCommand(workCmd, attachCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func logLevelForVerbosity(count int) string {
	if count >= 1 {
		return "debug"
	}
	return "info"
}

func bootstrap() (*config.Config, *logger.Logger, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to resolve working directory: %w", err)
	}

	cfg, err := config.LoadFrom(cwd)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	level := cfg.Logging.Level
	if verboseCount > 0 {
		level = logLevelForVerbosity(verboseCount)
	}
	log, err := logger.NewLogger(logger.LoggingConfig{Level: level, Format: cfg.Logging.Format, OutputPath: "stdout"})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return cfg, log, nil
}

func runWork(cmd *cobra.Command, args []string) error {
	cfg, log, err := bootstrap()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	cwd, err := os.Getwd()
	if err != nil {
		return err
	}

	agentName := workAgent
	if agentName == "" {
		agentName = cfg.Defaults.Agent
	}

	opts := work.Options{
		Phase:            args[0],
		AgentName:        agentName,
		PolicyOverride:   workPolicy,
		AutoAttach:       workAutoAttach,
		ForceNewWorktree: workForceNewWorktree,
		DryRun:           workDryRun,
		ProjectRoot:      cwd,
	}

	stop := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("received interrupt, stopping")
		close(stop)
	}()

	if err := work.RunPhase(context.Background(), opts, cfg, stop, log); err != nil {
		log.Error("work failed", zap.Error(err))
		return err
	}
	return nil
}

func runAttach(cmd *cobra.Command, args []string) error {
	gateway := multiplexer.New()
	session := multiplexer.SessionName(args[0])
	return gateway.Attach(session)
}

func runConfig(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	cfg, err := config.LoadFrom(cwd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fmt.Println("Project config:")
	fmt.Printf("  agent:       %s\n", cfg.Defaults.Agent)
	fmt.Printf("  policy:      %s\n", cfg.Defaults.Policy)
	dod := cfg.Defaults.DoD
	if dod == "" {
		dod = "(none)"
	}
	fmt.Printf("  dod:         %s\n", dod)
	fmt.Printf("  max_retries: %d\n", cfg.Defaults.MaxRetries)
	fmt.Printf("  observer:    enabled=%t addr=%s\n", cfg.Observer.Enabled, cfg.Observer.Addr)
	return nil
}
