// Package agentreg is the closed-set agent capability registry (spec §9):
// each supported coding agent (Claude Code, Codex CLI, Aider) is wrapped in
// an adapter that knows how to build its spawn command, which prompt
// patterns to classify its output against, and how to format a response
// for its stdin. The orchestrator drives any agent through this interface
// without knowing its specific CLI conventions.
package agentreg

import (
	"path/filepath"

	"github.com/battysh/batty/internal/promptpattern"
)

// SpawnConfig is the configuration needed to launch one agent process.
type SpawnConfig struct {
	Program string
	Args    []string
	WorkDir string
	Env     []EnvVar
}

// EnvVar is one environment variable to set on the spawned process.
type EnvVar struct {
	Key   string
	Value string
}

// Adapter translates between the orchestrator and a specific agent CLI. It
// does not own the pty or process; the multiplexer gateway does. The
// adapter only supplies configuration and patterns.
type Adapter interface {
	// Name is the adapter's canonical, human-readable identifier.
	Name() string
	// SpawnConfig builds the spawn configuration for one task run.
	SpawnConfig(taskDescription, workDir string) SpawnConfig
	// PromptPatterns returns this agent's prompt classification table.
	PromptPatterns() promptpattern.Table
	// FormatInput formats a response for injection into the agent's stdin.
	FormatInput(response string) string
	// InstructionCandidates lists the steering doc filenames checked, in
	// order, at the project root before a launch is refused.
	InstructionCandidates() []string
	// WrapLaunchPrompt applies any agent-specific framing to a composed
	// launch prompt before it's passed as the task description.
	WrapLaunchPrompt(raw string) string
}

// ClaudeCodeAdapter targets the `claude` CLI in print mode
// (`-p --output-format stream-json`) for reliable prompt detection via
// structured JSON output.
type ClaudeCodeAdapter struct {
	Program string // overrides the default "claude" binary path
}

// NewClaudeCodeAdapter builds a Claude Code adapter, defaulting Program to
// "claude" when empty.
func NewClaudeCodeAdapter(program string) ClaudeCodeAdapter {
	if program == "" {
		program = "claude"
	}
	return ClaudeCodeAdapter{Program: program}
}

func (a ClaudeCodeAdapter) Name() string { return "claude-code" }

func (a ClaudeCodeAdapter) SpawnConfig(taskDescription, workDir string) SpawnConfig {
	return SpawnConfig{
		Program: a.Program,
		Args:    []string{"-p", "--output-format", "stream-json", taskDescription},
		WorkDir: workDir,
	}
}

func (a ClaudeCodeAdapter) PromptPatterns() promptpattern.Table {
	return promptpattern.ClaudeCode()
}

func (a ClaudeCodeAdapter) FormatInput(response string) string {
	return response + "\n"
}

func (a ClaudeCodeAdapter) InstructionCandidates() []string {
	return []string{"CLAUDE.md"}
}

func (a ClaudeCodeAdapter) WrapLaunchPrompt(raw string) string {
	return raw
}

// CodexCliAdapter runs Codex in interactive mode, passing the composed
// task prompt as the initial user prompt argument.
type CodexCliAdapter struct {
	Program string // overrides the default "codex" binary path
}

// NewCodexCliAdapter builds a Codex CLI adapter, defaulting Program to
// "codex" when empty.
func NewCodexCliAdapter(program string) CodexCliAdapter {
	if program == "" {
		program = "codex"
	}
	return CodexCliAdapter{Program: program}
}

func (a CodexCliAdapter) Name() string { return "codex-cli" }

func (a CodexCliAdapter) SpawnConfig(taskDescription, workDir string) SpawnConfig {
	return SpawnConfig{
		Program: a.Program,
		Args:    []string{taskDescription},
		WorkDir: workDir,
	}
}

func (a CodexCliAdapter) PromptPatterns() promptpattern.Table {
	return promptpattern.CodexCLI()
}

func (a CodexCliAdapter) FormatInput(response string) string {
	return response + "\n"
}

func (a CodexCliAdapter) InstructionCandidates() []string {
	return []string{"AGENTS.md"}
}

func (a CodexCliAdapter) WrapLaunchPrompt(raw string) string {
	return "Codex under Batty supervision:\n\n" + raw
}

// AiderAdapter runs Aider in its default interactive chat mode, passing
// the task description as the initial message.
type AiderAdapter struct {
	Program string // overrides the default "aider" binary path
}

// NewAiderAdapter builds an Aider adapter, defaulting Program to "aider"
// when empty.
func NewAiderAdapter(program string) AiderAdapter {
	if program == "" {
		program = "aider"
	}
	return AiderAdapter{Program: program}
}

func (a AiderAdapter) Name() string { return "aider" }

func (a AiderAdapter) SpawnConfig(taskDescription, workDir string) SpawnConfig {
	return SpawnConfig{
		Program: a.Program,
		Args:    []string{"--message", taskDescription},
		WorkDir: workDir,
	}
}

func (a AiderAdapter) PromptPatterns() promptpattern.Table {
	return promptpattern.Aider()
}

func (a AiderAdapter) FormatInput(response string) string {
	return response + "\n"
}

func (a AiderAdapter) InstructionCandidates() []string {
	return []string{"CONVENTIONS.md", "AGENTS.md"}
}

func (a AiderAdapter) WrapLaunchPrompt(raw string) string {
	return raw
}

// FromName looks up an agent adapter by name. Returns false for an
// unrecognized name; new adapters are registered here as they're added.
func FromName(name string) (Adapter, bool) {
	switch name {
	case "claude", "claude-code":
		return NewClaudeCodeAdapter(""), true
	case "codex", "codex-cli":
		return NewCodexCliAdapter(""), true
	case "aider":
		return NewAiderAdapter(""), true
	default:
		return nil, false
	}
}

// AbsWorkDir resolves workDir to an absolute path for adapters that need
// to hand tmux/os.exec a stable cwd regardless of the caller's cwd.
func AbsWorkDir(workDir string) (string, error) {
	return filepath.Abs(workDir)
}
