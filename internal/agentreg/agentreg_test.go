package agentreg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/battysh/batty/internal/promptpattern"
)

func TestLookupAdapterByName(t *testing.T) {
	for _, name := range []string{"claude", "claude-code"} {
		adapter, ok := FromName(name)
		require.True(t, ok)
		assert.Equal(t, "claude-code", adapter.Name())
	}

	for _, name := range []string{"codex", "codex-cli"} {
		adapter, ok := FromName(name)
		require.True(t, ok)
		assert.Equal(t, "codex-cli", adapter.Name())
	}

	adapter, ok := FromName("aider")
	require.True(t, ok)
	assert.Equal(t, "aider", adapter.Name())

	_, ok = FromName("unknown-agent")
	assert.False(t, ok)
}

func TestClaudeCodeDefaultProgramIsClaude(t *testing.T) {
	a := NewClaudeCodeAdapter("")
	assert.Equal(t, "claude", a.Program)
}

func TestClaudeCodeCustomProgramPath(t *testing.T) {
	a := NewClaudeCodeAdapter("/opt/bin/claude")
	cfg := a.SpawnConfig("do the thing", "/work")
	assert.Equal(t, "/opt/bin/claude", cfg.Program)
}

func TestClaudeCodeSpawnUsesPrintMode(t *testing.T) {
	a := NewClaudeCodeAdapter("")
	cfg := a.SpawnConfig("implement feature x", "/work/dir")
	assert.Equal(t, []string{"-p", "--output-format", "stream-json", "implement feature x"}, cfg.Args)
}

func TestClaudeCodeSpawnSetsWorkDir(t *testing.T) {
	a := NewClaudeCodeAdapter("")
	cfg := a.SpawnConfig("task", "/work/dir")
	assert.Equal(t, "/work/dir", cfg.WorkDir)
}

func TestClaudeCodePromptPatternsDetectClaudePrompts(t *testing.T) {
	a := NewClaudeCodeAdapter("")
	patterns := a.PromptPatterns()
	prompt, ok := patterns.MatchPrompt("allow tool Bash(rm -rf /)?")
	require.True(t, ok)
	assert.Equal(t, promptpattern.Permission, prompt.Kind)
}

func TestClaudeCodeNameIsClaudeCode(t *testing.T) {
	a := NewClaudeCodeAdapter("")
	assert.Equal(t, "claude-code", a.Name())
}

func TestClaudeCodeFormatInputAppendsNewline(t *testing.T) {
	a := NewClaudeCodeAdapter("")
	assert.Equal(t, "yes\n", a.FormatInput("yes"))
}

func TestCodexDefaultProgramIsCodex(t *testing.T) {
	a := NewCodexCliAdapter("")
	assert.Equal(t, "codex", a.Program)
}

func TestCodexCustomProgramPath(t *testing.T) {
	a := NewCodexCliAdapter("/opt/bin/codex")
	cfg := a.SpawnConfig("task", "/work")
	assert.Equal(t, "/opt/bin/codex", cfg.Program)
}

func TestCodexSpawnSetsWorkDir(t *testing.T) {
	a := NewCodexCliAdapter("")
	cfg := a.SpawnConfig("task", "/work/dir")
	assert.Equal(t, "/work/dir", cfg.WorkDir)
	assert.Equal(t, []string{"task"}, cfg.Args)
}

func TestCodexPromptPatternsDetectPermission(t *testing.T) {
	a := NewCodexCliAdapter("")
	patterns := a.PromptPatterns()
	prompt, ok := patterns.MatchPrompt("Would you like to run the following command?")
	require.True(t, ok)
	assert.Equal(t, promptpattern.Permission, prompt.Kind)
}

func TestCodexFormatInputAppendsNewline(t *testing.T) {
	a := NewCodexCliAdapter("")
	assert.Equal(t, "no\n", a.FormatInput("no"))
}

func TestCodexNameIsCodexCli(t *testing.T) {
	a := NewCodexCliAdapter("")
	assert.Equal(t, "codex-cli", a.Name())
}

func TestAiderDefaultProgramIsAider(t *testing.T) {
	a := NewAiderAdapter("")
	assert.Equal(t, "aider", a.Program)
}

func TestAiderSpawnIncludesMessageFlag(t *testing.T) {
	a := NewAiderAdapter("")
	cfg := a.SpawnConfig("task", "/work")
	assert.Equal(t, []string{"--message", "task"}, cfg.Args)
}

func TestAiderPromptPatternsDetectWaitingForInput(t *testing.T) {
	a := NewAiderAdapter("")
	patterns := a.PromptPatterns()
	prompt, ok := patterns.MatchPrompt("> ")
	require.True(t, ok)
	assert.Equal(t, promptpattern.WaitingForInput, prompt.Kind)
}

func TestClaudeCodeInstructionCandidatesIsClaudeMD(t *testing.T) {
	a := NewClaudeCodeAdapter("")
	assert.Equal(t, []string{"CLAUDE.md"}, a.InstructionCandidates())
}

func TestClaudeCodeWrapLaunchPromptIsIdentity(t *testing.T) {
	a := NewClaudeCodeAdapter("")
	assert.Equal(t, "raw prompt", a.WrapLaunchPrompt("raw prompt"))
}

func TestCodexInstructionCandidatesIsAgentsMD(t *testing.T) {
	a := NewCodexCliAdapter("")
	assert.Equal(t, []string{"AGENTS.md"}, a.InstructionCandidates())
}

func TestCodexWrapLaunchPromptAddsSupervisionFraming(t *testing.T) {
	a := NewCodexCliAdapter("")
	wrapped := a.WrapLaunchPrompt("do the thing")
	assert.Contains(t, wrapped, "Codex under Batty supervision")
	assert.Contains(t, wrapped, "do the thing")
}

func TestAiderInstructionCandidatesChecksConventionsThenAgents(t *testing.T) {
	a := NewAiderAdapter("")
	assert.Equal(t, []string{"CONVENTIONS.md", "AGENTS.md"}, a.InstructionCandidates())
}

func TestSpawnConfigIncludesTaskInArgs(t *testing.T) {
	for _, name := range []string{"claude-code", "codex-cli", "aider"} {
		adapter, ok := FromName(name)
		require.True(t, ok)
		cfg := adapter.SpawnConfig("unique-task-marker", "/work")
		found := false
		for _, arg := range cfg.Args {
			if arg == "unique-task-marker" {
				found = true
			}
		}
		assert.True(t, found, "adapter %s did not include task description in args", name)
	}
}
