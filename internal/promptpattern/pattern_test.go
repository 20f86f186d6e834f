package promptpattern

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripANSIRemovesCSI(t *testing.T) {
	input := "\x1b[31mERROR\x1b[0m: something broke"
	assert.Equal(t, "ERROR: something broke", StripANSI(input))
}

func TestStripANSIRemovesOSC(t *testing.T) {
	input := "\x1b]0;title\x07some text"
	assert.Equal(t, "some text", StripANSI(input))
}

func TestStripANSIPassthroughCleanText(t *testing.T) {
	input := "just normal text"
	assert.Equal(t, input, StripANSI(input))
}

func TestClaudeDetectsAllowTool(t *testing.T) {
	p := ClaudeCode()
	d, ok := p.MatchPrompt("Allow tool Read on /home/user/file.rs?")
	assert.True(t, ok)
	assert.Equal(t, Permission, d.Kind)
}

func TestClaudeDetectsYesNoPrompt(t *testing.T) {
	p := ClaudeCode()
	d, ok := p.MatchPrompt("Continue? [y/n]")
	assert.True(t, ok)
	assert.Equal(t, Confirmation, d.Kind)
}

func TestClaudeDetectsJSONCompletion(t *testing.T) {
	p := ClaudeCode()
	d, ok := p.MatchPrompt(`{"type": "result", "subtype": "success"}`)
	assert.True(t, ok)
	assert.Equal(t, Completion, d.Kind)
}

func TestClaudeDetectsJSONError(t *testing.T) {
	p := ClaudeCode()
	d, ok := p.MatchPrompt(`{"type": "result", "is_error": true}`)
	assert.True(t, ok)
	assert.Equal(t, Error, d.Kind)
}

func TestClaudeNoMatchOnNormalOutput(t *testing.T) {
	p := ClaudeCode()
	_, ok := p.MatchPrompt("Writing function to parse YAML...")
	assert.False(t, ok)
}

func TestCodexDetectsCommandApproval(t *testing.T) {
	p := CodexCLI()
	d, ok := p.MatchPrompt("Would you like to run the following command?")
	assert.True(t, ok)
	assert.Equal(t, Permission, d.Kind)
}

func TestCodexDetectsEditApproval(t *testing.T) {
	p := CodexCLI()
	d, ok := p.MatchPrompt("Would you like to make the following edits?")
	assert.True(t, ok)
	assert.Equal(t, Permission, d.Kind)
}

func TestCodexDetectsNetworkApproval(t *testing.T) {
	p := CodexCLI()
	d, ok := p.MatchPrompt(`Do you want to approve network access to "api.example.com"?`)
	assert.True(t, ok)
	assert.Equal(t, Permission, d.Kind)
}

func TestAiderDetectsYesNoConfirmation(t *testing.T) {
	p := Aider()
	d, ok := p.MatchPrompt("Fix lint errors in main.rs? (Y)es/(N)o [Yes]: ")
	assert.True(t, ok)
	assert.Equal(t, Confirmation, d.Kind)
}

func TestAiderDetectsInputPrompt(t *testing.T) {
	p := Aider()
	d, ok := p.MatchPrompt("code> ")
	assert.True(t, ok)
	assert.Equal(t, WaitingForInput, d.Kind)
}

func TestAiderDetectsBarePrompt(t *testing.T) {
	p := Aider()
	d, ok := p.MatchPrompt("> ")
	assert.True(t, ok)
	assert.Equal(t, WaitingForInput, d.Kind)
}

func TestAiderDetectsEditCompletion(t *testing.T) {
	p := Aider()
	d, ok := p.MatchPrompt("Applied edit to src/main.rs")
	assert.True(t, ok)
	assert.Equal(t, Completion, d.Kind)
}

func TestAiderDetectsTokenLimitError(t *testing.T) {
	p := Aider()
	d, ok := p.MatchPrompt("Your estimated chat context of 50k tokens exceeds the 32k token limit for gpt-4!")
	assert.True(t, ok)
	assert.Equal(t, Error, d.Kind)
}

func TestAiderNoMatchOnCostReport(t *testing.T) {
	p := Aider()
	_, ok := p.MatchPrompt("Tokens: 4.2k sent, 1.1k received. Cost: $0.02 message, $0.05 session.")
	assert.False(t, ok)
}
