// Package promptpattern holds the regex classifier tables used by the
// Prompt Detector (C4), the agent adapters and the orchestrator: one line of stripped
// pane output in, a closed set of prompt kinds out. Each agent family has
// its own output conventions, so each gets its own table.
package promptpattern

import "regexp"

// Kind is the detected-prompt taxonomy of spec §3 ("DetectedPrompt").
type Kind string

const (
	Permission      Kind = "permission"
	Confirmation    Kind = "confirmation"
	Question        Kind = "question"
	Completion      Kind = "completion"
	Error           Kind = "error"
	WaitingForInput Kind = "waiting_for_input"
)

// DetectedPrompt is a classified line.
type DetectedPrompt struct {
	Kind        Kind
	MatchedText string
}

type classifier func(matched string) Kind

type promptRule struct {
	re       *regexp.Regexp
	classify classifier
}

func constKind(k Kind) classifier {
	return func(string) Kind { return k }
}

// Table classifies lines against an ordered list of prompt rules: the
// first rule to match wins.
type Table struct {
	rules []promptRule
}

// MatchPrompt returns the first matching prompt classification for line.
func (t Table) MatchPrompt(line string) (DetectedPrompt, bool) {
	for _, rule := range t.rules {
		if loc := rule.re.FindStringIndex(line); loc != nil {
			matched := line[loc[0]:loc[1]]
			return DetectedPrompt{Kind: rule.classify(matched), MatchedText: matched}, true
		}
	}
	return DetectedPrompt{}, false
}

// ClaudeCode returns the pattern table for Claude Code's full-screen TUI.
// Patterns target text content after ANSI stripping; the JSON-stream
// patterns apply when Claude is run with -p --output-format stream-json,
// where "is_error":true must be checked before the generic result pattern
// since an error is still a result.
func ClaudeCode() Table {
	return Table{rules: []promptRule{
		{regexp.MustCompile(`(?i)allow\s+tool\b`), constKind(Permission)},
		{regexp.MustCompile(`(?i)\[y/n\]`), constKind(Confirmation)},
		{regexp.MustCompile(`(?i)continue\?`), constKind(Confirmation)},
		{regexp.MustCompile(`"is_error"\s*:\s*true`), constKind(Error)},
		{regexp.MustCompile(`"type"\s*:\s*"result"`), constKind(Completion)},
	}}
}

// CodexCLI returns the pattern table for Codex CLI's alternate-screen
// ratatui TUI. Patterns target text after ANSI stripping.
func CodexCLI() Table {
	return Table{rules: []promptRule{
		{regexp.MustCompile(`Would you like to run the following command\?`), constKind(Permission)},
		{regexp.MustCompile(`Would you like to make the following edits\?`), constKind(Permission)},
		{regexp.MustCompile(`Do you want to approve network access to ".*"\?`), constKind(Permission)},
		{regexp.MustCompile(`.+ needs your approval\.`), constKind(Permission)},
		{regexp.MustCompile(`Press .* to confirm or .* to cancel`), constKind(Confirmation)},
		{regexp.MustCompile(`(?i)context.?window.?exceeded`), constKind(Error)},
	}}
}

// Aider returns the pattern table for Aider's line-oriented prompt_toolkit
// interface, the most reliable target for PTY pattern matching.
func Aider() Table {
	return Table{rules: []promptRule{
		{regexp.MustCompile(`\(Y\)es/\(N\)o.*\[(Yes|No)\]:\s*$`), constKind(Confirmation)},
		{regexp.MustCompile(`^(\w+\s*)?(multi\s+)?>\s$`), constKind(WaitingForInput)},
		{regexp.MustCompile(`^Applied edit to\s+`), constKind(Completion)},
		{regexp.MustCompile(`exceeds the .* token limit`), constKind(Error)},
		{regexp.MustCompile(`Empty response received from LLM`), constKind(Error)},
		{regexp.MustCompile(`(?:unable to read|file not found error|Unable to write)`), constKind(Error)},
	}}
}

// ansiRe matches CSI sequences (ESC [ ... final byte), OSC sequences
// (ESC ] ... ST), and simple two-byte escapes (ESC + one char).
var ansiRe = regexp.MustCompile("\x1b\\[[0-9;?]*[A-Za-z]|\x1b\\][^\a\x1b]*(?:\a|\x1b\\\\)|\x1b[^\\[\\]]")

// StripANSI removes ANSI escape sequences from PTY output.
func StripANSI(input string) string {
	return ansiRe.ReplaceAllString(input, "")
}
