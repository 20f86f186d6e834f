// Package tier2 is the Tier-2 Supervisor Gateway (C6): a one-shot,
// stateless call to a supervisor agent for prompts Tier-1 pattern matching
// couldn't answer.
package tier2

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"
)

// Config is the Tier-2 gateway's configuration.
type Config struct {
	Program      string
	Args         []string
	Timeout      time.Duration
	SystemPrompt string // loaded project docs, empty if none
	TraceIO      bool
}

// Kind discriminates a Result's variant.
type Kind int

const (
	Answer Kind = iota
	Escalate
	Failed
)

// Result is the tagged outcome of a supervisor call.
type Result struct {
	Kind          Kind
	Response      string // set for Answer
	Reason        string // set for Escalate
	Error         string // set for Failed
	CorrelationID string // ties this invocation to its execution log entries
}

// ComposeContext builds the context packet in the deterministic order the
// spec requires: role description, optional project-context section, event
// buffer summary, the triggering question, closing instruction.
func ComposeContext(eventSummary, question, systemPrompt string) string {
	var sb strings.Builder

	sb.WriteString("You are a supervisor agent for a hierarchical agent command system. " +
		"An executor agent (coding AI) is working on a task and has asked a question " +
		"that couldn't be auto-answered by pattern matching.\n\n" +
		"Your job: analyze the context and provide a concise, direct answer that the " +
		"executor can use to continue its work. If you genuinely cannot determine the " +
		"right answer, respond with exactly: ESCALATE: <reason>\n\n")

	if systemPrompt != "" {
		sb.WriteString("## Project context\n\n")
		sb.WriteString(systemPrompt)
		sb.WriteString("\n\n")
	}

	sb.WriteString("## Recent executor activity\n\n")
	sb.WriteString(eventSummary)
	sb.WriteString("\n\n")

	sb.WriteString("## Question from executor\n\n")
	sb.WriteString(question)
	sb.WriteString("\n\n")

	sb.WriteString("Respond with ONLY the answer to type into the executor's terminal. " +
		"Keep it brief — usually one word or one line. " +
		"If you cannot determine the right answer, respond with: ESCALATE: <reason>")

	return sb.String()
}

var markerPrefixes = []string{
	"**Answer to send:**",
	"Answer to send:",
	"The exact input to send:",
	"Exact input:",
	"Input:",
	"Response:",
}

// normalize turns raw supervisor stdout into a safe, injectable terminal
// response, or an error if the response can't be safely injected.
func normalize(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("supervisor returned empty response")
	}

	lower := strings.ToLower(trimmed)
	for _, phrase := range []string{"press enter", "just press enter", "empty enter", "empty input", "empty string"} {
		if strings.Contains(lower, phrase) {
			return "", nil
		}
	}

	for _, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		for _, prefix := range markerPrefixes {
			if rest, ok := strings.CutPrefix(line, prefix); ok {
				candidate := unquote(strings.TrimSpace(rest))
				if candidate == "" {
					return "", nil
				}
				if strings.EqualFold(candidate, "enter") || strings.EqualFold(candidate, "press enter") {
					return "", nil
				}
				return candidate, nil
			}
		}
	}

	var first string
	for _, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			first = unquote(line)
			break
		}
	}
	if first == "" {
		return "", nil
	}
	if len(first) > 120 {
		return "", fmt.Errorf("supervisor response too long to inject safely")
	}
	return first, nil
}

func unquote(s string) string {
	s = strings.Trim(s, "`")
	s = strings.Trim(s, "\"")
	return s
}

// Call shells out to the configured supervisor program with contextPrompt
// appended as the last argument. The child runs behind a pty rather than a
// plain pipe: several supervisor agent CLIs change their output formatting
// (or refuse to answer at all) when stdout isn't a terminal.
func Call(ctx context.Context, cfg Config, contextPrompt string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	correlationID := uuid.New().String()

	argv := append([]string{}, cfg.Args...)
	argv = append(argv, contextPrompt)

	cmd := exec.CommandContext(ctx, cfg.Program, argv...)

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return Result{}, fmt.Errorf("failed to start supervisor command under pty: %s: %w", cfg.Program, err)
	}
	defer ptmx.Close()

	var output bytes.Buffer
	_, _ = io.Copy(&output, ptmx)

	if err := cmd.Wait(); err != nil {
		if cmd.ProcessState == nil {
			return Result{}, fmt.Errorf("failed to run supervisor command: %s: %w", cfg.Program, err)
		}
		return Result{Kind: Failed, Error: fmt.Sprintf("supervisor exited with error: %s", lastLines(output.String(), 10)), CorrelationID: correlationID}, nil
	}

	response := strings.TrimSpace(output.String())

	if rest, ok := strings.CutPrefix(response, "ESCALATE:"); ok {
		return Result{Kind: Escalate, Reason: strings.TrimSpace(rest), CorrelationID: correlationID}, nil
	}

	normalized, err := normalize(response)
	if err != nil {
		return Result{Kind: Failed, Error: fmt.Sprintf("supervisor response not safely injectable: %s", err), CorrelationID: correlationID}, nil
	}

	return Result{Kind: Answer, Response: normalized, CorrelationID: correlationID}, nil
}

// lastLines returns the final n non-empty lines of s, for use as a
// stderr-equivalent diagnostic: a pty merges stdout/stderr into one stream,
// so there's no separate error channel to read.
func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

var projectDocFiles = []string{"CLAUDE.md", "planning/architecture.md"}

const maxDocBytes = 4096

// LoadProjectDocs reads a curated set of project docs from projectRoot for
// the system-prompt section, truncating each file to maxDocBytes.
func LoadProjectDocs(projectRoot string) string {
	var sb strings.Builder

	for _, name := range projectDocFiles {
		content, err := os.ReadFile(filepath.Join(projectRoot, name))
		if err != nil {
			continue
		}
		sb.WriteString(fmt.Sprintf("### %s\n\n", name))
		if len(content) > maxDocBytes {
			sb.Write(content[:maxDocBytes])
			sb.WriteString("\n...(truncated)\n")
		} else {
			sb.Write(content)
		}
		sb.WriteString("\n\n")
	}

	if sb.Len() == 0 {
		return "(no project documentation found)"
	}
	return sb.String()
}
