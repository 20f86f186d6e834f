// Package task parses kanban-md task files: YAML front-matter plus a
// Markdown body that may carry a "## Batty Config" override section.
package task

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/battysh/batty/internal/common/logger"
)

// Status is the closed set of task lifecycle states (spec §3).
type Status string

const (
	Backlog    Status = "backlog"
	Todo       Status = "todo"
	InProgress Status = "in-progress"
	Review     Status = "review"
	Done       Status = "done"
	Archived   Status = "archived"
)

// Task is an immutable view loaded from one task file.
type Task struct {
	ID          int
	Title       string
	Status      Status
	Priority    string
	Tags        []string
	DependsOn   []int
	Description string
	Override    *Override
	SourcePath  string
}

// Override is the per-task "## Batty Config" override bundle.
type Override struct {
	Agent      string `toml:"agent"`
	Policy     string `toml:"policy"`
	DoD        string `toml:"dod"`
	MaxRetries *int   `toml:"max_retries"`
}

type frontmatter struct {
	ID        int      `yaml:"id"`
	Title     string   `yaml:"title"`
	Status    string   `yaml:"status"`
	Priority  string   `yaml:"priority"`
	Tags      []string `yaml:"tags"`
	DependsOn []int    `yaml:"depends_on"`
}

// FromFile reads and parses a single task file.
func FromFile(path string) (Task, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return Task{}, fmt.Errorf("failed to read task file: %s: %w", path, err)
	}
	t, err := Parse(string(contents))
	if err != nil {
		return Task{}, fmt.Errorf("failed to parse task file: %s: %w", path, err)
	}
	t.SourcePath = path
	return t, nil
}

// Parse parses a kanban-md task from its string content.
func Parse(content string) (Task, error) {
	fmStr, body, err := splitFrontmatter(content)
	if err != nil {
		return Task{}, err
	}

	fm := frontmatter{Status: string(Backlog)}
	if err := yaml.Unmarshal([]byte(fmStr), &fm); err != nil {
		return Task{}, fmt.Errorf("failed to parse YAML frontmatter: %w", err)
	}
	if fm.Status == "" {
		fm.Status = string(Backlog)
	}

	description, override := parseBody(body)

	return Task{
		ID:          fm.ID,
		Title:       fm.Title,
		Status:      Status(fm.Status),
		Priority:    fm.Priority,
		Tags:        fm.Tags,
		DependsOn:   fm.DependsOn,
		Description: description,
		Override:    override,
	}, nil
}

func splitFrontmatter(content string) (frontmatterText string, body string, err error) {
	trimmed := strings.TrimLeft(content, " \t\r\n")
	if !strings.HasPrefix(trimmed, "---") {
		return "", "", fmt.Errorf("task file missing YAML frontmatter (no opening ---)")
	}

	afterOpen := trimmed[3:]
	afterOpen = strings.TrimPrefix(afterOpen, "\n")

	closePos := strings.Index(afterOpen, "\n---")
	if closePos < 0 {
		return "", "", fmt.Errorf("task file missing closing --- for frontmatter")
	}

	fmText := afterOpen[:closePos]
	rest := afterOpen[closePos+4:]
	rest = strings.TrimPrefix(rest, "\n")

	return fmText, rest, nil
}

const battyConfigMarker = "## Batty Config"

// parseBody separates the description from an optional "## Batty Config"
// override section, which may be bare TOML or a fenced ```toml block.
func parseBody(body string) (string, *Override) {
	pos := strings.Index(body, battyConfigMarker)
	if pos < 0 {
		return strings.TrimSpace(body), nil
	}

	description := strings.TrimSpace(body[:pos])
	configSection := strings.TrimSpace(body[pos+len(battyConfigMarker):])

	var override Override
	if _, err := toml.Decode(configSection, &override); err == nil {
		return description, &override
	}

	if start := strings.Index(configSection, "```"); start >= 0 {
		afterFence := configSection[start+3:]
		innerStart := strings.IndexByte(afterFence, '\n')
		if innerStart < 0 {
			innerStart = -1
		}
		inner := afterFence[innerStart+1:]
		if end := strings.Index(inner, "```"); end >= 0 {
			block := strings.TrimSpace(inner[:end])
			var fenced Override
			if _, err := toml.Decode(block, &fenced); err == nil {
				return description, &fenced
			}
		}
	}

	return description, nil
}

// LoadDir loads every *.md task file from a directory, sorted by id. A file
// that fails to parse is skipped and logged, not fatal to the whole load.
func LoadDir(dir string, log *logger.Logger) ([]Task, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read tasks directory: %s: %w", dir, err)
	}

	var tasks []Task
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".md" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		t, err := FromFile(path)
		if err != nil {
			if log != nil {
				log.Warn("skipping task file", zap.String("path", path), zap.Error(err))
			}
			continue
		}
		tasks = append(tasks, t)
	}

	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks, nil
}
