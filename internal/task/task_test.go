package task

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBasicTask(t *testing.T) {
	content := `---
id: 3
title: kanban-md task file reader
status: backlog
priority: critical
tags:
    - core
depends_on:
    - 1
---

Read task files from kanban/phase-N/tasks/ directory.
`
	tk, err := Parse(content)
	require.NoError(t, err)
	assert.Equal(t, 3, tk.ID)
	assert.Equal(t, "kanban-md task file reader", tk.Title)
	assert.Equal(t, Backlog, tk.Status)
	assert.Equal(t, "critical", tk.Priority)
	assert.Equal(t, []string{"core"}, tk.Tags)
	assert.Equal(t, []int{1}, tk.DependsOn)
	assert.Contains(t, tk.Description, "Read task files")
	assert.Nil(t, tk.Override)
}

func TestParseTaskWithBattyConfigSection(t *testing.T) {
	content := `---
id: 7
title: PTY supervision
status: backlog
priority: high
tags:
    - core
depends_on: []
---

Implement the PTY supervision layer.

## Batty Config

agent = "codex"
policy = "act"
dod = "cargo test"
max_retries = 5
`
	tk, err := Parse(content)
	require.NoError(t, err)
	assert.Contains(t, tk.Description, "PTY supervision")
	assert.NotContains(t, tk.Description, "Batty Config")

	require.NotNil(t, tk.Override)
	assert.Equal(t, "codex", tk.Override.Agent)
	assert.Equal(t, "act", tk.Override.Policy)
	assert.Equal(t, "cargo test", tk.Override.DoD)
	require.NotNil(t, tk.Override.MaxRetries)
	assert.Equal(t, 5, *tk.Override.MaxRetries)
}

func TestParseTaskWithFencedBattyConfig(t *testing.T) {
	content := "---\n" +
		"id: 8\ntitle: policy engine\nstatus: backlog\npriority: high\ntags: []\ndepends_on: []\n" +
		"---\n\nBuild the policy engine.\n\n## Batty Config\n\n```toml\nagent = \"aider\"\ndod = \"make test\"\n```\n"

	tk, err := Parse(content)
	require.NoError(t, err)
	require.NotNil(t, tk.Override)
	assert.Equal(t, "aider", tk.Override.Agent)
	assert.Equal(t, "make test", tk.Override.DoD)
}

func TestParseTaskNoDepends(t *testing.T) {
	content := `---
id: 1
title: scaffolding
status: done
priority: critical
tags:
    - core
---

Set up the project.
`
	tk, err := Parse(content)
	require.NoError(t, err)
	assert.Equal(t, 1, tk.ID)
	assert.Empty(t, tk.DependsOn)
}

func TestParseTaskMinimalFrontmatter(t *testing.T) {
	content := `---
id: 99
title: minimal task
---

Just a description.
`
	tk, err := Parse(content)
	require.NoError(t, err)
	assert.Equal(t, 99, tk.ID)
	assert.Equal(t, Backlog, tk.Status)
	assert.Empty(t, tk.Priority)
	assert.Empty(t, tk.Tags)
}

func TestMissingFrontmatterIsError(t *testing.T) {
	_, err := Parse("# No frontmatter here\nJust markdown.")
	require.Error(t, err)
}

func TestLoadFromDirectory(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "001-first.md"), []byte(`---
id: 1
title: first task
status: backlog
priority: high
tags: []
depends_on: []
---

First task description.
`), 0o644))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "002-second.md"), []byte(`---
id: 2
title: second task
status: todo
priority: medium
tags: []
depends_on:
    - 1
---

Second task description.
`), 0o644))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not a task"), 0o644))

	tasks, err := LoadDir(dir, nil)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, 1, tasks[0].ID)
	assert.Equal(t, 2, tasks[1].ID)
	assert.Equal(t, []int{1}, tasks[1].DependsOn)
}

func TestLoadFromDirectorySkipsUnparsable(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.md"), []byte("no frontmatter"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "good.md"), []byte(`---
id: 1
title: ok
---

body
`), 0o644))

	tasks, err := LoadDir(dir, nil)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, 1, tasks[0].ID)
}
