package paths

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrefersBattyKanbanWhenItExists(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".batty", "kanban"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "kanban"), 0o755))

	assert.Equal(t, filepath.Join(dir, ".batty", "kanban"), ResolveKanbanRoot(dir))
}

func TestFallsBackToLegacyKanban(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "kanban"), 0o755))

	assert.Equal(t, filepath.Join(dir, "kanban"), ResolveKanbanRoot(dir))
}

func TestReturnsPreferredWhenNeitherExists(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, filepath.Join(dir, ".batty", "kanban"), ResolveKanbanRoot(dir))
}
