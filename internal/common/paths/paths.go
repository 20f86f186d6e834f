// Package paths resolves shared on-disk locations for a project.
package paths

import (
	"os"
	"path/filepath"
)

// ResolveKanbanRoot returns the kanban root directory for a project.
// Prefers ".batty/kanban" (current layout) if it exists, otherwise falls
// back to "kanban" (legacy layout). When neither exists, returns the
// preferred ".batty/kanban" path so new projects get the current layout.
func ResolveKanbanRoot(base string) string {
	preferred := filepath.Join(base, ".batty", "kanban")
	if isDir(preferred) {
		return preferred
	}
	legacy := filepath.Join(base, "kanban")
	if isDir(legacy) {
		return legacy
	}
	return preferred
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
