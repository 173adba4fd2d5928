package session

import (
	"os"
	"path/filepath"
)

// isGitRepo reports whether path looks like the root of a git working tree:
// a .git directory (ordinary repo) or a .git file (linked worktree, spec
// §4.5's own worktrees included).
func isGitRepo(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(filepath.Join(path, ".git"))
	return err == nil
}
