package sqlite

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// maxBackups bounds how many pre-migration snapshots accumulate under
// data_dir/backups before the oldest are pruned.
const maxBackups = 10

// forbiddenMigrationStmt matches destructive statements migrations must
// never contain: clawd only ever adds columns and tables going forward,
// so a DROP or a column-removing ALTER is almost certainly a mistake
// caught here rather than against a user's live session history.
var forbiddenMigrationStmt = regexp.MustCompile(`(?i)\bDROP\s+(TABLE|COLUMN)\b|\bALTER\s+TABLE\s+\S+\s+DROP\b`)

// lintMigrations scans every embedded migration file for destructive
// statements before New() lets muz apply any of them.
func lintMigrations() error {
	return fs.WalkDir(migrationFS, "migrations", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".sql") {
			return nil
		}
		data, err := migrationFS.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", path, err)
		}
		if forbiddenMigrationStmt.Match(data) {
			return fmt.Errorf("migration %s contains a forbidden destructive statement (DROP or column-removing ALTER)", path)
		}
		return nil
	})
}

// backupDatasource copies the on-disk database file into
// <dir>/backups/<db file name>.<UTC timestamp>.bak before migrations run, so a bad
// migration can be recovered from by hand. A fresh (not-yet-created)
// database is a no-op, not an error.
func backupDatasource(_ context.Context, datasource string) error {
	path := datasourcePath(datasource)
	if path == "" || path == ":memory:" {
		return nil
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat datasource: %w", err)
	}

	backupDir := filepath.Join(filepath.Dir(path), "backups")
	if err := os.MkdirAll(backupDir, 0o750); err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}

	dest := filepath.Join(backupDir, fmt.Sprintf("%s.%s.bak", filepath.Base(path), time.Now().UTC().Format("20060102T150405Z")))
	if err := copyFile(path, dest); err != nil {
		return fmt.Errorf("copy datasource to backup: %w", err)
	}

	slog.Info("backed up store before migration", "source", path, "backup", dest)

	return pruneBackups(backupDir)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

func pruneBackups(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read backup dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	if len(entries) <= maxBackups {
		return nil
	}

	for _, e := range entries[:len(entries)-maxBackups] {
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			slog.Warn("prune old backup failed", "file", e.Name(), "error", err)
		}
	}
	return nil
}

// datasourcePath strips sqlite DSN decoration ("file:" scheme, query
// parameters) down to a plain filesystem path.
func datasourcePath(datasource string) string {
	path := strings.TrimPrefix(datasource, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	return path
}
