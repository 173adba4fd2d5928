package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/clawde-io/clawd/internal/domain"
	"github.com/doug-martin/goqu/v9"
)

type worktreeRepo struct{ s *Storage }

var worktreeColumns = []any{
	"task_id", "worktree_path", "branch", "repo_path", "base_branch", "status", "created_at", "updated_at",
}

func scanWorktree(row interface{ Scan(...any) error }) (*domain.Worktree, error) {
	var w domain.Worktree
	err := row.Scan(&w.TaskID, &w.WorktreePath, &w.Branch, &w.RepoPath, &w.BaseBranch, &w.Status, &w.CreatedAt, &w.UpdatedAt)
	return &w, err
}

func (r *worktreeRepo) Create(ctx context.Context, w *domain.Worktree) error {
	query, _, err := r.s.goqu.Insert(r.s.tWorktrees).Rows(goqu.Record{
		"task_id":       w.TaskID,
		"worktree_path": w.WorktreePath,
		"branch":        w.Branch,
		"repo_path":     w.RepoPath,
		"base_branch":   w.BaseBranch,
		"status":        w.Status,
		"created_at":    w.CreatedAt,
		"updated_at":    w.UpdatedAt,
	}).ToSQL()
	if err != nil {
		return fmt.Errorf("build create worktree query: %w", err)
	}
	if _, err := r.s.writeDB.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create worktree %q: %w", w.TaskID, err)
	}
	return nil
}

func (r *worktreeRepo) Update(ctx context.Context, w *domain.Worktree) error {
	query, _, err := r.s.goqu.Update(r.s.tWorktrees).Set(goqu.Record{
		"status":     w.Status,
		"updated_at": w.UpdatedAt,
	}).Where(goqu.I("task_id").Eq(w.TaskID)).ToSQL()
	if err != nil {
		return fmt.Errorf("build update worktree query: %w", err)
	}
	res, err := r.s.writeDB.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("update worktree %q: %w", w.TaskID, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *worktreeRepo) Get(ctx context.Context, taskID string) (*domain.Worktree, error) {
	query, _, err := r.s.goqu.From(r.s.tWorktrees).Select(worktreeColumns...).
		Where(goqu.I("task_id").Eq(taskID)).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build get worktree query: %w", err)
	}

	w, err := scanWorktree(r.s.db.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get worktree %q: %w", taskID, err)
	}
	return w, nil
}

func (r *worktreeRepo) List(ctx context.Context, repoPath *string) ([]*domain.Worktree, error) {
	ds := r.s.goqu.From(r.s.tWorktrees).Select(worktreeColumns...).Order(goqu.I("created_at").Desc())
	if repoPath != nil {
		ds = ds.Where(goqu.I("repo_path").Eq(*repoPath))
	}

	query, _, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list worktrees query: %w", err)
	}

	rows, err := r.s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list worktrees: %w", err)
	}
	defer rows.Close()

	var result []*domain.Worktree
	for rows.Next() {
		w, err := scanWorktree(rows)
		if err != nil {
			return nil, fmt.Errorf("scan worktree row: %w", err)
		}
		result = append(result, w)
	}
	return result, rows.Err()
}

func (r *worktreeRepo) Delete(ctx context.Context, taskID string) error {
	query, _, err := r.s.goqu.Delete(r.s.tWorktrees).Where(goqu.I("task_id").Eq(taskID)).ToSQL()
	if err != nil {
		return fmt.Errorf("build delete worktree query: %w", err)
	}
	if _, err := r.s.writeDB.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("delete worktree %q: %w", taskID, err)
	}
	return nil
}
