// Package tasks implements the tasks.* extension namespace (spec §4.10).
// A "task" has no storage row of its own: it is the unit a Worktree is
// keyed by (clawd/task/<task_id> branches), so this namespace is a thin
// adapter over internal/worktree.Manager, the same role the teacher's
// workflow trigger handlers play over internal/service/workflow.Scheduler.
package tasks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/clawde-io/clawd/internal/app"
	"github.com/clawde-io/clawd/internal/domain"
	"github.com/clawde-io/clawd/internal/ext"
)

func init() {
	ext.Register("tasks.create", create)
	ext.Register("tasks.list", list)
}

type createParams struct {
	TaskID     string `json:"taskId"`
	RepoPath   string `json:"repoPath"`
	BaseBranch string `json:"baseBranch"`
}

func create(ctx context.Context, appCtx *app.Context, raw json.RawMessage) (any, error) {
	var p createParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("tasks.create: decode params: %w", err)
	}
	if p.TaskID == "" || p.RepoPath == "" {
		return nil, fmt.Errorf("tasks.create: taskId and repoPath are required")
	}
	return appCtx.Worktrees.Create(ctx, p.TaskID, p.RepoPath, p.BaseBranch)
}

type listParams struct {
	RepoPath *string `json:"repoPath,omitempty"`
}

func list(ctx context.Context, appCtx *app.Context, raw json.RawMessage) (any, error) {
	var p listParams
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("tasks.list: decode params: %w", err)
		}
	}
	wts, err := appCtx.Worktrees.List(ctx, p.RepoPath)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Worktree, 0, len(wts))
	out = append(out, wts...)
	return out, nil
}
