// Package worktrees implements the worktrees.* extension namespace (spec
// §4.10): diff, accept (squash-merge), and reject (discard) against a
// task's isolated worktree, adapting internal/worktree.Manager for the
// dispatch table the same way internal/ext/tasks does for creation/listing.
package worktrees

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/clawde-io/clawd/internal/app"
	"github.com/clawde-io/clawd/internal/ext"
)

func init() {
	ext.Register("worktrees.diff", diff)
	ext.Register("worktrees.accept", accept)
	ext.Register("worktrees.reject", reject)
}

type taskIDParams struct {
	TaskID string `json:"taskId"`
}

func decodeTaskID(raw json.RawMessage, method string) (string, error) {
	var p taskIDParams
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", fmt.Errorf("%s: decode params: %w", method, err)
	}
	if p.TaskID == "" {
		return "", fmt.Errorf("%s: taskId is required", method)
	}
	return p.TaskID, nil
}

func diff(ctx context.Context, appCtx *app.Context, raw json.RawMessage) (any, error) {
	taskID, err := decodeTaskID(raw, "worktrees.diff")
	if err != nil {
		return nil, err
	}
	return appCtx.Worktrees.Diff(ctx, taskID)
}

func accept(ctx context.Context, appCtx *app.Context, raw json.RawMessage) (any, error) {
	taskID, err := decodeTaskID(raw, "worktrees.accept")
	if err != nil {
		return nil, err
	}
	if err := appCtx.Worktrees.Accept(ctx, taskID); err != nil {
		return nil, err
	}
	return map[string]string{"taskId": taskID, "status": "merged"}, nil
}

func reject(ctx context.Context, appCtx *app.Context, raw json.RawMessage) (any, error) {
	taskID, err := decodeTaskID(raw, "worktrees.reject")
	if err != nil {
		return nil, err
	}
	if err := appCtx.Worktrees.Reject(ctx, taskID); err != nil {
		return nil, err
	}
	return map[string]string{"taskId": taskID, "status": "abandoned"}, nil
}
