package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/clawde-io/clawd/internal/domain"
	"github.com/doug-martin/goqu/v9"
)

type toolResultRepo struct{ s *Storage }

func (r *toolResultRepo) Put(ctx context.Context, res *domain.ToolResultFull) error {
	query, _, err := r.s.goqu.Insert(r.s.tToolResults).Rows(goqu.Record{
		"id":           res.ID,
		"tool_call_id": res.ToolCallID,
		"content":      res.Content,
		"created_at":   res.CreatedAt,
	}).OnConflict(goqu.DoUpdate("tool_call_id", goqu.Record{"content": res.Content})).ToSQL()
	if err != nil {
		return fmt.Errorf("build put tool_result query: %w", err)
	}
	if _, err := r.s.writeDB.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("put tool_result for %q: %w", res.ToolCallID, err)
	}
	return nil
}

func (r *toolResultRepo) Get(ctx context.Context, toolCallID string) (*domain.ToolResultFull, error) {
	query, _, err := r.s.goqu.From(r.s.tToolResults).
		Select("id", "tool_call_id", "content", "created_at").
		Where(goqu.I("tool_call_id").Eq(toolCallID)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build get tool_result query: %w", err)
	}

	var res domain.ToolResultFull
	err = r.s.db.QueryRowContext(ctx, query).Scan(&res.ID, &res.ToolCallID, &res.Content, &res.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tool_result for %q: %w", toolCallID, err)
	}
	return &res, nil
}
