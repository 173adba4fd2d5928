package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/clawde-io/clawd/internal/domain"
	"github.com/doug-martin/goqu/v9"
)

type toolCallRepo struct{ s *Storage }

var toolCallColumns = []any{
	"id", "message_id", "session_id", "name", "input", "output_preview",
	"approvable", "status", "error_reason", "created_at", "completed_at",
}

func scanToolCall(row interface{ Scan(...any) error }) (*domain.ToolCall, error) {
	var t domain.ToolCall
	var input []byte
	err := row.Scan(
		&t.ID, &t.MessageID, &t.SessionID, &t.Name, &input, &t.OutputPrev,
		&t.Approvable, &t.Status, &t.ErrorReason, &t.CreatedAt, &t.CompletedAt,
	)
	t.Input = input
	return &t, err
}

func (r *toolCallRepo) Create(ctx context.Context, t *domain.ToolCall) error {
	query, _, err := r.s.goqu.Insert(r.s.tToolCalls).Rows(goqu.Record{
		"id":             t.ID,
		"message_id":     t.MessageID,
		"session_id":     t.SessionID,
		"name":           t.Name,
		"input":          string(t.Input),
		"output_preview": t.OutputPrev,
		"approvable":     t.Approvable,
		"status":         t.Status,
		"error_reason":   t.ErrorReason,
		"created_at":     t.CreatedAt,
		"completed_at":   t.CompletedAt,
	}).ToSQL()
	if err != nil {
		return fmt.Errorf("build create tool_call query: %w", err)
	}
	if _, err := r.s.writeDB.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create tool_call %q: %w", t.ID, err)
	}
	return nil
}

func (r *toolCallRepo) Update(ctx context.Context, t *domain.ToolCall) error {
	query, _, err := r.s.goqu.Update(r.s.tToolCalls).Set(goqu.Record{
		"output_preview": t.OutputPrev,
		"status":         t.Status,
		"error_reason":   t.ErrorReason,
		"completed_at":   t.CompletedAt,
	}).Where(goqu.I("id").Eq(t.ID)).ToSQL()
	if err != nil {
		return fmt.Errorf("build update tool_call query: %w", err)
	}
	res, err := r.s.writeDB.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("update tool_call %q: %w", t.ID, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *toolCallRepo) Get(ctx context.Context, id string) (*domain.ToolCall, error) {
	query, _, err := r.s.goqu.From(r.s.tToolCalls).Select(toolCallColumns...).
		Where(goqu.I("id").Eq(id)).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build get tool_call query: %w", err)
	}

	t, err := scanToolCall(r.s.db.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tool_call %q: %w", id, err)
	}
	return t, nil
}

func (r *toolCallRepo) List(ctx context.Context, filter domain.ToolCallFilter, page domain.Pagination) ([]*domain.ToolCall, error) {
	ds := r.s.goqu.From(r.s.tToolCalls).Select(toolCallColumns...)

	if filter.SessionID != nil {
		ds = ds.Where(goqu.I("session_id").Eq(*filter.SessionID))
	}
	if filter.MessageID != nil {
		ds = ds.Where(goqu.I("message_id").Eq(*filter.MessageID))
	}
	if filter.Status != nil {
		ds = ds.Where(goqu.I("status").Eq(*filter.Status))
	}

	ds = applyPagination(ds, page, "created_at")

	query, _, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list tool_calls query: %w", err)
	}

	rows, err := r.s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list tool_calls: %w", err)
	}
	defer rows.Close()

	var result []*domain.ToolCall
	for rows.Next() {
		t, err := scanToolCall(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tool_call row: %w", err)
		}
		result = append(result, t)
	}
	return result, rows.Err()
}
