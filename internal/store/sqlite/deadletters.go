package sqlite

import (
	"context"
	"fmt"

	"github.com/clawde-io/clawd/internal/domain"
	"github.com/doug-martin/goqu/v9"
)

type deadLetterRepo struct{ s *Storage }

var deadLetterColumns = []any{
	"id", "connection_id", "event_type", "payload", "failure_reason", "retry_count", "status", "created_at", "updated_at",
}

func scanDeadLetter(row interface{ Scan(...any) error }) (*domain.DeadLetterEvent, error) {
	var e domain.DeadLetterEvent
	var payload []byte
	err := row.Scan(&e.ID, &e.ConnectionID, &e.EventType, &payload, &e.FailureReason, &e.RetryCount, &e.Status, &e.CreatedAt, &e.UpdatedAt)
	e.Payload = payload
	return &e, err
}

func (r *deadLetterRepo) Create(ctx context.Context, e *domain.DeadLetterEvent) error {
	query, _, err := r.s.goqu.Insert(r.s.tDeadLetters).Rows(goqu.Record{
		"id":             e.ID,
		"connection_id":  e.ConnectionID,
		"event_type":     e.EventType,
		"payload":        string(e.Payload),
		"failure_reason": e.FailureReason,
		"retry_count":    e.RetryCount,
		"status":         e.Status,
		"created_at":     e.CreatedAt,
		"updated_at":     e.UpdatedAt,
	}).ToSQL()
	if err != nil {
		return fmt.Errorf("build create dead_letter_event query: %w", err)
	}
	if _, err := r.s.writeDB.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create dead_letter_event %q: %w", e.ID, err)
	}
	return nil
}

func (r *deadLetterRepo) ListPending(ctx context.Context, limit int) ([]*domain.DeadLetterEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	query, _, err := r.s.goqu.From(r.s.tDeadLetters).Select(deadLetterColumns...).
		Where(goqu.I("status").In(domain.DeadLetterPending, domain.DeadLetterRetrying)).
		Order(goqu.I("created_at").Asc()).
		Limit(uint(limit)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list pending dead_letter_events query: %w", err)
	}

	rows, err := r.s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list pending dead_letter_events: %w", err)
	}
	defer rows.Close()

	var result []*domain.DeadLetterEvent
	for rows.Next() {
		e, err := scanDeadLetter(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dead_letter_event row: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func (r *deadLetterRepo) ListAll(ctx context.Context, connectionID *string, page domain.Pagination) ([]*domain.DeadLetterEvent, error) {
	ds := r.s.goqu.From(r.s.tDeadLetters).Select(deadLetterColumns...)
	if connectionID != nil {
		ds = ds.Where(goqu.I("connection_id").Eq(*connectionID))
	}
	ds = applyPagination(ds, page, "created_at")

	query, _, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list dead_letter_events query: %w", err)
	}

	rows, err := r.s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list dead_letter_events: %w", err)
	}
	defer rows.Close()

	var result []*domain.DeadLetterEvent
	for rows.Next() {
		e, err := scanDeadLetter(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dead_letter_event row: %w", err)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

func (r *deadLetterRepo) Update(ctx context.Context, e *domain.DeadLetterEvent) error {
	query, _, err := r.s.goqu.Update(r.s.tDeadLetters).Set(goqu.Record{
		"retry_count": e.RetryCount,
		"status":      e.Status,
		"updated_at":  e.UpdatedAt,
	}).Where(goqu.I("id").Eq(e.ID)).ToSQL()
	if err != nil {
		return fmt.Errorf("build update dead_letter_event query: %w", err)
	}
	res, err := r.s.writeDB.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("update dead_letter_event %q: %w", e.ID, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *deadLetterRepo) Delete(ctx context.Context, id string) error {
	query, _, err := r.s.goqu.Delete(r.s.tDeadLetters).Where(goqu.I("id").Eq(id)).ToSQL()
	if err != nil {
		return fmt.Errorf("build delete dead_letter_event query: %w", err)
	}
	if _, err := r.s.writeDB.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("delete dead_letter_event %q: %w", id, err)
	}
	return nil
}
