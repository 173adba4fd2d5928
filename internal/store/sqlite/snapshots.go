package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/clawde-io/clawd/internal/domain"
	"github.com/doug-martin/goqu/v9"
)

type snapshotRepo struct{ s *Storage }

var snapshotColumns = []any{
	"id", "session_id", "content", "token_estimate", "snapshot_type",
	"message_range_start", "message_range_end", "created_at",
}

func scanSnapshot(row interface{ Scan(...any) error }) (*domain.ContextSnapshot, error) {
	var c domain.ContextSnapshot
	err := row.Scan(&c.ID, &c.SessionID, &c.Content, &c.TokenEstimate, &c.SnapshotType,
		&c.MessageRangeStart, &c.MessageRangeEnd, &c.CreatedAt)
	return &c, err
}

func (r *snapshotRepo) Create(ctx context.Context, c *domain.ContextSnapshot) error {
	query, _, err := r.s.goqu.Insert(r.s.tSnapshots).Rows(goqu.Record{
		"id":                  c.ID,
		"session_id":          c.SessionID,
		"content":             c.Content,
		"token_estimate":      c.TokenEstimate,
		"snapshot_type":       c.SnapshotType,
		"message_range_start": c.MessageRangeStart,
		"message_range_end":   c.MessageRangeEnd,
		"created_at":          c.CreatedAt,
	}).ToSQL()
	if err != nil {
		return fmt.Errorf("build create context_snapshot query: %w", err)
	}
	if _, err := r.s.writeDB.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create context_snapshot %q: %w", c.ID, err)
	}
	return nil
}

func (r *snapshotRepo) LatestForSession(ctx context.Context, sessionID string) (*domain.ContextSnapshot, error) {
	query, _, err := r.s.goqu.From(r.s.tSnapshots).Select(snapshotColumns...).
		Where(goqu.I("session_id").Eq(sessionID)).
		Order(goqu.I("created_at").Desc()).
		Limit(1).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build latest context_snapshot query: %w", err)
	}

	c, err := scanSnapshot(r.s.db.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get latest context_snapshot for %q: %w", sessionID, err)
	}
	return c, nil
}

func (r *snapshotRepo) ListForSession(ctx context.Context, sessionID string) ([]*domain.ContextSnapshot, error) {
	query, _, err := r.s.goqu.From(r.s.tSnapshots).Select(snapshotColumns...).
		Where(goqu.I("session_id").Eq(sessionID)).
		Order(goqu.I("created_at").Asc()).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list context_snapshots query: %w", err)
	}

	rows, err := r.s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list context_snapshots for %q: %w", sessionID, err)
	}
	defer rows.Close()

	var result []*domain.ContextSnapshot
	for rows.Next() {
		c, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan context_snapshot row: %w", err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}
