package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/clawde-io/clawd/internal/domain"
	"github.com/doug-martin/goqu/v9"
)

type messageRepo struct{ s *Storage }

var messageColumns = []any{"id", "session_id", "role", "content", "status", "created_at"}

func scanMessage(row interface{ Scan(...any) error }) (*domain.Message, error) {
	var m domain.Message
	err := row.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.Status, &m.CreatedAt)
	return &m, err
}

func (r *messageRepo) Create(ctx context.Context, m *domain.Message) error {
	query, _, err := r.s.goqu.Insert(r.s.tMessages).Rows(goqu.Record{
		"id":         m.ID,
		"session_id": m.SessionID,
		"role":       m.Role,
		"content":    m.Content,
		"status":     m.Status,
		"created_at": m.CreatedAt,
	}).ToSQL()
	if err != nil {
		return fmt.Errorf("build create message query: %w", err)
	}
	if _, err := r.s.writeDB.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create message %q: %w", m.ID, err)
	}
	return nil
}

func (r *messageRepo) Update(ctx context.Context, m *domain.Message) error {
	query, _, err := r.s.goqu.Update(r.s.tMessages).Set(goqu.Record{
		"content": m.Content,
		"status":  m.Status,
	}).Where(goqu.I("id").Eq(m.ID)).ToSQL()
	if err != nil {
		return fmt.Errorf("build update message query: %w", err)
	}
	res, err := r.s.writeDB.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("update message %q: %w", m.ID, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *messageRepo) Get(ctx context.Context, id string) (*domain.Message, error) {
	query, _, err := r.s.goqu.From(r.s.tMessages).Select(messageColumns...).
		Where(goqu.I("id").Eq(id)).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build get message query: %w", err)
	}

	m, err := scanMessage(r.s.db.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get message %q: %w", id, err)
	}
	return m, nil
}

func (r *messageRepo) List(ctx context.Context, filter domain.MessageFilter, page domain.Pagination) ([]*domain.Message, error) {
	ds := r.s.goqu.From(r.s.tMessages).Select(messageColumns...).
		Where(goqu.I("session_id").Eq(filter.SessionID))

	if filter.Role != nil {
		ds = ds.Where(goqu.I("role").Eq(*filter.Role))
	}

	ds = applyPagination(ds, page, "created_at")

	query, _, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list messages query: %w", err)
	}

	rows, err := r.s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var result []*domain.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func (r *messageRepo) Delete(ctx context.Context, id string) error {
	query, _, err := r.s.goqu.Delete(r.s.tMessages).Where(goqu.I("id").Eq(id)).ToSQL()
	if err != nil {
		return fmt.Errorf("build delete message query: %w", err)
	}
	if _, err := r.s.writeDB.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("delete message %q: %w", id, err)
	}
	return nil
}
