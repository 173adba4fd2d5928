package sqlite

import (
	"context"
	"fmt"

	"github.com/clawde-io/clawd/internal/domain"
	"github.com/doug-martin/goqu/v9"
)

type notificationRepo struct{ s *Storage }

func (r *notificationRepo) Create(ctx context.Context, c *domain.NotificationChannel) error {
	query, _, err := r.s.goqu.Insert(r.s.tNotifyChans).Rows(goqu.Record{
		"id":         c.ID,
		"kind":       c.Kind,
		"config":     string(c.Config),
		"enabled":    c.Enabled,
		"created_at": c.CreatedAt,
	}).ToSQL()
	if err != nil {
		return fmt.Errorf("build create notification_channel query: %w", err)
	}
	if _, err := r.s.writeDB.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create notification_channel %q: %w", c.ID, err)
	}
	return nil
}

func (r *notificationRepo) Update(ctx context.Context, c *domain.NotificationChannel) error {
	query, _, err := r.s.goqu.Update(r.s.tNotifyChans).Set(goqu.Record{
		"config":  string(c.Config),
		"enabled": c.Enabled,
	}).Where(goqu.I("id").Eq(c.ID)).ToSQL()
	if err != nil {
		return fmt.Errorf("build update notification_channel query: %w", err)
	}
	res, err := r.s.writeDB.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("update notification_channel %q: %w", c.ID, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *notificationRepo) List(ctx context.Context) ([]*domain.NotificationChannel, error) {
	query, _, err := r.s.goqu.From(r.s.tNotifyChans).
		Select("id", "kind", "config", "enabled", "created_at").
		Order(goqu.I("created_at").Asc()).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list notification_channels query: %w", err)
	}

	rows, err := r.s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list notification_channels: %w", err)
	}
	defer rows.Close()

	var result []*domain.NotificationChannel
	for rows.Next() {
		var c domain.NotificationChannel
		var cfg []byte
		if err := rows.Scan(&c.ID, &c.Kind, &cfg, &c.Enabled, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification_channel row: %w", err)
		}
		c.Config = cfg
		result = append(result, &c)
	}
	return result, rows.Err()
}

func (r *notificationRepo) Delete(ctx context.Context, id string) error {
	query, _, err := r.s.goqu.Delete(r.s.tNotifyChans).Where(goqu.I("id").Eq(id)).ToSQL()
	if err != nil {
		return fmt.Errorf("build delete notification_channel query: %w", err)
	}
	if _, err := r.s.writeDB.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("delete notification_channel %q: %w", id, err)
	}
	return nil
}
