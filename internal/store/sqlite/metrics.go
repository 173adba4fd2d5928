package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/clawde-io/clawd/internal/domain"
	"github.com/doug-martin/goqu/v9"
)

type metricRepo struct{ s *Storage }

func (r *metricRepo) Create(ctx context.Context, m *domain.ResourceMetric) error {
	query, _, err := r.s.goqu.Insert(r.s.tMetrics).Rows(goqu.Record{
		"id":             m.ID,
		"host_total_ram": m.HostTotalRAM,
		"host_used_ram":  m.HostUsedRAM,
		"daemon_rss":     m.DaemonRSS,
		"active_count":   m.ActiveCount,
		"warm_count":     m.WarmCount,
		"cold_count":     m.ColdCount,
		"created_at":     m.CreatedAt,
	}).ToSQL()
	if err != nil {
		return fmt.Errorf("build create resource_metric query: %w", err)
	}
	if _, err := r.s.writeDB.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create resource_metric %q: %w", m.ID, err)
	}
	return nil
}

// Recent returns samples newer than `since` seconds ago.
func (r *metricRepo) Recent(ctx context.Context, since int64) ([]*domain.ResourceMetric, error) {
	cutoff := time.Now().UTC().Add(-time.Duration(since) * time.Second).Format(time.RFC3339Nano)

	query, _, err := r.s.goqu.From(r.s.tMetrics).
		Select("id", "host_total_ram", "host_used_ram", "daemon_rss", "active_count", "warm_count", "cold_count", "created_at").
		Where(goqu.I("created_at").Gte(cutoff)).
		Order(goqu.I("created_at").Asc()).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build recent resource_metrics query: %w", err)
	}

	rows, err := r.s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list recent resource_metrics: %w", err)
	}
	defer rows.Close()

	var result []*domain.ResourceMetric
	for rows.Next() {
		var m domain.ResourceMetric
		if err := rows.Scan(&m.ID, &m.HostTotalRAM, &m.HostUsedRAM, &m.DaemonRSS, &m.ActiveCount, &m.WarmCount, &m.ColdCount, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan resource_metric row: %w", err)
		}
		result = append(result, &m)
	}
	return result, rows.Err()
}

// Prune removes samples older than the 24h retention window (spec §3).
func (r *metricRepo) Prune(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-24 * time.Hour).Format(time.RFC3339Nano)

	query, _, err := r.s.goqu.Delete(r.s.tMetrics).Where(goqu.I("created_at").Lt(cutoff)).ToSQL()
	if err != nil {
		return fmt.Errorf("build prune resource_metrics query: %w", err)
	}
	if _, err := r.s.writeDB.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("prune resource_metrics: %w", err)
	}
	return nil
}
