package sqlite

import (
	"context"
	"fmt"

	"github.com/clawde-io/clawd/internal/domain"
	"github.com/doug-martin/goqu/v9"
)

type tokenUsageRepo struct{ s *Storage }

func (r *tokenUsageRepo) Create(ctx context.Context, u *domain.TokenUsage) error {
	query, _, err := r.s.goqu.Insert(r.s.tTokenUsage).Rows(goqu.Record{
		"id":            u.ID,
		"message_id":    u.MessageID,
		"session_id":    u.SessionID,
		"input_tokens":  u.InputTokens,
		"output_tokens": u.OutputTokens,
		"cost_usd":      u.CostUSD,
		"created_at":    u.CreatedAt,
	}).ToSQL()
	if err != nil {
		return fmt.Errorf("build create token_usage query: %w", err)
	}
	if _, err := r.s.writeDB.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create token_usage %q: %w", u.ID, err)
	}
	return nil
}

func (r *tokenUsageRepo) ListBySession(ctx context.Context, sessionID string) ([]*domain.TokenUsage, error) {
	query, _, err := r.s.goqu.From(r.s.tTokenUsage).
		Select("id", "message_id", "session_id", "input_tokens", "output_tokens", "cost_usd", "created_at").
		Where(goqu.I("session_id").Eq(sessionID)).
		Order(goqu.I("created_at").Asc()).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list token_usage query: %w", err)
	}

	rows, err := r.s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list token_usage for %q: %w", sessionID, err)
	}
	defer rows.Close()

	var result []*domain.TokenUsage
	for rows.Next() {
		var u domain.TokenUsage
		if err := rows.Scan(&u.ID, &u.MessageID, &u.SessionID, &u.InputTokens, &u.OutputTokens, &u.CostUSD, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan token_usage row: %w", err)
		}
		result = append(result, &u)
	}
	return result, rows.Err()
}
