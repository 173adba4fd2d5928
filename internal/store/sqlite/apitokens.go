package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/clawde-io/clawd/internal/domain"
	"github.com/doug-martin/goqu/v9"
)

type apiTokenRepo struct{ s *Storage }

var apiTokenColumns = []any{
	"id", "name", "token_prefix", "allowed_providers", "expires_at", "created_at", "last_used_at",
}

func scanAPIToken(row interface{ Scan(...any) error }) (*domain.APIToken, error) {
	var t domain.APIToken
	err := row.Scan(&t.ID, &t.Name, &t.TokenPrefix, &t.AllowedProviders, &t.ExpiresAt, &t.CreatedAt, &t.LastUsedAt)
	return &t, err
}

func (r *apiTokenRepo) Create(ctx context.Context, t *domain.APIToken) error {
	query, _, err := r.s.goqu.Insert(r.s.tAPITokens).Rows(goqu.Record{
		"id":                t.ID,
		"name":              t.Name,
		"token_hash":        t.TokenHash,
		"token_prefix":      t.TokenPrefix,
		"allowed_providers": t.AllowedProviders,
		"expires_at":        t.ExpiresAt,
		"created_at":        t.CreatedAt,
		"last_used_at":      t.LastUsedAt,
	}).ToSQL()
	if err != nil {
		return fmt.Errorf("build create api_token query: %w", err)
	}
	if _, err := r.s.writeDB.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create api_token %q: %w", t.ID, err)
	}
	return nil
}

func (r *apiTokenRepo) GetByHash(ctx context.Context, hash string) (*domain.APIToken, error) {
	query, _, err := r.s.goqu.From(r.s.tAPITokens).Select(apiTokenColumns...).
		Where(goqu.I("token_hash").Eq(hash)).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build get api_token query: %w", err)
	}

	t, err := scanAPIToken(r.s.db.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get api_token by hash: %w", err)
	}
	return t, nil
}

func (r *apiTokenRepo) List(ctx context.Context) ([]*domain.APIToken, error) {
	query, _, err := r.s.goqu.From(r.s.tAPITokens).Select(apiTokenColumns...).
		Order(goqu.I("created_at").Desc()).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list api_tokens query: %w", err)
	}

	rows, err := r.s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list api_tokens: %w", err)
	}
	defer rows.Close()

	var result []*domain.APIToken
	for rows.Next() {
		t, err := scanAPIToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scan api_token row: %w", err)
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (r *apiTokenRepo) Delete(ctx context.Context, id string) error {
	query, _, err := r.s.goqu.Delete(r.s.tAPITokens).Where(goqu.I("id").Eq(id)).ToSQL()
	if err != nil {
		return fmt.Errorf("build delete api_token query: %w", err)
	}
	if _, err := r.s.writeDB.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("delete api_token %q: %w", id, err)
	}
	return nil
}

func (r *apiTokenRepo) TouchLastUsed(ctx context.Context, id string) error {
	query, _, err := r.s.goqu.Update(r.s.tAPITokens).Set(goqu.Record{"last_used_at": nowTime()}).
		Where(goqu.I("id").Eq(id)).ToSQL()
	if err != nil {
		return fmt.Errorf("build touch api_token query: %w", err)
	}
	if _, err := r.s.writeDB.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("touch api_token %q: %w", id, err)
	}
	return nil
}
