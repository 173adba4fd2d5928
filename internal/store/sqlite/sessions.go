package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/clawde-io/clawd/internal/domain"
	"github.com/doug-martin/goqu/v9"
)

type sessionRepo struct{ s *Storage }

var sessionColumns = []any{
	"id", "repo_path", "provider", "title", "status", "tier", "mode",
	"model_override", "routed_provider", "prompt_cache_key", "inherit_from",
	"message_count", "previous_response_id", "created_at", "updated_at", "last_activity_at",
}

func scanSession(row interface{ Scan(...any) error }) (*domain.Session, error) {
	var sess domain.Session
	err := row.Scan(
		&sess.ID, &sess.RepoPath, &sess.Provider, &sess.Title, &sess.Status, &sess.Tier, &sess.Mode,
		&sess.ModelOverride, &sess.RoutedProvider, &sess.PromptCacheKey, &sess.InheritFrom,
		&sess.MessageCount, &sess.PreviousRespID, &sess.CreatedAt, &sess.UpdatedAt, &sess.LastActivityAt,
	)
	return &sess, err
}

func (r *sessionRepo) Create(ctx context.Context, s *domain.Session) error {
	query, _, err := r.s.goqu.Insert(r.s.tSessions).Rows(goqu.Record{
		"id":                    s.ID,
		"repo_path":             s.RepoPath,
		"provider":              s.Provider,
		"title":                 s.Title,
		"status":                s.Status,
		"tier":                  s.Tier,
		"mode":                  s.Mode,
		"model_override":        s.ModelOverride,
		"routed_provider":       s.RoutedProvider,
		"prompt_cache_key":      s.PromptCacheKey,
		"inherit_from":          s.InheritFrom,
		"message_count":         s.MessageCount,
		"previous_response_id":  s.PreviousRespID,
		"created_at":            s.CreatedAt,
		"updated_at":            s.UpdatedAt,
		"last_activity_at":      s.LastActivityAt,
	}).ToSQL()
	if err != nil {
		return fmt.Errorf("build create session query: %w", err)
	}

	if _, err := r.s.writeDB.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create session %q: %w", s.ID, err)
	}
	return nil
}

func (r *sessionRepo) Update(ctx context.Context, s *domain.Session) error {
	query, _, err := r.s.goqu.Update(r.s.tSessions).Set(goqu.Record{
		"title":                 s.Title,
		"status":                s.Status,
		"tier":                  s.Tier,
		"mode":                  s.Mode,
		"model_override":        s.ModelOverride,
		"routed_provider":       s.RoutedProvider,
		"prompt_cache_key":      s.PromptCacheKey,
		"message_count":         s.MessageCount,
		"previous_response_id":  s.PreviousRespID,
		"updated_at":            s.UpdatedAt,
		"last_activity_at":      s.LastActivityAt,
	}).Where(goqu.I("id").Eq(s.ID)).ToSQL()
	if err != nil {
		return fmt.Errorf("build update session query: %w", err)
	}

	res, err := r.s.writeDB.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("update session %q: %w", s.ID, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *sessionRepo) Get(ctx context.Context, id string) (*domain.Session, error) {
	query, _, err := r.s.goqu.From(r.s.tSessions).
		Select(sessionColumns...).
		Where(goqu.I("id").Eq(id)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build get session query: %w", err)
	}

	sess, err := scanSession(r.s.db.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session %q: %w", id, err)
	}
	return sess, nil
}

func (r *sessionRepo) List(ctx context.Context, filter domain.SessionFilter, page domain.Pagination) ([]*domain.Session, error) {
	ds := r.s.goqu.From(r.s.tSessions).Select(sessionColumns...)

	if filter.Status != nil {
		ds = ds.Where(goqu.I("status").Eq(*filter.Status))
	}
	if filter.Provider != nil {
		ds = ds.Where(goqu.I("provider").Eq(*filter.Provider))
	}
	if filter.RepoPath != nil {
		ds = ds.Where(goqu.I("repo_path").Eq(*filter.RepoPath))
	}
	if filter.Tier != nil {
		ds = ds.Where(goqu.I("tier").Eq(*filter.Tier))
	}

	ds = applyPagination(ds, page, "last_activity_at")

	query, _, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list sessions query: %w", err)
	}

	rows, err := r.s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var result []*domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		result = append(result, sess)
	}
	return result, rows.Err()
}

func (r *sessionRepo) Delete(ctx context.Context, id string) error {
	query, _, err := r.s.goqu.Delete(r.s.tSessions).Where(goqu.I("id").Eq(id)).ToSQL()
	if err != nil {
		return fmt.Errorf("build delete session query: %w", err)
	}
	if _, err := r.s.writeDB.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("delete session %q: %w", id, err)
	}
	return nil
}

func (r *sessionRepo) Touch(ctx context.Context, id string, status *domain.SessionStatus, tier *domain.SessionTier) error {
	record := goqu.Record{"last_activity_at": nowTime()}
	if status != nil {
		record["status"] = *status
	}
	if tier != nil {
		record["tier"] = *tier
	}

	query, _, err := r.s.goqu.Update(r.s.tSessions).Set(record).Where(goqu.I("id").Eq(id)).ToSQL()
	if err != nil {
		return fmt.Errorf("build touch session query: %w", err)
	}

	res, err := r.s.writeDB.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("touch session %q: %w", id, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
