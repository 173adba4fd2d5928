package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/clawde-io/clawd/internal/domain"
	"github.com/doug-martin/goqu/v9"
)

type pairingRepo struct{ s *Storage }

func (r *pairingRepo) CreatePin(ctx context.Context, p *domain.PairPin) error {
	query, _, err := r.s.goqu.Insert(r.s.tPairPins).Rows(goqu.Record{
		"pin":        p.PIN,
		"created_at": p.CreatedAt,
		"expires_at": p.ExpiresAt,
		"used":       p.Used,
	}).ToSQL()
	if err != nil {
		return fmt.Errorf("build create pin query: %w", err)
	}
	if _, err := r.s.writeDB.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create pin: %w", err)
	}
	return nil
}

func (r *pairingRepo) GetPin(ctx context.Context, pin string) (*domain.PairPin, error) {
	query, _, err := r.s.goqu.From(r.s.tPairPins).
		Select("pin", "created_at", "expires_at", "used").
		Where(goqu.I("pin").Eq(pin)).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build get pin query: %w", err)
	}

	var p domain.PairPin
	err = r.s.db.QueryRowContext(ctx, query).Scan(&p.PIN, &p.CreatedAt, &p.ExpiresAt, &p.Used)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get pin: %w", err)
	}
	return &p, nil
}

func (r *pairingRepo) MarkPinUsed(ctx context.Context, pin string) error {
	query, _, err := r.s.goqu.Update(r.s.tPairPins).Set(goqu.Record{"used": true}).
		Where(goqu.I("pin").Eq(pin)).ToSQL()
	if err != nil {
		return fmt.Errorf("build mark pin used query: %w", err)
	}
	res, err := r.s.writeDB.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("mark pin used: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

var deviceColumns = []any{
	"id", "name", "platform", "token_hash", "token_prefix", "revoked", "revoked_at", "created_at", "last_used_at",
}

func scanDevice(row interface{ Scan(...any) error }) (*domain.PairedDevice, error) {
	var d domain.PairedDevice
	err := row.Scan(&d.ID, &d.Name, &d.Platform, &d.TokenHash, &d.TokenPrefix, &d.Revoked, &d.RevokedAt, &d.CreatedAt, &d.LastUsedAt)
	return &d, err
}

func (r *pairingRepo) CreateDevice(ctx context.Context, d *domain.PairedDevice) error {
	query, _, err := r.s.goqu.Insert(r.s.tDevices).Rows(goqu.Record{
		"id":           d.ID,
		"name":         d.Name,
		"platform":     d.Platform,
		"token_hash":   d.TokenHash,
		"token_prefix": d.TokenPrefix,
		"revoked":      d.Revoked,
		"revoked_at":   d.RevokedAt,
		"created_at":   d.CreatedAt,
		"last_used_at": d.LastUsedAt,
	}).ToSQL()
	if err != nil {
		return fmt.Errorf("build create device query: %w", err)
	}
	if _, err := r.s.writeDB.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create device %q: %w", d.ID, err)
	}
	return nil
}

func (r *pairingRepo) GetDeviceByTokenHash(ctx context.Context, hash string) (*domain.PairedDevice, error) {
	query, _, err := r.s.goqu.From(r.s.tDevices).Select(deviceColumns...).
		Where(goqu.I("token_hash").Eq(hash)).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build get device query: %w", err)
	}

	d, err := scanDevice(r.s.db.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get device by hash: %w", err)
	}
	return d, nil
}

func (r *pairingRepo) ListDevices(ctx context.Context) ([]*domain.PairedDevice, error) {
	query, _, err := r.s.goqu.From(r.s.tDevices).Select(deviceColumns...).
		Order(goqu.I("created_at").Desc()).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list devices query: %w", err)
	}

	rows, err := r.s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var result []*domain.PairedDevice
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan device row: %w", err)
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

func (r *pairingRepo) RevokeDevice(ctx context.Context, id string) error {
	query, _, err := r.s.goqu.Update(r.s.tDevices).Set(goqu.Record{
		"revoked":    true,
		"revoked_at": nowTime(),
	}).Where(goqu.I("id").Eq(id)).ToSQL()
	if err != nil {
		return fmt.Errorf("build revoke device query: %w", err)
	}
	res, err := r.s.writeDB.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("revoke device %q: %w", id, err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *pairingRepo) TouchDeviceLastUsed(ctx context.Context, id string) error {
	query, _, err := r.s.goqu.Update(r.s.tDevices).Set(goqu.Record{"last_used_at": nowTime()}).
		Where(goqu.I("id").Eq(id)).ToSQL()
	if err != nil {
		return fmt.Errorf("build touch device query: %w", err)
	}
	if _, err := r.s.writeDB.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("touch device %q: %w", id, err)
	}
	return nil
}
