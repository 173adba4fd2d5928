// Package auth implements the bearer-token gate and PIN pairing flow
// described in spec §4.6: a 256-bit bearer secret written once at
// startup, six-digit PIN codes exchanged for long-lived device tokens,
// and revocable scoped API tokens for non-interactive automation.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/worldline-go/types"

	"github.com/clawde-io/clawd/internal/crypto"
	"github.com/clawde-io/clawd/internal/domain"
)

// ErrUnauthorized is returned by Verify/VerifyDevice/VerifyAPIToken when
// the presented credential does not check out.
var ErrUnauthorized = errors.New("unauthorized")

const (
	pinTTL         = 10 * time.Minute
	pinDigits      = 6
	deviceTokenLen = 16 // 128 bits
	bearerTokenLen = 32 // 256 bits

	bearerFileName = "auth_token"
)

// Authenticator gates IPC connections behind the bearer token and mediates
// PIN pairing and scoped API tokens.
type Authenticator struct {
	storage domain.Storage

	bearerToken string

	// encKey is derived from Config.EncryptionPassphrase when one is set.
	// No method reads it: device and API tokens are protected only by
	// persisting their SHA-256 hash and display prefix, and nothing is
	// AES-encrypted with this key.
	encKey []byte
}

// Config bundles an Authenticator's dependencies.
type Config struct {
	Storage domain.Storage
	DataDir string

	// EncryptionPassphrase, if set, derives encKey via internal/crypto's
	// SHA-256 KDF. Device tokens are hash-compared (never stored in
	// plaintext) either way; the derived key does not encrypt anything.
	EncryptionPassphrase string
}

// New loads (or creates) the bearer token file at dataDir/auth_token and
// returns a ready Authenticator.
func New(ctx context.Context, cfg Config) (*Authenticator, error) {
	token, err := loadOrCreateBearerToken(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("auth: bearer token: %w", err)
	}

	a := &Authenticator{
		storage:     cfg.Storage,
		bearerToken: token,
	}

	if cfg.EncryptionPassphrase != "" {
		key, err := crypto.DeriveKey(cfg.EncryptionPassphrase)
		if err != nil {
			return nil, fmt.Errorf("auth: derive encryption key: %w", err)
		}
		a.encKey = key
	}

	return a, nil
}

// loadOrCreateBearerToken returns the existing 0600 auth_token file's
// contents, or mints and persists a new 256-bit secret if none exists.
func loadOrCreateBearerToken(dataDir string) (string, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	path := filepath.Join(dataDir, bearerFileName)

	if existing, err := os.ReadFile(path); err == nil {
		return trimTrailingNewline(string(existing)), nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("read %s: %w", path, err)
	}

	secret, err := randomToken(bearerTokenLen)
	if err != nil {
		return "", fmt.Errorf("generate bearer secret: %w", err)
	}
	if err := os.WriteFile(path, []byte(secret+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return secret, nil
}

func trimTrailingNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

func randomToken(nBytes int) (string, error) {
	buf := make([]byte, nBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// VerifyBearer compares presented against the daemon's bearer token in
// constant time (spec §4.6: "comparing tokens in constant time"), the one
// deliberate departure from the teacher's own admin-auth comparison
// (internal/server/server.go's adminAuthMiddleware uses a plain ==).
func (a *Authenticator) VerifyBearer(presented string) bool {
	return subtle.ConstantTimeCompare([]byte(a.bearerToken), []byte(presented)) == 1
}

// CreatePin mints a six-digit numeric PIN with a 10-minute expiry
// (daemon.pairPin()).
func (a *Authenticator) CreatePin(ctx context.Context) (*domain.PairPin, error) {
	pin, err := randomDigits(pinDigits)
	if err != nil {
		return nil, fmt.Errorf("auth: generate pin: %w", err)
	}
	now := time.Now().UTC()
	p := &domain.PairPin{
		PIN:       pin,
		CreatedAt: types.NewTime(now),
		ExpiresAt: types.NewTime(now.Add(pinTTL)),
		Used:      false,
	}
	if err := a.storage.Pairing().CreatePin(ctx, p); err != nil {
		return nil, fmt.Errorf("auth: persist pin: %w", err)
	}
	return p, nil
}

func randomDigits(n int) (string, error) {
	out := make([]byte, n)
	for i := range out {
		d, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		out[i] = byte('0') + byte(d.Int64())
	}
	return string(out), nil
}

// PairDevice implements device.pair(pin, name, platform): atomically
// verify the PIN (unexpired, unused), mark it used, mint a 128-bit device
// token, and persist the paired device record under its hash. The raw
// token is returned exactly once; callers must persist it client-side, as
// the daemon never stores or displays it again.
func (a *Authenticator) PairDevice(ctx context.Context, pin, name, platform string) (token string, device *domain.PairedDevice, err error) {
	p, err := a.storage.Pairing().GetPin(ctx, pin)
	if err != nil {
		return "", nil, fmt.Errorf("auth: %w: pin not found", ErrUnauthorized)
	}
	if p.Used {
		return "", nil, fmt.Errorf("auth: %w: pin already used", ErrUnauthorized)
	}
	if time.Now().UTC().After(p.ExpiresAt.Time) {
		return "", nil, fmt.Errorf("auth: %w: pin expired", ErrUnauthorized)
	}

	if err := a.storage.Pairing().MarkPinUsed(ctx, pin); err != nil {
		return "", nil, fmt.Errorf("auth: mark pin used: %w", err)
	}

	raw, err := randomToken(deviceTokenLen)
	if err != nil {
		return "", nil, fmt.Errorf("auth: generate device token: %w", err)
	}

	d := &domain.PairedDevice{
		ID:          ulid.Make().String(),
		Name:        name,
		Platform:    platform,
		TokenHash:   hashToken(raw),
		TokenPrefix: tokenPrefix(raw),
		CreatedAt:   types.NewTime(time.Now().UTC()),
	}
	if err := a.storage.Pairing().CreateDevice(ctx, d); err != nil {
		return "", nil, fmt.Errorf("auth: persist device: %w", err)
	}

	return raw, d, nil
}

func tokenPrefix(token string) string {
	const n = 8
	if len(token) <= n {
		return token
	}
	return token[:n]
}

// VerifyDevice resolves a presented device token to its PairedDevice
// record, rejecting revoked devices, and touches last_used_at on success.
func (a *Authenticator) VerifyDevice(ctx context.Context, presented string) (*domain.PairedDevice, error) {
	hash := hashToken(presented)
	d, err := a.storage.Pairing().GetDeviceByTokenHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("auth: %w", ErrUnauthorized)
	}
	if subtle.ConstantTimeCompare([]byte(d.TokenHash), []byte(hash)) != 1 {
		return nil, fmt.Errorf("auth: %w", ErrUnauthorized)
	}
	if d.Revoked {
		return nil, fmt.Errorf("auth: %w: device revoked", ErrUnauthorized)
	}
	if err := a.storage.Pairing().TouchDeviceLastUsed(ctx, d.ID); err != nil {
		return nil, fmt.Errorf("auth: touch device: %w", err)
	}
	return d, nil
}

// ListDevices implements device.list, which never returns tokens (the
// domain.PairedDevice type already excludes TokenHash from its JSON view).
func (a *Authenticator) ListDevices(ctx context.Context) ([]*domain.PairedDevice, error) {
	return a.storage.Pairing().ListDevices(ctx)
}

// RevokeDevice implements device.revoke(id); subsequent VerifyDevice calls
// with that device's token fail with ErrUnauthorized.
func (a *Authenticator) RevokeDevice(ctx context.Context, id string) error {
	return a.storage.Pairing().RevokeDevice(ctx, id)
}

// CreateAPIToken mints a scoped, non-interactive credential (spec §4.6
// expansion). allowedProviders nil/empty means "all providers".
func (a *Authenticator) CreateAPIToken(ctx context.Context, name string, allowedProviders []string, expiresAt *time.Time) (raw string, tok *domain.APIToken, err error) {
	raw, err = randomToken(deviceTokenLen)
	if err != nil {
		return "", nil, fmt.Errorf("auth: generate api token: %w", err)
	}

	tok = &domain.APIToken{
		ID:               ulid.Make().String(),
		Name:             name,
		TokenHash:        hashToken(raw),
		TokenPrefix:      tokenPrefix(raw),
		AllowedProviders: allowedProviders,
		CreatedAt:        types.NewTime(time.Now().UTC()),
	}
	if expiresAt != nil {
		tok.ExpiresAt = types.NewNull(types.NewTime(expiresAt.UTC()))
	}

	if err := a.storage.APITokens().Create(ctx, tok); err != nil {
		return "", nil, fmt.Errorf("auth: persist api token: %w", err)
	}
	return raw, tok, nil
}

// VerifyAPIToken resolves a presented scoped token, rejecting expired
// tokens, and touches last_used_at on success.
func (a *Authenticator) VerifyAPIToken(ctx context.Context, presented string) (*domain.APIToken, error) {
	tok, err := a.storage.APITokens().GetByHash(ctx, hashToken(presented))
	if err != nil {
		return nil, fmt.Errorf("auth: %w", ErrUnauthorized)
	}
	if tok.ExpiresAt.Valid && time.Now().UTC().After(tok.ExpiresAt.V.Time) {
		return nil, fmt.Errorf("auth: %w: token expired", ErrUnauthorized)
	}
	if err := a.storage.APITokens().TouchLastUsed(ctx, tok.ID); err != nil {
		return nil, fmt.Errorf("auth: touch api token: %w", err)
	}
	return tok, nil
}

// ListAPITokens implements token.list.
func (a *Authenticator) ListAPITokens(ctx context.Context) ([]*domain.APIToken, error) {
	return a.storage.APITokens().List(ctx)
}

// RevokeAPIToken implements token.revoke(id).
func (a *Authenticator) RevokeAPIToken(ctx context.Context, id string) error {
	return a.storage.APITokens().Delete(ctx, id)
}
