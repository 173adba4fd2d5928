package auth

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/clawde-io/clawd/internal/domain"
)

type fakeAuthStorage struct {
	mu      sync.Mutex
	pins    map[string]*domain.PairPin
	devices map[string]*domain.PairedDevice
	tokens  map[string]*domain.APIToken
}

func newFakeAuthStorage() *fakeAuthStorage {
	return &fakeAuthStorage{
		pins:    make(map[string]*domain.PairPin),
		devices: make(map[string]*domain.PairedDevice),
		tokens:  make(map[string]*domain.APIToken),
	}
}

func (f *fakeAuthStorage) Pairing() domain.PairingRepo   { return fakePairingRepo{f} }
func (f *fakeAuthStorage) APITokens() domain.APITokenRepo { return fakeAPITokenRepo{f} }

func (f *fakeAuthStorage) Sessions() domain.SessionRepo       { panic("unused") }
func (f *fakeAuthStorage) Messages() domain.MessageRepo       { panic("unused") }
func (f *fakeAuthStorage) ToolCalls() domain.ToolCallRepo     { panic("unused") }
func (f *fakeAuthStorage) ToolResults() domain.ToolResultFullRepo {
	panic("unused")
}
func (f *fakeAuthStorage) TokenUsage() domain.TokenUsageRepo { panic("unused") }
func (f *fakeAuthStorage) Worktrees() domain.WorktreeRepo    { panic("unused") }
func (f *fakeAuthStorage) ContextSnapshots() domain.ContextSnapshotRepo {
	panic("unused")
}
func (f *fakeAuthStorage) ResourceMetrics() domain.ResourceMetricRepo { panic("unused") }
func (f *fakeAuthStorage) DeadLetters() domain.DeadLetterRepo         { panic("unused") }
func (f *fakeAuthStorage) NotificationChannels() domain.NotificationChannelRepo {
	panic("unused")
}
func (f *fakeAuthStorage) Search(context.Context, string, int, domain.SearchFilter) ([]domain.SearchHit, error) {
	panic("unused")
}
func (f *fakeAuthStorage) Checkpoint(context.Context) error { panic("unused") }
func (f *fakeAuthStorage) Close() error                     { panic("unused") }

var _ domain.Storage = (*fakeAuthStorage)(nil)

type fakePairingRepo struct{ f *fakeAuthStorage }

func (r fakePairingRepo) CreatePin(_ context.Context, p *domain.PairPin) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	cp := *p
	r.f.pins[p.PIN] = &cp
	return nil
}
func (r fakePairingRepo) GetPin(_ context.Context, pin string) (*domain.PairPin, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	p, ok := r.f.pins[pin]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}
func (r fakePairingRepo) MarkPinUsed(_ context.Context, pin string) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	p, ok := r.f.pins[pin]
	if !ok {
		return domain.ErrNotFound
	}
	p.Used = true
	return nil
}
func (r fakePairingRepo) CreateDevice(_ context.Context, d *domain.PairedDevice) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	cp := *d
	r.f.devices[d.ID] = &cp
	return nil
}
func (r fakePairingRepo) GetDeviceByTokenHash(_ context.Context, hash string) (*domain.PairedDevice, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	for _, d := range r.f.devices {
		if d.TokenHash == hash {
			cp := *d
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}
func (r fakePairingRepo) ListDevices(_ context.Context) ([]*domain.PairedDevice, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var out []*domain.PairedDevice
	for _, d := range r.f.devices {
		cp := *d
		out = append(out, &cp)
	}
	return out, nil
}
func (r fakePairingRepo) RevokeDevice(_ context.Context, id string) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	d, ok := r.f.devices[id]
	if !ok {
		return domain.ErrNotFound
	}
	d.Revoked = true
	return nil
}
func (r fakePairingRepo) TouchDeviceLastUsed(_ context.Context, id string) error { return nil }

type fakeAPITokenRepo struct{ f *fakeAuthStorage }

func (r fakeAPITokenRepo) Create(_ context.Context, t *domain.APIToken) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	cp := *t
	r.f.tokens[t.ID] = &cp
	return nil
}
func (r fakeAPITokenRepo) GetByHash(_ context.Context, hash string) (*domain.APIToken, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	for _, t := range r.f.tokens {
		if t.TokenHash == hash {
			cp := *t
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}
func (r fakeAPITokenRepo) List(_ context.Context) ([]*domain.APIToken, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var out []*domain.APIToken
	for _, t := range r.f.tokens {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}
func (r fakeAPITokenRepo) Delete(_ context.Context, id string) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	delete(r.f.tokens, id)
	return nil
}
func (r fakeAPITokenRepo) TouchLastUsed(_ context.Context, id string) error { return nil }

func newTestAuthenticator(t *testing.T) *Authenticator {
	t.Helper()
	a, err := New(context.Background(), Config{
		Storage: newFakeAuthStorage(),
		DataDir: t.TempDir(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestBearerTokenPersistsAcrossRestarts(t *testing.T) {
	dataDir := t.TempDir()
	storage := newFakeAuthStorage()

	a1, err := New(context.Background(), Config{Storage: storage, DataDir: dataDir})
	if err != nil {
		t.Fatal(err)
	}
	a2, err := New(context.Background(), Config{Storage: storage, DataDir: dataDir})
	if err != nil {
		t.Fatal(err)
	}
	if a1.bearerToken != a2.bearerToken {
		t.Fatal("expected bearer token to persist across restarts")
	}

	info, err := os.Stat(filepath.Join(dataDir, bearerFileName))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected auth_token to be 0600, got %o", info.Mode().Perm())
	}
}

func TestVerifyBearerRejectsWrongToken(t *testing.T) {
	a := newTestAuthenticator(t)
	if a.VerifyBearer("wrong") {
		t.Fatal("expected wrong bearer token to be rejected")
	}
	if !a.VerifyBearer(a.bearerToken) {
		t.Fatal("expected correct bearer token to be accepted")
	}
}

func TestPairDeviceHappyPath(t *testing.T) {
	a := newTestAuthenticator(t)
	ctx := context.Background()

	pin, err := a.CreatePin(ctx)
	if err != nil {
		t.Fatal(err)
	}

	token, device, err := a.PairDevice(ctx, pin.PIN, "laptop", "macos")
	if err != nil {
		t.Fatalf("pair device: %v", err)
	}
	if device.TokenHash == token {
		t.Fatal("expected token to be hashed before storage")
	}

	got, err := a.VerifyDevice(ctx, token)
	if err != nil {
		t.Fatalf("verify device: %v", err)
	}
	if got.ID != device.ID {
		t.Fatal("verified device id mismatch")
	}
}

func TestPairDeviceRejectsReusedPin(t *testing.T) {
	a := newTestAuthenticator(t)
	ctx := context.Background()

	pin, err := a.CreatePin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := a.PairDevice(ctx, pin.PIN, "laptop", "macos"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := a.PairDevice(ctx, pin.PIN, "phone", "ios"); err == nil {
		t.Fatal("expected reused pin to be rejected")
	}
}

func TestRevokedDeviceFailsVerification(t *testing.T) {
	a := newTestAuthenticator(t)
	ctx := context.Background()

	pin, err := a.CreatePin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	token, device, err := a.PairDevice(ctx, pin.PIN, "laptop", "macos")
	if err != nil {
		t.Fatal(err)
	}
	if err := a.RevokeDevice(ctx, device.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := a.VerifyDevice(ctx, token); err == nil {
		t.Fatal("expected revoked device to fail verification")
	}
}

func TestAPITokenExpiry(t *testing.T) {
	a := newTestAuthenticator(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	raw, _, err := a.CreateAPIToken(ctx, "ci", nil, &past)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.VerifyAPIToken(ctx, raw); err == nil {
		t.Fatal("expected expired api token to fail verification")
	}
}
