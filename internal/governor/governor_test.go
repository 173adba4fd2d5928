package governor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/worldline-go/types"

	"github.com/clawde-io/clawd/internal/domain"
	"github.com/clawde-io/clawd/internal/provider"
	"github.com/clawde-io/clawd/internal/session"
)

// fakeStorage is an in-memory domain.Storage for governor tests, grounded
// on internal/session/storetest_test.go's fakeStorage: only the
// repositories the governor touches (sessions, messages, worktrees,
// context snapshots, resource metrics) keep real state.
type fakeStorage struct {
	mu        sync.Mutex
	sessions  map[string]*domain.Session
	messages  map[string]*domain.Message
	worktrees map[string]*domain.Worktree
	snapshots map[string][]*domain.ContextSnapshot
	metrics   []*domain.ResourceMetric
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		sessions:  make(map[string]*domain.Session),
		messages:  make(map[string]*domain.Message),
		worktrees: make(map[string]*domain.Worktree),
		snapshots: make(map[string][]*domain.ContextSnapshot),
	}
}

func (f *fakeStorage) Sessions() domain.SessionRepo               { return fakeSessionRepo{f} }
func (f *fakeStorage) Messages() domain.MessageRepo               { return fakeMessageRepo{f} }
func (f *fakeStorage) ToolCalls() domain.ToolCallRepo              { return stubToolCallRepo{} }
func (f *fakeStorage) ToolResults() domain.ToolResultFullRepo      { return stubToolResultRepo{} }
func (f *fakeStorage) TokenUsage() domain.TokenUsageRepo           { return stubTokenUsageRepo{} }
func (f *fakeStorage) Worktrees() domain.WorktreeRepo              { return fakeWorktreeRepo{f} }
func (f *fakeStorage) ContextSnapshots() domain.ContextSnapshotRepo { return fakeSnapshotRepo{f} }
func (f *fakeStorage) ResourceMetrics() domain.ResourceMetricRepo  { return fakeMetricRepo{f} }
func (f *fakeStorage) Pairing() domain.PairingRepo                 { return stubPairingRepo{} }
func (f *fakeStorage) DeadLetters() domain.DeadLetterRepo          { return stubDeadLetterRepo{} }
func (f *fakeStorage) APITokens() domain.APITokenRepo              { return stubAPITokenRepo{} }
func (f *fakeStorage) NotificationChannels() domain.NotificationChannelRepo {
	return stubNotificationChannelRepo{}
}

func (f *fakeStorage) Search(context.Context, string, int, domain.SearchFilter) ([]domain.SearchHit, error) {
	return nil, nil
}
func (f *fakeStorage) Checkpoint(context.Context) error { return nil }
func (f *fakeStorage) Close() error                     { return nil }

type fakeSessionRepo struct{ f *fakeStorage }

func (r fakeSessionRepo) Create(_ context.Context, s *domain.Session) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	cp := *s
	r.f.sessions[s.ID] = &cp
	return nil
}
func (r fakeSessionRepo) Update(_ context.Context, s *domain.Session) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	cp := *s
	r.f.sessions[s.ID] = &cp
	return nil
}
func (r fakeSessionRepo) Get(_ context.Context, id string) (*domain.Session, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	s, ok := r.f.sessions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *s
	return &cp, nil
}
func (r fakeSessionRepo) List(_ context.Context, _ domain.SessionFilter, _ domain.Pagination) ([]*domain.Session, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	out := make([]*domain.Session, 0, len(r.f.sessions))
	for _, s := range r.f.sessions {
		cp := *s
		out = append(out, &cp)
	}
	return out, nil
}
func (r fakeSessionRepo) Delete(_ context.Context, id string) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	delete(r.f.sessions, id)
	return nil
}
func (r fakeSessionRepo) Touch(_ context.Context, id string, status *domain.SessionStatus, tier *domain.SessionTier) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	s, ok := r.f.sessions[id]
	if !ok {
		return domain.ErrNotFound
	}
	if status != nil {
		s.Status = *status
	}
	if tier != nil {
		s.Tier = *tier
	}
	return nil
}

type fakeMessageRepo struct{ f *fakeStorage }

func (r fakeMessageRepo) Create(_ context.Context, m *domain.Message) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	cp := *m
	r.f.messages[m.ID] = &cp
	return nil
}
func (r fakeMessageRepo) Update(_ context.Context, m *domain.Message) error { return nil }
func (r fakeMessageRepo) Get(_ context.Context, id string) (*domain.Message, error) {
	return nil, domain.ErrNotFound
}
func (r fakeMessageRepo) List(_ context.Context, filter domain.MessageFilter, _ domain.Pagination) ([]*domain.Message, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var out []*domain.Message
	for _, m := range r.f.messages {
		if m.SessionID == filter.SessionID {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}
func (r fakeMessageRepo) Delete(_ context.Context, id string) error { return nil }

type fakeWorktreeRepo struct{ f *fakeStorage }

func (r fakeWorktreeRepo) Create(_ context.Context, w *domain.Worktree) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	cp := *w
	r.f.worktrees[w.TaskID] = &cp
	return nil
}
func (r fakeWorktreeRepo) Update(_ context.Context, w *domain.Worktree) error { return nil }
func (r fakeWorktreeRepo) Get(_ context.Context, taskID string) (*domain.Worktree, error) {
	return nil, domain.ErrNotFound
}
func (r fakeWorktreeRepo) List(_ context.Context, repoPath *string) ([]*domain.Worktree, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var out []*domain.Worktree
	for _, w := range r.f.worktrees {
		if repoPath != nil && w.RepoPath != *repoPath {
			continue
		}
		cp := *w
		out = append(out, &cp)
	}
	return out, nil
}
func (r fakeWorktreeRepo) Delete(_ context.Context, taskID string) error { return nil }

type fakeSnapshotRepo struct{ f *fakeStorage }

func (r fakeSnapshotRepo) Create(_ context.Context, c *domain.ContextSnapshot) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	cp := *c
	r.f.snapshots[c.SessionID] = append(r.f.snapshots[c.SessionID], &cp)
	return nil
}
func (r fakeSnapshotRepo) LatestForSession(_ context.Context, sessionID string) (*domain.ContextSnapshot, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	list := r.f.snapshots[sessionID]
	if len(list) == 0 {
		return nil, domain.ErrNotFound
	}
	return list[len(list)-1], nil
}
func (r fakeSnapshotRepo) ListForSession(_ context.Context, sessionID string) ([]*domain.ContextSnapshot, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	return r.f.snapshots[sessionID], nil
}

type fakeMetricRepo struct{ f *fakeStorage }

func (r fakeMetricRepo) Create(_ context.Context, m *domain.ResourceMetric) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	r.f.metrics = append(r.f.metrics, m)
	return nil
}
func (r fakeMetricRepo) Recent(context.Context, int64) ([]*domain.ResourceMetric, error) {
	return nil, nil
}
func (r fakeMetricRepo) Prune(context.Context) error { return nil }

type stubToolCallRepo struct{}

func (stubToolCallRepo) Create(context.Context, *domain.ToolCall) error { return nil }
func (stubToolCallRepo) Update(context.Context, *domain.ToolCall) error { return nil }
func (stubToolCallRepo) Get(context.Context, string) (*domain.ToolCall, error) {
	return nil, domain.ErrNotFound
}
func (stubToolCallRepo) List(context.Context, domain.ToolCallFilter, domain.Pagination) ([]*domain.ToolCall, error) {
	return nil, nil
}

type stubToolResultRepo struct{}

func (stubToolResultRepo) Put(context.Context, *domain.ToolResultFull) error { return nil }
func (stubToolResultRepo) Get(context.Context, string) (*domain.ToolResultFull, error) {
	return nil, domain.ErrNotFound
}

type stubTokenUsageRepo struct{}

func (stubTokenUsageRepo) Create(context.Context, *domain.TokenUsage) error { return nil }
func (stubTokenUsageRepo) ListBySession(context.Context, string) ([]*domain.TokenUsage, error) {
	return nil, nil
}

type stubPairingRepo struct{}

func (stubPairingRepo) CreatePin(context.Context, *domain.PairPin) error { return nil }
func (stubPairingRepo) GetPin(context.Context, string) (*domain.PairPin, error) {
	return nil, domain.ErrNotFound
}
func (stubPairingRepo) MarkPinUsed(context.Context, string) error               { return nil }
func (stubPairingRepo) CreateDevice(context.Context, *domain.PairedDevice) error { return nil }
func (stubPairingRepo) GetDeviceByTokenHash(context.Context, string) (*domain.PairedDevice, error) {
	return nil, domain.ErrNotFound
}
func (stubPairingRepo) ListDevices(context.Context) ([]*domain.PairedDevice, error) { return nil, nil }
func (stubPairingRepo) RevokeDevice(context.Context, string) error                  { return nil }
func (stubPairingRepo) TouchDeviceLastUsed(context.Context, string) error           { return nil }

type stubDeadLetterRepo struct{}

func (stubDeadLetterRepo) Create(context.Context, *domain.DeadLetterEvent) error { return nil }
func (stubDeadLetterRepo) ListPending(context.Context, int) ([]*domain.DeadLetterEvent, error) {
	return nil, nil
}
func (stubDeadLetterRepo) ListAll(context.Context, *string, domain.Pagination) ([]*domain.DeadLetterEvent, error) {
	return nil, nil
}
func (stubDeadLetterRepo) Update(context.Context, *domain.DeadLetterEvent) error { return nil }
func (stubDeadLetterRepo) Delete(context.Context, string) error                 { return nil }

type stubAPITokenRepo struct{}

func (stubAPITokenRepo) Create(context.Context, *domain.APIToken) error { return nil }
func (stubAPITokenRepo) GetByHash(context.Context, string) (*domain.APIToken, error) {
	return nil, domain.ErrNotFound
}
func (stubAPITokenRepo) List(context.Context) ([]*domain.APIToken, error) { return nil, nil }
func (stubAPITokenRepo) Delete(context.Context, string) error             { return nil }
func (stubAPITokenRepo) TouchLastUsed(context.Context, string) error      { return nil }

type stubNotificationChannelRepo struct{}

func (stubNotificationChannelRepo) Create(context.Context, *domain.NotificationChannel) error {
	return nil
}
func (stubNotificationChannelRepo) Update(context.Context, *domain.NotificationChannel) error {
	return nil
}
func (stubNotificationChannelRepo) List(context.Context) ([]*domain.NotificationChannel, error) {
	return nil, nil
}
func (stubNotificationChannelRepo) Delete(context.Context, string) error { return nil }

var _ domain.Storage = (*fakeStorage)(nil)

func newTestGovernor(storage *fakeStorage) (*Governor, *session.Manager) {
	mgr := session.New(session.Config{
		Storage:   storage,
		Providers: provider.NewRegistry(),
		Router:    provider.HeuristicRouter{},
	})
	g := New(Config{
		Storage:          storage,
		Sessions:         mgr,
		IdleToWarmSecs:   60,
		WarmToColdSecs:   120,
		PollIntervalSecs: 1,
	})
	return g, mgr
}

func makeSession(id string, tier domain.SessionTier, idleFor time.Duration) *domain.Session {
	now := time.Now().UTC()
	return &domain.Session{
		ID:             id,
		RepoPath:       "/repo",
		Provider:       "claude",
		Status:         domain.SessionIdle,
		Tier:           tier,
		CreatedAt:      types.NewTime(now),
		UpdatedAt:      types.NewTime(now),
		LastActivityAt: types.NewTime(now.Add(-idleFor)),
	}
}

func TestTickDemotesIdleActiveToWarm(t *testing.T) {
	storage := newFakeStorage()
	g, _ := newTestGovernor(storage)

	ctx := context.Background()
	s := makeSession("s1", domain.TierActive, 5*time.Minute)
	if err := storage.Sessions().Create(ctx, s); err != nil {
		t.Fatal(err)
	}

	if err := g.tick(ctx); err != nil {
		t.Fatal(err)
	}

	got, err := storage.Sessions().Get(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Tier != domain.TierWarm {
		t.Fatalf("expected tier warm, got %s", got.Tier)
	}
}

func TestTickDemotesIdleWarmToColdWithSnapshot(t *testing.T) {
	storage := newFakeStorage()
	g, _ := newTestGovernor(storage)

	ctx := context.Background()
	s := makeSession("s2", domain.TierWarm, 10*time.Minute)
	if err := storage.Sessions().Create(ctx, s); err != nil {
		t.Fatal(err)
	}

	if err := g.tick(ctx); err != nil {
		t.Fatal(err)
	}

	got, err := storage.Sessions().Get(ctx, "s2")
	if err != nil {
		t.Fatal(err)
	}
	if got.Tier != domain.TierCold {
		t.Fatalf("expected tier cold, got %s", got.Tier)
	}

	snap, err := storage.ContextSnapshots().LatestForSession(ctx, "s2")
	if err != nil {
		t.Fatalf("expected a context snapshot, got error: %v", err)
	}
	if snap.SnapshotType != domain.SnapshotSummary {
		t.Fatalf("expected summary snapshot, got %s", snap.SnapshotType)
	}
}

func TestTickLeavesFreshSessionsAlone(t *testing.T) {
	storage := newFakeStorage()
	g, _ := newTestGovernor(storage)

	ctx := context.Background()
	s := makeSession("s3", domain.TierActive, 1*time.Second)
	if err := storage.Sessions().Create(ctx, s); err != nil {
		t.Fatal(err)
	}

	if err := g.tick(ctx); err != nil {
		t.Fatal(err)
	}

	got, err := storage.Sessions().Get(ctx, "s3")
	if err != nil {
		t.Fatal(err)
	}
	if got.Tier != domain.TierActive {
		t.Fatalf("expected tier to remain active, got %s", got.Tier)
	}
}

func TestTickRecordsResourceMetric(t *testing.T) {
	storage := newFakeStorage()
	g, _ := newTestGovernor(storage)

	if err := g.tick(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(storage.metrics) != 1 {
		t.Fatalf("expected one resource metric recorded, got %d", len(storage.metrics))
	}
}
