package session

import (
	"context"
	"sync"

	"github.com/clawde-io/clawd/internal/domain"
)

// fakeStorage is an in-memory domain.Storage for session package tests,
// grounded on the teacher's internal/store/memory/memory.go in-memory
// Storer implementation. Only the repositories the session package
// actually touches (sessions, messages, tool calls, tool results, token
// usage, worktrees) keep real state; the rest are unused stubs required to
// satisfy the Storage interface.
type fakeStorage struct {
	mu         sync.Mutex
	sessions   map[string]*domain.Session
	messages   map[string]*domain.Message
	toolCalls  map[string]*domain.ToolCall
	results    map[string]*domain.ToolResultFull
	usage      []*domain.TokenUsage
	worktrees  map[string]*domain.Worktree
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		sessions:  make(map[string]*domain.Session),
		messages:  make(map[string]*domain.Message),
		toolCalls: make(map[string]*domain.ToolCall),
		results:   make(map[string]*domain.ToolResultFull),
		worktrees: make(map[string]*domain.Worktree),
	}
}

func (f *fakeStorage) Sessions() domain.SessionRepo               { return fakeSessionRepo{f} }
func (f *fakeStorage) Messages() domain.MessageRepo               { return fakeMessageRepo{f} }
func (f *fakeStorage) ToolCalls() domain.ToolCallRepo              { return fakeToolCallRepo{f} }
func (f *fakeStorage) ToolResults() domain.ToolResultFullRepo      { return fakeToolResultRepo{f} }
func (f *fakeStorage) TokenUsage() domain.TokenUsageRepo           { return fakeTokenUsageRepo{f} }
func (f *fakeStorage) Worktrees() domain.WorktreeRepo              { return fakeWorktreeRepo{f} }
func (f *fakeStorage) ContextSnapshots() domain.ContextSnapshotRepo { return stubContextSnapshotRepo{} }
func (f *fakeStorage) ResourceMetrics() domain.ResourceMetricRepo  { return stubResourceMetricRepo{} }
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
	if _, ok := r.f.sessions[s.ID]; !ok {
		return domain.ErrNotFound
	}
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

func (r fakeMessageRepo) Update(_ context.Context, m *domain.Message) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if _, ok := r.f.messages[m.ID]; !ok {
		return domain.ErrNotFound
	}
	cp := *m
	r.f.messages[m.ID] = &cp
	return nil
}

func (r fakeMessageRepo) Get(_ context.Context, id string) (*domain.Message, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	m, ok := r.f.messages[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (r fakeMessageRepo) List(_ context.Context, filter domain.MessageFilter, _ domain.Pagination) ([]*domain.Message, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var out []*domain.Message
	for _, m := range r.f.messages {
		if m.SessionID != filter.SessionID {
			continue
		}
		if filter.Role != nil && m.Role != *filter.Role {
			continue
		}
		cp := *m
		out = append(out, &cp)
	}
	return out, nil
}

func (r fakeMessageRepo) Delete(_ context.Context, id string) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	delete(r.f.messages, id)
	return nil
}

type fakeToolCallRepo struct{ f *fakeStorage }

func (r fakeToolCallRepo) Create(_ context.Context, t *domain.ToolCall) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	cp := *t
	r.f.toolCalls[t.ID] = &cp
	return nil
}

func (r fakeToolCallRepo) Update(_ context.Context, t *domain.ToolCall) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if _, ok := r.f.toolCalls[t.ID]; !ok {
		return domain.ErrNotFound
	}
	cp := *t
	r.f.toolCalls[t.ID] = &cp
	return nil
}

func (r fakeToolCallRepo) Get(_ context.Context, id string) (*domain.ToolCall, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	t, ok := r.f.toolCalls[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (r fakeToolCallRepo) List(_ context.Context, filter domain.ToolCallFilter, _ domain.Pagination) ([]*domain.ToolCall, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var out []*domain.ToolCall
	for _, t := range r.f.toolCalls {
		if filter.SessionID != nil && t.SessionID != *filter.SessionID {
			continue
		}
		if filter.MessageID != nil && t.MessageID != *filter.MessageID {
			continue
		}
		if filter.Status != nil && t.Status != *filter.Status {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

type fakeToolResultRepo struct{ f *fakeStorage }

func (r fakeToolResultRepo) Put(_ context.Context, res *domain.ToolResultFull) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	cp := *res
	r.f.results[res.ToolCallID] = &cp
	return nil
}

func (r fakeToolResultRepo) Get(_ context.Context, toolCallID string) (*domain.ToolResultFull, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	res, ok := r.f.results[toolCallID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *res
	return &cp, nil
}

type fakeTokenUsageRepo struct{ f *fakeStorage }

func (r fakeTokenUsageRepo) Create(_ context.Context, u *domain.TokenUsage) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	cp := *u
	r.f.usage = append(r.f.usage, &cp)
	return nil
}

func (r fakeTokenUsageRepo) ListBySession(_ context.Context, sessionID string) ([]*domain.TokenUsage, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var out []*domain.TokenUsage
	for _, u := range r.f.usage {
		if u.SessionID == sessionID {
			out = append(out, u)
		}
	}
	return out, nil
}

type fakeWorktreeRepo struct{ f *fakeStorage }

func (r fakeWorktreeRepo) Create(_ context.Context, w *domain.Worktree) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	cp := *w
	r.f.worktrees[w.TaskID] = &cp
	return nil
}
func (r fakeWorktreeRepo) Update(_ context.Context, w *domain.Worktree) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	cp := *w
	r.f.worktrees[w.TaskID] = &cp
	return nil
}
func (r fakeWorktreeRepo) Get(_ context.Context, taskID string) (*domain.Worktree, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	w, ok := r.f.worktrees[taskID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *w
	return &cp, nil
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
func (r fakeWorktreeRepo) Delete(_ context.Context, taskID string) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	delete(r.f.worktrees, taskID)
	return nil
}

// stub* repos satisfy the remainder of domain.Storage with no-op behavior;
// nothing in the session package exercises them.
type stubContextSnapshotRepo struct{}

func (stubContextSnapshotRepo) Create(context.Context, *domain.ContextSnapshot) error { return nil }
func (stubContextSnapshotRepo) LatestForSession(context.Context, string) (*domain.ContextSnapshot, error) {
	return nil, domain.ErrNotFound
}
func (stubContextSnapshotRepo) ListForSession(context.Context, string) ([]*domain.ContextSnapshot, error) {
	return nil, nil
}

type stubResourceMetricRepo struct{}

func (stubResourceMetricRepo) Create(context.Context, *domain.ResourceMetric) error { return nil }
func (stubResourceMetricRepo) Recent(context.Context, int64) ([]*domain.ResourceMetric, error) {
	return nil, nil
}
func (stubResourceMetricRepo) Prune(context.Context) error { return nil }

type stubPairingRepo struct{}

func (stubPairingRepo) CreatePin(context.Context, *domain.PairPin) error { return nil }
func (stubPairingRepo) GetPin(context.Context, string) (*domain.PairPin, error) {
	return nil, domain.ErrNotFound
}
func (stubPairingRepo) MarkPinUsed(context.Context, string) error          { return nil }
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
