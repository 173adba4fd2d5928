// Package session owns session-level operations: create/list/get/delete,
// driving a provider turn from user message to completion, pause/resume/
// cancel, mode and model overrides, and tool-call approval. One actor
// goroutine owns each session's mutable state; the Manager is the
// goroutine-safe front door client code calls.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/worldline-go/types"

	"github.com/clawde-io/clawd/internal/domain"
	"github.com/clawde-io/clawd/internal/provider"
)

// Publisher fans a session-scoped event out to connected clients (satisfied
// structurally by internal/eventbus.Bus; defined here so this package does
// not have to import it).
type Publisher interface {
	Publish(sessionID, eventType string, payload any)
}

// noopPublisher discards events, used when a Manager is built without a bus
// (tests, the doctor extension's dry-run helpers).
type noopPublisher struct{}

func (noopPublisher) Publish(string, string, any) {}

// Config bundles a Manager's dependencies.
type Config struct {
	Storage   domain.Storage
	Providers *provider.Registry
	Router    provider.Router
	Publisher Publisher

	// ApprovalTimeout bounds how long an approvable tool call waits for
	// tool.approve/tool.reject before failing with approval_timeout.
	// Zero uses the 5-minute default (spec §4.3).
	ApprovalTimeout time.Duration

	SystemPrompt SystemPromptBlocks
}

// Manager is the public, goroutine-safe entry point for session operations.
type Manager struct {
	storage         domain.Storage
	providers       *provider.Registry
	router          provider.Router
	pub             Publisher
	approvalTimeout time.Duration
	systemPrompt    SystemPromptBlocks

	reg *registry
}

// New builds a Manager. It does not load any existing sessions eagerly;
// actors are created lazily on first access (Get/SendMessage/...) and
// evicted by the Resource Governor, mirroring the Active/Warm/Cold model
// of spec §4.4.
func New(cfg Config) *Manager {
	pub := cfg.Publisher
	if pub == nil {
		pub = noopPublisher{}
	}

	timeout := cfg.ApprovalTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	return &Manager{
		storage:         cfg.Storage,
		providers:       cfg.Providers,
		router:          cfg.Router,
		pub:             pub,
		approvalTimeout: timeout,
		systemPrompt:    cfg.SystemPrompt,
		reg:             newRegistry(),
	}
}

// CreateInput is the decoded daemon.create RPC payload.
type CreateInput struct {
	Provider      string
	RepoPath      string
	Title         string
	Mode          domain.SessionMode
	InheritFrom   string
	ModelOverride string
}

// Create validates the repo, resolves a provider, persists the session row,
// and — if InheritFrom is set — synthesises and writes a context primer as
// the session's first system message (spec §4.3).
func (m *Manager) Create(ctx context.Context, in CreateInput) (*domain.Session, error) {
	if !isGitRepo(in.RepoPath) {
		return nil, ErrRepoNotFound
	}

	providerName := in.Provider
	var routed string
	if providerName == "" {
		names := m.providers.Names()
		if len(names) == 0 {
			return nil, ErrProviderNotFound
		}
		providerName = m.router.Route(provider.RoutingInput{RepoPath: in.RepoPath, Providers: names})
		routed = providerName
	}
	if _, ok := m.providers.Get(providerName); !ok {
		return nil, ErrProviderNotFound
	}

	now := types.NewTime(time.Now().UTC())
	s := &domain.Session{
		ID:             ulid.Make().String(),
		RepoPath:       in.RepoPath,
		Provider:       providerName,
		Title:          in.Title,
		Status:         domain.SessionIdle,
		Tier:           domain.TierActive,
		Mode:           in.Mode,
		CreatedAt:      now,
		UpdatedAt:      now,
		LastActivityAt: now,
	}
	if s.Mode == "" {
		s.Mode = domain.ModeNormal
	}
	if routed != "" {
		s.RoutedProvider = types.NewNull(routed)
	}
	if in.ModelOverride != "" {
		s.ModelOverride = types.NewNull(in.ModelOverride)
	}
	if in.InheritFrom != "" {
		s.InheritFrom = types.NewNull(in.InheritFrom)
	}

	if err := m.storage.Sessions().Create(ctx, s); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	if in.InheritFrom != "" {
		primer, err := m.buildPrimer(ctx, in.InheritFrom)
		if err != nil {
			slog.Warn("session: primer synthesis failed, continuing without it", "session", s.ID, "inherit_from", in.InheritFrom, "error", err)
		} else if primer != "" {
			msg := &domain.Message{
				ID:        ulid.Make().String(),
				SessionID: s.ID,
				Role:      domain.RoleSystem,
				Content:   primer,
				Status:    domain.MessageDone,
				CreatedAt: now,
			}
			if err := m.storage.Messages().Create(ctx, msg); err != nil {
				slog.Warn("session: failed to persist primer message", "session", s.ID, "error", err)
			}
		}
	}

	return s, nil
}

func (m *Manager) List(ctx context.Context, filter domain.SessionFilter, page domain.Pagination) ([]*domain.Session, error) {
	return m.storage.Sessions().List(ctx, filter, page)
}

func (m *Manager) Get(ctx context.Context, id string) (*domain.Session, error) {
	return m.storage.Sessions().Get(ctx, id)
}

// Delete forces cancel, kills any child, and removes storage rows.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if a, ok := m.reg.get(id); ok {
		a.shutdown(ctx)
		m.reg.remove(id)
	}
	return m.storage.Sessions().Delete(ctx, id)
}

func (m *Manager) GetMessages(ctx context.Context, id string, page domain.Pagination) ([]*domain.Message, error) {
	return m.storage.Messages().List(ctx, domain.MessageFilter{SessionID: id}, page)
}

func (m *Manager) ToolCallAudit(ctx context.Context, filter domain.ToolCallFilter, page domain.Pagination) ([]*domain.ToolCall, error) {
	return m.storage.ToolCalls().List(ctx, filter, page)
}

// SendMessage persists the user message, drives a provider turn, and
// returns the user message synchronously; the assistant reply streams in
// over the Publisher as push events (spec §4.3).
func (m *Manager) SendMessage(ctx context.Context, sessionID, content string) (*domain.Message, error) {
	if err := m.promote(ctx, sessionID); err != nil {
		slog.Warn("session: promotion on send_message failed, continuing", "session", sessionID, "error", err)
	}

	a, err := m.actorFor(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	v, err := a.do(ctx, func() (any, error) { return a.sendMessage(ctx, content) })
	if err != nil {
		return nil, err
	}
	return v.(*domain.Message), nil
}

func (m *Manager) Pause(ctx context.Context, sessionID string) error {
	a, err := m.actorFor(ctx, sessionID)
	if err != nil {
		return err
	}
	_, err = a.do(ctx, func() (any, error) { return nil, a.pause() })
	return err
}

func (m *Manager) Resume(ctx context.Context, sessionID string) error {
	a, err := m.actorFor(ctx, sessionID)
	if err != nil {
		return err
	}
	_, err = a.do(ctx, func() (any, error) { return nil, a.resume() })
	return err
}

func (m *Manager) Cancel(ctx context.Context, sessionID string) error {
	a, err := m.actorFor(ctx, sessionID)
	if err != nil {
		return err
	}
	_, err = a.do(ctx, func() (any, error) { return nil, a.cancel(ctx) })
	return err
}

func (m *Manager) SetMode(ctx context.Context, sessionID string, mode domain.SessionMode) error {
	a, err := m.actorFor(ctx, sessionID)
	if err != nil {
		return err
	}
	_, err = a.do(ctx, func() (any, error) { return nil, a.setMode(ctx, mode) })
	return err
}

func (m *Manager) SetModel(ctx context.Context, sessionID, model string) error {
	a, err := m.actorFor(ctx, sessionID)
	if err != nil {
		return err
	}
	_, err = a.do(ctx, func() (any, error) { return nil, a.setModel(ctx, model) })
	return err
}

func (m *Manager) SetProvider(ctx context.Context, sessionID, providerName string) error {
	if _, ok := m.providers.Get(providerName); !ok {
		return ErrProviderNotFound
	}
	a, err := m.actorFor(ctx, sessionID)
	if err != nil {
		return err
	}
	_, err = a.do(ctx, func() (any, error) { return nil, a.setProvider(ctx, providerName) })
	return err
}

func (m *Manager) ToolApprove(ctx context.Context, sessionID, toolCallID string) error {
	a, err := m.actorFor(ctx, sessionID)
	if err != nil {
		return err
	}
	_, err = a.do(ctx, func() (any, error) { return nil, a.toolApprove(ctx, toolCallID) })
	return err
}

func (m *Manager) ToolReject(ctx context.Context, sessionID, toolCallID, reason string) error {
	a, err := m.actorFor(ctx, sessionID)
	if err != nil {
		return err
	}
	_, err = a.do(ctx, func() (any, error) { return nil, a.toolReject(ctx, toolCallID, reason) })
	return err
}

// Shutdown cancels every in-flight turn and stops every actor goroutine,
// called once on clean daemon shutdown before Storage.Checkpoint.
func (m *Manager) Shutdown(ctx context.Context) {
	m.reg.forEach(func(a *actor) { a.shutdown(ctx) })
}

// promote implements the lazy half of spec §4.4's tier policy: a
// send_message on a Warm or Cold session resumes it to Active before the
// turn is driven. A Cold session's most recent ContextSnapshot (written by
// the Resource Governor on demotion) is replayed as a system message so the
// provider regains the compressed context it lost when its tier dropped.
func (m *Manager) promote(ctx context.Context, sessionID string) error {
	s, err := m.storage.Sessions().Get(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("promote: load session: %w", err)
	}
	if s.Tier == domain.TierActive {
		return nil
	}

	if s.Tier == domain.TierCold {
		if snap, err := m.storage.ContextSnapshots().LatestForSession(ctx, sessionID); err == nil && snap != nil {
			msg := &domain.Message{
				ID:        ulid.Make().String(),
				SessionID: sessionID,
				Role:      domain.RoleSystem,
				Content:   snap.Content,
				Status:    domain.MessageDone,
				CreatedAt: types.NewTime(time.Now().UTC()),
			}
			if err := m.storage.Messages().Create(ctx, msg); err != nil {
				slog.Warn("session: replay context snapshot failed", "session", sessionID, "error", err)
			}
		}
	}

	active := domain.TierActive
	return m.storage.Sessions().Touch(ctx, sessionID, nil, &active)
}

// ResidentIDs returns the ids of sessions with a live actor in this process.
// Nothing in the daemon calls it; the Resource Governor's running-turn
// exemption goes through IsRunningTurn.
func (m *Manager) ResidentIDs() []string {
	return m.reg.ids()
}

// IsRunningTurn reports whether sessionID has a turn in flight right now,
// consulting the resident actor directly rather than a possibly-stale
// storage row (the Resource Governor must never demote a running turn).
func (m *Manager) IsRunningTurn(ctx context.Context, sessionID string) bool {
	a, ok := m.reg.get(sessionID)
	if !ok {
		return false
	}
	v, err := a.do(ctx, func() (any, error) { return a.sess.Status == domain.SessionRunning, nil })
	if err != nil {
		return false
	}
	return v.(bool)
}

// EvictResident drops sessionID's in-memory actor (if any) without touching
// storage, used by the Resource Governor on Warm/Cold demotion so a later
// send_message rebuilds the actor from the (now-demoted) storage row.
func (m *Manager) EvictResident(ctx context.Context, sessionID string) {
	if a, ok := m.reg.get(sessionID); ok {
		a.shutdown(ctx)
		m.reg.remove(sessionID)
	}
}

// actorFor returns the running actor for id, spawning one (loading the
// session row from storage) if none is resident yet.
func (m *Manager) actorFor(ctx context.Context, id string) (*actor, error) {
	if a, ok := m.reg.get(id); ok {
		return a, nil
	}

	s, err := m.storage.Sessions().Get(ctx, id)
	if err != nil {
		return nil, ErrNotFound
	}

	a := newActor(m, s)
	if existing, loaded := m.reg.getOrStore(id, a); loaded {
		a.shutdown(ctx) // lost the race against a concurrent caller; drop the spare
		return existing, nil
	}
	return a, nil
}
