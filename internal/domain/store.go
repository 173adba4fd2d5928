package domain

import (
	"context"
	"errors"
)

// Sentinel errors returned by repositories; the IPC boundary (internal/ipc)
// maps these to JSON-RPC domain error codes.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrConflict      = errors.New("conflict")
)

// Cursor is an opaque pagination cursor over (created_at, id), ascending
// or descending per the caller's List call.
type Cursor struct {
	CreatedAt string
	ID        string
}

// Pagination bounds a List call; Limit <= 0 means "use the repository default".
type Pagination struct {
	Limit  int
	Before *Cursor
}

// SessionFilter narrows Session.List.
type SessionFilter struct {
	Status   *SessionStatus
	Provider *string
	RepoPath *string
	Tier     *SessionTier
}

// SessionRepo is the typed repository for Session rows.
type SessionRepo interface {
	Create(ctx context.Context, s *Session) error
	Update(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	List(ctx context.Context, filter SessionFilter, page Pagination) ([]*Session, error)
	Delete(ctx context.Context, id string) error
	// Touch bumps last_activity_at and optionally tier/status in one statement,
	// used heavily by the Session Manager and the Resource Governor.
	Touch(ctx context.Context, id string, status *SessionStatus, tier *SessionTier) error
}

// MessageFilter narrows Message.List.
type MessageFilter struct {
	SessionID string
	Role      *MessageRole
}

// MessageRepo is the typed repository for Message rows.
type MessageRepo interface {
	Create(ctx context.Context, m *Message) error
	Update(ctx context.Context, m *Message) error
	Get(ctx context.Context, id string) (*Message, error)
	List(ctx context.Context, filter MessageFilter, page Pagination) ([]*Message, error)
	Delete(ctx context.Context, id string) error
}

// ToolCallFilter narrows ToolCall.List.
type ToolCallFilter struct {
	SessionID *string
	MessageID *string
	Status    *ToolCallStatus
}

// ToolCallRepo is the typed repository for ToolCall rows.
type ToolCallRepo interface {
	Create(ctx context.Context, t *ToolCall) error
	Update(ctx context.Context, t *ToolCall) error
	Get(ctx context.Context, id string) (*ToolCall, error)
	List(ctx context.Context, filter ToolCallFilter, page Pagination) ([]*ToolCall, error)
}

// ToolResultFullRepo stores/loads spilled large tool output.
type ToolResultFullRepo interface {
	Put(ctx context.Context, r *ToolResultFull) error
	Get(ctx context.Context, toolCallID string) (*ToolResultFull, error)
}

// TokenUsageRepo records per-turn cost accounting.
type TokenUsageRepo interface {
	Create(ctx context.Context, u *TokenUsage) error
	ListBySession(ctx context.Context, sessionID string) ([]*TokenUsage, error)
}

// WorktreeRepo is the typed repository for Worktree rows.
type WorktreeRepo interface {
	Create(ctx context.Context, w *Worktree) error
	Update(ctx context.Context, w *Worktree) error
	Get(ctx context.Context, taskID string) (*Worktree, error)
	List(ctx context.Context, repoPath *string) ([]*Worktree, error)
	Delete(ctx context.Context, taskID string) error
}

// ContextSnapshotRepo is the typed repository for ContextSnapshot rows.
type ContextSnapshotRepo interface {
	Create(ctx context.Context, c *ContextSnapshot) error
	LatestForSession(ctx context.Context, sessionID string) (*ContextSnapshot, error)
	ListForSession(ctx context.Context, sessionID string) ([]*ContextSnapshot, error)
}

// ResourceMetricRepo records and trims periodic host/daemon samples.
type ResourceMetricRepo interface {
	Create(ctx context.Context, m *ResourceMetric) error
	Recent(ctx context.Context, since int64) ([]*ResourceMetric, error)
	// Prune removes rows older than the 24h retention window (spec §3).
	Prune(ctx context.Context) error
}

// PairingRepo covers PIN pairing and long-lived device tokens.
type PairingRepo interface {
	CreatePin(ctx context.Context, p *PairPin) error
	GetPin(ctx context.Context, pin string) (*PairPin, error)
	MarkPinUsed(ctx context.Context, pin string) error

	CreateDevice(ctx context.Context, d *PairedDevice) error
	GetDeviceByTokenHash(ctx context.Context, hash string) (*PairedDevice, error)
	ListDevices(ctx context.Context) ([]*PairedDevice, error)
	RevokeDevice(ctx context.Context, id string) error
	TouchDeviceLastUsed(ctx context.Context, id string) error
}

// DeadLetterRepo is the typed repository for undeliverable push events.
type DeadLetterRepo interface {
	Create(ctx context.Context, e *DeadLetterEvent) error
	ListPending(ctx context.Context, limit int) ([]*DeadLetterEvent, error)
	ListAll(ctx context.Context, connectionID *string, page Pagination) ([]*DeadLetterEvent, error)
	Update(ctx context.Context, e *DeadLetterEvent) error
	Delete(ctx context.Context, id string) error
}

// APITokenRepo is the typed repository for scoped API tokens (expansion).
type APITokenRepo interface {
	Create(ctx context.Context, t *APIToken) error
	GetByHash(ctx context.Context, hash string) (*APIToken, error)
	List(ctx context.Context) ([]*APIToken, error)
	Delete(ctx context.Context, id string) error
	TouchLastUsed(ctx context.Context, id string) error
}

// NotificationChannelRepo is the typed repository for outbound notification
// destinations used by the notify extension namespace (expansion).
type NotificationChannelRepo interface {
	Create(ctx context.Context, c *NotificationChannel) error
	Update(ctx context.Context, c *NotificationChannel) error
	List(ctx context.Context) ([]*NotificationChannel, error)
	Delete(ctx context.Context, id string) error
}

// SearchHit is one full-text search result row.
type SearchHit struct {
	SessionID string
	MessageID string
	Snippet   string
	Rank      float64
}

// SearchFilter narrows a full-text search.
type SearchFilter struct {
	SessionID *string
}

// Storage bundles every typed repository plus full-text search and
// lifecycle methods. It is the one object the session manager, governor,
// worktree manager, auth, and IPC layer all depend on (spec §9: "the
// process owns exactly one AppContext bundle").
type Storage interface {
	Sessions() SessionRepo
	Messages() MessageRepo
	ToolCalls() ToolCallRepo
	ToolResults() ToolResultFullRepo
	TokenUsage() TokenUsageRepo
	Worktrees() WorktreeRepo
	ContextSnapshots() ContextSnapshotRepo
	ResourceMetrics() ResourceMetricRepo
	Pairing() PairingRepo
	DeadLetters() DeadLetterRepo
	APITokens() APITokenRepo
	NotificationChannels() NotificationChannelRepo

	Search(ctx context.Context, query string, limit int, filter SearchFilter) ([]SearchHit, error)

	// Checkpoint collapses the WAL; called on clean shutdown.
	Checkpoint(ctx context.Context) error
	Close() error
}
