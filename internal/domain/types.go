// Package domain holds the entity types and repository contracts shared by
// every component of the daemon (storage, session manager, governor, IPC).
// It plays the same role the teacher's internal/service package plays for
// the gateway: a dependency-free hub that storage implements and the rest
// of the daemon programs against.
package domain

import (
	"encoding/json"

	"github.com/worldline-go/types"
)

// SessionStatus is the legacy-named turn status axis (spec §9 Open Questions:
// orthogonal to Tier).
type SessionStatus string

const (
	SessionIdle      SessionStatus = "idle"
	SessionRunning   SessionStatus = "running"
	SessionPaused    SessionStatus = "paused"
	SessionCompleted SessionStatus = "completed"
	SessionError     SessionStatus = "error"
)

// SessionTier is the memory-occupancy axis driven by the Resource Governor.
type SessionTier string

const (
	TierActive SessionTier = "active"
	TierWarm   SessionTier = "warm"
	TierCold   SessionTier = "cold"
)

// SessionMode selects a system-prompt/behavior preset.
type SessionMode string

const (
	ModeNormal SessionMode = "NORMAL"
	ModeLearn  SessionMode = "LEARN"
	ModeStorm  SessionMode = "STORM"
	ModeForge  SessionMode = "FORGE"
	ModeCrunch SessionMode = "CRUNCH"
)

// Session is one AI conversation bound to a repository and provider.
type Session struct {
	ID             string                `json:"id" db:"id"`
	RepoPath       string                `json:"repoPath" db:"repo_path"`
	Provider       string                `json:"provider" db:"provider"`
	Title          string                `json:"title" db:"title"`
	Status         SessionStatus         `json:"status" db:"status"`
	Tier           SessionTier           `json:"tier" db:"tier"`
	Mode           SessionMode           `json:"mode" db:"mode"`
	ModelOverride  types.Null[string]    `json:"modelOverride,omitempty" db:"model_override"`
	RoutedProvider types.Null[string]    `json:"routedProvider,omitempty" db:"routed_provider"`
	PromptCacheKey types.Null[string]    `json:"-" db:"prompt_cache_key"`
	InheritFrom    types.Null[string]    `json:"inheritFrom,omitempty" db:"inherit_from"`
	MessageCount   int                   `json:"messageCount" db:"message_count"`
	CreatedAt      types.Time            `json:"createdAt" db:"created_at"`
	UpdatedAt      types.Time            `json:"updatedAt" db:"updated_at"`
	LastActivityAt types.Time            `json:"lastActivityAt" db:"last_activity_at"`
	PreviousRespID types.Null[string]    `json:"-" db:"previous_response_id"`
}

// MessageRole identifies who produced a Message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// MessageStatus tracks whether a Message is still streaming.
type MessageStatus string

const (
	MessageStreaming MessageStatus = "streaming"
	MessageDone      MessageStatus = "done"
	MessageError     MessageStatus = "error"
)

// Message is one append-only turn element.
type Message struct {
	ID        string        `json:"id" db:"id"`
	SessionID string        `json:"sessionId" db:"session_id"`
	Role      MessageRole   `json:"role" db:"role"`
	Content   string        `json:"content" db:"content"`
	Status    MessageStatus `json:"status" db:"status"`
	CreatedAt types.Time    `json:"createdAt" db:"created_at"`
}

// ToolCallStatus tracks the lifecycle of a ToolCall, including the
// approval sub-state machine described in spec §4.3.
type ToolCallStatus string

const (
	ToolCallPending   ToolCallStatus = "pending"
	ToolCallRunning   ToolCallStatus = "running"
	ToolCallCompleted ToolCallStatus = "completed"
	ToolCallError     ToolCallStatus = "error"
)

// ToolCall is one tool invocation made during a turn.
type ToolCall struct {
	ID          string              `json:"id" db:"id"`
	MessageID   string              `json:"messageId" db:"message_id"`
	SessionID   string              `json:"sessionId" db:"session_id"`
	Name        string              `json:"name" db:"name"`
	Input       json.RawMessage     `json:"input" db:"input"`
	OutputPrev  types.Null[string]  `json:"outputPreview,omitempty" db:"output_preview"`
	Approvable  bool                `json:"approvable" db:"approvable"`
	Status      ToolCallStatus      `json:"status" db:"status"`
	ErrorReason types.Null[string]  `json:"errorReason,omitempty" db:"error_reason"`
	CreatedAt   types.Time          `json:"createdAt" db:"created_at"`
	CompletedAt types.Null[types.Time] `json:"completedAt,omitempty" db:"completed_at"`
}

// ToolResultFull is the spill table for large tool outputs; ToolCall keeps
// only a short preview inline.
type ToolResultFull struct {
	ID         string     `json:"id" db:"id"`
	ToolCallID string     `json:"toolCallId" db:"tool_call_id"`
	Content    string     `json:"content" db:"content"`
	CreatedAt  types.Time `json:"createdAt" db:"created_at"`
}

// TokenUsage records per-message cost accounting.
type TokenUsage struct {
	ID           string     `json:"id" db:"id"`
	MessageID    string     `json:"messageId" db:"message_id"`
	SessionID    string     `json:"sessionId" db:"session_id"`
	InputTokens  int        `json:"inputTokens" db:"input_tokens"`
	OutputTokens int        `json:"outputTokens" db:"output_tokens"`
	CostUSD      float64    `json:"costUsd" db:"cost_usd"`
	CreatedAt    types.Time `json:"createdAt" db:"created_at"`
}

// WorktreeStatus tracks a task worktree's lifecycle.
type WorktreeStatus string

const (
	WorktreeActive    WorktreeStatus = "active"
	WorktreeDone      WorktreeStatus = "done"
	WorktreeAbandoned WorktreeStatus = "abandoned"
	WorktreeMerged    WorktreeStatus = "merged"
)

// Worktree is a per-task git worktree keyed by task id.
type Worktree struct {
	TaskID        string         `json:"taskId" db:"task_id"`
	WorktreePath  string         `json:"worktreePath" db:"worktree_path"`
	Branch        string         `json:"branch" db:"branch"`
	RepoPath      string         `json:"repoPath" db:"repo_path"`
	BaseBranch    string         `json:"baseBranch" db:"base_branch"`
	Status        WorktreeStatus `json:"status" db:"status"`
	CreatedAt     types.Time     `json:"createdAt" db:"created_at"`
	UpdatedAt     types.Time     `json:"updatedAt" db:"updated_at"`
}

// SnapshotType distinguishes the kind of content a ContextSnapshot holds.
type SnapshotType string

const (
	SnapshotSummary   SnapshotType = "summary"
	SnapshotTaskState SnapshotType = "task_state"
	SnapshotFull      SnapshotType = "full"
)

// ContextSnapshot is produced on Warm->Cold demotion and consumed on
// Cold->Active resurrection.
type ContextSnapshot struct {
	ID                 string             `json:"id" db:"id"`
	SessionID          string             `json:"sessionId" db:"session_id"`
	Content            string             `json:"content" db:"content"`
	TokenEstimate      int                `json:"tokenEstimate" db:"token_estimate"`
	SnapshotType       SnapshotType       `json:"snapshotType" db:"snapshot_type"`
	MessageRangeStart  types.Null[string] `json:"messageRangeStart,omitempty" db:"message_range_start"`
	MessageRangeEnd    types.Null[string] `json:"messageRangeEnd,omitempty" db:"message_range_end"`
	CreatedAt          types.Time         `json:"createdAt" db:"created_at"`
}

// ResourceMetric is a periodic host/daemon memory sample (§4.8).
type ResourceMetric struct {
	ID            string     `json:"id" db:"id"`
	HostTotalRAM  int64      `json:"hostTotalRam" db:"host_total_ram"`
	HostUsedRAM   int64      `json:"hostUsedRam" db:"host_used_ram"`
	DaemonRSS     int64      `json:"daemonRss" db:"daemon_rss"`
	ActiveCount   int        `json:"activeCount" db:"active_count"`
	WarmCount     int        `json:"warmCount" db:"warm_count"`
	ColdCount     int        `json:"coldCount" db:"cold_count"`
	CreatedAt     types.Time `json:"createdAt" db:"created_at"`
}

// PairPin is a short-lived one-time code used to pair a remote device.
type PairPin struct {
	PIN       string     `json:"pin" db:"pin"`
	CreatedAt types.Time `json:"createdAt" db:"created_at"`
	ExpiresAt types.Time `json:"expiresAt" db:"expires_at"`
	Used      bool       `json:"used" db:"used"`
}

// PairedDevice is a long-lived device record exchanged for a PairPin.
// The device token itself is never persisted in plaintext: only a SHA-256
// hash and a short display prefix are stored, and auth compares the hash of
// the presented token in constant time (spec §4.6).
type PairedDevice struct {
	ID          string                 `json:"id" db:"id"`
	Name        string                 `json:"name" db:"name"`
	Platform    string                 `json:"platform" db:"platform"`
	TokenHash   string                 `json:"-" db:"token_hash"`
	TokenPrefix string                 `json:"tokenPrefix" db:"token_prefix"`
	Revoked     bool                   `json:"revoked" db:"revoked"`
	RevokedAt   types.Null[types.Time] `json:"revokedAt,omitempty" db:"revoked_at"`
	CreatedAt   types.Time             `json:"createdAt" db:"created_at"`
	LastUsedAt  types.Null[types.Time] `json:"lastUsedAt,omitempty" db:"last_used_at"`
}

// DeadLetterStatus tracks a DeadLetterEvent's redelivery lifecycle.
type DeadLetterStatus string

const (
	DeadLetterPending          DeadLetterStatus = "pending"
	DeadLetterRetrying         DeadLetterStatus = "retrying"
	DeadLetterPermanentlyFailed DeadLetterStatus = "permanently_failed"
)

// DeadLetterEvent is an undeliverable push event awaiting bounded retry.
type DeadLetterEvent struct {
	ID            string           `json:"id" db:"id"`
	ConnectionID  string           `json:"connectionId" db:"connection_id"`
	EventType     string           `json:"eventType" db:"event_type"`
	Payload       json.RawMessage  `json:"payload" db:"payload"`
	FailureReason string           `json:"failureReason" db:"failure_reason"`
	RetryCount    int              `json:"retryCount" db:"retry_count"`
	Status        DeadLetterStatus `json:"status" db:"status"`
	CreatedAt     types.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt     types.Time       `json:"updatedAt" db:"updated_at"`
}

// APIToken is a scoped, non-interactive bearer credential (expansion: §4.6).
type APIToken struct {
	ID               string                 `json:"id" db:"id"`
	Name             string                 `json:"name" db:"name"`
	TokenHash        string                 `json:"-" db:"token_hash"`
	TokenPrefix      string                 `json:"tokenPrefix" db:"token_prefix"`
	AllowedProviders types.Slice[string]    `json:"allowedProviders,omitempty" db:"allowed_providers"`
	ExpiresAt        types.Null[types.Time] `json:"expiresAt,omitempty" db:"expires_at"`
	CreatedAt        types.Time             `json:"createdAt" db:"created_at"`
	LastUsedAt       types.Null[types.Time] `json:"lastUsedAt,omitempty" db:"last_used_at"`
}

// NotificationChannelKind selects the outbound transport for the notify
// extension namespace (expansion: §4.10).
type NotificationChannelKind string

const (
	ChannelWebhook  NotificationChannelKind = "webhook"
	ChannelDiscord  NotificationChannelKind = "discord"
	ChannelTelegram NotificationChannelKind = "telegram"
	ChannelEmail    NotificationChannelKind = "email"
)

// NotificationChannel is a configured outbound destination for daemon/session events.
type NotificationChannel struct {
	ID        string                  `json:"id" db:"id"`
	Kind      NotificationChannelKind `json:"kind" db:"kind"`
	Config    json.RawMessage         `json:"config" db:"config"`
	Enabled   bool                    `json:"enabled" db:"enabled"`
	CreatedAt types.Time              `json:"createdAt" db:"created_at"`
}
