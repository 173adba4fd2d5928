package session

import "errors"

// Sentinel errors the IPC dispatcher (internal/ipc) maps onto the domain
// JSON-RPC error codes of §4.7 (sessionPaused, providerNotAvailable, ...).
var (
	ErrPaused              = errors.New("session is paused")
	ErrTurnInProgress      = errors.New("a turn is already running for this session")
	ErrNotFound            = errors.New("session not found")
	ErrRepoNotFound        = errors.New("repo_path is not a git repository")
	ErrProviderNotFound    = errors.New("provider not registered")
	ErrToolCallNotFound    = errors.New("tool call not found or not pending")
	ErrApprovalTimeout     = errors.New("tool call approval timed out")
	ErrInheritSourceNotFound = errors.New("inherit_from session not found")
)
