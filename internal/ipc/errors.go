package ipc

import (
	"errors"

	"github.com/clawde-io/clawd/internal/auth"
	"github.com/clawde-io/clawd/internal/domain"
	"github.com/clawde-io/clawd/internal/session"
)

// Standard JSON-RPC 2.0 codes (spec §4.7).
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternal       = -32603
)

// Domain codes, spec §4.7's table.
const (
	codeSessionNotFound        = -32001
	codeProviderNotAvailable   = -32002
	codeRateLimited            = -32003
	codeUnauthorized           = -32004
	codeRepoNotFound           = -32005
	codeSessionPaused          = -32006
	codeSessionLimitReached    = -32007
	codeTaskErrorBase          = -32010 // -32010..-32015
	codeDeviceErrorBase        = -32020 // -32020..-32024
	codeToolSecurityBlocked    = -32028
	codeIPCRateLimited         = -32029
)

// ClawdError is the shape of every JSON-RPC error response (spec §4.7/§7).
type ClawdError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *ClawdError) Error() string { return e.Message }

func newClawdError(code int, message string) *ClawdError {
	return &ClawdError{Code: code, Message: message}
}

// sentinelCode is a (sentinel error, JSON-RPC code, label) row checked in
// order via errors.Is, since a handler error may wrap more than one
// sentinel (e.g. fmt.Errorf("...: %w", session.ErrPaused)).
type sentinelCode struct {
	err   error
	code  int
	label string
}

var sentinelTable = []sentinelCode{
	{session.ErrNotFound, codeSessionNotFound, "session not found"},
	{session.ErrTurnInProgress, codeProviderNotAvailable, "a turn is already running for this session"},
	{session.ErrPaused, codeSessionPaused, "session is paused"},
	{session.ErrRepoNotFound, codeRepoNotFound, "repo_path is not a git repository"},
	{session.ErrProviderNotFound, codeProviderNotAvailable, "provider not registered"},
	{session.ErrToolCallNotFound, codeTaskErrorBase, "tool call not found or not pending"},
	{session.ErrApprovalTimeout, codeTaskErrorBase - 1, "tool call approval timed out"},
	{session.ErrInheritSourceNotFound, codeSessionNotFound, "inherit_from session not found"},
	{auth.ErrUnauthorized, codeUnauthorized, "unauthorized"},
	{domain.ErrNotFound, codeDeviceErrorBase, "not found"},
	{domain.ErrAlreadyExists, codeDeviceErrorBase - 1, "already exists"},
	{domain.ErrConflict, codeDeviceErrorBase - 2, "conflict"},
}

// mapError converts a handler error into the wire ClawdError, looking it
// up against the sentinel table before falling back to -32603 (spec §7:
// "handlers convert internal errors into JSON-RPC errors at the
// boundary"). A *ClawdError already produced by a handler passes through
// unchanged.
func mapError(err error) *ClawdError {
	if err == nil {
		return nil
	}
	var ce *ClawdError
	if errors.As(err, &ce) {
		return ce
	}
	for _, row := range sentinelTable {
		if errors.Is(err, row.err) {
			return newClawdError(row.code, row.label)
		}
	}
	return newClawdError(codeInternal, err.Error())
}
