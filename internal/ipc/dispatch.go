package ipc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/clawde-io/clawd/internal/app"
	"github.com/clawde-io/clawd/internal/domain"
	"github.com/clawde-io/clawd/internal/ext"
	"github.com/clawde-io/clawd/internal/session"
)

// Handler is the dispatch table's entry type; identical in shape to
// ext.HandlerFunc so built-in daemon.*/session.* methods and every
// extension namespace method live in one map (spec §4.7: "the dispatcher
// holds no handler-specific state").
type Handler = ext.HandlerFunc

// buildDispatchTable assembles every method this daemon answers: the
// built-in daemon.*/session.*/dead_letter.* namespaces defined here,
// folded together with whatever internal/ext's blank-imported namespace
// packages registered via ext.Register.
func buildDispatchTable(appCtx *app.Context) map[string]Handler {
	table := map[string]Handler{
		"daemon.auth":        handleAuth,
		"session.create":     handleSessionCreate,
		"session.list":       handleSessionList,
		"session.get":        handleSessionGet,
		"session.delete":     handleSessionDelete,
		"session.getMessages": handleSessionGetMessages,
		"session.sendMessage": handleSessionSendMessage,
		"session.pause":      handleSessionPause,
		"session.resume":     handleSessionResume,
		"session.cancel":     handleSessionCancel,
		"session.setMode":    handleSessionSetMode,
		"session.setModel":   handleSessionSetModel,
		"session.setProvider": handleSessionSetProvider,
		"session.toolApprove": handleSessionToolApprove,
		"session.toolReject":  handleSessionToolReject,
		"dead_letter.list":   handleDeadLetterList,
		"dead_letter.retry":  handleDeadLetterRetry,
	}
	for name, h := range ext.Handlers() {
		table[name] = h
	}
	return table
}

func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("decode params: %w", err)
	}
	return v, nil
}

// --- daemon.auth -----------------------------------------------------

type authParams struct {
	Token string `json:"token"`
}

func handleAuth(ctx context.Context, appCtx *app.Context, raw json.RawMessage) (any, error) {
	p, err := decode[authParams](raw)
	if err != nil {
		return nil, err
	}
	if appCtx.Auth.VerifyBearer(p.Token) {
		return map[string]string{"status": "authenticated", "via": "bearer"}, nil
	}
	if dev, err := appCtx.Auth.VerifyDevice(ctx, p.Token); err == nil {
		return map[string]any{"status": "authenticated", "via": "device", "deviceId": dev.ID}, nil
	}
	if tok, err := appCtx.Auth.VerifyAPIToken(ctx, p.Token); err == nil {
		return map[string]any{"status": "authenticated", "via": "apiToken", "tokenId": tok.ID}, nil
	}
	return nil, newClawdError(codeUnauthorized, "unauthorized")
}

// --- session.* ---------------------------------------------------------

func handleSessionCreate(ctx context.Context, appCtx *app.Context, raw json.RawMessage) (any, error) {
	p, err := decode[session.CreateInput](raw)
	if err != nil {
		return nil, err
	}
	return appCtx.Sessions.Create(ctx, p)
}

type sessionListParams struct {
	Status   *domain.SessionStatus `json:"status,omitempty"`
	Provider *string               `json:"provider,omitempty"`
	RepoPath *string               `json:"repoPath,omitempty"`
	Tier     *domain.SessionTier   `json:"tier,omitempty"`
	Limit    int                   `json:"limit,omitempty"`
}

func handleSessionList(ctx context.Context, appCtx *app.Context, raw json.RawMessage) (any, error) {
	p, err := decode[sessionListParams](raw)
	if err != nil {
		return nil, err
	}
	filter := domain.SessionFilter{Status: p.Status, Provider: p.Provider, RepoPath: p.RepoPath, Tier: p.Tier}
	return appCtx.Sessions.List(ctx, filter, domain.Pagination{Limit: p.Limit})
}

type idParams struct {
	SessionID string `json:"sessionId"`
}

func handleSessionGet(ctx context.Context, appCtx *app.Context, raw json.RawMessage) (any, error) {
	p, err := decode[idParams](raw)
	if err != nil {
		return nil, err
	}
	return appCtx.Sessions.Get(ctx, p.SessionID)
}

func handleSessionDelete(ctx context.Context, appCtx *app.Context, raw json.RawMessage) (any, error) {
	p, err := decode[idParams](raw)
	if err != nil {
		return nil, err
	}
	if err := appCtx.Sessions.Delete(ctx, p.SessionID); err != nil {
		return nil, err
	}
	return map[string]string{"sessionId": p.SessionID, "status": "deleted"}, nil
}

type getMessagesParams struct {
	SessionID string `json:"sessionId"`
	Limit     int    `json:"limit,omitempty"`
}

func handleSessionGetMessages(ctx context.Context, appCtx *app.Context, raw json.RawMessage) (any, error) {
	p, err := decode[getMessagesParams](raw)
	if err != nil {
		return nil, err
	}
	return appCtx.Sessions.GetMessages(ctx, p.SessionID, domain.Pagination{Limit: p.Limit})
}

type sendMessageParams struct {
	SessionID string `json:"sessionId"`
	Content   string `json:"content"`
}

func handleSessionSendMessage(ctx context.Context, appCtx *app.Context, raw json.RawMessage) (any, error) {
	p, err := decode[sendMessageParams](raw)
	if err != nil {
		return nil, err
	}
	return appCtx.Sessions.SendMessage(ctx, p.SessionID, p.Content)
}

func handleSessionPause(ctx context.Context, appCtx *app.Context, raw json.RawMessage) (any, error) {
	p, err := decode[idParams](raw)
	if err != nil {
		return nil, err
	}
	if err := appCtx.Sessions.Pause(ctx, p.SessionID); err != nil {
		return nil, err
	}
	return map[string]string{"sessionId": p.SessionID, "status": "paused"}, nil
}

func handleSessionResume(ctx context.Context, appCtx *app.Context, raw json.RawMessage) (any, error) {
	p, err := decode[idParams](raw)
	if err != nil {
		return nil, err
	}
	if err := appCtx.Sessions.Resume(ctx, p.SessionID); err != nil {
		return nil, err
	}
	return map[string]string{"sessionId": p.SessionID, "status": "resumed"}, nil
}

func handleSessionCancel(ctx context.Context, appCtx *app.Context, raw json.RawMessage) (any, error) {
	p, err := decode[idParams](raw)
	if err != nil {
		return nil, err
	}
	if err := appCtx.Sessions.Cancel(ctx, p.SessionID); err != nil {
		return nil, err
	}
	return map[string]string{"sessionId": p.SessionID, "status": "cancelled"}, nil
}

type setModeParams struct {
	SessionID string            `json:"sessionId"`
	Mode      domain.SessionMode `json:"mode"`
}

func handleSessionSetMode(ctx context.Context, appCtx *app.Context, raw json.RawMessage) (any, error) {
	p, err := decode[setModeParams](raw)
	if err != nil {
		return nil, err
	}
	if err := appCtx.Sessions.SetMode(ctx, p.SessionID, p.Mode); err != nil {
		return nil, err
	}
	return map[string]string{"sessionId": p.SessionID, "status": "ok"}, nil
}

type setModelParams struct {
	SessionID string `json:"sessionId"`
	Model     string `json:"model"`
}

func handleSessionSetModel(ctx context.Context, appCtx *app.Context, raw json.RawMessage) (any, error) {
	p, err := decode[setModelParams](raw)
	if err != nil {
		return nil, err
	}
	if err := appCtx.Sessions.SetModel(ctx, p.SessionID, p.Model); err != nil {
		return nil, err
	}
	return map[string]string{"sessionId": p.SessionID, "status": "ok"}, nil
}

type setProviderParams struct {
	SessionID string `json:"sessionId"`
	Provider  string `json:"provider"`
}

func handleSessionSetProvider(ctx context.Context, appCtx *app.Context, raw json.RawMessage) (any, error) {
	p, err := decode[setProviderParams](raw)
	if err != nil {
		return nil, err
	}
	if err := appCtx.Sessions.SetProvider(ctx, p.SessionID, p.Provider); err != nil {
		return nil, err
	}
	return map[string]string{"sessionId": p.SessionID, "status": "ok"}, nil
}

type toolCallParams struct {
	SessionID  string `json:"sessionId"`
	ToolCallID string `json:"toolCallId"`
	Reason     string `json:"reason,omitempty"`
}

func handleSessionToolApprove(ctx context.Context, appCtx *app.Context, raw json.RawMessage) (any, error) {
	p, err := decode[toolCallParams](raw)
	if err != nil {
		return nil, err
	}
	if err := appCtx.Sessions.ToolApprove(ctx, p.SessionID, p.ToolCallID); err != nil {
		return nil, err
	}
	return map[string]string{"toolCallId": p.ToolCallID, "status": "approved"}, nil
}

func handleSessionToolReject(ctx context.Context, appCtx *app.Context, raw json.RawMessage) (any, error) {
	p, err := decode[toolCallParams](raw)
	if err != nil {
		return nil, err
	}
	if err := appCtx.Sessions.ToolReject(ctx, p.SessionID, p.ToolCallID, p.Reason); err != nil {
		return nil, err
	}
	return map[string]string{"toolCallId": p.ToolCallID, "status": "rejected"}, nil
}

// --- dead_letter.* -------------------------------------------------------

type deadLetterListParams struct {
	ConnectionID *string `json:"connectionId,omitempty"`
	Limit        int     `json:"limit,omitempty"`
}

func handleDeadLetterList(ctx context.Context, appCtx *app.Context, raw json.RawMessage) (any, error) {
	p, err := decode[deadLetterListParams](raw)
	if err != nil {
		return nil, err
	}
	return appCtx.Bus.ListDeadLetters(ctx, p.ConnectionID, domain.Pagination{Limit: p.Limit})
}

type deadLetterRetryParams struct {
	ID string `json:"id"`
}

func handleDeadLetterRetry(ctx context.Context, appCtx *app.Context, raw json.RawMessage) (any, error) {
	p, err := decode[deadLetterRetryParams](raw)
	if err != nil {
		return nil, err
	}
	if err := appCtx.Bus.RetryDeadLetter(ctx, p.ID); err != nil {
		return nil, err
	}
	return map[string]string{"id": p.ID, "status": "redelivered"}, nil
}
