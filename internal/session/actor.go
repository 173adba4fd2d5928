package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/worldline-go/types"

	"github.com/clawde-io/clawd/internal/domain"
	"github.com/clawde-io/clawd/internal/provider"
)

// opResult is the reply delivered back from the actor goroutine for a do()
// call.
type opResult struct {
	val any
	err error
}

// actor owns one session's mutable state and the at-most-one provider
// child bound to it. Every field below is touched only from inside loop(),
// which is the only goroutine permitted to read or write them — the
// serialization point that makes "exactly one provider turn in flight per
// session" (spec §3) trivially true. There is no teacher precedent for a
// goroutine-per-entity actor in this shape; it is modelled on the
// request/response-over-channel idiom the teacher uses for its cron
// scheduler's lock loop (internal/service/workflow/scheduler.go), adapted
// from a singleton loop to one instance per session.
type actor struct {
	mgr *Manager
	id  string

	inbox     chan func()
	closed    chan struct{}
	closeOnce sync.Once

	sess *domain.Session

	handle         provider.Handle
	turnCancel     context.CancelFunc
	assistantMsgID string
	assistantText  strings.Builder

	pendingApprovals map[string]*time.Timer
}

func newActor(mgr *Manager, s *domain.Session) *actor {
	a := &actor{
		mgr:              mgr,
		id:               s.ID,
		sess:             s,
		inbox:            make(chan func(), 8),
		closed:           make(chan struct{}),
		pendingApprovals: make(map[string]*time.Timer),
	}
	go a.loop()
	return a
}

func (a *actor) loop() {
	for {
		select {
		case fn := <-a.inbox:
			fn()
		case <-a.closed:
			return
		}
	}
}

// do submits fn to run on the actor's own goroutine and blocks for its
// result, giving Manager's public methods a synchronous call shape over an
// asynchronous, serialized worker.
func (a *actor) do(ctx context.Context, fn func() (any, error)) (any, error) {
	reply := make(chan opResult, 1)
	op := func() {
		v, err := fn()
		reply <- opResult{v, err}
	}

	select {
	case a.inbox <- op:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-a.closed:
		return nil, ErrNotFound
	}

	select {
	case r := <-reply:
		return r.val, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// post enqueues a fire-and-forget closure, used by the turn-streaming
// goroutine to apply provider events on the actor goroutine without
// blocking on a reply.
func (a *actor) post(fn func()) {
	select {
	case a.inbox <- fn:
	case <-a.closed:
	}
}

func (a *actor) touch(ctx context.Context, status *domain.SessionStatus, tier *domain.SessionTier) {
	if err := a.mgr.storage.Sessions().Touch(ctx, a.id, status, tier); err != nil {
		slog.Warn("session: touch failed", "session", a.id, "error", err)
	}
}

// sendMessage implements spec §4.3's send_message contract. It must run on
// the actor goroutine.
func (a *actor) sendMessage(ctx context.Context, content string) (*domain.Message, error) {
	switch a.sess.Status {
	case domain.SessionPaused:
		return nil, ErrPaused
	case domain.SessionRunning:
		return nil, ErrTurnInProgress
	}

	now := types.NewTime(time.Now().UTC())
	userMsg := &domain.Message{
		ID:        ulid.Make().String(),
		SessionID: a.id,
		Role:      domain.RoleUser,
		Content:   content,
		Status:    domain.MessageDone,
		CreatedAt: now,
	}
	if err := a.mgr.storage.Messages().Create(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("persist user message: %w", err)
	}
	a.sess.MessageCount++

	providerName := a.sess.Provider
	if a.sess.RoutedProvider.Valid && a.sess.RoutedProvider.V != "" {
		providerName = a.sess.RoutedProvider.V
	}
	adapter, ok := a.mgr.providers.Get(providerName)
	if !ok {
		return nil, ErrProviderNotFound
	}

	model := ""
	if a.sess.ModelOverride.Valid {
		model = a.sess.ModelOverride.V
	}

	systemPrompt := a.mgr.systemPrompt.Render(providerName)
	prevRespID := ""
	if a.sess.PreviousRespID.Valid {
		prevRespID = a.sess.PreviousRespID.V
	}

	turnCtx, cancel := context.WithCancel(context.Background())
	handle, err := adapter.Spawn(turnCtx, provider.TurnRequest{
		SessionID:          a.id,
		RepoPath:           a.sess.RepoPath,
		Model:              model,
		SystemPrompt:       systemPrompt,
		UserMessage:        content,
		PreviousResponseID: prevRespID,
	})
	if err != nil {
		cancel()
		errored := domain.SessionError
		a.sess.Status = errored
		a.touch(ctx, &errored, nil)
		return nil, fmt.Errorf("spawn provider %s: %w", providerName, err)
	}

	a.handle = handle
	a.turnCancel = cancel
	a.assistantMsgID = ""
	a.assistantText.Reset()

	running := domain.SessionRunning
	a.sess.Status = running
	a.sess.LastActivityAt = now
	a.touch(ctx, &running, nil)

	a.mgr.pub.Publish(a.id, "session.turnStarted", map[string]any{"sessionId": a.id, "userMessage": userMsg.ID})

	go a.streamTurn(turnCtx, handle)

	return userMsg, nil
}

// streamTurn reads a provider.Handle's event channel and feeds each event
// back onto the actor's inbox so storage/state mutation stays serialized.
func (a *actor) streamTurn(ctx context.Context, h provider.Handle) {
	for ev := range h.Events() {
		ev := ev
		a.post(func() { a.applyEvent(ctx, h, ev) })
	}
	a.post(func() { a.finalizeTurnIfStillRunning(ctx, h) })
}

func (a *actor) applyEvent(ctx context.Context, h provider.Handle, ev provider.Event) {
	if a.handle != h {
		return // a newer turn (or cancel) has already superseded this stream
	}

	switch ev.Kind {
	case provider.EventMessageStart:
		a.assistantMsgID = ulid.Make().String()
		msg := &domain.Message{
			ID:        a.assistantMsgID,
			SessionID: a.id,
			Role:      domain.RoleAssistant,
			Content:   "",
			Status:    domain.MessageStreaming,
			CreatedAt: types.NewTime(time.Now().UTC()),
		}
		if err := a.mgr.storage.Messages().Create(ctx, msg); err != nil {
			slog.Warn("session: persist assistant message failed", "session", a.id, "error", err)
		}

	case provider.EventMessageDelta:
		a.assistantText.WriteString(ev.Text)
		a.mgr.pub.Publish(a.id, "session.messageDelta", map[string]any{"sessionId": a.id, "messageId": a.assistantMsgID, "text": ev.Text})

	case provider.EventToolCallStart:
		tc := &domain.ToolCall{
			ID:         ev.ToolCallID,
			MessageID:  a.assistantMsgID,
			SessionID:  a.id,
			Name:       ev.ToolName,
			Input:      json.RawMessage(ev.ToolInput),
			Approvable: isApprovableTool(ev.ToolName),
			Status:     domain.ToolCallRunning,
			CreatedAt:  types.NewTime(time.Now().UTC()),
		}
		if tc.Approvable {
			tc.Status = domain.ToolCallPending
		}
		if err := a.mgr.storage.ToolCalls().Create(ctx, tc); err != nil {
			slog.Warn("session: persist tool call failed", "session", a.id, "error", err)
		}
		if tc.Approvable {
			a.armApprovalTimeout(ctx, tc.ID)
			a.mgr.pub.Publish(a.id, "session.toolCallRequested", map[string]any{"sessionId": a.id, "toolCallId": tc.ID, "name": tc.Name})
		} else {
			a.mgr.pub.Publish(a.id, "session.toolCallStarted", map[string]any{"sessionId": a.id, "toolCallId": tc.ID, "name": tc.Name})
		}

	case provider.EventToolCallEnd:
		a.disarmApprovalTimeout(ev.ToolCallID)
		tc, err := a.mgr.storage.ToolCalls().Get(ctx, ev.ToolCallID)
		if err != nil {
			slog.Warn("session: tool call not found for end event", "session", a.id, "toolCallId", ev.ToolCallID)
			return
		}
		now := types.NewTime(time.Now().UTC())
		tc.CompletedAt = types.NewNull(now)
		if ev.ToolError != "" {
			tc.Status = domain.ToolCallError
			tc.ErrorReason = types.NewNull(ev.ToolError)
		} else {
			tc.Status = domain.ToolCallCompleted
			tc.OutputPrev = types.NewNull(previewOf(ev.ToolOutput))
		}
		if err := a.mgr.storage.ToolCalls().Update(ctx, tc); err != nil {
			slog.Warn("session: update tool call failed", "session", a.id, "error", err)
		}
		if len(ev.ToolOutput) > toolPreviewLimit {
			full := &domain.ToolResultFull{ID: ulid.Make().String(), ToolCallID: tc.ID, Content: string(ev.ToolOutput), CreatedAt: now}
			if err := a.mgr.storage.ToolResults().Put(ctx, full); err != nil {
				slog.Warn("session: spill tool result failed", "session", a.id, "error", err)
			}
		}
		a.mgr.pub.Publish(a.id, "session.toolCallEnded", map[string]any{"sessionId": a.id, "toolCallId": tc.ID, "status": tc.Status})

	case provider.EventMessageEnd:
		a.finalizeAssistantMessage(ctx, domain.MessageDone)
		a.recordUsage(ctx, ev)
		if ev.ResponseID != "" {
			a.sess.PreviousRespID = types.NewNull(ev.ResponseID)
		}
		idle := domain.SessionIdle
		a.sess.Status = idle
		a.touch(ctx, &idle, nil)
		a.handle = nil
		a.turnCancel = nil
		a.mgr.pub.Publish(a.id, "session.turnCompleted", map[string]any{"sessionId": a.id, "messageId": a.assistantMsgID})

	case provider.EventError:
		a.finalizeAssistantMessage(ctx, domain.MessageError)
		errored := domain.SessionError
		a.sess.Status = errored
		a.touch(ctx, &errored, nil)
		a.handle = nil
		a.turnCancel = nil
		reason := ""
		if ev.Err != nil {
			reason = ev.Err.Error()
		}
		a.mgr.pub.Publish(a.id, "session.turnFailed", map[string]any{"sessionId": a.id, "reason": reason})
	}
}

// finalizeTurnIfStillRunning catches a handle whose event channel closed
// without a terminal MessageEnd/Error event (the child exited silently) —
// without this, the session would be stuck "running" forever.
func (a *actor) finalizeTurnIfStillRunning(ctx context.Context, h provider.Handle) {
	if a.handle != h {
		return
	}
	if err := h.Wait(); err != nil {
		slog.Warn("session: provider process exited abnormally", "session", a.id, "error", err)
	}
	if a.sess.Status != domain.SessionRunning {
		return
	}
	a.finalizeAssistantMessage(ctx, domain.MessageError)
	errored := domain.SessionError
	a.sess.Status = errored
	a.touch(ctx, &errored, nil)
	a.handle = nil
	a.turnCancel = nil
	a.mgr.pub.Publish(a.id, "session.turnFailed", map[string]any{"sessionId": a.id, "reason": "provider exited without a terminal event"})
}

func (a *actor) finalizeAssistantMessage(ctx context.Context, status domain.MessageStatus) {
	if a.assistantMsgID == "" {
		return
	}
	msg, err := a.mgr.storage.Messages().Get(ctx, a.assistantMsgID)
	if err != nil {
		return
	}
	msg.Content = a.assistantText.String()
	msg.Status = status
	if err := a.mgr.storage.Messages().Update(ctx, msg); err != nil {
		slog.Warn("session: finalize assistant message failed", "session", a.id, "error", err)
	}
}

func (a *actor) recordUsage(ctx context.Context, ev provider.Event) {
	if a.assistantMsgID == "" {
		return
	}
	u := &domain.TokenUsage{
		ID:           ulid.Make().String(),
		MessageID:    a.assistantMsgID,
		SessionID:    a.id,
		InputTokens:  ev.Usage.InputTokens,
		OutputTokens: ev.Usage.OutputTokens,
		CostUSD:      ev.Usage.CostUSD,
		CreatedAt:    types.NewTime(time.Now().UTC()),
	}
	if err := a.mgr.storage.TokenUsage().Create(ctx, u); err != nil {
		slog.Warn("session: record token usage failed", "session", a.id, "error", err)
	}
}

// pause/resume implement spec §4.3: SIGSTOP/SIGCONT on Unix, never aborting
// an in-flight turn.
func (a *actor) pause() error {
	if a.handle != nil {
		if err := a.handle.Pause(); err != nil {
			slog.Warn("session: pause signal failed", "session", a.id, "error", err)
		}
	}
	paused := domain.SessionPaused
	a.sess.Status = paused
	a.touch(context.Background(), &paused, nil)
	return nil
}

func (a *actor) resume() error {
	if a.sess.Status != domain.SessionPaused {
		return nil
	}
	if a.handle != nil {
		if err := a.handle.Resume(); err != nil {
			slog.Warn("session: resume signal failed", "session", a.id, "error", err)
		}
	}
	status := domain.SessionIdle
	if a.handle != nil {
		status = domain.SessionRunning
	}
	a.sess.Status = status
	a.touch(context.Background(), &status, nil)
	return nil
}

// cancel aborts the in-flight turn: the in-flight message becomes
// status=error (Message has no reason field, so no reason is stored on
// it), pending tool calls become error with reason "cancelled", and the
// session returns to idle (never error) — spec §4.3.
func (a *actor) cancel(ctx context.Context) error {
	if a.handle == nil {
		return nil
	}
	if a.turnCancel != nil {
		a.turnCancel()
	}
	_ = a.handle.Cancel(ctx)

	if a.assistantMsgID != "" {
		if msg, err := a.mgr.storage.Messages().Get(ctx, a.assistantMsgID); err == nil {
			msg.Content = a.assistantText.String()
			msg.Status = domain.MessageError
			_ = a.mgr.storage.Messages().Update(ctx, msg)
		}
	}

	pending, err := a.mgr.storage.ToolCalls().List(ctx, domain.ToolCallFilter{SessionID: &a.id, Status: statusPtr(domain.ToolCallPending)}, domain.Pagination{})
	if err == nil {
		for _, tc := range pending {
			a.disarmApprovalTimeout(tc.ID)
			tc.Status = domain.ToolCallError
			tc.ErrorReason = types.NewNull("cancelled")
			_ = a.mgr.storage.ToolCalls().Update(ctx, tc)
		}
	}

	a.handle = nil
	a.turnCancel = nil
	a.assistantMsgID = ""

	idle := domain.SessionIdle
	a.sess.Status = idle
	a.touch(ctx, &idle, nil)
	a.mgr.pub.Publish(a.id, "session.turnCancelled", map[string]any{"sessionId": a.id})
	return nil
}

func (a *actor) setMode(ctx context.Context, mode domain.SessionMode) error {
	a.sess.Mode = mode
	return a.mgr.storage.Sessions().Update(ctx, a.sess)
}

func (a *actor) setModel(ctx context.Context, model string) error {
	a.sess.ModelOverride = types.NewNull(model)
	return a.mgr.storage.Sessions().Update(ctx, a.sess)
}

func (a *actor) setProvider(ctx context.Context, providerName string) error {
	a.sess.Provider = providerName
	a.sess.RoutedProvider = types.Null[string]{}
	return a.mgr.storage.Sessions().Update(ctx, a.sess)
}

// toolApprove transitions an approvable, pending tool call to running and
// resumes the provider by delivering an approval acknowledgement over its
// stdin (spec §4.3).
func (a *actor) toolApprove(ctx context.Context, toolCallID string) error {
	tc, err := a.mgr.storage.ToolCalls().Get(ctx, toolCallID)
	if err != nil || tc.Status != domain.ToolCallPending {
		return ErrToolCallNotFound
	}
	a.disarmApprovalTimeout(toolCallID)
	tc.Status = domain.ToolCallRunning
	if err := a.mgr.storage.ToolCalls().Update(ctx, tc); err != nil {
		return err
	}
	if a.handle != nil {
		approval := approvalMessage{ToolCallID: toolCallID, Approved: true}
		if b, err := json.Marshal(approval); err == nil {
			_ = a.handle.Send(ctx, string(b))
		}
	}
	a.mgr.pub.Publish(a.id, "session.toolCallApproved", map[string]any{"sessionId": a.id, "toolCallId": toolCallID})
	return nil
}

func (a *actor) toolReject(ctx context.Context, toolCallID, reason string) error {
	tc, err := a.mgr.storage.ToolCalls().Get(ctx, toolCallID)
	if err != nil || tc.Status != domain.ToolCallPending {
		return ErrToolCallNotFound
	}
	a.disarmApprovalTimeout(toolCallID)
	tc.Status = domain.ToolCallError
	tc.ErrorReason = types.NewNull(reason)
	now := types.NewTime(time.Now().UTC())
	tc.CompletedAt = types.NewNull(now)
	if err := a.mgr.storage.ToolCalls().Update(ctx, tc); err != nil {
		return err
	}
	if a.handle != nil {
		approval := approvalMessage{ToolCallID: toolCallID, Approved: false, Reason: reason}
		if b, err := json.Marshal(approval); err == nil {
			_ = a.handle.Send(ctx, string(b))
		}
	}
	a.mgr.pub.Publish(a.id, "session.toolCallRejected", map[string]any{"sessionId": a.id, "toolCallId": toolCallID, "reason": reason})
	return nil
}

type approvalMessage struct {
	ToolCallID string `json:"toolCallId"`
	Approved   bool   `json:"approved"`
	Reason     string `json:"reason,omitempty"`
}

func (a *actor) armApprovalTimeout(ctx context.Context, toolCallID string) {
	timeout := a.mgr.approvalTimeout
	timer := time.AfterFunc(timeout, func() {
		a.post(func() { a.expireApproval(ctx, toolCallID) })
	})
	a.pendingApprovals[toolCallID] = timer
}

func (a *actor) disarmApprovalTimeout(toolCallID string) {
	if t, ok := a.pendingApprovals[toolCallID]; ok {
		t.Stop()
		delete(a.pendingApprovals, toolCallID)
	}
}

func (a *actor) expireApproval(ctx context.Context, toolCallID string) {
	delete(a.pendingApprovals, toolCallID)
	tc, err := a.mgr.storage.ToolCalls().Get(ctx, toolCallID)
	if err != nil || tc.Status != domain.ToolCallPending {
		return
	}
	tc.Status = domain.ToolCallError
	tc.ErrorReason = types.NewNull("approval_timeout")
	now := types.NewTime(time.Now().UTC())
	tc.CompletedAt = types.NewNull(now)
	if err := a.mgr.storage.ToolCalls().Update(ctx, tc); err != nil {
		slog.Warn("session: expire approval failed", "session", a.id, "error", err)
	}
	a.mgr.pub.Publish(a.id, "session.toolCallTimedOut", map[string]any{"sessionId": a.id, "toolCallId": toolCallID})
}

// shutdown cancels any in-flight turn and stops the actor goroutine. Safe
// to call more than once.
func (a *actor) shutdown(ctx context.Context) {
	a.closeOnce.Do(func() {
		_, _ = a.do(ctx, func() (any, error) { return nil, a.cancel(ctx) })
		close(a.closed)
	})
}

func statusPtr(s domain.ToolCallStatus) *domain.ToolCallStatus { return &s }

const toolPreviewLimit = 2048

func previewOf(raw json.RawMessage) string {
	s := string(raw)
	if len(s) > toolPreviewLimit {
		return s[:toolPreviewLimit]
	}
	return s
}

// isApprovableTool flags tool names whose side effects warrant a client
// confirmation before running — anything that writes, executes, or deletes.
func isApprovableTool(name string) bool {
	switch strings.ToLower(name) {
	case "write_file", "edit_file", "delete_file", "bash", "exec", "run_command", "git_push":
		return true
	default:
		return false
	}
}
