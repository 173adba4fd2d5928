package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/clawde-io/clawd/internal/domain"
	"github.com/clawde-io/clawd/internal/provider"
)

// fakeHandle is a provider.Handle driven entirely by the test: events pushed
// onto ch surface through Events(), Cancel/Pause/Resume just record that
// they were called.
type fakeHandle struct {
	ch        chan provider.Event
	canceled  bool
	paused    bool
	sendCalls []string
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{ch: make(chan provider.Event, 16)}
}

func (h *fakeHandle) Events() <-chan provider.Event { return h.ch }
func (h *fakeHandle) Send(_ context.Context, text string) error {
	h.sendCalls = append(h.sendCalls, text)
	return nil
}
func (h *fakeHandle) Cancel(context.Context) error { h.canceled = true; close(h.ch); return nil }
func (h *fakeHandle) Pause() error                 { h.paused = true; return nil }
func (h *fakeHandle) Resume() error                { h.paused = false; return nil }
func (h *fakeHandle) Wait() error                  { return nil }

var _ provider.Handle = (*fakeHandle)(nil)

// fakeAdapter hands out a single pre-built handle per test so the test can
// drive its event stream directly.
type fakeAdapter struct {
	name    string
	handle  *fakeHandle
	spawned int
}

func (a *fakeAdapter) Name() string { return a.name }
func (a *fakeAdapter) Detect(context.Context) (provider.DetectResult, error) {
	return provider.DetectResult{Installed: true}, nil
}
func (a *fakeAdapter) Spawn(context.Context, provider.TurnRequest) (provider.Handle, error) {
	a.spawned++
	return a.handle, nil
}

var _ provider.Adapter = (*fakeAdapter)(nil)

type recordingPublisher struct {
	events []string
}

func (p *recordingPublisher) Publish(_, eventType string, _ any) {
	p.events = append(p.events, eventType)
}

func newTestManager(t *testing.T, adapter *fakeAdapter, pub Publisher) (*Manager, string) {
	t.Helper()
	repoDir := t.TempDir()
	if err := os.Mkdir(filepath.Join(repoDir, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}

	reg := provider.NewRegistry()
	reg.Register(adapter)

	mgr := New(Config{
		Storage:         newFakeStorage(),
		Providers:       reg,
		Router:          provider.HeuristicRouter{},
		Publisher:       pub,
		ApprovalTimeout: 50 * time.Millisecond,
	})
	return mgr, repoDir
}

func TestCreateRejectsNonGitRepo(t *testing.T) {
	mgr, _ := newTestManager(t, &fakeAdapter{name: "claude", handle: newFakeHandle()}, nil)

	_, err := mgr.Create(context.Background(), CreateInput{Provider: "claude", RepoPath: "/nonexistent/path"})
	if err != ErrRepoNotFound {
		t.Fatalf("err = %v, want ErrRepoNotFound", err)
	}
}

func TestCreateAndSendMessageHappyPath(t *testing.T) {
	h := newFakeHandle()
	adapter := &fakeAdapter{name: "claude", handle: h}
	pub := &recordingPublisher{}
	mgr, repo := newTestManager(t, adapter, pub)

	s, err := mgr.Create(context.Background(), CreateInput{Provider: "claude", RepoPath: repo})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if s.Status != domain.SessionIdle {
		t.Fatalf("new session status = %v, want idle", s.Status)
	}

	userMsg, err := mgr.SendMessage(context.Background(), s.ID, "hello")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if userMsg.Role != domain.RoleUser || userMsg.Content != "hello" {
		t.Fatalf("unexpected user message: %+v", userMsg)
	}

	got, err := mgr.Get(context.Background(), s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.SessionRunning {
		t.Fatalf("status after send_message = %v, want running", got.Status)
	}

	// Drive the turn to completion.
	h.ch <- provider.Event{Kind: provider.EventMessageStart}
	h.ch <- provider.Event{Kind: provider.EventMessageDelta, Text: "hi there"}
	h.ch <- provider.Event{Kind: provider.EventMessageEnd, ResponseID: "resp1", Usage: provider.Usage{InputTokens: 5, OutputTokens: 3}}
	close(h.ch)

	waitForStatus(t, mgr, s.ID, domain.SessionIdle)

	got, err = mgr.Get(context.Background(), s.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.PreviousRespID.Valid || got.PreviousRespID.V != "resp1" {
		t.Fatalf("previous_response_id not recorded: %+v", got.PreviousRespID)
	}
}

func TestSendMessageFailsWhenAlreadyRunning(t *testing.T) {
	h := newFakeHandle()
	adapter := &fakeAdapter{name: "claude", handle: h}
	mgr, repo := newTestManager(t, adapter, nil)

	s, err := mgr.Create(context.Background(), CreateInput{Provider: "claude", RepoPath: repo})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.SendMessage(context.Background(), s.ID, "first"); err != nil {
		t.Fatal(err)
	}

	if _, err := mgr.SendMessage(context.Background(), s.ID, "second"); err != ErrTurnInProgress {
		t.Fatalf("err = %v, want ErrTurnInProgress", err)
	}
}

func TestPauseBlocksSendMessage(t *testing.T) {
	mgr, repo := newTestManager(t, &fakeAdapter{name: "claude", handle: newFakeHandle()}, nil)

	s, err := mgr.Create(context.Background(), CreateInput{Provider: "claude", RepoPath: repo})
	if err != nil {
		t.Fatal(err)
	}
	if err := mgr.Pause(context.Background(), s.ID); err != nil {
		t.Fatal(err)
	}

	if _, err := mgr.SendMessage(context.Background(), s.ID, "hi"); err != ErrPaused {
		t.Fatalf("err = %v, want ErrPaused", err)
	}

	if err := mgr.Resume(context.Background(), s.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.SendMessage(context.Background(), s.ID, "hi"); err != nil {
		t.Fatalf("SendMessage after resume: %v", err)
	}
}

func TestCancelReturnsSessionToIdle(t *testing.T) {
	h := newFakeHandle()
	mgr, repo := newTestManager(t, &fakeAdapter{name: "claude", handle: h}, nil)

	s, err := mgr.Create(context.Background(), CreateInput{Provider: "claude", RepoPath: repo})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.SendMessage(context.Background(), s.ID, "hi"); err != nil {
		t.Fatal(err)
	}

	if err := mgr.Cancel(context.Background(), s.ID); err != nil {
		t.Fatal(err)
	}

	waitForStatus(t, mgr, s.ID, domain.SessionIdle)
	if !h.canceled {
		t.Fatal("expected handle.Cancel to have been called")
	}
}

func TestToolCallApprovalTimeout(t *testing.T) {
	h := newFakeHandle()
	mgr, repo := newTestManager(t, &fakeAdapter{name: "claude", handle: h}, nil)

	s, err := mgr.Create(context.Background(), CreateInput{Provider: "claude", RepoPath: repo})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.SendMessage(context.Background(), s.ID, "hi"); err != nil {
		t.Fatal(err)
	}

	h.ch <- provider.Event{Kind: provider.EventToolCallStart, ToolCallID: "tc1", ToolName: "bash"}

	deadline := time.After(2 * time.Second)
	for {
		tcs, err := mgr.ToolCallAudit(context.Background(), domain.ToolCallFilter{SessionID: &s.ID}, domain.Pagination{})
		if err != nil {
			t.Fatal(err)
		}
		if len(tcs) == 1 && tcs[0].Status == domain.ToolCallError {
			if !tcs[0].ErrorReason.Valid || tcs[0].ErrorReason.V != "approval_timeout" {
				t.Fatalf("unexpected error reason: %+v", tcs[0].ErrorReason)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatalf("tool call never timed out, last state: %+v", tcs)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func waitForStatus(t *testing.T, mgr *Manager, sessionID string, want domain.SessionStatus) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		s, err := mgr.Get(context.Background(), sessionID)
		if err != nil {
			t.Fatal(err)
		}
		if s.Status == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("session %s never reached status %v, last status %v", sessionID, want, s.Status)
		case <-time.After(5 * time.Millisecond):
		}
	}
}
