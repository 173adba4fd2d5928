// Package provider abstracts one AI coding assistant CLI (claude, codex,
// a custom script) behind a single Adapter contract: spawn, stream events,
// cancel. The Session Manager (internal/session) drives a turn through this
// interface without knowing which vendor it is talking to, the same way the
// teacher's service.LLMProvider hid Anthropic/OpenAI/Gemini/Vertex/Ollama
// behind one Chat/ChatStream pair.
package provider

import (
	"context"
	"encoding/json"
	"time"
)

// EventKind discriminates the typed stream Adapter.Events emits.
type EventKind string

const (
	EventMessageStart  EventKind = "message_start"
	EventMessageDelta  EventKind = "message_delta"
	EventToolCallStart EventKind = "tool_call_start"
	EventToolCallEnd   EventKind = "tool_call_end"
	EventMessageEnd    EventKind = "message_end"
	EventError         EventKind = "error"
)

// Usage mirrors the token accounting a provider reports on MessageEnd.
type Usage struct {
	InputTokens  int     `json:"inputTokens"`
	OutputTokens int     `json:"outputTokens"`
	CostUSD      float64 `json:"costUsd"`
}

// Event is one item of the stream an Adapter produces for a turn. Only the
// fields relevant to Kind are populated; callers switch on Kind first.
type Event struct {
	Kind EventKind

	// MessageDelta
	Text string

	// ToolCallStart
	ToolCallID   string
	ToolName     string
	ToolInput    json.RawMessage

	// ToolCallEnd
	ToolOutput json.RawMessage
	ToolError  string

	// MessageEnd
	Usage Usage

	// Error
	Err error

	// ResponseID carries the provider's own turn/response identifier, when
	// the provider supports chaining turns without retransmitting history.
	ResponseID string
}

// TurnRequest is what the Session Manager hands the adapter to drive one
// provider turn.
type TurnRequest struct {
	SessionID         string
	RepoPath          string
	Model             string
	SystemPrompt      string
	UserMessage       string
	PreviousResponseID string
}

// DetectResult reports what detect() observed about an installed CLI.
type DetectResult struct {
	Installed     bool
	Authenticated bool
	Version       string
	Path          string
	TokenExpiry   time.Time
}

// Handle is a live, spawned turn. Send delivers additional user input to an
// already-running child (used when a tool call needed approval mid-turn);
// Cancel requests graceful-then-forced termination. Pause/Resume freeze and
// thaw the child's CPU usage (SIGSTOP/SIGCONT on Unix) without ending the
// turn, for session.pause/session.resume.
type Handle interface {
	Events() <-chan Event
	Send(ctx context.Context, text string) error
	Cancel(ctx context.Context) error
	Pause() error
	Resume() error
	Wait() error
}

// Adapter abstracts one provider CLI (claude, codex, a generic script).
type Adapter interface {
	Name() string
	Detect(ctx context.Context) (DetectResult, error)
	Spawn(ctx context.Context, req TurnRequest) (Handle, error)
}

// Registry looks adapters up by the provider name stored on domain.Session.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

func (r *Registry) Register(a Adapter) {
	r.adapters[a.Name()] = a
}

func (r *Registry) Get(name string) (Adapter, bool) {
	a, ok := r.adapters[name]
	return a, ok
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}

// DetectAll runs detect() against every registered adapter, used by the
// doctor extension namespace.
func (r *Registry) DetectAll(ctx context.Context) map[string]DetectResult {
	out := make(map[string]DetectResult, len(r.adapters))
	for name, a := range r.adapters {
		res, err := a.Detect(ctx)
		if err != nil {
			res = DetectResult{}
		}
		out[name] = res
	}
	return out
}
