// Package generic adapts an arbitrary operator-declared CLI to
// provider.Adapter, for coding assistants clawd has no vendor-specific
// parser for (Cursor, Aider, a home-grown script). It assumes the CLI
// already speaks clawd's NDJSON event shape on stdout — an operator
// wrapping a CLI that doesn't is responsible for a thin shim script.
package generic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/clawde-io/clawd/internal/provider"
)

type Config struct {
	ProviderName string
	Path         string
	Args         []string
}

type Adapter struct {
	cfg Config
}

func New(cfg Config) *Adapter {
	return &Adapter{cfg: cfg}
}

func (a *Adapter) Name() string { return a.cfg.ProviderName }

func (a *Adapter) Detect(ctx context.Context) (provider.DetectResult, error) {
	installed, version := provider.DetectVersion(ctx, a.cfg.Path)
	return provider.DetectResult{
		Installed:     installed,
		Authenticated: installed,
		Version:       version,
		Path:          a.cfg.Path,
	}, nil
}

func (a *Adapter) Spawn(ctx context.Context, req provider.TurnRequest) (provider.Handle, error) {
	h, err := provider.StartProcess(ctx, a.cfg.Path, a.cfg.Args, parseLine)
	if err != nil {
		return nil, fmt.Errorf("spawn %s: %w", a.cfg.ProviderName, err)
	}

	if err := h.Send(ctx, req.UserMessage); err != nil {
		return nil, fmt.Errorf("send initial message to %s: %w", a.cfg.ProviderName, err)
	}

	return h, nil
}

// nativeEvent is clawd's own NDJSON event shape, matching provider.EventKind
// values directly so a wrapper script needs no vendor-specific translation.
type nativeEvent struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	ToolCallID string          `json:"toolCallId,omitempty"`
	ToolName   string          `json:"toolName,omitempty"`
	ToolInput  json.RawMessage `json:"toolInput,omitempty"`
	ToolOutput json.RawMessage `json:"toolOutput,omitempty"`
	ToolError  string          `json:"toolError,omitempty"`

	ResponseID   string  `json:"responseId,omitempty"`
	InputTokens  int     `json:"inputTokens,omitempty"`
	OutputTokens int     `json:"outputTokens,omitempty"`
	CostUSD      float64 `json:"costUsd,omitempty"`

	Error string `json:"error,omitempty"`
}

func parseLine(line []byte) []provider.Event {
	var ev nativeEvent
	if err := json.Unmarshal(line, &ev); err != nil {
		return nil
	}

	switch provider.EventKind(ev.Type) {
	case provider.EventMessageStart:
		return []provider.Event{{Kind: provider.EventMessageStart}}
	case provider.EventMessageDelta:
		return []provider.Event{{Kind: provider.EventMessageDelta, Text: ev.Text}}
	case provider.EventToolCallStart:
		return []provider.Event{{Kind: provider.EventToolCallStart, ToolCallID: ev.ToolCallID, ToolName: ev.ToolName, ToolInput: ev.ToolInput}}
	case provider.EventToolCallEnd:
		return []provider.Event{{Kind: provider.EventToolCallEnd, ToolCallID: ev.ToolCallID, ToolOutput: ev.ToolOutput, ToolError: ev.ToolError}}
	case provider.EventMessageEnd:
		return []provider.Event{{
			Kind:       provider.EventMessageEnd,
			ResponseID: ev.ResponseID,
			Usage: provider.Usage{
				InputTokens:  ev.InputTokens,
				OutputTokens: ev.OutputTokens,
				CostUSD:      ev.CostUSD,
			},
		}}
	case provider.EventError:
		return []provider.Event{{Kind: provider.EventError, Err: fmt.Errorf("%s", ev.Error)}}
	default:
		return nil
	}
}

var _ provider.Adapter = (*Adapter)(nil)
