// Package codex adapts the OpenAI Codex CLI to provider.Adapter.
package codex

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/clawde-io/clawd/internal/provider"
)

type Config struct {
	Path           string
	Model          string
	CredentialFile string // defaults to ~/.codex/auth.json when empty
}

type Adapter struct {
	cfg Config
}

func New(cfg Config) *Adapter {
	if cfg.CredentialFile == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.CredentialFile = filepath.Join(home, ".codex", "auth.json")
		}
	}
	return &Adapter{cfg: cfg}
}

func (a *Adapter) Name() string { return "codex" }

func (a *Adapter) Detect(ctx context.Context) (provider.DetectResult, error) {
	installed, version := provider.DetectVersion(ctx, a.cfg.Path)
	res := provider.DetectResult{Installed: installed, Version: version, Path: a.cfg.Path}
	if !installed {
		return res, nil
	}

	tok, err := provider.ReadCredential(provider.CredentialFile{
		Path: a.cfg.CredentialFile,
		Unwrap: func(raw []byte) []byte {
			var wrapper struct {
				Tokens json.RawMessage `json:"tokens"`
			}
			if json.Unmarshal(raw, &wrapper) == nil && len(wrapper.Tokens) > 0 {
				return wrapper.Tokens
			}
			return raw
		},
	})
	if err == nil && tok.Valid() {
		res.Authenticated = true
		res.TokenExpiry = tok.Expiry
	}

	return res, nil
}

func (a *Adapter) Spawn(ctx context.Context, req provider.TurnRequest) (provider.Handle, error) {
	args := []string{"exec", "--json"}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	} else if a.cfg.Model != "" {
		args = append(args, "--model", a.cfg.Model)
	}
	if req.PreviousResponseID != "" {
		args = append(args, "--session-id", req.PreviousResponseID)
	}

	h, err := provider.StartProcess(ctx, a.cfg.Path, args, parseLine)
	if err != nil {
		return nil, fmt.Errorf("spawn codex: %w", err)
	}

	prompt := req.UserMessage
	if req.SystemPrompt != "" {
		prompt = req.SystemPrompt + "\n\n" + prompt
	}
	if err := h.Send(ctx, prompt); err != nil {
		return nil, fmt.Errorf("send initial message to codex: %w", err)
	}

	return h, nil
}

// codexEvent is Codex's `exec --json` NDJSON event envelope.
type codexEvent struct {
	Type string `json:"type"`

	Msg struct {
		Text string `json:"text"`
	} `json:"msg"`

	Call struct {
		ID        string          `json:"id"`
		Command   string          `json:"command"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"call"`

	Output json.RawMessage `json:"output"`
	Error  string          `json:"error"`

	SessionID    string  `json:"session_id"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

func parseLine(line []byte) []provider.Event {
	var ev codexEvent
	if err := json.Unmarshal(line, &ev); err != nil {
		return nil
	}

	switch ev.Type {
	case "task_started":
		return []provider.Event{{Kind: provider.EventMessageStart}}
	case "agent_message_delta":
		return []provider.Event{{Kind: provider.EventMessageDelta, Text: ev.Msg.Text}}
	case "exec_command_begin":
		return []provider.Event{{
			Kind:       provider.EventToolCallStart,
			ToolCallID: ev.Call.ID,
			ToolName:   ev.Call.Command,
			ToolInput:  ev.Call.Arguments,
		}}
	case "exec_command_end":
		return []provider.Event{{
			Kind:       provider.EventToolCallEnd,
			ToolCallID: ev.Call.ID,
			ToolOutput: ev.Output,
			ToolError:  ev.Error,
		}}
	case "task_complete":
		return []provider.Event{{
			Kind:       provider.EventMessageEnd,
			ResponseID: ev.SessionID,
			Usage: provider.Usage{
				InputTokens:  ev.InputTokens,
				OutputTokens: ev.OutputTokens,
				CostUSD:      ev.CostUSD,
			},
		}}
	case "error":
		return []provider.Event{{Kind: provider.EventError, Err: fmt.Errorf("codex: %s", ev.Error)}}
	default:
		return nil
	}
}

var _ provider.Adapter = (*Adapter)(nil)
