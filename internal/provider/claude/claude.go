// Package claude adapts the Claude Code CLI to provider.Adapter: it spawns
// the CLI with its stream-json output mode, maps Claude's NDJSON event
// shape onto provider.Event, and reads the CLI's own credential file to
// report authentication status.
package claude

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/clawde-io/clawd/internal/provider"
)

// Config is the claude-specific slice of internal/config.Provider.
type Config struct {
	Path        string
	Model       string
	CredentialFile string // defaults to ~/.claude/.credentials.json when empty
}

type Adapter struct {
	cfg Config
}

func New(cfg Config) *Adapter {
	if cfg.CredentialFile == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.CredentialFile = filepath.Join(home, ".claude", ".credentials.json")
		}
	}
	return &Adapter{cfg: cfg}
}

func (a *Adapter) Name() string { return "claude" }

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
				ClaudeAiOauth json.RawMessage `json:"claudeAiOauth"`
			}
			if json.Unmarshal(raw, &wrapper) == nil && len(wrapper.ClaudeAiOauth) > 0 {
				return wrapper.ClaudeAiOauth
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
	args := []string{
		"--output-format", "stream-json",
		"--input-format", "stream-json",
		"--print",
	}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	} else if a.cfg.Model != "" {
		args = append(args, "--model", a.cfg.Model)
	}
	if req.SystemPrompt != "" {
		args = append(args, "--system-prompt", req.SystemPrompt)
	}
	if req.PreviousResponseID != "" {
		args = append(args, "--resume", req.PreviousResponseID)
	}

	h, err := provider.StartProcess(ctx, a.cfg.Path, args, parseLine)
	if err != nil {
		return nil, fmt.Errorf("spawn claude: %w", err)
	}

	if err := h.Send(ctx, req.UserMessage); err != nil {
		return nil, fmt.Errorf("send initial message to claude: %w", err)
	}

	return h, nil
}

// streamEvent is Claude Code's stream-json line shape. Distinct payload
// kinds share one envelope discriminated by Type, the same flattened-event
// style the teacher's antropic.go SSE parser switches on.
type streamEvent struct {
	Type string `json:"type"`

	// assistant/content_block_delta-equivalent
	Delta struct {
		Text string `json:"text"`
	} `json:"delta"`

	// tool_use
	ToolUseID string          `json:"tool_use_id"`
	ToolName  string          `json:"name"`
	ToolInput json.RawMessage `json:"input"`

	// tool_result
	Output json.RawMessage `json:"output"`
	Error  string          `json:"error"`

	// result/usage
	ResponseID   string `json:"response_id"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	CostUSD      float64 `json:"total_cost_usd"`

	IsError bool `json:"is_error"`
}

func parseLine(line []byte) []provider.Event {
	var ev streamEvent
	if err := json.Unmarshal(line, &ev); err != nil {
		return nil
	}

	switch ev.Type {
	case "system":
		return []provider.Event{{Kind: provider.EventMessageStart}}
	case "assistant":
		if ev.Delta.Text != "" {
			return []provider.Event{{Kind: provider.EventMessageDelta, Text: ev.Delta.Text}}
		}
		return nil
	case "tool_use":
		return []provider.Event{{
			Kind:       provider.EventToolCallStart,
			ToolCallID: ev.ToolUseID,
			ToolName:   ev.ToolName,
			ToolInput:  ev.ToolInput,
		}}
	case "tool_result":
		return []provider.Event{{
			Kind:       provider.EventToolCallEnd,
			ToolCallID: ev.ToolUseID,
			ToolOutput: ev.Output,
			ToolError:  ev.Error,
		}}
	case "result":
		if ev.IsError {
			return []provider.Event{{Kind: provider.EventError, Err: fmt.Errorf("claude: %s", ev.Error)}}
		}
		return []provider.Event{{
			Kind:       provider.EventMessageEnd,
			ResponseID: ev.ResponseID,
			Usage: provider.Usage{
				InputTokens:  ev.InputTokens,
				OutputTokens: ev.OutputTokens,
				CostUSD:      ev.CostUSD,
			},
		}}
	default:
		return nil
	}
}

var _ provider.Adapter = (*Adapter)(nil)
