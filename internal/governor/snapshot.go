package governor

import (
	"context"
	"fmt"
	"strings"

	"github.com/clawde-io/clawd/internal/domain"
	"github.com/clawde-io/clawd/internal/render"
)

// Summarizer produces a compressed rolling summary of a session's recent
// activity, backed by a configured langchaingo chat model (spec §4.4:
// "context compression ... may call out to a configured summarizer model").
type Summarizer interface {
	Summarize(ctx context.Context, sessionID string, recent []*domain.Message, worktrees []*domain.Worktree) (string, error)
}

const snapshotRecentMessages = 6

// buildSnapshot assembles the content written into a ContextSnapshot on
// Warm->Cold demotion: the configured Summarizer's output when available,
// falling back to a plain templated digest of the last few assistant turns
// and any active task worktrees, mirroring internal/session/primer.go's
// buildPrimer approach of composing context directly from storage rather
// than reaching into actor internals.
func (g *Governor) buildSnapshot(ctx context.Context, s *domain.Session) (string, int, error) {
	msgs, err := g.cfg.Storage.Messages().List(ctx, domain.MessageFilter{SessionID: s.ID}, domain.Pagination{Limit: snapshotRecentMessages})
	if err != nil {
		return "", 0, fmt.Errorf("list recent messages: %w", err)
	}

	worktrees, err := g.cfg.Storage.Worktrees().List(ctx, &s.RepoPath)
	if err != nil {
		worktrees = nil
	}
	active := make([]*domain.Worktree, 0, len(worktrees))
	for _, w := range worktrees {
		if w.Status == domain.WorktreeActive {
			active = append(active, w)
		}
	}

	if g.cfg.Summarizer != nil {
		content, err := g.cfg.Summarizer.Summarize(ctx, s.ID, msgs, active)
		if err == nil && strings.TrimSpace(content) != "" {
			return content, estimateTokens(content), nil
		}
	}

	content, err := templateSummary(s, msgs, active)
	if err != nil {
		return "", 0, fmt.Errorf("render fallback summary: %w", err)
	}
	return content, estimateTokens(content), nil
}

// summaryTemplate is the no-model fallback digest of recent assistant
// output and active task state, rendered through the same mugo template
// engine internal/session/primer.go uses for context primers.
const summaryTemplate = `session {{ .SessionID }} ({{ .Provider }}, {{ .RepoPath }}) demoted from active state.
{{ if .ActiveTasks }}active task worktrees:
{{ range .ActiveTasks }}- {{ .TaskID }} on {{ .Branch }} (base {{ .BaseBranch }})
{{ end }}{{ end }}recent turns:
{{ range .RecentTurns }}- {{ . }}
{{ end }}`

type summaryData struct {
	SessionID   string
	Provider    string
	RepoPath    string
	ActiveTasks []*domain.Worktree
	RecentTurns []string
}

func templateSummary(s *domain.Session, msgs []*domain.Message, active []*domain.Worktree) (string, error) {
	var turns []string
	for _, m := range msgs {
		if m.Role != domain.RoleAssistant {
			continue
		}
		text := m.Content
		if len(text) > 500 {
			text = text[:500] + "..."
		}
		turns = append(turns, text)
	}

	out, err := render.ExecuteWithData(summaryTemplate, summaryData{
		SessionID:   s.ID,
		Provider:    s.Provider,
		RepoPath:    s.RepoPath,
		ActiveTasks: active,
		RecentTurns: turns,
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func estimateTokens(s string) int {
	return len(s) / 4
}
