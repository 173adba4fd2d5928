package session

import (
	"context"
	"fmt"

	"github.com/clawde-io/clawd/internal/domain"
	"github.com/clawde-io/clawd/internal/render"
)

// primerTurnCount is the "last K" of spec §4.3/§4.4 (K=3).
const primerTurnCount = 3

// primerTemplate renders the inherit_from context primer written as the new
// session's first system message, the same mugo templating engine the
// teacher uses for workflow prompt_template nodes (internal/service/workflow,
// nodes/template.go), reused here for primer assembly instead of workflow
// node output.
const primerTemplate = `You are continuing work previously done in session {{ .SourceSessionID }}{{ if .SourceTitle }} ("{{ .SourceTitle }}"){{ end }}.

Recent assistant turns, oldest first:
{{ range .RecentTurns }}
- {{ . }}
{{ end }}
{{ if .ActiveTaskIDs }}
Active task IDs from that session's repository: {{ range .ActiveTaskIDs }}{{ . }} {{ end }}
{{ end }}`

type primerData struct {
	SourceSessionID string
	SourceTitle     string
	RecentTurns     []string
	ActiveTaskIDs   []string
}

// buildPrimer synthesises the context primer described in spec §4.3: the
// last primerTurnCount completed assistant turns and the active task IDs
// of the inherit_from session's repository.
func (m *Manager) buildPrimer(ctx context.Context, sourceSessionID string) (string, error) {
	src, err := m.storage.Sessions().Get(ctx, sourceSessionID)
	if err != nil {
		return "", ErrInheritSourceNotFound
	}

	role := domain.RoleAssistant
	msgs, err := m.storage.Messages().List(ctx, domain.MessageFilter{SessionID: sourceSessionID, Role: &role}, domain.Pagination{Limit: 50})
	if err != nil {
		return "", fmt.Errorf("list source messages: %w", err)
	}

	// msgs arrive newest first: keep the newest primerTurnCount completed
	// turns, then reverse them so the primer reads oldest first.
	var turns []string
	for _, msg := range msgs {
		if msg.Status != domain.MessageDone {
			continue
		}
		turns = append(turns, msg.Content)
		if len(turns) == primerTurnCount {
			break
		}
	}
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}

	var taskIDs []string
	worktrees, err := m.storage.Worktrees().List(ctx, &src.RepoPath)
	if err == nil {
		for _, w := range worktrees {
			if w.Status == domain.WorktreeActive {
				taskIDs = append(taskIDs, w.TaskID)
			}
		}
	}

	data := primerData{
		SourceSessionID: sourceSessionID,
		SourceTitle:     src.Title,
		RecentTurns:     turns,
		ActiveTaskIDs:   taskIDs,
	}

	out, err := render.ExecuteWithData(primerTemplate, data)
	if err != nil {
		return "", fmt.Errorf("render context primer: %w", err)
	}
	return string(out), nil
}
