package session

import (
	"context"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/kandev/agentgate/internal/models"
)

const (
	defaultSummaryLimit = 3
	maxSummaryLength    = 2000
)

// composeSystemPrompt joins, in order, the global prompt, the project prompt, the
// agent role and the agent's most recent session summaries.
func (m *Manager) composeSystemPrompt(ctx context.Context, settings *models.Settings, project *models.Project, agent *models.Agent) string {
	var parts []string
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	add(settings.SystemPrompt)
	add(project.SystemPrompt)
	if agent == nil {
		return strings.Join(parts, "\n\n")
	}
	add(agent.Role)

	limit := settings.SummaryLimit
	if limit <= 0 {
		limit = defaultSummaryLimit
	}
	recent, err := m.repo.ListRecentSessionsByAgent(ctx, agent.ID, limit)
	if err != nil {
		m.logger.Warn("failed to load previous session summaries", zap.String("agent_id", agent.ID), zap.Error(err))
		return strings.Join(parts, "\n\n")
	}
	if block := summaryBlock(recent); block != "" {
		parts = append(parts, block)
	}
	return strings.Join(parts, "\n\n")
}

func summaryBlock(sessions []*models.Session) string {
	var b strings.Builder
	for _, s := range sessions {
		summary := strings.TrimSpace(s.Summary)
		if summary == "" {
			continue
		}
		if b.Len() == 0 {
			b.WriteString("Summaries of your previous sessions, newest first:")
		}
		b.WriteString("\n- ")
		b.WriteString(strings.ReplaceAll(summary, "\n", " "))
	}
	return b.String()
}

// initialPrompt falls back to the task itself when the caller gave no prompt.
func initialPrompt(req StartRequest, task *models.Task) string {
	if p := strings.TrimSpace(req.Prompt); p != "" {
		return p
	}
	if task.Description == "" {
		return task.Title
	}
	if task.Title == "" {
		return task.Description
	}
	return task.Title + "\n\n" + task.Description
}

func truncateSummary(text string) string {
	text = strings.TrimSpace(text)
	if len(text) <= maxSummaryLength {
		return text
	}
	cut := maxSummaryLength
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "..."
}

