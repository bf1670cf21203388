// Package diffs records file changes approved for agents and reverts them.
package diffs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pmezard/go-difflib/difflib"
	"go.uber.org/zap"

	apperrors "github.com/kandev/agentgate/internal/common/errors"
	"github.com/kandev/agentgate/internal/common/logger"
	"github.com/kandev/agentgate/internal/models"
	"github.com/kandev/agentgate/internal/store"
)

// Tracker stores diffs for file edits.
type Tracker struct {
	repo   store.DiffStore
	logger *logger.Logger
	now    func() time.Time
}

// NewTracker creates a tracker.
func NewTracker(repo store.DiffStore, log *logger.Logger) *Tracker {
	return &Tracker{
		repo:   repo,
		logger: log.WithFields(zap.String("component", "diff-tracker")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Record stores a pending diff. A nil oldContent means the file did not exist.
func (t *Tracker) Record(ctx context.Context, sessionID, approvalID, path string, oldContent *string, newContent string) (*models.Diff, error) {
	if sessionID == "" {
		return nil, apperrors.Validation("session_id", "session id is required")
	}
	if path == "" {
		return nil, apperrors.Validation("file_path", "file path is required")
	}
	before := ""
	if oldContent != nil {
		before = *oldContent
	}
	text, err := Unified(path, before, newContent)
	if err != nil {
		return nil, apperrors.InternalError("failed to build diff", err)
	}

	now := t.now()
	d := &models.Diff{
		ID:         uuid.New().String(),
		SessionID:  sessionID,
		ApprovalID: approvalID,
		FilePath:   path,
		OldContent: oldContent,
		NewContent: &newContent,
		FullText:   &text,
		Status:     models.DiffPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := t.repo.CreateDiff(ctx, d); err != nil {
		return nil, err
	}
	t.logger.WithSessionID(sessionID).Debug("diff recorded", zap.String("diff_id", d.ID), zap.String("path", path))
	return d, nil
}

// MarkApplied flags a diff whose tool call completed.
func (t *Tracker) MarkApplied(ctx context.Context, diffID string) error {
	return t.repo.UpdateDiffStatus(ctx, diffID, models.DiffApplied)
}

// MarkRejected flags a diff whose tool call failed or was denied.
func (t *Tracker) MarkRejected(ctx context.Context, diffID string) error {
	return t.repo.UpdateDiffStatus(ctx, diffID, models.DiffRejected)
}

// ListBySession returns a session's diffs, oldest first.
func (t *Tracker) ListBySession(ctx context.Context, sessionID string) ([]*models.Diff, error) {
	return t.repo.ListDiffsBySession(ctx, sessionID)
}

// Unified renders a unified diff of before and after.
func Unified(path, before, after string) (string, error) {
	name := strings.TrimPrefix(path, "/")
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(before),
		B:        difflib.SplitLines(after),
		FromFile: "a/" + name,
		ToFile:   "b/" + name,
		Context:  3,
	})
}

// ReadCurrent returns the file content, or nil when it does not exist.
func ReadCurrent(path string) (*string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s := string(data)
	return &s, nil
}

// ProposedContent computes the file content a file-edit tool call would produce.
// It reports false when the input cannot be applied to current.
func ProposedContent(toolName string, input map[string]any, current *string) (string, bool) {
	base := ""
	if current != nil {
		base = *current
	}
	switch toolName {
	case models.ToolWrite:
		content, ok := input["content"].(string)
		return content, ok
	case models.ToolEdit:
		return applyEdit(base, input)
	case models.ToolMultiEdit:
		edits, ok := input["edits"].([]any)
		if !ok {
			return "", false
		}
		out := base
		for _, raw := range edits {
			edit, ok := raw.(map[string]any)
			if !ok {
				return "", false
			}
			if out, ok = applyEdit(out, edit); !ok {
				return "", false
			}
		}
		return out, true
	}
	return "", false
}

func applyEdit(content string, edit map[string]any) (string, bool) {
	oldStr, _ := edit["old_string"].(string)
	newStr, ok := edit["new_string"].(string)
	if !ok {
		return "", false
	}
	if oldStr == "" {
		// Claude uses an empty old_string to create a file.
		if content != "" {
			return "", false
		}
		return newStr, true
	}
	if !strings.Contains(content, oldStr) {
		return "", false
	}
	if all, _ := edit["replace_all"].(bool); all {
		return strings.ReplaceAll(content, oldStr, newStr), true
	}
	return strings.Replace(content, oldStr, newStr, 1), true
}

func describe(d *models.Diff) string {
	return fmt.Sprintf("%s (%s)", d.FilePath, d.ID)
}
