package diffs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	apperrors "github.com/kandev/agentgate/internal/common/errors"
	"github.com/kandev/agentgate/internal/common/logger"
	"github.com/kandev/agentgate/internal/models"
	"github.com/kandev/agentgate/internal/store"
)

// RevertResult counts what a revert touched.
type RevertResult struct {
	Reverted int `json:"reverted"`
	Skipped  int `json:"skipped"`
}

// SessionReverter undoes a session's staged file changes.
type SessionReverter interface {
	RevertAllSessionDiffs(ctx context.Context, sessionID, workingDir string) (RevertResult, error)
}

// Reverter restores the pre-change content of pending and applied diffs.
type Reverter struct {
	repo   store.DiffStore
	logger *logger.Logger
}

var _ SessionReverter = (*Reverter)(nil)

// NewReverter creates a reverter.
func NewReverter(repo store.DiffStore, log *logger.Logger) *Reverter {
	return &Reverter{
		repo:   repo,
		logger: log.WithFields(zap.String("component", "diff-reverter")),
	}
}

// RevertAllSessionDiffs walks the session's pending and applied diffs newest first,
// so the oldest snapshot of each file is what remains on disk. Files outside
// workingDir and diffs whose content was already cleared are skipped. A failing
// file does not stop the others.
func (r *Reverter) RevertAllSessionDiffs(ctx context.Context, sessionID, workingDir string) (RevertResult, error) {
	var result RevertResult
	if workingDir == "" {
		return result, apperrors.Validation("working_dir", "working directory is required")
	}
	root, err := filepath.Abs(workingDir)
	if err != nil {
		return result, apperrors.Validation("working_dir", err.Error())
	}

	all, err := r.repo.ListDiffsBySession(ctx, sessionID)
	if err != nil {
		return result, err
	}

	log := r.logger.WithSessionID(sessionID)
	var errs []error
	for i := len(all) - 1; i >= 0; i-- {
		d := all[i]
		if d.Status != models.DiffPending && d.Status != models.DiffApplied {
			continue
		}
		if !d.HasContent() {
			result.Skipped++
			log.Debug("diff content already cleared, skipping", zap.String("diff_id", d.ID))
			continue
		}
		target, ok := within(root, d.FilePath)
		if !ok {
			result.Skipped++
			log.Warn("diff outside working directory, skipping", zap.String("path", d.FilePath))
			continue
		}
		if err := restore(target, d.OldContent); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", describe(d), err))
			continue
		}
		if err := r.repo.UpdateDiffStatus(ctx, d.ID, models.DiffReverted); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", describe(d), err))
			continue
		}
		result.Reverted++
	}

	log.Info("session diffs reverted", zap.Int("reverted", result.Reverted), zap.Int("skipped", result.Skipped))
	if len(errs) > 0 {
		return result, apperrors.InternalError("failed to revert some diffs", errors.Join(errs...))
	}
	return result, nil
}

func within(root, path string) (string, bool) {
	target := path
	if !filepath.IsAbs(target) {
		target = filepath.Join(root, target)
	}
	target = filepath.Clean(target)
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return target, true
}

// restore writes old content back, or removes a file the agent created.
func restore(path string, old *string) error {
	if old == nil {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	}
	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(*old), mode)
}
