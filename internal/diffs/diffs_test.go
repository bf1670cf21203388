package diffs

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kandev/agentgate/internal/common/errors"
	"github.com/kandev/agentgate/internal/common/logger"
	"github.com/kandev/agentgate/internal/models"
	"github.com/kandev/agentgate/internal/store/memory"
)

func newTestTracker(t *testing.T) (*Tracker, *Reverter, *memory.Store) {
	t.Helper()
	repo := memory.New()
	log := logger.NewNop()
	tr := NewTracker(repo, log)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	tr.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return tr, NewReverter(repo, log), repo
}

func strPtr(s string) *string { return &s }

func TestTracker_Record(t *testing.T) {
	tr, _, repo := newTestTracker(t)
	ctx := context.Background()

	d, err := tr.Record(ctx, "s1", "a1", "/work/main.go", strPtr("package main\n"), "package main\n\nfunc main() {}\n")
	require.NoError(t, err)
	assert.Equal(t, models.DiffPending, d.Status)
	require.NotNil(t, d.FullText)
	assert.Contains(t, *d.FullText, "--- a/work/main.go")
	assert.Contains(t, *d.FullText, "+func main() {}")

	require.NoError(t, tr.MarkApplied(ctx, d.ID))
	got, err := repo.GetDiff(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DiffApplied, got.Status)

	_, err = tr.Record(ctx, "", "", "x", nil, "")
	assert.True(t, apperrors.IsValidation(err))
}

func TestProposedContent(t *testing.T) {
	current := strPtr("alpha beta alpha\n")
	tests := []struct {
		name  string
		tool  string
		input map[string]any
		cur   *string
		want  string
		ok    bool
	}{
		{name: "write", tool: "Write", input: map[string]any{"content": "new"}, cur: current, want: "new", ok: true},
		{name: "edit first", tool: "Edit", input: map[string]any{"old_string": "alpha", "new_string": "gamma"}, cur: current, want: "gamma beta alpha\n", ok: true},
		{name: "edit all", tool: "Edit", input: map[string]any{"old_string": "alpha", "new_string": "gamma", "replace_all": true}, cur: current, want: "gamma beta gamma\n", ok: true},
		{name: "edit missing", tool: "Edit", input: map[string]any{"old_string": "delta", "new_string": "x"}, cur: current, ok: false},
		{name: "edit creates", tool: "Edit", input: map[string]any{"old_string": "", "new_string": "fresh"}, cur: nil, want: "fresh", ok: true},
		{name: "multi", tool: "MultiEdit", input: map[string]any{"edits": []any{
			map[string]any{"old_string": "beta", "new_string": "BETA"},
			map[string]any{"old_string": "alpha", "new_string": "A", "replace_all": true},
		}}, cur: current, want: "A BETA A\n", ok: true},
		{name: "unsupported tool", tool: "Bash", input: map[string]any{"command": "ls"}, cur: current, ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ProposedContent(tt.tool, tt.input, tt.cur)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestReverter_RestoresOldestSnapshot(t *testing.T) {
	tr, rv, repo := newTestTracker(t)
	ctx := context.Background()
	dir := t.TempDir()
	file := filepath.Join(dir, "a.txt")
	created := filepath.Join(dir, "new.txt")

	require.NoError(t, os.WriteFile(file, []byte("v3"), 0o600))
	require.NoError(t, os.WriteFile(created, []byte("agent made this"), 0o644))

	d1, err := tr.Record(ctx, "s1", "", file, strPtr("v1"), "v2")
	require.NoError(t, err)
	require.NoError(t, tr.MarkApplied(ctx, d1.ID))
	_, err = tr.Record(ctx, "s1", "", "a.txt", strPtr("v2"), "v3")
	require.NoError(t, err)
	_, err = tr.Record(ctx, "s1", "", created, nil, "agent made this")
	require.NoError(t, err)
	rejected, err := tr.Record(ctx, "s1", "", file, strPtr("never"), "x")
	require.NoError(t, err)
	require.NoError(t, tr.MarkRejected(ctx, rejected.ID))
	_, err = tr.Record(ctx, "s1", "", "/etc/hosts", strPtr("x"), "y")
	require.NoError(t, err)
	_, err = tr.Record(ctx, "s2", "", file, strPtr("other"), "z")
	require.NoError(t, err)

	result, err := rv.RevertAllSessionDiffs(ctx, "s1", dir)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Reverted)
	assert.Equal(t, 1, result.Skipped)

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, "v1", string(data))
	info, err := os.Stat(file)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	_, err = os.Stat(created)
	assert.True(t, os.IsNotExist(err))

	got, err := repo.GetDiff(ctx, d1.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DiffReverted, got.Status)
	got, err = repo.GetDiff(ctx, rejected.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DiffRejected, got.Status)

	// Nothing left to revert.
	again, err := rv.RevertAllSessionDiffs(ctx, "s1", dir)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Reverted)
}

func TestReverter_SkipsClearedContent(t *testing.T) {
	tr, rv, repo := newTestTracker(t)
	ctx := context.Background()
	dir := t.TempDir()

	d, err := tr.Record(ctx, "s1", "", "a.txt", strPtr("old"), "new")
	require.NoError(t, err)
	require.NoError(t, tr.MarkApplied(ctx, d.ID))
	require.NoError(t, repo.ClearDiffContent(ctx, d.ID))

	result, err := rv.RevertAllSessionDiffs(ctx, "s1", dir)
	require.NoError(t, err)
	assert.Equal(t, RevertResult{Skipped: 1}, result)
}

func TestReverter_RequiresWorkingDir(t *testing.T) {
	_, rv, _ := newTestTracker(t)
	_, err := rv.RevertAllSessionDiffs(context.Background(), "s1", "")
	assert.True(t, apperrors.IsValidation(err))
}
