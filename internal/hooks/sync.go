package hooks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	apperrors "github.com/kandev/agentgate/internal/common/errors"
	"github.com/kandev/agentgate/internal/models"
)

// File is the hooks sync document:
//
//	hooks:
//	  - name: lint
//	    event: tool:after
//	    transport: shell
//	    command: make lint
type File struct {
	Hooks []FileHook `yaml:"hooks" json:"hooks"`
}

// FileHook is one hook entry of the sync file.
type FileHook struct {
	Name      string               `yaml:"name" json:"name"`
	Scope     models.HookScope     `yaml:"scope,omitempty" json:"scope,omitempty"`
	ProjectID string               `yaml:"project_id,omitempty" json:"project_id,omitempty"`
	TaskID    string               `yaml:"task_id,omitempty" json:"task_id,omitempty"`
	Event     models.HookEventType `yaml:"event" json:"event"`
	Transport models.HookTransport `yaml:"transport" json:"transport"`
	Command   string               `yaml:"command,omitempty" json:"command,omitempty"`
	URL       string               `yaml:"url,omitempty" json:"url,omitempty"`
	Filter    models.HookFilter    `yaml:"filter,omitempty" json:"filter,omitempty"`
	Priority  int                  `yaml:"priority,omitempty" json:"priority,omitempty"`
	Blocking  bool                 `yaml:"blocking,omitempty" json:"blocking,omitempty"`
	Enabled   *bool                `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Timeout   int                  `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
}

func (f FileHook) toModel() *models.Hook {
	enabled := true
	if f.Enabled != nil {
		enabled = *f.Enabled
	}
	h := &models.Hook{
		Name:           f.Name,
		Scope:          f.Scope,
		ProjectID:      f.ProjectID,
		TaskID:         f.TaskID,
		EventType:      f.Event,
		Transport:      f.Transport,
		Command:        f.Command,
		URL:            f.URL,
		Filter:         f.Filter,
		Priority:       f.Priority,
		Blocking:       f.Blocking,
		Enabled:        enabled,
		TimeoutSeconds: f.Timeout,
	}
	normalize(h)
	return h
}

// SyncResult counts what a sync changed.
type SyncResult struct {
	Created  int `json:"created"`
	Updated  int `json:"updated"`
	Disabled int `json:"disabled"`
}

// ParseFile decodes and validates a sync document.
func ParseFile(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, apperrors.Validation("hooks", "invalid hooks file: "+err.Error())
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// LoadFile reads and parses the sync file at path.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read hooks file: %w", err)
	}
	return ParseFile(data)
}

// Validate checks every entry and rejects duplicate names within one owner.
func (f *File) Validate() error {
	var errs []string
	seen := make(map[string]bool, len(f.Hooks))
	for i, fh := range f.Hooks {
		h := fh.toModel()
		if err := Validate(h); err != nil {
			errs = append(errs, fmt.Sprintf("hooks[%d] (%s): %s", i, h.Name, apperrors.Message(err)))
			continue
		}
		key := syncKey(h)
		if seen[key] {
			errs = append(errs, fmt.Sprintf("hooks[%d]: duplicate hook %q in scope %s", i, h.Name, h.Scope))
		}
		seen[key] = true
	}
	if len(errs) > 0 {
		return apperrors.Validation("hooks", strings.Join(errs, "; "))
	}
	return nil
}

func syncKey(h *models.Hook) string {
	owner := ""
	switch h.Scope {
	case models.HookScopeProject:
		owner = h.ProjectID
	case models.HookScopeTask:
		owner = h.TaskID
	}
	return string(h.Scope) + "\x00" + owner + "\x00" + h.Name
}

// Sync makes the stored hooks match the file: entries are upserted by name and
// scope, stored hooks missing from the file are disabled.
func (s *Service) Sync(ctx context.Context, f *File) (*SyncResult, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	existing, err := s.repo.ListHooks(ctx, models.HookQuery{})
	if err != nil {
		return nil, err
	}
	byKey := make(map[string]*models.Hook, len(existing))
	for _, h := range existing {
		byKey[syncKey(h)] = h
	}

	result := &SyncResult{}
	var errs []error
	inFile := make(map[string]bool, len(f.Hooks))
	for _, fh := range f.Hooks {
		want := fh.toModel()
		key := syncKey(want)
		inFile[key] = true

		current, ok := byKey[key]
		if !ok {
			if _, err := s.Create(ctx, want); err != nil {
				errs = append(errs, fmt.Errorf("create %s: %w", want.Name, err))
				continue
			}
			result.Created++
			continue
		}
		if sameConfig(current, want) {
			continue
		}
		if _, err := s.Update(ctx, current.ID, want); err != nil {
			errs = append(errs, fmt.Errorf("update %s: %w", want.Name, err))
			continue
		}
		result.Updated++
	}

	for key, h := range byKey {
		if inFile[key] || !h.Enabled {
			continue
		}
		h.Enabled = false
		h.UpdatedAt = s.now()
		if err := s.repo.UpdateHook(ctx, h); err != nil {
			errs = append(errs, fmt.Errorf("disable %s: %w", h.Name, err))
			continue
		}
		result.Disabled++
	}

	s.logger.Info("hooks synced",
		zap.Int("created", result.Created),
		zap.Int("updated", result.Updated),
		zap.Int("disabled", result.Disabled))
	if len(errs) > 0 {
		return result, apperrors.InternalError("hooks sync incomplete", errors.Join(errs...))
	}
	return result, nil
}

// SyncFile loads path and syncs it.
func (s *Service) SyncFile(ctx context.Context, path string) (*SyncResult, error) {
	f, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return s.Sync(ctx, f)
}

func sameConfig(a, b *models.Hook) bool {
	return a.EventType == b.EventType &&
		a.Transport == b.Transport &&
		a.Command == b.Command &&
		a.URL == b.URL &&
		a.Priority == b.Priority &&
		a.Blocking == b.Blocking &&
		a.Enabled == b.Enabled &&
		a.TimeoutSeconds == b.TimeoutSeconds &&
		equalStrings(a.Filter.ToolNames, b.Filter.ToolNames) &&
		equalStrings(a.Filter.Statuses, b.Filter.Statuses) &&
		equalStrings(a.Filter.Providers, b.Filter.Providers)
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
