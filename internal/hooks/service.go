package hooks

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/kandev/agentgate/internal/common/errors"
	"github.com/kandev/agentgate/internal/common/logger"
	"github.com/kandev/agentgate/internal/models"
	"github.com/kandev/agentgate/internal/store"
)

// Service owns hook configuration: CRUD and file sync.
type Service struct {
	repo   store.HookStore
	logger *logger.Logger
	now    func() time.Time
}

// NewService creates a hook service.
func NewService(repo store.HookStore, log *logger.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: log.WithFields(zap.String("component", "hook-service")),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Create validates and stores a new hook.
func (s *Service) Create(ctx context.Context, hook *models.Hook) (*models.Hook, error) {
	normalize(hook)
	if err := Validate(hook); err != nil {
		return nil, err
	}
	now := s.now()
	hook.ID = uuid.New().String()
	hook.CreatedAt = now
	hook.UpdatedAt = now
	if err := s.repo.CreateHook(ctx, hook); err != nil {
		return nil, err
	}
	s.logger.Info("hook created", zap.String("hook_id", hook.ID), zap.String("name", hook.Name))
	return hook, nil
}

// Update replaces a hook's configuration.
func (s *Service) Update(ctx context.Context, id string, hook *models.Hook) (*models.Hook, error) {
	existing, err := s.repo.GetHook(ctx, id)
	if err != nil {
		return nil, err
	}
	normalize(hook)
	if err := Validate(hook); err != nil {
		return nil, err
	}
	hook.ID = existing.ID
	hook.CreatedAt = existing.CreatedAt
	hook.UpdatedAt = s.now()
	if err := s.repo.UpdateHook(ctx, hook); err != nil {
		return nil, err
	}
	return hook, nil
}

// Delete removes a hook.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.DeleteHook(ctx, id); err != nil {
		return err
	}
	s.logger.Info("hook deleted", zap.String("hook_id", id))
	return nil
}

// Get returns one hook.
func (s *Service) Get(ctx context.Context, id string) (*models.Hook, error) {
	return s.repo.GetHook(ctx, id)
}

// List returns hooks matching query.
func (s *Service) List(ctx context.Context, query models.HookQuery) ([]*models.Hook, error) {
	return s.repo.ListHooks(ctx, query)
}

func normalize(h *models.Hook) {
	h.Name = strings.TrimSpace(h.Name)
	h.Command = strings.TrimSpace(h.Command)
	h.URL = strings.TrimSpace(h.URL)
	if h.Scope == "" {
		h.Scope = models.HookScopeGlobal
	}
	if h.TimeoutSeconds <= 0 {
		h.TimeoutSeconds = int(defaultHookTimeout / time.Second)
	}
}

// Validate checks a hook's configuration, reporting every problem at once.
func Validate(h *models.Hook) error {
	var errs []string
	if h.Name == "" {
		errs = append(errs, "name is required")
	}
	if !h.EventType.Valid() {
		errs = append(errs, fmt.Sprintf("unknown event type %q", h.EventType))
	}
	switch h.Scope {
	case models.HookScopeGlobal:
	case models.HookScopeProject:
		if h.ProjectID == "" {
			errs = append(errs, "project scope requires project_id")
		}
	case models.HookScopeTask:
		if h.TaskID == "" {
			errs = append(errs, "task scope requires task_id")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown scope %q", h.Scope))
	}
	switch h.Transport {
	case models.HookTransportShell:
		if h.Command == "" {
			errs = append(errs, "shell hooks require a command")
		}
	case models.HookTransportHTTP:
		if err := validateURL(h.URL); err != nil {
			errs = append(errs, err.Error())
		}
	case models.HookTransportWebsocket:
	default:
		errs = append(errs, fmt.Sprintf("unknown transport %q", h.Transport))
	}
	if len(errs) > 0 {
		return apperrors.Validation("hook", strings.Join(errs, "; "))
	}
	return nil
}

func validateURL(raw string) error {
	if raw == "" {
		return errors.New("http hooks require a url")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid hook url %q", raw)
	}
	return nil
}
