package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/studiodesk/notifier/internal/eventbus"
	"github.com/studiodesk/notifier/internal/render"
	"github.com/studiodesk/notifier/internal/storage"
)

// CacheClearer drops compiled templates.
type CacheClearer interface {
	ClearCache(templateID string)
}

// TemplateRenderer is the part of the renderer the template service needs.
type TemplateRenderer interface {
	CacheClearer
	Preview(body, subject string, payload map[string]any, ch storage.Channel) (render.Content, error)
	ExtractVariables(text string) ([]string, error)
}

// PreviewRequest is ad-hoc template text to render against a payload.
type PreviewRequest struct {
	Channel storage.Channel `json:"channel"`
	Subject string          `json:"subject,omitempty"`
	Body    string          `json:"body"`
	Payload map[string]any  `json:"payload,omitempty"`
}

// TemplateService manages message templates.
type TemplateService interface {
	ListTemplates(ctx context.Context) ([]*storage.Template, error)
	GetTemplate(ctx context.Context, id string) (*storage.Template, error)
	// CreateTemplate stores a new template. (Code, Channel) must be unique.
	CreateTemplate(ctx context.Context, tpl *storage.Template) (*storage.Template, error)
	// UpdateTemplate replaces the template with id and invalidates its cache entries.
	UpdateTemplate(ctx context.Context, id string, tpl *storage.Template) (*storage.Template, error)
	// ImportTemplates upserts seed templates and returns how many were written.
	ImportTemplates(ctx context.Context, tpls []storage.Template) (int, error)
	PreviewTemplate(ctx context.Context, req PreviewRequest) (render.Content, error)
	ExtractVariables(ctx context.Context, text string) ([]string, error)
	// ClearCache drops one template's compiled entries, or all when id is empty.
	ClearCache(ctx context.Context, id string)
}

// templateServiceImpl implements TemplateService.
type templateServiceImpl struct {
	store     storage.TemplateStore
	renderer  TemplateRenderer
	publisher EventPublisher
	clock     clockwork.Clock
	logger    *slog.Logger
}

// NewTemplateService creates a new TemplateService. Cache invalidation after
// an update happens through publisher; wire TemplateCacheListener to the bus.
func NewTemplateService(
	store storage.TemplateStore,
	renderer TemplateRenderer,
	publisher EventPublisher,
	clock clockwork.Clock,
	logger *slog.Logger,
) TemplateService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &templateServiceImpl{
		store:     store,
		renderer:  renderer,
		publisher: publisher,
		clock:     clock,
		logger:    logger.With("component", "template_service"),
	}
}

// TemplateCacheListener returns a bus listener that clears the renderer's
// cache for every updated template.
func TemplateCacheListener(c CacheClearer) eventbus.Listener {
	return eventbus.Only(eventbus.TemplateUpdated, func(e eventbus.Event) {
		c.ClearCache(e.Payload["template_id"])
	})
}

func (s *templateServiceImpl) ListTemplates(ctx context.Context) ([]*storage.Template, error) {
	return s.store.ListTemplates(ctx)
}

func (s *templateServiceImpl) GetTemplate(ctx context.Context, id string) (*storage.Template, error) {
	tpl, err := s.store.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	if tpl == nil {
		return nil, &NotFoundError{Resource: "template", ID: id}
	}
	return tpl, nil
}

func (s *templateServiceImpl) CreateTemplate(ctx context.Context, tpl *storage.Template) (*storage.Template, error) {
	if err := s.validate(tpl); err != nil {
		return nil, err
	}
	if tpl.ID == "" {
		tpl.ID = uuid.New().String()
	} else if existing, err := s.store.GetTemplate(ctx, tpl.ID); err != nil {
		return nil, err
	} else if existing != nil {
		return nil, &ConflictError{Resource: "template", ID: tpl.ID}
	}
	if clash, err := s.findByKey(ctx, tpl.Code, tpl.Channel); err != nil {
		return nil, err
	} else if clash != nil {
		return nil, &ConflictError{Resource: "template", ID: tpl.Code + "/" + string(tpl.Channel)}
	}

	tpl.UpdatedAt = s.clock.Now()
	if err := s.store.SaveTemplate(ctx, tpl); err != nil {
		return nil, fmt.Errorf("saving template: %w", err)
	}
	s.logger.Info("template created", "template_id", tpl.ID, "code", tpl.Code, "channel", tpl.Channel)
	return tpl, nil
}

func (s *templateServiceImpl) UpdateTemplate(ctx context.Context, id string, tpl *storage.Template) (*storage.Template, error) {
	existing, err := s.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.validate(tpl); err != nil {
		return nil, err
	}
	if clash, err := s.findByKey(ctx, tpl.Code, tpl.Channel); err != nil {
		return nil, err
	} else if clash != nil && clash.ID != existing.ID {
		return nil, &ConflictError{Resource: "template", ID: tpl.Code + "/" + string(tpl.Channel)}
	}

	tpl.ID = existing.ID
	tpl.UpdatedAt = s.clock.Now()
	if err := s.store.SaveTemplate(ctx, tpl); err != nil {
		return nil, fmt.Errorf("saving template: %w", err)
	}
	s.logger.Info("template updated", "template_id", tpl.ID)
	if s.publisher != nil {
		s.publisher.Publish(eventbus.TemplateUpdated, map[string]string{"template_id": tpl.ID})
	}
	return tpl, nil
}

func (s *templateServiceImpl) ImportTemplates(ctx context.Context, tpls []storage.Template) (int, error) {
	n := 0
	for i := range tpls {
		tpl := tpls[i]
		if err := s.validate(&tpl); err != nil {
			return n, fmt.Errorf("template %q: %w", tpl.ID, err)
		}
		tpl.UpdatedAt = s.clock.Now()
		if err := s.store.SaveTemplate(ctx, &tpl); err != nil {
			return n, fmt.Errorf("importing template %q: %w", tpl.ID, err)
		}
		s.renderer.ClearCache(tpl.ID)
		n++
	}
	return n, nil
}

func (s *templateServiceImpl) PreviewTemplate(_ context.Context, req PreviewRequest) (render.Content, error) {
	if !req.Channel.Valid() {
		return render.Content{}, &ValidationError{Field: "channel", Message: fmt.Sprintf("unsupported channel %q", req.Channel)}
	}
	content, err := s.renderer.Preview(req.Body, req.Subject, req.Payload, req.Channel)
	if err != nil {
		return render.Content{}, &ValidationError{Field: "body", Message: err.Error()}
	}
	return content, nil
}

func (s *templateServiceImpl) ExtractVariables(_ context.Context, text string) ([]string, error) {
	vars, err := s.renderer.ExtractVariables(text)
	if err != nil {
		return nil, &ValidationError{Field: "body", Message: err.Error()}
	}
	return vars, nil
}

func (s *templateServiceImpl) ClearCache(_ context.Context, id string) {
	s.renderer.ClearCache(id)
}

func (s *templateServiceImpl) validate(tpl *storage.Template) error {
	if tpl == nil {
		return &ValidationError{Message: "template is required"}
	}
	tpl.Code = strings.TrimSpace(tpl.Code)
	if tpl.Code == "" {
		return &ValidationError{Field: "code", Message: "code is required"}
	}
	if !tpl.Channel.Valid() {
		return &ValidationError{Field: "channel", Message: fmt.Sprintf("unsupported channel %q", tpl.Channel)}
	}
	if strings.TrimSpace(tpl.Body) == "" {
		return &ValidationError{Field: "body", Message: "body is required"}
	}
	if _, err := s.renderer.ExtractVariables(tpl.Body); err != nil {
		return &ValidationError{Field: "body", Message: err.Error()}
	}
	if tpl.Subject != "" {
		if _, err := s.renderer.ExtractVariables(tpl.Subject); err != nil {
			return &ValidationError{Field: "subject", Message: err.Error()}
		}
	}
	return nil
}

// findByKey returns the template with (code, channel) regardless of whether
// it is active.
func (s *templateServiceImpl) findByKey(ctx context.Context, code string, ch storage.Channel) (*storage.Template, error) {
	all, err := s.store.ListTemplates(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing templates: %w", err)
	}
	for _, t := range all {
		if t.Code == code && t.Channel == ch {
			return t, nil
		}
	}
	return nil, nil
}
