package storage

import (
	"context"
	"time"
)

// Template is a message source rendered per work item. Templates are keyed
// by (Code, Channel); ID is the stable identity used for render caching.
type Template struct {
	ID        string    `json:"id" yaml:"id"`
	Code      string    `json:"code" yaml:"code"`
	Channel   Channel   `json:"channel" yaml:"channel"`
	Subject   string    `json:"subject,omitempty" yaml:"subject"`
	Body      string    `json:"body" yaml:"body"`
	Active    bool      `json:"active" yaml:"active"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// TemplateStore looks up and persists templates.
type TemplateStore interface {
	// GetTemplate returns the template with id, or nil if not found.
	GetTemplate(ctx context.Context, id string) (*Template, error)
	// FindTemplate returns the active template for (code, channel), or nil.
	FindTemplate(ctx context.Context, code string, channel Channel) (*Template, error)
	// ListTemplates returns all templates ordered by code and channel.
	ListTemplates(ctx context.Context) ([]*Template, error)
	// SaveTemplate inserts or replaces a template.
	SaveTemplate(ctx context.Context, tpl *Template) error
}
