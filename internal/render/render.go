// Package render compiles notification templates against a payload.
//
// Templates use Go template syntax. Payload keys are addressed as fields of
// dot ({{.name}}), and the helper functions in FuncMap cover dates, money,
// numbers and Russian plural forms. EMAIL bodies go through html/template so
// payload values are escaped; every other body and all subjects use
// text/template.
package render

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"io"
	"sync"
	"text/template"
	"time"

	"github.com/studiodesk/notifier/internal/storage"
)

// Format is the markup of a rendered body.
type Format string

// Body formats.
const (
	FormatText     Format = "text"
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
)

// Content is a rendered message ready for a channel adapter.
type Content struct {
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body"`
	Format  Format `json:"format"`
}

// Empty reports whether there is nothing to send.
func (c Content) Empty() bool {
	return c.Body == ""
}

// FormatFor returns the body format used on ch.
func FormatFor(ch storage.Channel) Format {
	if ch == storage.ChannelEmail {
		return FormatHTML
	}
	return FormatText
}

type executor interface {
	Execute(w io.Writer, data any) error
}

type compiled struct {
	exec executor
	vars []string
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithLocation sets the time zone used by formatDate. Defaults to UTC.
func WithLocation(loc *time.Location) Option {
	return func(r *Renderer) {
		if loc != nil {
			r.loc = loc
		}
	}
}

// Renderer compiles and caches templates. It is safe for concurrent use.
type Renderer struct {
	mu    sync.RWMutex
	cache map[string]*compiled
	loc   *time.Location
	funcs template.FuncMap
}

// New returns a Renderer with an empty cache.
func New(opts ...Option) *Renderer {
	r := &Renderer{
		cache: make(map[string]*compiled),
		loc:   time.UTC,
	}
	for _, o := range opts {
		o(r)
	}
	r.funcs = FuncMap(r.loc)
	return r
}

// Render evaluates tpl against payload for ch. A nil template renders to an
// empty text body without error; callers decide how to treat that.
func (r *Renderer) Render(tpl *storage.Template, payload map[string]any, ch storage.Channel) (Content, error) {
	if tpl == nil {
		return Content{Format: FormatText}, nil
	}
	format := FormatFor(ch)

	body, err := r.execute(tpl.ID, tpl.Body, format, payload)
	if err != nil {
		return Content{}, fmt.Errorf("rendering template %q body: %w", tpl.ID, err)
	}
	var subject string
	if tpl.Subject != "" {
		subject, err = r.execute(subjectKey(tpl.ID), tpl.Subject, FormatText, payload)
		if err != nil {
			return Content{}, fmt.Errorf("rendering template %q subject: %w", tpl.ID, err)
		}
	}
	return Content{Subject: subject, Body: body, Format: format}, nil
}

// Preview renders ad-hoc template text without touching the cache.
func (r *Renderer) Preview(body, subject string, payload map[string]any, ch storage.Channel) (Content, error) {
	format := FormatFor(ch)
	out, err := r.execute("", body, format, payload)
	if err != nil {
		return Content{}, fmt.Errorf("rendering preview body: %w", err)
	}
	var subj string
	if subject != "" {
		subj, err = r.execute("", subject, FormatText, payload)
		if err != nil {
			return Content{}, fmt.Errorf("rendering preview subject: %w", err)
		}
	}
	return Content{Subject: subj, Body: out, Format: format}, nil
}

// ClearCache drops the compiled body and subject of templateID, or every
// entry when templateID is empty.
func (r *Renderer) ClearCache(templateID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if templateID == "" {
		r.cache = make(map[string]*compiled)
		return
	}
	delete(r.cache, templateID)
	delete(r.cache, subjectKey(templateID))
}

// CacheSize returns the number of compiled entries.
func (r *Renderer) CacheSize() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}

func subjectKey(id string) string {
	return id + ":subject"
}

// execute compiles text (or reuses the cached compilation under key) and
// runs it. An empty key disables caching.
func (r *Renderer) execute(key, text string, format Format, payload map[string]any) (string, error) {
	c, err := r.compile(key, text, format)
	if err != nil {
		return "", err
	}

	// Referenced keys missing from the payload render as empty strings.
	data := make(map[string]any, len(payload)+len(c.vars))
	for _, v := range c.vars {
		data[v] = ""
	}
	for k, v := range payload {
		data[k] = v
	}

	var buf bytes.Buffer
	if err := c.exec.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (r *Renderer) compile(key, text string, format Format) (*compiled, error) {
	if key != "" {
		r.mu.RLock()
		c, ok := r.cache[key]
		r.mu.RUnlock()
		if ok {
			return c, nil
		}
	}

	vars, err := r.ExtractVariables(text)
	if err != nil {
		return nil, err
	}
	c := &compiled{vars: vars}
	if format == FormatHTML {
		t, err := htmltemplate.New("body").Funcs(htmltemplate.FuncMap(r.funcs)).Parse(text)
		if err != nil {
			return nil, fmt.Errorf("parsing template: %w", err)
		}
		c.exec = t
	} else {
		t, err := template.New("body").Funcs(r.funcs).Parse(text)
		if err != nil {
			return nil, fmt.Errorf("parsing template: %w", err)
		}
		c.exec = t
	}

	if key != "" {
		r.mu.Lock()
		r.cache[key] = c
		r.mu.Unlock()
	}
	return c, nil
}
