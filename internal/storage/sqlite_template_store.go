package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const templateColumns = `id, code, channel, subject, body, active, updated_at`

// SQLiteTemplateStore implements TemplateStore backed by SQLite.
type SQLiteTemplateStore struct {
	db *sql.DB
}

// NewSQLiteTemplateStore returns a new SQLiteTemplateStore.
func NewSQLiteTemplateStore(db *sql.DB) *SQLiteTemplateStore {
	return &SQLiteTemplateStore{db: db}
}

// GetTemplate returns the template with id, or nil if not found.
func (s *SQLiteTemplateStore) GetTemplate(ctx context.Context, id string) (*Template, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+templateColumns+` FROM templates WHERE id = ?`, id)
	tpl, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting template %q: %w", id, err)
	}
	return tpl, nil
}

// FindTemplate returns the active template for (code, channel), or nil.
func (s *SQLiteTemplateStore) FindTemplate(ctx context.Context, code string, channel Channel) (*Template, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+templateColumns+` FROM templates
		WHERE code = ? AND channel = ? AND active = 1`, code, string(channel))
	tpl, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding template %q/%s: %w", code, channel, err)
	}
	return tpl, nil
}

// ListTemplates returns all templates ordered by code then channel.
func (s *SQLiteTemplateStore) ListTemplates(ctx context.Context) ([]*Template, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+templateColumns+` FROM templates ORDER BY code, channel`)
	if err != nil {
		return nil, fmt.Errorf("listing templates: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	out := make([]*Template, 0)
	for rows.Next() {
		tpl, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning template row: %w", err)
		}
		out = append(out, tpl)
	}
	return out, rows.Err()
}

// SaveTemplate inserts or replaces a template by id.
func (s *SQLiteTemplateStore) SaveTemplate(ctx context.Context, tpl *Template) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO templates (`+templateColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			code = excluded.code, channel = excluded.channel, subject = excluded.subject,
			body = excluded.body, active = excluded.active, updated_at = excluded.updated_at`,
		tpl.ID, tpl.Code, string(tpl.Channel), tpl.Subject, tpl.Body, tpl.Active, toMillis(tpl.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving template %q: %w", tpl.ID, err)
	}
	return nil
}

func scanTemplate(row rowScanner) (*Template, error) {
	var (
		tpl       Template
		channel   string
		updatedAt int64
	)
	if err := row.Scan(&tpl.ID, &tpl.Code, &channel, &tpl.Subject, &tpl.Body, &tpl.Active, &updatedAt); err != nil {
		return nil, err
	}
	tpl.Channel = Channel(channel)
	tpl.UpdatedAt = fromMillis(updatedAt)
	return &tpl, nil
}

// templateSeedFile is the on-disk layout of a templates YAML file.
type templateSeedFile struct {
	Templates []Template `yaml:"templates"`
}

// LoadTemplateSeeds reads templates from a YAML file. A missing file yields
// no templates and no error.
//
//	templates:
//	  - id: booking-confirmed-tg
//	    code: booking_confirmed
//	    channel: TELEGRAM
//	    active: true
//	    body: "Вы записаны на {{.serviceName}}"
func LoadTemplateSeeds(path string) ([]Template, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator config
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading templates file %q: %w", path, err)
	}

	var f templateSeedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing templates file %q: %w", path, err)
	}
	for i, tpl := range f.Templates {
		if tpl.ID == "" || tpl.Code == "" {
			return nil, fmt.Errorf("template #%d: id and code are required", i+1)
		}
		if !tpl.Channel.Valid() {
			return nil, fmt.Errorf("template %q: unknown channel %q", tpl.ID, tpl.Channel)
		}
	}
	return f.Templates, nil
}
