package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const recipientColumns = `id, name, group_name, active, telegram_chat_id, email,
	telegram_enabled, email_enabled, service_consent, marketing_consent`

// SQLiteRecipientStore implements RecipientStore backed by SQLite.
type SQLiteRecipientStore struct {
	db *sql.DB
}

// NewSQLiteRecipientStore returns a new SQLiteRecipientStore.
func NewSQLiteRecipientStore(db *sql.DB) *SQLiteRecipientStore {
	return &SQLiteRecipientStore{db: db}
}

// GetRecipient returns the recipient with id, or nil if not found.
func (s *SQLiteRecipientStore) GetRecipient(ctx context.Context, id string) (*Recipient, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recipientColumns+` FROM recipients WHERE id = ?`, id)
	r, err := scanRecipient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting recipient %q: %w", id, err)
	}
	return r, nil
}

// ListRecipients returns recipients matching filter ordered by id.
func (s *SQLiteRecipientStore) ListRecipients(ctx context.Context, filter RecipientFilter) ([]*Recipient, error) {
	var (
		where []string
		args  []any
	)
	if len(filter.IDs) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(filter.IDs)), ",")
		where = append(where, "id IN ("+placeholders+")")
		for _, id := range filter.IDs {
			args = append(args, id)
		}
	}
	if filter.GroupName != "" {
		where = append(where, "group_name = ?")
		args = append(args, filter.GroupName)
	}
	if filter.ActiveOnly {
		where = append(where, "active = 1")
	}

	query := `SELECT ` + recipientColumns + ` FROM recipients`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing recipients: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	out := make([]*Recipient, 0)
	for rows.Next() {
		r, err := scanRecipient(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning recipient row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveRecipient inserts or replaces a recipient by id.
func (s *SQLiteRecipientStore) SaveRecipient(ctx context.Context, r *Recipient) error {
	p := r.Preferences
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO recipients (`+recipientColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Name, r.GroupName, r.Active, r.TelegramChatID, r.Email,
		p.TelegramEnabled, p.EmailEnabled, p.ServiceConsent, p.MarketingConsent,
	)
	if err != nil {
		return fmt.Errorf("saving recipient %q: %w", r.ID, err)
	}
	return nil
}

func scanRecipient(row rowScanner) (*Recipient, error) {
	var r Recipient
	p := &r.Preferences
	err := row.Scan(&r.ID, &r.Name, &r.GroupName, &r.Active, &r.TelegramChatID, &r.Email,
		&p.TelegramEnabled, &p.EmailEnabled, &p.ServiceConsent, &p.MarketingConsent)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
