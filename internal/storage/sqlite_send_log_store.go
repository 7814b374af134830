package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// SQLiteSendLogStore implements SendLogStore backed by SQLite.
type SQLiteSendLogStore struct {
	db *sql.DB
}

// NewSQLiteSendLogStore returns a new SQLiteSendLogStore.
func NewSQLiteSendLogStore(db *sql.DB) *SQLiteSendLogStore {
	return &SQLiteSendLogStore{db: db}
}

// LogEmailSend inserts an email delivery record into the database.
func (s *SQLiteSendLogStore) LogEmailSend(ctx context.Context, entry EmailSendLogEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO email_send_log (notification_id, recipient, subject, message_id, status, error_msg, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.NotificationID, entry.Recipient, entry.Subject, entry.MessageID,
		entry.Status, entry.ErrorMsg, toMillis(entry.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting email send log: %w", err)
	}
	return nil
}

// ListEmailSends returns the most recent log entries, newest first.
func (s *SQLiteSendLogStore) ListEmailSends(ctx context.Context, limit int) ([]EmailSendLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, notification_id, recipient, subject, message_id, status, error_msg, created_at
		FROM email_send_log
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying email send log: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var entries []EmailSendLogEntry
	for rows.Next() {
		var e EmailSendLogEntry
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.NotificationID, &e.Recipient, &e.Subject,
			&e.MessageID, &e.Status, &e.ErrorMsg, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning email send log row: %w", err)
		}
		e.CreatedAt = fromMillis(createdAt)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating email send log rows: %w", err)
	}
	return entries, nil
}
