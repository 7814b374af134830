package storage

import (
	"context"
	"time"
)

// EmailSendLogEntry records a single email delivery attempt for operators.
type EmailSendLogEntry struct {
	ID             int64     `json:"id"`
	NotificationID string    `json:"notification_id,omitempty"`
	Recipient      string    `json:"recipient"`
	Subject        string    `json:"subject"`
	MessageID      string    `json:"message_id,omitempty"`
	Status         string    `json:"status"`
	ErrorMsg       string    `json:"error_msg"`
	CreatedAt      time.Time `json:"created_at"`
}

// SendLogStore defines the interface for persisting email delivery logs.
type SendLogStore interface {
	// LogEmailSend records an email delivery attempt.
	LogEmailSend(ctx context.Context, entry EmailSendLogEntry) error
	// ListEmailSends returns the most recent email log entries, up to limit.
	ListEmailSends(ctx context.Context, limit int) ([]EmailSendLogEntry, error)
}
