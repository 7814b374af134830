package storage

import (
	"context"
	"errors"
	"time"
)

// Channel identifies a delivery mechanism.
type Channel string

// Supported delivery channels. The set is closed: adding a channel requires a
// new adapter in internal/notification.
const (
	ChannelTelegram Channel = "TELEGRAM"
	ChannelEmail    Channel = "EMAIL"
)

// Channels lists every supported channel in a stable order.
var Channels = []Channel{ChannelTelegram, ChannelEmail}

// Valid reports whether c is a supported channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelTelegram, ChannelEmail:
		return true
	}
	return false
}

// Status is the lifecycle state of a work item.
type Status string

// Work item statuses.
const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusSent       Status = "SENT"
	StatusFailed     Status = "FAILED"
	StatusCanceled   Status = "CANCELED"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{StatusPending, StatusProcessing, StatusSent, StatusFailed, StatusCanceled}

// Terminal reports whether no further transition happens without an
// explicit manual retry.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed || s == StatusCanceled
}

// ErrNotFound is returned by conditional updates when the row does not exist.
var ErrNotFound = errors.New("notification not found")

// ErrStaleState is returned by conditional updates when the row is no longer
// in the state the caller expected.
var ErrStaleState = errors.New("notification state changed")

// WorkItem is one queued or completed notification delivery.
type WorkItem struct {
	ID               string         `json:"id"`
	Channel          Channel        `json:"channel"`
	RecipientAddress string         `json:"recipient_address"`
	RecipientID      string         `json:"recipient_id,omitempty"`
	EventType        string         `json:"event_type"`
	TemplateID       string         `json:"template_id,omitempty"`
	Payload          map[string]any `json:"payload,omitempty"`
	Status           Status         `json:"status"`
	Attempts         int            `json:"attempts"`
	MaxAttempts      int            `json:"max_attempts"`
	ScheduledFor     *time.Time     `json:"scheduled_for,omitempty"`
	NextRetryAt      *time.Time     `json:"next_retry_at,omitempty"`
	LastError        string         `json:"last_error,omitempty"`
	ExternalID       string         `json:"external_id,omitempty"`
	SentAt           *time.Time     `json:"sent_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Eligible reports whether the item may be claimed at now. Both time gates
// are inclusive: an item scheduled for exactly now is eligible.
func (w *WorkItem) Eligible(now time.Time) bool {
	if w.Status != StatusPending {
		return false
	}
	if w.ScheduledFor != nil && w.ScheduledFor.After(now) {
		return false
	}
	if w.NextRetryAt != nil && w.NextRetryAt.After(now) {
		return false
	}
	return true
}

// TotalsRow is one group of the per-period report.
type TotalsRow struct {
	Status    Status  `json:"status"`
	Channel   Channel `json:"channel"`
	EventType string  `json:"event_type"`
	Count     int     `json:"count"`
}

// NotificationStore persists work items. Every state transition out of a
// non-terminal state is a conditional update; ErrStaleState reports that the
// row was not in the expected state.
type NotificationStore interface {
	// CreateNotification inserts a new work item.
	CreateNotification(ctx context.Context, item *WorkItem) error
	// GetNotification returns the item with id, or nil if it does not exist.
	GetNotification(ctx context.Context, id string) (*WorkItem, error)
	// ListNotifications returns the most recent items, optionally filtered by status.
	ListNotifications(ctx context.Context, status Status, limit int) ([]*WorkItem, error)

	// ListDue returns up to limit eligible items, oldest first, leaving out
	// items on the skip channels.
	ListDue(ctx context.Context, now time.Time, limit int, skip ...Channel) ([]*WorkItem, error)
	// Claim moves a PENDING item to PROCESSING and increments attempts.
	Claim(ctx context.Context, id string, now time.Time) (*WorkItem, error)
	// MarkSent moves a PROCESSING item to SENT.
	MarkSent(ctx context.Context, id, externalID string, now time.Time) error
	// ScheduleRetry moves a PROCESSING item back to PENDING with a retry time.
	ScheduleRetry(ctx context.Context, id string, nextRetryAt time.Time, note string, now time.Time) error
	// MarkFailed moves a PROCESSING item to FAILED.
	MarkFailed(ctx context.Context, id, errText string, now time.Time) error
	// ReleaseStale returns items stuck in PROCESSING since before cutoff to PENDING.
	ReleaseStale(ctx context.Context, cutoff, now time.Time) (int, error)

	// Cancel moves a PENDING item to CANCELED.
	Cancel(ctx context.Context, id string, now time.Time) error
	// Retry moves a FAILED item back to PENDING with attempts reset.
	Retry(ctx context.Context, id string, now time.Time) error

	// CountByStatus returns the queue depth per status.
	CountByStatus(ctx context.Context) (map[Status]int, error)
	// Totals groups items created in [since, until) by status, channel and event type.
	Totals(ctx context.Context, since, until time.Time) ([]TotalsRow, error)
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return toMillis(*t)
}

func timePtr(v *int64) *time.Time {
	if v == nil {
		return nil
	}
	t := fromMillis(*v)
	return &t
}
