package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

const notificationColumns = `id, channel, recipient_address, recipient_id, event_type, template_id,
	payload, status, attempts, max_attempts, scheduled_for, next_retry_at,
	last_error, external_id, sent_at, created_at, updated_at`

// SQLiteNotificationStore implements NotificationStore backed by SQLite.
type SQLiteNotificationStore struct {
	db *sql.DB
}

// NewSQLiteNotificationStore returns a new SQLiteNotificationStore.
func NewSQLiteNotificationStore(db *sql.DB) *SQLiteNotificationStore {
	return &SQLiteNotificationStore{db: db}
}

// CreateNotification inserts a work item. CreatedAt and UpdatedAt must be set
// by the caller so that the clock stays injectable.
func (s *SQLiteNotificationStore) CreateNotification(ctx context.Context, item *WorkItem) error {
	payload := item.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = item.CreatedAt
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notifications (`+notificationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, string(item.Channel), item.RecipientAddress, item.RecipientID,
		item.EventType, item.TemplateID, string(raw), string(item.Status),
		item.Attempts, item.MaxAttempts, nullMillis(item.ScheduledFor),
		nullMillis(item.NextRetryAt), item.LastError, item.ExternalID,
		nullMillis(item.SentAt), toMillis(item.CreatedAt), toMillis(item.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting notification %q: %w", item.ID, err)
	}
	return nil
}

// GetNotification returns the work item with id, or nil if not found.
func (s *SQLiteNotificationStore) GetNotification(ctx context.Context, id string) (*WorkItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE id = ?`, id)
	item, err := scanWorkItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting notification %q: %w", id, err)
	}
	return item, nil
}

// ListNotifications returns the most recent items, newest first. An empty
// status lists every status.
func (s *SQLiteNotificationStore) ListNotifications(ctx context.Context, status Status, limit int) ([]*WorkItem, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + notificationColumns + ` FROM notifications`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC, seq DESC LIMIT ?`
	args = append(args, limit)

	return s.queryItems(ctx, query, args...)
}

// ListDue returns up to limit items eligible at now, oldest first. Items on
// the skip channels are left out.
func (s *SQLiteNotificationStore) ListDue(ctx context.Context, now time.Time, limit int, skip ...Channel) ([]*WorkItem, error) {
	nowMs := toMillis(now)
	args := []any{string(StatusPending), nowMs, nowMs}
	var channelFilter string
	if len(skip) > 0 {
		channelFilter = "AND channel NOT IN (" + strings.TrimSuffix(strings.Repeat("?,", len(skip)), ",") + ")"
		for _, ch := range skip {
			args = append(args, string(ch))
		}
	}
	args = append(args, limit)
	return s.queryItems(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE status = ?
		  AND (scheduled_for IS NULL OR scheduled_for <= ?)
		  AND (next_retry_at IS NULL OR next_retry_at <= ?)
		  `+channelFilter+`
		ORDER BY created_at ASC, seq ASC
		LIMIT ?`,
		args...,
	)
}

// Claim atomically moves an eligible PENDING item to PROCESSING and
// increments its attempts. Only one claimer can win: the update is
// conditional on the row still being PENDING.
func (s *SQLiteNotificationStore) Claim(ctx context.Context, id string, now time.Time) (*WorkItem, error) {
	nowMs := toMillis(now)
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications
		SET status = ?, attempts = attempts + 1, updated_at = ?
		WHERE id = ? AND status = ?
		  AND (scheduled_for IS NULL OR scheduled_for <= ?)
		  AND (next_retry_at IS NULL OR next_retry_at <= ?)`,
		string(StatusProcessing), nowMs, id, string(StatusPending), nowMs, nowMs,
	)
	if err != nil {
		return nil, fmt.Errorf("claiming notification %q: %w", id, err)
	}
	if err := s.expectOneRow(ctx, res, id); err != nil {
		return nil, err
	}
	item, err := s.GetNotification(ctx, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, ErrNotFound
	}
	return item, nil
}

// MarkSent records a successful delivery.
func (s *SQLiteNotificationStore) MarkSent(ctx context.Context, id, externalID string, now time.Time) error {
	nowMs := toMillis(now)
	return s.transition(ctx, id, StatusProcessing, `
		UPDATE notifications
		SET status = ?, external_id = ?, sent_at = ?, last_error = '',
		    next_retry_at = NULL, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(StatusSent), externalID, nowMs, nowMs, id, string(StatusProcessing),
	)
}

// ScheduleRetry returns a PROCESSING item to PENDING, eligible again at nextRetryAt.
func (s *SQLiteNotificationStore) ScheduleRetry(
	ctx context.Context, id string, nextRetryAt time.Time, note string, now time.Time,
) error {
	return s.transition(ctx, id, StatusProcessing, `
		UPDATE notifications
		SET status = ?, next_retry_at = ?, last_error = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(StatusPending), toMillis(nextRetryAt), note, toMillis(now), id, string(StatusProcessing),
	)
}

// MarkFailed records a terminal delivery failure.
func (s *SQLiteNotificationStore) MarkFailed(ctx context.Context, id, errText string, now time.Time) error {
	return s.transition(ctx, id, StatusProcessing, `
		UPDATE notifications
		SET status = ?, last_error = ?, next_retry_at = NULL, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(StatusFailed), errText, toMillis(now), id, string(StatusProcessing),
	)
}

// ReleaseStale returns items left in PROCESSING by a crashed worker to
// PENDING. Attempts are left as they are.
func (s *SQLiteNotificationStore) ReleaseStale(ctx context.Context, cutoff, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications
		SET status = ?, last_error = 'released after stale processing lease', updated_at = ?
		WHERE status = ? AND updated_at < ?`,
		string(StatusPending), toMillis(now), string(StatusProcessing), toMillis(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("releasing stale notifications: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading affected rows: %w", err)
	}
	return int(n), nil
}

// Cancel moves a PENDING item to CANCELED.
func (s *SQLiteNotificationStore) Cancel(ctx context.Context, id string, now time.Time) error {
	return s.transition(ctx, id, StatusPending, `
		UPDATE notifications SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(StatusCanceled), toMillis(now), id, string(StatusPending),
	)
}

// Retry resets a FAILED item so the dispatcher picks it up again.
func (s *SQLiteNotificationStore) Retry(ctx context.Context, id string, now time.Time) error {
	return s.transition(ctx, id, StatusFailed, `
		UPDATE notifications
		SET status = ?, attempts = 0, last_error = '', next_retry_at = NULL, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(StatusPending), toMillis(now), id, string(StatusFailed),
	)
}

// CountByStatus returns the number of items per status. Every status is
// present in the result, zero when empty.
func (s *SQLiteNotificationStore) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM notifications GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting notifications: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	counts := make(map[Status]int, len(Statuses))
	for _, st := range Statuses {
		counts[st] = 0
	}
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, fmt.Errorf("scanning status count: %w", err)
		}
		counts[Status(st)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating status counts: %w", err)
	}
	return counts, nil
}

// Totals groups items created in [since, until) by status, channel and event type.
func (s *SQLiteNotificationStore) Totals(ctx context.Context, since, until time.Time) ([]TotalsRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, channel, event_type, COUNT(*)
		FROM notifications
		WHERE created_at >= ? AND created_at < ?
		GROUP BY status, channel, event_type
		ORDER BY status, channel, event_type`,
		toMillis(since), toMillis(until),
	)
	if err != nil {
		return nil, fmt.Errorf("querying totals: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	out := make([]TotalsRow, 0)
	for rows.Next() {
		var r TotalsRow
		var st, ch string
		if err := rows.Scan(&st, &ch, &r.EventType, &r.Count); err != nil {
			return nil, fmt.Errorf("scanning totals row: %w", err)
		}
		r.Status = Status(st)
		r.Channel = Channel(ch)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating totals rows: %w", err)
	}
	return out, nil
}

// transition runs a conditional update and translates "no row affected" into
// ErrNotFound or ErrStaleState.
func (s *SQLiteNotificationStore) transition(ctx context.Context, id string, from Status, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating notification %q from %s: %w", id, from, err)
	}
	return s.expectOneRow(ctx, res, id)
}

func (s *SQLiteNotificationStore) expectOneRow(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if n == 1 {
		return nil
	}
	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notifications WHERE id = ?`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("checking notification %q: %w", id, err)
	}
	if exists == 0 {
		return ErrNotFound
	}
	return ErrStaleState
}

func (s *SQLiteNotificationStore) queryItems(ctx context.Context, query string, args ...any) ([]*WorkItem, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying notifications: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	items := make([]*WorkItem, 0)
	for rows.Next() {
		item, err := scanWorkItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning notification row: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating notification rows: %w", err)
	}
	return items, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkItem(row rowScanner) (*WorkItem, error) {
	var (
		item                          WorkItem
		channel, status, payload      string
		scheduledFor, nextRetry, sent *int64
		createdAt, updatedAt          int64
	)
	err := row.Scan(
		&item.ID, &channel, &item.RecipientAddress, &item.RecipientID,
		&item.EventType, &item.TemplateID, &payload, &status,
		&item.Attempts, &item.MaxAttempts, &scheduledFor, &nextRetry,
		&item.LastError, &item.ExternalID, &sent, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	item.Channel = Channel(channel)
	item.Status = Status(status)
	item.ScheduledFor = timePtr(scheduledFor)
	item.NextRetryAt = timePtr(nextRetry)
	item.SentAt = timePtr(sent)
	item.CreatedAt = fromMillis(createdAt)
	item.UpdatedAt = fromMillis(updatedAt)

	if payload != "" && payload != "{}" {
		if err := json.Unmarshal([]byte(payload), &item.Payload); err != nil {
			return nil, fmt.Errorf("decoding payload of %q: %w", item.ID, err)
		}
	}
	return &item, nil
}
