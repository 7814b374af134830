package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/studiodesk/notifier/internal/eventbus"
	"github.com/studiodesk/notifier/internal/notification"
	"github.com/studiodesk/notifier/internal/ratelimit"
	"github.com/studiodesk/notifier/internal/render"
	"github.com/studiodesk/notifier/internal/storage"
)

// Defaults applied by NewNotificationService for zero config fields.
const (
	DefaultMaxAttempts       = 5
	DefaultMassSendTestLimit = 10
	DefaultSendTimeout       = 15 * time.Second
)

// ContentRenderer turns a template and payload into channel content.
type ContentRenderer interface {
	Render(tpl *storage.Template, payload map[string]any, ch storage.Channel) (render.Content, error)
}

// CreateRequest describes one notification to enqueue or send.
type CreateRequest struct {
	RecipientID      string          `json:"recipient_id,omitempty"`
	Channel          storage.Channel `json:"channel"`
	RecipientAddress string          `json:"recipient_address,omitempty"`
	EventType        string          `json:"event_type"`
	TemplateCode     string          `json:"template_code,omitempty"`
	Payload          map[string]any  `json:"payload,omitempty"`
	ScheduledFor     *time.Time      `json:"scheduled_for,omitempty"`
}

// QueueSnapshot is the operational view of the queue.
type QueueSnapshot struct {
	Depth       map[storage.Status]int                  `json:"depth"`
	RateLimits  map[storage.Channel]ratelimit.Occupancy `json:"rate_limits"`
	GeneratedAt time.Time                               `json:"generated_at"`
}

// NotificationService is the producer-facing API of the queue.
type NotificationService interface {
	// CreateNotification validates req and enqueues a PENDING item. It returns
	// nil, nil when the recipient's preferences block the send.
	CreateNotification(ctx context.Context, req CreateRequest) (*storage.WorkItem, error)
	// SendImmediate renders and sends req synchronously, bypassing the queue,
	// and records an audit item in its terminal state.
	SendImmediate(ctx context.Context, req CreateRequest) (notification.Result, error)
	// CancelNotification moves a PENDING item to CANCELED.
	CancelNotification(ctx context.Context, id string) error
	// RetryNotification moves a FAILED item back to PENDING with a fresh budget.
	RetryNotification(ctx context.Context, id string) error
	// GetNotification returns the item with id.
	GetNotification(ctx context.Context, id string) (*storage.WorkItem, error)
	// ListNotifications returns the most recent items, optionally filtered by status.
	ListNotifications(ctx context.Context, status storage.Status, limit int) ([]*storage.WorkItem, error)
	// QueueSnapshot returns queue depth by status and limiter occupancy.
	QueueSnapshot(ctx context.Context) (*QueueSnapshot, error)
	// Totals groups items created in [since, until).
	Totals(ctx context.Context, since, until time.Time) ([]storage.TotalsRow, error)
	// ListEmailLog returns the most recent email delivery log entries.
	ListEmailLog(ctx context.Context, limit int) ([]storage.EmailSendLogEntry, error)

	// Expand resolves filter to the recipients reachable on channel for a
	// mass broadcast and counts the ones excluded.
	Expand(ctx context.Context, filter storage.RecipientFilter, channel storage.Channel) ([]Target, int, error)
	// CreateMassSend enqueues one item per eligible recipient.
	CreateMassSend(ctx context.Context, req MassSendRequest) (*MassSendResult, error)
}

// NotificationServiceConfig holds the collaborators of the notification service.
type NotificationServiceConfig struct {
	Store      storage.NotificationStore
	Templates  storage.TemplateStore
	Recipients storage.RecipientStore
	SendLog    storage.SendLogStore
	Channels   notification.Registry
	Limiter    *ratelimit.Limiter
	Renderer   ContentRenderer
	// Publisher is optional.
	Publisher EventPublisher
	Clock     clockwork.Clock
	Logger    *slog.Logger

	MaxAttempts       int
	MassSendTestLimit int
	SendTimeout       time.Duration
}

// notificationServiceImpl implements NotificationService.
type notificationServiceImpl struct {
	cfg    NotificationServiceConfig
	clock  clockwork.Clock
	logger *slog.Logger
}

// NewNotificationService creates a new NotificationService.
func NewNotificationService(cfg NotificationServiceConfig) NotificationService {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.MassSendTestLimit <= 0 {
		cfg.MassSendTestLimit = DefaultMassSendTestLimit
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &notificationServiceImpl{
		cfg:    cfg,
		clock:  cfg.Clock,
		logger: cfg.Logger.With("component", "notification_service"),
	}
}

// prepared is a validated request ready to become a work item.
type prepared struct {
	req      CreateRequest
	channel  notification.Channel
	template *storage.Template
}

// prepare validates req, resolves the recipient and template, and reports
// blocked=true when the recipient's preferences forbid the send.
func (s *notificationServiceImpl) prepare(ctx context.Context, req CreateRequest) (p *prepared, blocked bool, err error) {
	if !req.Channel.Valid() {
		return nil, false, &ValidationError{Field: "channel", Message: fmt.Sprintf("unsupported channel %q", req.Channel)}
	}
	ch, ok := s.cfg.Channels[req.Channel]
	if !ok {
		return nil, false, &ValidationError{Field: "channel", Message: fmt.Sprintf("channel %s is not configured", req.Channel)}
	}
	req.EventType = strings.TrimSpace(req.EventType)
	if req.EventType == "" {
		return nil, false, &ValidationError{Field: "event_type", Message: "event_type is required"}
	}

	if req.RecipientID != "" {
		r, err := s.cfg.Recipients.GetRecipient(ctx, req.RecipientID)
		if err != nil {
			return nil, false, fmt.Errorf("loading recipient: %w", err)
		}
		if r == nil {
			return nil, false, &NotFoundError{Resource: "recipient", ID: req.RecipientID}
		}
		if !r.Preferences.Allows(req.Channel, req.EventType) {
			return nil, true, nil
		}
		if req.RecipientAddress == "" {
			req.RecipientAddress = r.Address(req.Channel)
		}
	}

	req.RecipientAddress = strings.TrimSpace(req.RecipientAddress)
	if req.RecipientAddress == "" {
		return nil, false, &ValidationError{Field: "recipient_address", Message: "recipient_address is required"}
	}
	if !ch.ValidateAddress(req.RecipientAddress) {
		return nil, false, &ValidationError{
			Field:   "recipient_address",
			Message: fmt.Sprintf("invalid %s address %q", req.Channel, req.RecipientAddress),
		}
	}

	var tpl *storage.Template
	if req.TemplateCode != "" {
		tpl, err = s.cfg.Templates.FindTemplate(ctx, req.TemplateCode, req.Channel)
		if err != nil {
			return nil, false, fmt.Errorf("looking up template: %w", err)
		}
		if tpl == nil {
			return nil, false, &ValidationError{
				Field:   "template_code",
				Message: fmt.Sprintf("no active %s template with code %q", req.Channel, req.TemplateCode),
			}
		}
	}
	return &prepared{req: req, channel: ch, template: tpl}, false, nil
}

func (s *notificationServiceImpl) newItem(p *prepared, now time.Time) *storage.WorkItem {
	item := &storage.WorkItem{
		ID:               uuid.New().String(),
		Channel:          p.req.Channel,
		RecipientAddress: p.req.RecipientAddress,
		RecipientID:      p.req.RecipientID,
		EventType:        p.req.EventType,
		Payload:          p.req.Payload,
		Status:           storage.StatusPending,
		MaxAttempts:      s.cfg.MaxAttempts,
		ScheduledFor:     p.req.ScheduledFor,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if p.template != nil {
		item.TemplateID = p.template.ID
	}
	return item
}

func (s *notificationServiceImpl) CreateNotification(ctx context.Context, req CreateRequest) (*storage.WorkItem, error) {
	p, blocked, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	if blocked {
		s.logger.Info("notification blocked by recipient preferences",
			"recipient_id", req.RecipientID, "channel", req.Channel, "event_type", req.EventType)
		return nil, nil
	}

	item := s.newItem(p, s.clock.Now())
	if err := s.cfg.Store.CreateNotification(ctx, item); err != nil {
		return nil, fmt.Errorf("creating notification: %w", err)
	}
	s.logger.Debug("notification queued", "notification_id", item.ID, "channel", item.Channel, "event_type", item.EventType)
	s.publish(eventbus.NotificationCreated, map[string]string{
		"notification_id": item.ID,
		"channel":         string(item.Channel),
		"event_type":      item.EventType,
	})
	return item, nil
}

func (s *notificationServiceImpl) SendImmediate(ctx context.Context, req CreateRequest) (notification.Result, error) {
	p, blocked, err := s.prepare(ctx, req)
	if err != nil {
		return notification.Result{}, err
	}
	if blocked {
		return notification.Failed(errors.New("blocked by recipient preferences"), false), nil
	}

	item := s.newItem(p, s.clock.Now())
	item.Attempts = 1

	res := s.sendNow(ctx, p, item.ID)

	now := s.clock.Now()
	item.UpdatedAt = now
	if res.Success {
		s.cfg.Limiter.RecordSend(item.Channel)
		item.Status = storage.StatusSent
		item.ExternalID = res.ExternalID
		item.SentAt = &now
	} else {
		item.Status = storage.StatusFailed
		item.LastError = res.Error()
	}
	if err := s.cfg.Store.CreateNotification(context.WithoutCancel(ctx), item); err != nil {
		s.logger.Error("failed to record immediate send", "notification_id", item.ID, "error", err)
	}
	s.logger.Info("immediate send finished",
		"notification_id", item.ID, "channel", item.Channel, "status", item.Status)
	return res, nil
}

func (s *notificationServiceImpl) sendNow(ctx context.Context, p *prepared, id string) notification.Result {
	content, err := s.cfg.Renderer.Render(p.template, p.req.Payload, p.req.Channel)
	if err != nil {
		return notification.Failed(fmt.Errorf("render: %w", err), true)
	}
	if content.Empty() {
		return notification.Failed(errors.New("empty content"), false)
	}
	sendCtx, cancel := context.WithTimeout(notification.WithNotificationID(ctx, id), s.cfg.SendTimeout)
	defer cancel()
	return p.channel.Send(sendCtx, p.req.RecipientAddress, content)
}

func (s *notificationServiceImpl) CancelNotification(ctx context.Context, id string) error {
	err := s.cfg.Store.Cancel(ctx, id, s.clock.Now())
	return s.transitionError(ctx, id, err, "only PENDING notifications can be canceled")
}

func (s *notificationServiceImpl) RetryNotification(ctx context.Context, id string) error {
	err := s.cfg.Store.Retry(ctx, id, s.clock.Now())
	return s.transitionError(ctx, id, err, "only FAILED notifications can be retried")
}

// transitionError maps conditional update failures to service errors.
func (s *notificationServiceImpl) transitionError(ctx context.Context, id string, err error, rule string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrNotFound):
		return &NotFoundError{Resource: "notification", ID: id}
	case errors.Is(err, storage.ErrStaleState):
		msg := rule
		if item, getErr := s.cfg.Store.GetNotification(ctx, id); getErr == nil && item != nil {
			msg = fmt.Sprintf("status is %s, %s", item.Status, rule)
		}
		return &ConflictError{Resource: "notification", ID: id, Message: msg}
	default:
		return fmt.Errorf("updating notification %q: %w", id, err)
	}
}

func (s *notificationServiceImpl) GetNotification(ctx context.Context, id string) (*storage.WorkItem, error) {
	item, err := s.cfg.Store.GetNotification(ctx, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, &NotFoundError{Resource: "notification", ID: id}
	}
	return item, nil
}

func (s *notificationServiceImpl) ListNotifications(ctx context.Context, status storage.Status, limit int) ([]*storage.WorkItem, error) {
	if status != "" && !validStatus(status) {
		return nil, &ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", status)}
	}
	return s.cfg.Store.ListNotifications(ctx, status, limit)
}

func (s *notificationServiceImpl) QueueSnapshot(ctx context.Context) (*QueueSnapshot, error) {
	depth, err := s.cfg.Store.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting notifications: %w", err)
	}
	for _, st := range storage.Statuses {
		if _, ok := depth[st]; !ok {
			depth[st] = 0
		}
	}
	return &QueueSnapshot{
		Depth:       depth,
		RateLimits:  s.cfg.Limiter.Snapshot(),
		GeneratedAt: s.clock.Now(),
	}, nil
}

func (s *notificationServiceImpl) Totals(ctx context.Context, since, until time.Time) ([]storage.TotalsRow, error) {
	if !until.After(since) {
		return nil, &ValidationError{Field: "until", Message: "until must be after since"}
	}
	return s.cfg.Store.Totals(ctx, since, until)
}

func (s *notificationServiceImpl) ListEmailLog(ctx context.Context, limit int) ([]storage.EmailSendLogEntry, error) {
	if s.cfg.SendLog == nil {
		return []storage.EmailSendLogEntry{}, nil
	}
	return s.cfg.SendLog.ListEmailSends(ctx, limit)
}

func (s *notificationServiceImpl) publish(eventType string, payload map[string]string) {
	if s.cfg.Publisher != nil {
		s.cfg.Publisher.Publish(eventType, payload)
	}
}

func validStatus(st storage.Status) bool {
	for _, v := range storage.Statuses {
		if v == st {
			return true
		}
	}
	return false
}
