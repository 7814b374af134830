// Package dispatch drives the notification queue: on every tick it claims a
// batch of due work items, admits them through the rate limiter, renders and
// sends them, and records the outcome.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/studiodesk/notifier/internal/notification"
	"github.com/studiodesk/notifier/internal/ratelimit"
	"github.com/studiodesk/notifier/internal/render"
	"github.com/studiodesk/notifier/internal/storage"
)

// Defaults applied by New for zero Config fields.
const (
	DefaultBatchSize   = 50
	DefaultWorkers     = 4
	DefaultSendTimeout = 15 * time.Second
	DefaultStaleAfter  = 10 * time.Minute
)

// TemplateLookup loads templates by id.
type TemplateLookup interface {
	GetTemplate(ctx context.Context, id string) (*storage.Template, error)
}

// Renderer turns a template and payload into channel content.
type Renderer interface {
	Render(tpl *storage.Template, payload map[string]any, ch storage.Channel) (render.Content, error)
}

// Config holds the dispatcher's collaborators and tuning.
type Config struct {
	Store     storage.NotificationStore
	Templates TemplateLookup
	Renderer  Renderer
	Limiter   *ratelimit.Limiter
	Channels  notification.Registry
	Clock     clockwork.Clock
	Logger    *slog.Logger
	// Metrics is optional; collectors go to a private registry when nil.
	Metrics *Metrics

	BatchSize   int
	Workers     int
	SendTimeout time.Duration
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	StaleAfter  time.Duration
}

// Summary counts what one tick did.
type Summary struct {
	Skipped  bool `json:"skipped"`
	Due      int  `json:"due"`
	Deferred int  `json:"deferred"`
	Claimed  int  `json:"claimed"`
	Sent     int  `json:"sent"`
	Retried  int  `json:"retried"`
	Failed   int  `json:"failed"`
}

// Dispatcher processes the notification queue.
type Dispatcher struct {
	cfg     Config
	store   storage.NotificationStore
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *Metrics
	running atomic.Bool
}

// New creates a Dispatcher. Store, Templates, Renderer, Limiter and Channels
// are required.
func New(cfg Config) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(prometheus.NewRegistry())
	}
	return &Dispatcher{
		cfg:     cfg,
		store:   cfg.Store,
		clock:   cfg.Clock,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}
}

// ReleaseStale returns items left in PROCESSING by a previous run to
// PENDING. It is called once before the first tick.
func (d *Dispatcher) ReleaseStale(ctx context.Context) (int, error) {
	now := d.clock.Now()
	n, err := d.store.ReleaseStale(ctx, now.Add(-d.cfg.StaleAfter), now)
	if err != nil {
		return 0, fmt.Errorf("releasing stale notifications: %w", err)
	}
	if n > 0 {
		d.logger.Warn("released stale notifications", "count", n, "stale_after", d.cfg.StaleAfter)
	}
	return n, nil
}

// Tick runs one dispatch cycle. Overlapping calls return immediately with
// Summary.Skipped set. Store errors are logged; Tick never panics.
func (d *Dispatcher) Tick(ctx context.Context) Summary {
	if !d.running.CompareAndSwap(false, true) {
		d.logger.Debug("dispatch tick skipped, previous tick still running")
		return Summary{Skipped: true}
	}
	defer d.running.Store(false)

	d.cfg.Limiter.Refresh()

	var sum Summary
	claimed := d.claimBatch(ctx, &sum)

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, d.cfg.Workers)
	)
	for _, c := range claimed {
		sem <- struct{}{}
		wg.Add(1)
		go func(c claim) {
			defer wg.Done()
			defer func() { <-sem }()

			outcome := d.process(ctx, c)

			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case OutcomeSent:
				sum.Sent++
			case OutcomeRetried:
				sum.Retried++
			case OutcomeFailed:
				sum.Failed++
			}
		}(c)
	}
	wg.Wait()

	d.refreshDepth(ctx)
	if sum.Claimed > 0 || sum.Deferred > 0 {
		d.logger.Info("dispatch tick finished",
			"due", sum.Due, "claimed", sum.Claimed, "deferred", sum.Deferred,
			"sent", sum.Sent, "retried", sum.Retried, "failed", sum.Failed)
	}
	return sum
}

// claim is a claimed item and the rate limiter slot it holds.
type claim struct {
	item      *storage.WorkItem
	admission ratelimit.Admission
}

// claimBatch lists due items oldest first and claims those the rate limiter
// admits. Items that are not admitted stay PENDING with attempts unchanged.
// Summary.Due counts only items on channels that had room at the start of
// the tick.
func (d *Dispatcher) claimBatch(ctx context.Context, sum *Summary) []claim {
	now := d.clock.Now()
	// Channels already at their cap are left out of the batch, so a capped
	// backlog cannot crowd out items of other channels.
	var capped []storage.Channel
	for ch := range d.cfg.Channels {
		if !d.cfg.Limiter.CanSend(ch) {
			capped = append(capped, ch)
		}
	}
	due, err := d.store.ListDue(ctx, now, d.cfg.BatchSize, capped...)
	if err != nil {
		d.logger.Error("failed to list due notifications", "error", err)
		return nil
	}
	sum.Due = len(due)

	claimed := make([]claim, 0, len(due))
	for _, item := range due {
		// Items on an unregistered channel are claimed without admission
		// so that process can fail them.
		var admission ratelimit.Admission
		if _, known := d.cfg.Channels[item.Channel]; known {
			var ok bool
			if admission, ok = d.cfg.Limiter.Admit(item.Channel); !ok {
				sum.Deferred++
				d.metrics.Deferred.WithLabelValues(string(item.Channel)).Inc()
				continue
			}
		}

		c, err := d.store.Claim(ctx, item.ID, now)
		if err != nil {
			d.cfg.Limiter.Refund(admission)
			if errors.Is(err, storage.ErrStaleState) || errors.Is(err, storage.ErrNotFound) {
				d.logger.Debug("notification claimed elsewhere", "notification_id", item.ID)
			} else {
				d.logger.Error("failed to claim notification", "notification_id", item.ID, "error", err)
			}
			continue
		}
		claimed = append(claimed, claim{item: c, admission: admission})
	}
	sum.Claimed = len(claimed)
	return claimed
}

// process delivers one claimed item and records the outcome. A panic in
// rendering or sending is turned into a retryable failure.
func (d *Dispatcher) process(ctx context.Context, c claim) (outcome string) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic while processing notification",
				"notification_id", c.item.ID, "panic", r, "stack", string(debug.Stack()))
			outcome = d.finish(ctx, c, notification.Failed(fmt.Errorf("panic: %v", r), true))
		}
	}()
	return d.finish(ctx, c, d.deliver(ctx, c.item))
}

func (d *Dispatcher) deliver(ctx context.Context, item *storage.WorkItem) notification.Result {
	ch, ok := d.cfg.Channels[item.Channel]
	if !ok {
		return notification.Failed(fmt.Errorf("unknown channel %q", item.Channel), false)
	}
	if !ch.ValidateAddress(item.RecipientAddress) {
		return notification.Failed(fmt.Errorf("invalid %s address %q", item.Channel, item.RecipientAddress), false)
	}

	var tpl *storage.Template
	if item.TemplateID != "" {
		var err error
		tpl, err = d.cfg.Templates.GetTemplate(ctx, item.TemplateID)
		if err != nil {
			return notification.Failed(fmt.Errorf("loading template: %w", err), true)
		}
		if tpl == nil {
			d.logger.Warn("template not found", "notification_id", item.ID, "template_id", item.TemplateID)
		}
	}
	content, err := d.cfg.Renderer.Render(tpl, item.Payload, item.Channel)
	if err != nil {
		return notification.Failed(fmt.Errorf("render: %w", err), true)
	}
	if content.Empty() {
		return notification.Failed(errors.New("empty content"), false)
	}

	sendCtx, cancel := context.WithTimeout(notification.WithNotificationID(ctx, item.ID), d.cfg.SendTimeout)
	defer cancel()
	start := time.Now()
	res := ch.Send(sendCtx, item.RecipientAddress, content)
	d.metrics.SendLatency.WithLabelValues(string(item.Channel)).Observe(time.Since(start).Seconds())
	return res
}

// finish applies the state transition for res. Transitions are conditional
// on the item still being PROCESSING and are recorded even if ctx was
// canceled during the send.
func (d *Dispatcher) finish(ctx context.Context, c claim, res notification.Result) string {
	item := c.item
	ctx = context.WithoutCancel(ctx)
	now := d.clock.Now()
	log := d.logger.With("notification_id", item.ID, "channel", item.Channel, "attempt", item.Attempts)

	var (
		outcome string
		err     error
	)
	switch {
	case res.Success:
		outcome = OutcomeSent
		err = d.store.MarkSent(ctx, item.ID, res.ExternalID, now)
		log.Info("notification sent", "external_id", res.ExternalID)

	case res.Retryable && item.Attempts < item.MaxAttempts:
		outcome = OutcomeRetried
		next := now.Add(Backoff(item.Attempts-1, d.cfg.BaseDelay, d.cfg.MaxDelay))
		note := fmt.Sprintf("retry scheduled after attempt %d/%d: %s", item.Attempts, item.MaxAttempts, res.Error())
		err = d.store.ScheduleRetry(ctx, item.ID, next, note, now)
		log.Warn("notification delivery failed, will retry", "error", res.Error(), "next_retry_at", next)

	default:
		outcome = OutcomeFailed
		err = d.store.MarkFailed(ctx, item.ID, res.Error(), now)
		log.Error("notification delivery failed", "error", res.Error(), "retryable", res.Retryable)
	}

	if !res.Success {
		d.cfg.Limiter.Refund(c.admission)
	}
	if err != nil {
		log.Error("failed to record notification outcome", "outcome", outcome, "error", err)
	}
	d.metrics.Dispatched.WithLabelValues(string(item.Channel), outcome).Inc()
	return outcome
}

func (d *Dispatcher) refreshDepth(ctx context.Context) {
	counts, err := d.store.CountByStatus(ctx)
	if err != nil {
		d.logger.Debug("failed to count notifications", "error", err)
		return
	}
	d.metrics.observeDepth(counts)
}
