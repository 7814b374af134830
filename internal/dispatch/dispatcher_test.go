package dispatch_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studiodesk/notifier/internal/dispatch"
	"github.com/studiodesk/notifier/internal/notification"
	"github.com/studiodesk/notifier/internal/ratelimit"
	"github.com/studiodesk/notifier/internal/render"
	"github.com/studiodesk/notifier/internal/storage"
)

var t0 = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

// --- stubs ---

type fakeChannel struct {
	kind   storage.Channel
	limits ratelimit.Limits
	send   func(address string, content render.Content) notification.Result
	calls  atomic.Int32
}

func (f *fakeChannel) Kind() storage.Channel { return f.kind }

func (f *fakeChannel) ValidateAddress(address string) bool {
	return address != "" && !strings.Contains(address, " ")
}

func (f *fakeChannel) RateLimitConfig() ratelimit.Limits { return f.limits }

func (f *fakeChannel) Send(_ context.Context, address string, content render.Content) notification.Result {
	n := f.calls.Add(1)
	if f.send != nil {
		return f.send(address, content)
	}
	return notification.Sent(fmt.Sprintf("msg-%d", n))
}

type stubTemplates map[string]*storage.Template

func (s stubTemplates) GetTemplate(_ context.Context, id string) (*storage.Template, error) {
	return s[id], nil
}

// --- harness ---

type harness struct {
	store      *storage.SQLiteNotificationStore
	clock      *clockwork.FakeClock
	limiter    *ratelimit.Limiter
	telegram   *fakeChannel
	dispatcher *dispatch.Dispatcher
}

// newHarness registers a Telegram channel with tgLimits plus any extra
// channels.
func newHarness(t *testing.T, tgLimits ratelimit.Limits, extra ...*fakeChannel) *harness {
	t.Helper()
	db, _, err := storage.NewSQLiteDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() }) //nolint:errcheck

	h := &harness{
		store:    storage.NewSQLiteNotificationStore(db),
		clock:    clockwork.NewFakeClockAt(t0),
		telegram: &fakeChannel{kind: storage.ChannelTelegram, limits: tgLimits},
	}
	registered := []notification.Channel{h.telegram}
	for _, c := range extra {
		registered = append(registered, c)
	}
	channels := notification.NewRegistry(registered...)
	h.limiter = ratelimit.New(h.clock, channels.Limits())
	h.dispatcher = dispatch.New(dispatch.Config{
		Store: h.store,
		Templates: stubTemplates{
			"greeting": {ID: "greeting", Channel: storage.ChannelTelegram, Body: "Привет, {{.name}}!"},
			"blank":    {ID: "blank", Channel: storage.ChannelTelegram, Body: "{{.nothing}}"},
			"broken":   {ID: "broken", Channel: storage.ChannelTelegram, Body: "{{formatMoney .name}}"},
		},
		Renderer: render.New(),
		Limiter:  h.limiter,
		Channels: channels,
		Clock:    h.clock,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Workers:  2,
	})
	return h
}

func (h *harness) enqueue(t *testing.T, id string, mutate ...func(*storage.WorkItem)) {
	t.Helper()
	item := &storage.WorkItem{
		ID:               id,
		Channel:          storage.ChannelTelegram,
		RecipientAddress: "1001",
		EventType:        "booking.confirmed",
		TemplateID:       "greeting",
		Payload:          map[string]any{"name": "Анна"},
		Status:           storage.StatusPending,
		MaxAttempts:      5,
		CreatedAt:        h.clock.Now(),
	}
	for _, m := range mutate {
		m(item)
	}
	require.NoError(t, h.store.CreateNotification(context.Background(), item))
	// Keep creation order strict.
	h.clock.Advance(time.Millisecond)
}

func (h *harness) get(t *testing.T, id string) *storage.WorkItem {
	t.Helper()
	item, err := h.store.GetNotification(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, item)
	return item
}

// --- tests ---

func TestBackoff(t *testing.T) {
	want := []time.Duration{
		30 * time.Second,
		2 * time.Minute,
		8 * time.Minute,
		32 * time.Minute,
		2 * time.Hour,
		2 * time.Hour,
	}
	for n, w := range want {
		assert.Equal(t, w, dispatch.Backoff(n, dispatch.DefaultBaseDelay, dispatch.DefaultMaxDelay), "n=%d", n)
	}
	assert.Equal(t, 30*time.Second, dispatch.Backoff(-1, 0, 0))
}

func TestTick_SendsDueItem(t *testing.T) {
	h := newHarness(t, ratelimit.Limits{MaxPerSecond: 30})
	var body string
	h.telegram.send = func(_ string, c render.Content) notification.Result {
		body = c.Body
		return notification.Sent("77")
	}
	h.enqueue(t, "n-1")

	sum := h.dispatcher.Tick(context.Background())
	assert.Equal(t, 1, sum.Claimed)
	assert.Equal(t, 1, sum.Sent)

	item := h.get(t, "n-1")
	assert.Equal(t, storage.StatusSent, item.Status)
	assert.Equal(t, "77", item.ExternalID)
	assert.Equal(t, 1, item.Attempts)
	require.NotNil(t, item.SentAt)
	assert.Equal(t, "Привет, Анна!", body)

	// Nothing left to do.
	sum = h.dispatcher.Tick(context.Background())
	assert.Equal(t, 0, sum.Due)
	assert.Equal(t, int32(1), h.telegram.calls.Load())
}

func TestTick_RetryableFailureSchedulesRetry(t *testing.T) {
	h := newHarness(t, ratelimit.Limits{MaxPerSecond: 30})
	h.telegram.send = func(string, render.Content) notification.Result {
		return notification.Failed(errors.New("telegram: Internal Server Error (500)"), true)
	}
	h.enqueue(t, "n-1")
	now := h.clock.Now()

	sum := h.dispatcher.Tick(context.Background())
	assert.Equal(t, 1, sum.Retried)

	item := h.get(t, "n-1")
	assert.Equal(t, storage.StatusPending, item.Status)
	assert.Equal(t, 1, item.Attempts)
	require.NotNil(t, item.NextRetryAt)
	assert.Equal(t, now.Add(30*time.Second), *item.NextRetryAt)
	assert.Contains(t, item.LastError, "retry scheduled")
	assert.Contains(t, item.LastError, "Internal Server Error")

	// Not eligible until the backoff elapses.
	h.clock.Advance(29 * time.Second)
	assert.Equal(t, 0, h.dispatcher.Tick(context.Background()).Due)

	h.clock.Advance(time.Second)
	sum = h.dispatcher.Tick(context.Background())
	assert.Equal(t, 1, sum.Claimed)
	item = h.get(t, "n-1")
	assert.Equal(t, 2, item.Attempts)
	assert.Equal(t, h.clock.Now().Add(2*time.Minute), *item.NextRetryAt)
}

func TestTick_RetryBudgetExhausted(t *testing.T) {
	h := newHarness(t, ratelimit.Limits{MaxPerSecond: 30})
	h.telegram.send = func(string, render.Content) notification.Result {
		return notification.Failed(errors.New("i/o timeout"), true)
	}
	h.enqueue(t, "n-1", func(w *storage.WorkItem) { w.Attempts = 4 })

	sum := h.dispatcher.Tick(context.Background())
	assert.Equal(t, 1, sum.Failed)

	item := h.get(t, "n-1")
	assert.Equal(t, storage.StatusFailed, item.Status)
	assert.Equal(t, 5, item.Attempts)
	assert.Equal(t, "i/o timeout", item.LastError)
	assert.Nil(t, item.NextRetryAt)
}

func TestTick_TerminalFailures(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*storage.WorkItem)
		send    func(string, render.Content) notification.Result
		wantErr string
		sends   int32
	}{
		{
			name: "provider rejects",
			send: func(string, render.Content) notification.Result {
				return notification.Failed(errors.New("Forbidden: bot was blocked by the user"), false)
			},
			wantErr: "blocked by the user",
			sends:   1,
		},
		{
			name:    "invalid address",
			mutate:  func(w *storage.WorkItem) { w.RecipientAddress = "not valid" },
			wantErr: "invalid TELEGRAM address",
		},
		{
			name:    "unknown channel",
			mutate:  func(w *storage.WorkItem) { w.Channel = storage.ChannelEmail; w.RecipientAddress = "a@example.com" },
			wantErr: "unknown channel",
		},
		{
			name:    "missing template",
			mutate:  func(w *storage.WorkItem) { w.TemplateID = "deleted" },
			wantErr: "empty content",
		},
		{
			name:    "template renders nothing",
			mutate:  func(w *storage.WorkItem) { w.TemplateID = "blank" },
			wantErr: "empty content",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, ratelimit.Limits{MaxPerSecond: 30})
			h.telegram.send = tt.send
			if tt.mutate != nil {
				h.enqueue(t, "n-1", tt.mutate)
			} else {
				h.enqueue(t, "n-1")
			}

			sum := h.dispatcher.Tick(context.Background())
			assert.Equal(t, 1, sum.Failed)

			item := h.get(t, "n-1")
			assert.Equal(t, storage.StatusFailed, item.Status)
			assert.Contains(t, item.LastError, tt.wantErr)
			assert.Equal(t, tt.sends, h.telegram.calls.Load())
		})
	}
}

func TestTick_RenderErrorIsRetryable(t *testing.T) {
	h := newHarness(t, ratelimit.Limits{MaxPerSecond: 30})
	h.enqueue(t, "n-1", func(w *storage.WorkItem) { w.TemplateID = "broken" })

	sum := h.dispatcher.Tick(context.Background())
	assert.Equal(t, 1, sum.Retried)

	item := h.get(t, "n-1")
	assert.Equal(t, storage.StatusPending, item.Status)
	assert.Contains(t, item.LastError, "render")
	assert.Equal(t, int32(0), h.telegram.calls.Load())
}

func TestTick_ScheduledForBoundary(t *testing.T) {
	h := newHarness(t, ratelimit.Limits{MaxPerSecond: 30})
	at := t0.Add(time.Minute)
	h.enqueue(t, "n-1", func(w *storage.WorkItem) { w.ScheduledFor = &at })

	assert.Equal(t, 0, h.dispatcher.Tick(context.Background()).Due)

	h.clock.Advance(at.Sub(h.clock.Now()))
	sum := h.dispatcher.Tick(context.Background())
	assert.Equal(t, 1, sum.Sent)
	assert.Equal(t, storage.StatusSent, h.get(t, "n-1").Status)
}

func TestTick_RateLimitDefersWithoutTouchingItems(t *testing.T) {
	h := newHarness(t, ratelimit.Limits{MaxPerSecond: 2})
	for i := range 5 {
		h.enqueue(t, fmt.Sprintf("n-%d", i))
	}
	h.clock.Advance(time.Second)

	sum := h.dispatcher.Tick(context.Background())
	assert.Equal(t, 5, sum.Due)
	assert.Equal(t, 2, sum.Sent)
	assert.Equal(t, 3, sum.Deferred)

	// Oldest first.
	assert.Equal(t, storage.StatusSent, h.get(t, "n-0").Status)
	assert.Equal(t, storage.StatusSent, h.get(t, "n-1").Status)
	for _, id := range []string{"n-2", "n-3", "n-4"} {
		item := h.get(t, id)
		assert.Equal(t, storage.StatusPending, item.Status, id)
		assert.Equal(t, 0, item.Attempts, id)
		assert.Nil(t, item.NextRetryAt, id)
	}

	// Same window: the capped channel is left out of the batch.
	sum = h.dispatcher.Tick(context.Background())
	assert.Equal(t, 0, sum.Due)
	assert.Equal(t, 0, sum.Claimed)
	assert.Equal(t, storage.StatusPending, h.get(t, "n-2").Status)

	h.clock.Advance(time.Second)
	sum = h.dispatcher.Tick(context.Background())
	assert.Equal(t, 2, sum.Sent)
	assert.Equal(t, storage.StatusSent, h.get(t, "n-2").Status)
}

func TestTick_CappedBacklogDoesNotStarveOtherChannels(t *testing.T) {
	email := &fakeChannel{kind: storage.ChannelEmail, limits: ratelimit.Limits{MaxPerSecond: 1, MaxPerHour: ratelimit.Cap(1)}}
	h := newHarness(t, ratelimit.Limits{MaxPerSecond: 30}, email)
	h.dispatcher = dispatch.New(dispatch.Config{
		Store:     h.store,
		Templates: stubTemplates{"greeting": {ID: "greeting", Body: "Привет, {{.name}}!"}},
		Renderer:  render.New(),
		Limiter:   h.limiter,
		Channels:  notification.NewRegistry(h.telegram, email),
		Clock:     h.clock,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		BatchSize: 3,
	})
	for i := range 5 {
		h.enqueue(t, fmt.Sprintf("mail-%d", i), func(w *storage.WorkItem) {
			w.Channel = storage.ChannelEmail
			w.RecipientAddress = "anna@example.com"
		})
	}
	h.enqueue(t, "tg-1")

	// The first batch is all email; one fits the hour cap.
	sum := h.dispatcher.Tick(context.Background())
	assert.Equal(t, 1, sum.Sent)
	assert.Equal(t, 2, sum.Deferred)
	assert.Equal(t, storage.StatusPending, h.get(t, "tg-1").Status)

	h.clock.Advance(time.Second)
	sum = h.dispatcher.Tick(context.Background())
	assert.Equal(t, 1, sum.Due)
	assert.Equal(t, 1, sum.Sent)
	assert.Equal(t, storage.StatusSent, h.get(t, "tg-1").Status)
	assert.Equal(t, int32(1), email.calls.Load())
}

func TestTick_FailureRefundsRateLimit(t *testing.T) {
	h := newHarness(t, ratelimit.Limits{MaxPerSecond: 1})
	h.telegram.send = func(string, render.Content) notification.Result {
		return notification.Failed(errors.New("Bad Request: message is too long"), false)
	}
	h.enqueue(t, "n-1")

	h.dispatcher.Tick(context.Background())
	assert.True(t, h.limiter.CanSend(storage.ChannelTelegram))
}

func TestTick_RecoversFromPanic(t *testing.T) {
	h := newHarness(t, ratelimit.Limits{MaxPerSecond: 30})
	h.telegram.send = func(string, render.Content) notification.Result {
		panic("boom")
	}
	h.enqueue(t, "n-1")

	var sum dispatch.Summary
	require.NotPanics(t, func() { sum = h.dispatcher.Tick(context.Background()) })
	assert.Equal(t, 1, sum.Retried)

	item := h.get(t, "n-1")
	assert.Equal(t, storage.StatusPending, item.Status)
	assert.Contains(t, item.LastError, "panic: boom")
}

func TestTick_SkipsWhenAlreadyRunning(t *testing.T) {
	h := newHarness(t, ratelimit.Limits{MaxPerSecond: 30})
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h.telegram.send = func(string, render.Content) notification.Result {
		once.Do(func() { close(entered) })
		<-release
		return notification.Sent("1")
	}
	h.enqueue(t, "n-1")

	done := make(chan dispatch.Summary)
	go func() { done <- h.dispatcher.Tick(context.Background()) }()

	<-entered
	assert.True(t, h.dispatcher.Tick(context.Background()).Skipped)
	close(release)

	first := <-done
	assert.False(t, first.Skipped)
	assert.Equal(t, 1, first.Sent)
	assert.Equal(t, int32(1), h.telegram.calls.Load())
}

func TestTick_ParallelWorkersSendEachItemOnce(t *testing.T) {
	h := newHarness(t, ratelimit.Limits{})
	for i := range 20 {
		h.enqueue(t, fmt.Sprintf("n-%02d", i))
	}

	sum := h.dispatcher.Tick(context.Background())
	assert.Equal(t, 20, sum.Sent)
	assert.Equal(t, int32(20), h.telegram.calls.Load())
}

func TestDispatcher_ReleaseStale(t *testing.T) {
	h := newHarness(t, ratelimit.Limits{MaxPerSecond: 30})
	h.enqueue(t, "n-1")
	_, err := h.store.Claim(context.Background(), "n-1", h.clock.Now())
	require.NoError(t, err)

	n, err := h.dispatcher.ReleaseStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	h.clock.Advance(dispatch.DefaultStaleAfter + time.Second)
	n, err = h.dispatcher.ReleaseStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	item := h.get(t, "n-1")
	assert.Equal(t, storage.StatusPending, item.Status)
	assert.Equal(t, 1, item.Attempts)
}
