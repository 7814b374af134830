package ratelimit_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studiodesk/notifier/internal/ratelimit"
	"github.com/studiodesk/notifier/internal/storage"
)

var start = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func TestLimiter_PerSecondWindow(t *testing.T) {
	clock := clockwork.NewFakeClockAt(start)
	l := ratelimit.New(clock, map[storage.Channel]ratelimit.Limits{
		storage.ChannelTelegram: {MaxPerSecond: 2},
	})

	assert.True(t, l.CanSend(storage.ChannelTelegram))
	l.RecordSend(storage.ChannelTelegram)
	assert.True(t, l.CanSend(storage.ChannelTelegram))
	l.RecordSend(storage.ChannelTelegram)
	assert.False(t, l.CanSend(storage.ChannelTelegram))

	clock.Advance(999 * time.Millisecond)
	assert.False(t, l.CanSend(storage.ChannelTelegram))

	clock.Advance(time.Millisecond)
	assert.True(t, l.CanSend(storage.ChannelTelegram))
}

func TestLimiter_HourAndDayCaps(t *testing.T) {
	clock := clockwork.NewFakeClockAt(start)
	l := ratelimit.New(clock, map[storage.Channel]ratelimit.Limits{
		storage.ChannelEmail: {MaxPerSecond: 1, MaxPerHour: ratelimit.Cap(2), MaxPerDay: ratelimit.Cap(3)},
	})

	admitted := 0
	for range 10 {
		if admit(l, storage.ChannelEmail) {
			admitted++
		}
		clock.Advance(time.Second)
	}
	assert.Equal(t, 2, admitted, "hour cap bounds admissions")

	clock.Advance(time.Hour)
	assert.True(t, admit(l, storage.ChannelEmail))
	clock.Advance(time.Second)
	assert.False(t, admit(l, storage.ChannelEmail), "day cap reached")

	clock.Advance(24 * time.Hour)
	assert.True(t, admit(l, storage.ChannelEmail))
}

func TestLimiter_UnknownChannel(t *testing.T) {
	l := ratelimit.New(clockwork.NewFakeClockAt(start), map[storage.Channel]ratelimit.Limits{
		storage.ChannelTelegram: {MaxPerSecond: 30},
	})

	assert.False(t, l.CanSend(storage.ChannelEmail))
	assert.False(t, admit(l, storage.ChannelEmail))
	l.RecordSend(storage.ChannelEmail)
	l.Refund(ratelimit.Admission{Channel: storage.ChannelEmail})
	assert.Equal(t, ratelimit.Limits{}, l.GetLimitsConfig(storage.ChannelEmail))
}

func TestLimiter_Unconstrained(t *testing.T) {
	l := ratelimit.New(clockwork.NewFakeClockAt(start), map[storage.Channel]ratelimit.Limits{
		storage.ChannelTelegram: {},
	})
	for range 1000 {
		require.True(t, admit(l, storage.ChannelTelegram))
	}
}

func TestLimiter_Refund(t *testing.T) {
	clock := clockwork.NewFakeClockAt(start)
	l := ratelimit.New(clock, map[storage.Channel]ratelimit.Limits{
		storage.ChannelTelegram: {MaxPerSecond: 1, MaxPerHour: ratelimit.Cap(5)},
	})

	a, ok := l.Admit(storage.ChannelTelegram)
	require.True(t, ok)
	assert.False(t, admit(l, storage.ChannelTelegram))

	l.Refund(a)
	assert.True(t, admit(l, storage.ChannelTelegram))

	snap := l.Snapshot()[storage.ChannelTelegram]
	require.Len(t, snap.Windows, 2)
	assert.Equal(t, 1, snap.Windows[0].Count)
	assert.Equal(t, 1, snap.Windows[1].Count)
}

func TestLimiter_RefreshAndSnapshot(t *testing.T) {
	clock := clockwork.NewFakeClockAt(start)
	l := ratelimit.New(clock, map[storage.Channel]ratelimit.Limits{
		storage.ChannelEmail: {MaxPerSecond: 1, MaxPerHour: ratelimit.Cap(20), MaxPerDay: ratelimit.Cap(500)},
	})
	l.RecordSend(storage.ChannelEmail)

	clock.Advance(2 * time.Second)
	l.Refresh()

	snap := l.Snapshot()[storage.ChannelEmail]
	require.Len(t, snap.Windows, 3)
	assert.Equal(t, time.Second, snap.Windows[0].Period)
	assert.Equal(t, 0, snap.Windows[0].Count)
	assert.Equal(t, start.Add(2*time.Second), snap.Windows[0].Start)
	assert.Equal(t, 1, snap.Windows[1].Count)
	assert.Equal(t, 20, snap.Windows[1].Max)
	assert.Equal(t, 1, snap.Windows[2].Count)
	assert.Equal(t, 500, *snap.Limits.MaxPerDay)
}

func TestLimiter_AdmitIsAtomic(t *testing.T) {
	l := ratelimit.New(clockwork.NewFakeClockAt(start), map[storage.Channel]ratelimit.Limits{
		storage.ChannelTelegram: {MaxPerSecond: 30},
	})

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if admit(l, storage.ChannelTelegram) {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(30), admitted.Load())
}

func TestLimiter_RefundAfterRollover(t *testing.T) {
	clock := clockwork.NewFakeClockAt(start)
	l := ratelimit.New(clock, map[storage.Channel]ratelimit.Limits{
		storage.ChannelEmail: {MaxPerSecond: 10, MaxPerDay: ratelimit.Cap(2)},
	})

	// Admitted in the last second of the day window, failed after it rolled.
	clock.Advance(24*time.Hour - time.Second)
	late, ok := l.Admit(storage.ChannelEmail)
	require.True(t, ok)
	clock.Advance(2 * time.Second)
	require.True(t, admit(l, storage.ChannelEmail))
	require.True(t, admit(l, storage.ChannelEmail))

	l.Refund(late)

	snap := l.Snapshot()[storage.ChannelEmail]
	require.Len(t, snap.Windows, 2)
	assert.Equal(t, 2, snap.Windows[0].Count)
	assert.Equal(t, 2, snap.Windows[1].Count, "new day window keeps its sends")
	assert.False(t, l.CanSend(storage.ChannelEmail))
}

func TestLimiter_ZeroAdmissionRefund(t *testing.T) {
	l := ratelimit.New(clockwork.NewFakeClockAt(start), map[storage.Channel]ratelimit.Limits{
		storage.ChannelTelegram: {MaxPerSecond: 1},
	})
	require.True(t, admit(l, storage.ChannelTelegram))

	l.Refund(ratelimit.Admission{})
	l.Refund(ratelimit.Admission{Channel: storage.ChannelTelegram})
	assert.False(t, l.CanSend(storage.ChannelTelegram))
}

func admit(l *ratelimit.Limiter, ch storage.Channel) bool {
	_, ok := l.Admit(ch)
	return ok
}
