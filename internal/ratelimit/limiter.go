// Package ratelimit keeps per-channel send counters over fixed windows.
//
// Each channel may be capped per second, per hour and per day. Windows roll
// over lazily: a window whose period has elapsed is reset to zero and
// restarted at the current time. This is a fixed-window approximation, so a
// burst of up to twice a cap can pass across a window boundary.
package ratelimit

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/studiodesk/notifier/internal/storage"
)

// Limits is a channel's send policy. A nil hour or day cap, or a
// non-positive per-second cap, means the window is unconstrained.
type Limits struct {
	MaxPerSecond int  `json:"max_per_second"`
	MaxPerHour   *int `json:"max_per_hour,omitempty"`
	MaxPerDay    *int `json:"max_per_day,omitempty"`
}

// Cap returns a pointer to n, for building Limits literals.
func Cap(n int) *int { return &n }

// WindowOccupancy describes one window of a channel.
type WindowOccupancy struct {
	Period time.Duration `json:"period"`
	Count  int           `json:"count"`
	Max    int           `json:"max"`
	Start  time.Time     `json:"start"`
}

// Occupancy is a point-in-time view of a channel's windows.
type Occupancy struct {
	Limits  Limits            `json:"limits"`
	Windows []WindowOccupancy `json:"windows"`
}

type window struct {
	period time.Duration
	max    int
	count  int
	start  time.Time
}

func (w *window) roll(now time.Time) {
	if now.Sub(w.start) >= w.period {
		w.count = 0
		w.start = now
	}
}

type channelState struct {
	mu      sync.Mutex
	limits  Limits
	windows []*window
}

// Limiter tracks send counts for every configured channel. It is safe for
// concurrent use; each channel has its own mutex.
type Limiter struct {
	clock    clockwork.Clock
	channels map[storage.Channel]*channelState
}

// New returns a Limiter for the given policies. The set of channels is fixed
// at construction.
func New(clock clockwork.Clock, limits map[storage.Channel]Limits) *Limiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	now := clock.Now()
	l := &Limiter{
		clock:    clock,
		channels: make(map[storage.Channel]*channelState, len(limits)),
	}
	for ch, lim := range limits {
		st := &channelState{limits: lim}
		if lim.MaxPerSecond > 0 {
			st.windows = append(st.windows, &window{period: time.Second, max: lim.MaxPerSecond, start: now})
		}
		if lim.MaxPerHour != nil {
			st.windows = append(st.windows, &window{period: time.Hour, max: *lim.MaxPerHour, start: now})
		}
		if lim.MaxPerDay != nil {
			st.windows = append(st.windows, &window{period: 24 * time.Hour, max: *lim.MaxPerDay, start: now})
		}
		l.channels[ch] = st
	}
	return l
}

// CanSend reports whether every window of ch is below its cap. Unknown
// channels are never allowed.
func (l *Limiter) CanSend(ch storage.Channel) bool {
	st, ok := l.channels[ch]
	if !ok {
		return false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.canSend(l.clock.Now())
}

// RecordSend counts one send against every window of ch.
func (l *Limiter) RecordSend(ch storage.Channel) {
	st, ok := l.channels[ch]
	if !ok {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.record(l.clock.Now())
}

// Admission is a slot taken by Admit. It remembers the windows it was
// counted in, so a late Refund never gives back a slot of a newer window.
type Admission struct {
	Channel storage.Channel
	starts  []time.Time
}

// Admit checks and records in one step. Concurrent callers cannot both take
// the last slot of a window.
func (l *Limiter) Admit(ch storage.Channel) (Admission, bool) {
	st, ok := l.channels[ch]
	if !ok {
		return Admission{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	now := l.clock.Now()
	if !st.canSend(now) {
		return Admission{}, false
	}
	st.record(now)
	a := Admission{Channel: ch, starts: make([]time.Time, len(st.windows))}
	for i, w := range st.windows {
		a.starts[i] = w.start
	}
	return a, true
}

// Refund gives back the slot taken by a, for an admitted send that did not
// go out. Windows that rolled over since the admission are left untouched,
// and counts never drop below zero. The zero Admission is a no-op.
func (l *Limiter) Refund(a Admission) {
	st, ok := l.channels[a.Channel]
	if !ok || a.starts == nil {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	for i, w := range st.windows {
		if i < len(a.starts) && w.start.Equal(a.starts[i]) && w.count > 0 {
			w.count--
		}
	}
}

// GetLimitsConfig returns the policy configured for ch.
func (l *Limiter) GetLimitsConfig(ch storage.Channel) Limits {
	st, ok := l.channels[ch]
	if !ok {
		return Limits{}
	}
	return st.limits
}

// Refresh rolls over every expired window.
func (l *Limiter) Refresh() {
	now := l.clock.Now()
	for _, st := range l.channels {
		st.mu.Lock()
		for _, w := range st.windows {
			w.roll(now)
		}
		st.mu.Unlock()
	}
}

// Snapshot returns the current occupancy of every channel.
func (l *Limiter) Snapshot() map[storage.Channel]Occupancy {
	now := l.clock.Now()
	out := make(map[storage.Channel]Occupancy, len(l.channels))
	for ch, st := range l.channels {
		st.mu.Lock()
		occ := Occupancy{Limits: st.limits, Windows: make([]WindowOccupancy, 0, len(st.windows))}
		for _, w := range st.windows {
			w.roll(now)
			occ.Windows = append(occ.Windows, WindowOccupancy{
				Period: w.period, Count: w.count, Max: w.max, Start: w.start,
			})
		}
		st.mu.Unlock()
		out[ch] = occ
	}
	return out
}

func (st *channelState) canSend(now time.Time) bool {
	for _, w := range st.windows {
		w.roll(now)
		if w.count >= w.max {
			return false
		}
	}
	return true
}

func (st *channelState) record(now time.Time) {
	for _, w := range st.windows {
		w.roll(now)
		w.count++
	}
}
