// Package notification provides the delivery channels (Telegram and email).
// A channel sends one rendered message to one address and classifies any
// failure as retryable or terminal. It never retries on its own.
package notification

import (
	"context"

	"github.com/studiodesk/notifier/internal/ratelimit"
	"github.com/studiodesk/notifier/internal/render"
	"github.com/studiodesk/notifier/internal/storage"
)

// Result is the outcome of one Send call.
type Result struct {
	Success    bool
	ExternalID string
	Err        error
	Retryable  bool
}

// Error returns the failure text, or "" on success.
func (r Result) Error() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Sent builds a successful Result.
func Sent(externalID string) Result {
	return Result{Success: true, ExternalID: externalID}
}

// Failed builds a failed Result.
func Failed(err error, retryable bool) Result {
	return Result{Err: err, Retryable: retryable}
}

// Channel delivers rendered content over one transport.
type Channel interface {
	// Kind returns the storage channel this adapter serves.
	Kind() storage.Channel
	// Send delivers content to address. Implementations must not retry.
	Send(ctx context.Context, address string, content render.Content) Result
	// ValidateAddress reports whether address is syntactically valid.
	ValidateAddress(address string) bool
	// RateLimitConfig returns the channel's send policy.
	RateLimitConfig() ratelimit.Limits
}

// Registry maps each storage channel to its adapter.
type Registry map[storage.Channel]Channel

// NewRegistry indexes channels by Kind. Nil entries are skipped so that an
// unconfigured transport simply leaves its channel unregistered.
func NewRegistry(channels ...Channel) Registry {
	r := make(Registry, len(channels))
	for _, c := range channels {
		if c != nil {
			r[c.Kind()] = c
		}
	}
	return r
}

// Limits collects the rate limit policy of every registered channel.
func (r Registry) Limits() map[storage.Channel]ratelimit.Limits {
	out := make(map[storage.Channel]ratelimit.Limits, len(r))
	for k, c := range r {
		out[k] = c.RateLimitConfig()
	}
	return out
}
