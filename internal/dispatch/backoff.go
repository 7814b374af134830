package dispatch

import "time"

// Default retry delays.
const (
	DefaultBaseDelay = 30 * time.Second
	DefaultMaxDelay  = 2 * time.Hour
)

// backoffFactor is the growth of the delay per attempt.
const backoffFactor = 4

// Backoff returns the delay before retry number n (0-based): base·4^n,
// capped at maxDelay. With the defaults: 30s, 2m, 8m, 32m, 2h.
func Backoff(n int, base, maxDelay time.Duration) time.Duration {
	if base <= 0 {
		base = DefaultBaseDelay
	}
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	d := base
	for i := 0; i < n; i++ {
		if d >= maxDelay/backoffFactor {
			return maxDelay
		}
		d *= backoffFactor
	}
	if d > maxDelay {
		return maxDelay
	}
	return d
}
