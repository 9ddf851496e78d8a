package stream

import "time"

// BackoffPolicy controls reconnection pacing for the event stream client.
type BackoffPolicy struct {
	InitialDelay time.Duration // delay before the first retry
	MaxDelay     time.Duration // cap applied to the doubling sequence
	MaxAttempts  int           // retries before giving up for good
}

// DefaultBackoffPolicy returns the standard reconnect policy: 1s initial,
// doubling per attempt, capped at 30s, at most 10 attempts.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		MaxAttempts:  10,
	}
}

// Delay returns the backoff delay for the given zero-based attempt index:
// min(initial * 2^attempt, max).
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := p.InitialDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}
