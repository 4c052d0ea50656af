package retry

import (
	"errors"
	"math/rand/v2"
	"time"
)

// AfterProvider is implemented by error types that carry provider guidance
// on how long to wait before the next attempt (Retry-After headers).
type AfterProvider interface {
	// GetRetryAfter returns the recommended wait, or zero when none is
	// available.
	GetRetryAfter() time.Duration
}

// backoff computes the delay before the next retry. Provider Retry-After
// guidance takes precedence over the exponential schedule.
func (r *Controller) backoff(attempt int, err error) time.Duration {
	if retryAfter := extractRetryAfter(err); retryAfter > 0 {
		return retryAfter
	}
	return Backoff(attempt, r.policy)
}

// Backoff calculates the exponential delay before retry number attempt
// (attempt starting at 1): InitialDelay * Multiplier^(attempt-1), capped at
// MaxInterval when set, with optional full jitter. Returns zero for
// non-positive attempt numbers.
func Backoff(attempt int, policy Policy) time.Duration {
	if attempt <= 0 {
		return 0
	}

	delay := policy.InitialDelay
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * policy.Multiplier)
		if policy.MaxInterval > 0 && delay > policy.MaxInterval {
			delay = policy.MaxInterval
			break
		}
	}

	if policy.UseJitter && delay > 0 {
		// Full jitter: random between 0 and the computed delay, using
		// thread-safe rand/v2.
		jitterMs := rand.Int64N(delay.Milliseconds() + 1) // #nosec G404 -- non-cryptographic jitter is appropriate here
		delay = time.Duration(jitterMs) * time.Millisecond
	}

	return delay
}

// extractRetryAfter pulls provider-specified retry delays out of an error
// chain via the AfterProvider interface.
func extractRetryAfter(err error) time.Duration {
	var provider AfterProvider
	if errors.As(err, &provider) {
		return provider.GetRetryAfter()
	}
	return 0
}
