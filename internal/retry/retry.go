// Package retry provides bounded retry with pluggable delay schedules for
// calls to external collaborators and infrastructure.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// DelayFunc returns how long to wait before retry attempt n (1-indexed).
// Attempt 1 is the first retry after the initial failure. All schedules
// returned by this package are stateless and safe for concurrent use.
type DelayFunc func(attempt int) time.Duration

// Fixed waits the same interval before every retry.
func Fixed(interval time.Duration) DelayFunc {
	return func(int) time.Duration { return interval }
}

// Linear waits initial * attempt, capped at maxDelay.
func Linear(initial, maxDelay time.Duration) DelayFunc {
	return func(attempt int) time.Duration {
		return capDelay(initial*time.Duration(attempt), maxDelay)
	}
}

// Exponential waits initial * 2^(attempt-1), capped at maxDelay.
func Exponential(initial, maxDelay time.Duration) DelayFunc {
	return func(attempt int) time.Duration {
		d := time.Duration(float64(initial) * math.Pow(2, float64(attempt-1)))
		return capDelay(d, maxDelay)
	}
}

// ExponentialJitter draws a random wait in [0, Exponential(attempt)].
// Full jitter avoids synchronized retry bursts across callers.
func ExponentialJitter(initial, maxDelay time.Duration) DelayFunc {
	exp := Exponential(initial, maxDelay)
	return func(attempt int) time.Duration {
		return time.Duration(rand.Float64() * float64(exp(attempt)))
	}
}

func capDelay(d, maxDelay time.Duration) time.Duration {
	if maxDelay > 0 && d > maxDelay {
		return maxDelay
	}
	return d
}

// Policy bounds how often and how quickly an operation is retried.
type Policy struct {
	// MaxAttempts counts the initial call plus retries. Zero or negative
	// means a single attempt.
	MaxAttempts int
	// Delay produces the wait between attempts. Nil means no wait.
	Delay DelayFunc
}

// DefaultPolicy retries three times with jittered exponential backoff
// between one second and thirty seconds.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 4,
		Delay:       ExponentialJitter(time.Second, 30*time.Second),
	}
}

// Do runs op until it succeeds, the attempt budget is exhausted, or the
// context is done. The attempt counter resets with every Do call, so a
// success fully restores the budget for the next invocation.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		var wait time.Duration
		if p.Delay != nil {
			wait = p.Delay(attempt)
		}
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	return fmt.Errorf("retry budget exhausted after %d attempts: %w", attempts, lastErr)
}
