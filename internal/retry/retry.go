package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"
)

// Policy describes how many times to try an operation and how long to wait
// between attempts.
type Policy struct {
	MaxAttempts int
	// Backoff returns the wait after the given failed attempt (1-based).
	Backoff func(attempt int) time.Duration
	// Sleep waits for d or returns false if ctx ends first. Tests replace it.
	Sleep func(ctx context.Context, d time.Duration) bool
}

// Exponential waits base * 2^attempt after each failed attempt.
func Exponential(base time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		return time.Duration(math.Pow(2, float64(attempt))) * base
	}
}

// Default is three attempts waiting 2s then 4s.
func Default() Policy {
	return Policy{MaxAttempts: 3, Backoff: Exponential(time.Second)}
}

// Once never retries.
func Once() Policy {
	return Policy{MaxAttempts: 1}
}

// delayer is implemented by errors that carry a server-requested wait,
// such as a Retry-After header.
type delayer interface {
	RetryDelay() time.Duration
}

// Do calls fn until it succeeds, MaxAttempts is reached, or ctx is done.
// After the final failure every attempt's error is returned joined.
func Do[T any](ctx context.Context, p Policy, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = SleepCtx
	}

	var zero T
	var errs []error
	tried := 0
	for attempt := 1; attempt <= attempts; attempt++ {
		tried = attempt
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		errs = append(errs, fmt.Errorf("attempt %d: %w", attempt, err))
		log.Warn().Err(err).Str("op", name).Int("attempt", attempt).Int("max_attempts", attempts).Msg("attempt failed")

		if attempt == attempts {
			break
		}
		var wait time.Duration
		if p.Backoff != nil {
			wait = p.Backoff(attempt)
		}
		var d delayer
		if errors.As(err, &d) && d.RetryDelay() > wait {
			wait = d.RetryDelay()
		}
		if !sleep(ctx, wait) {
			errs = append(errs, ctx.Err())
			break
		}
	}
	return zero, fmt.Errorf("%s failed after %d attempt(s): %w", name, tried, errors.Join(errs...))
}

// SleepCtx waits for d or returns false early if ctx is done.
func SleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
