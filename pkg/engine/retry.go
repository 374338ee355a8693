package engine

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// RetryPolicy bounds how mutations are retried after retryable errors.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// BaseDelay is the delay before the second attempt.
	BaseDelay time.Duration

	// MaxDelay caps a single delay.
	MaxDelay time.Duration

	// Jitter is the +/- fraction applied to each delay, in [0, 1].
	Jitter float64

	// Rand returns a value in [0, 1). Defaults to math/rand/v2.
	Rand func() float64

	// Sleep waits for d or until ctx is done. Defaults to a timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy returns four attempts with exponential backoff from 500ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 4,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		Jitter:      0.2,
	}
}

// NoRetry returns a policy that attempts every mutation once.
func NoRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

// throttleFactor multiplies the base delay when the remote rate limits.
const throttleFactor = 4

// Backoff returns the delay to wait after the given failed attempt (1-based).
// A Retry-After longer than the computed delay wins, up to MaxDelay.
func (p RetryPolicy) Backoff(attempt int, err error) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := p.BaseDelay
	if IsThrottled(err) {
		base *= throttleFactor
	}

	delay := time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	if p.MaxDelay > 0 && (delay > p.MaxDelay || delay < 0) {
		delay = p.MaxDelay
	}

	if p.Jitter > 0 {
		r := p.Rand
		if r == nil {
			r = rand.Float64
		}
		spread := float64(delay) * p.Jitter
		delay += time.Duration(spread * (2*r() - 1))
	}
	if ra := RetryAfter(err); ra > delay {
		delay = ra
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}

// Do runs op until it succeeds, fails with a non-retryable error, exhausts
// MaxAttempts, or ctx is done. It returns the number of attempts made.
// onRetry, if set, is called before each wait.
func (p RetryPolicy) Do(
	ctx context.Context,
	op func(ctx context.Context) error,
	onRetry func(attempt int, delay time.Duration, err error),
) (int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var err error
	attempt := 0
	for attempt < maxAttempts {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err == nil {
				err = ctxErr
			}
			return attempt, err
		}

		attempt++
		err = op(ctx)
		if err == nil || !IsRetryable(err) || attempt >= maxAttempts {
			return attempt, err
		}

		delay := p.Backoff(attempt, err)
		if onRetry != nil {
			onRetry(attempt, delay, err)
		}
		if sleepErr := p.sleep(ctx, delay); sleepErr != nil {
			return attempt, err
		}
	}
	return attempt, err
}

func (p RetryPolicy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
