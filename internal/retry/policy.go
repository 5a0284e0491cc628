package retry

import (
	"context"
	"math"
	"time"

	"github.com/MimeLyc/doctrans/internal/docjob"
	"github.com/MimeLyc/doctrans/pkg/log"
)

// Policy retries an operation with exponential backoff. MaxRetries counts
// retries on top of the first attempt, so an operation runs at most
// MaxRetries+1 times. Rate limit errors carrying a server hint wait for
// that hint instead of the computed delay, capped at MaxDelay. Fatal
// errors are returned without further attempts.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	Factor     float64
	MaxDelay   time.Duration

	sleep func(ctx context.Context, d time.Duration) error
}

func NewPolicy(maxRetries int, baseDelay time.Duration, factor float64, maxDelay time.Duration) Policy {
	return Policy{
		MaxRetries: maxRetries,
		BaseDelay:  baseDelay,
		Factor:     factor,
		MaxDelay:   maxDelay,
	}
}

func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.MaxRetries + 1
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if docjob.IsFatal(lastErr) {
			return lastErr
		}
		if attempt == attempts-1 {
			break
		}

		wait := p.delay(attempt)
		if hint, ok := docjob.RetryAfterHint(lastErr); ok {
			wait = hint
			if p.MaxDelay > 0 && wait > p.MaxDelay {
				wait = p.MaxDelay
			}
		}

		log.Warn("Attempt %d/%d failed, retrying in %s: %v", attempt+1, attempts, wait, lastErr)
		if err := p.sleepFor(ctx, wait); err != nil {
			return err
		}
	}
	return lastErr
}

// delay computes the backoff before retry number attempt (0-based).
func (p Policy) delay(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	factor := p.Factor
	if factor <= 0 {
		factor = 2
	}
	d := time.Duration(float64(p.BaseDelay) * math.Pow(factor, float64(attempt)))
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

func (p Policy) sleepFor(ctx context.Context, d time.Duration) error {
	if p.sleep != nil {
		return p.sleep(ctx, d)
	}
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
