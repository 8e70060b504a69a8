package publisher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eapache/go-resiliency/retrier"

	"sluice/sink"
)

var (
	ErrRetriesExhausted = errors.New("publisher: retries exhausted")
	ErrShutdownTimeout  = errors.New("publisher: shutdown timeout")
)

type RetryConfig struct {
	Attempts   int           `koanf:"attempts"` // total, including the first
	Backoff    time.Duration `koanf:"backoff"`
	MaxBackoff time.Duration `koanf:"max_backoff"`
	Jitter     float64       `koanf:"jitter"` // 0..1
}

// Backoffs lists the waits between attempts: Backoff doubling per retry,
// capped at MaxBackoff.
func (c RetryConfig) Backoffs() []time.Duration {
	if c.Attempts <= 1 {
		return nil
	}
	waits := retrier.ExponentialBackoff(c.Attempts-1, c.Backoff)
	if c.MaxBackoff > 0 {
		for i, w := range waits {
			if w > c.MaxBackoff || w <= 0 {
				waits[i] = c.MaxBackoff
			}
		}
	}
	return waits
}

type deliveryClassifier struct{}

func (deliveryClassifier) Classify(err error) retrier.Action {
	switch {
	case err == nil:
		return retrier.Succeed
	case sink.IsRetryable(err):
		return retrier.Retry
	default:
		return retrier.Fail
	}
}

// retry runs fn until it succeeds, fails fatally, ctx ends or the attempts
// run out. fn receives the 1-based attempt number.
func retry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context, attempt int) error) error {
	r := retrier.New(cfg.Backoffs(), deliveryClassifier{})
	if cfg.Jitter > 0 {
		r.SetJitter(min(cfg.Jitter, 1))
	}
	attempt := 0
	err := r.RunCtx(ctx, func(ctx context.Context) error {
		attempt++
		return fn(ctx, attempt)
	})
	if err != nil && ctx.Err() == nil && sink.IsRetryable(err) {
		return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt, err)
	}
	return err
}
