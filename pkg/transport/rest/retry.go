package rest

import (
	"context"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatsync/pkg/chat"
)

// RetryWithBackoff runs call up to maxAttempts times, waiting baseDelay * 2^n before retry n.
// Only transient failures are retried; the last failure is returned once attempts run out.
func RetryWithBackoff[T any](ctx context.Context, call func(context.Context) (T, error), maxAttempts int, baseDelay time.Duration) (T, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = time.Millisecond
	}

	var result T
	attempt := 0
	op := func() error {
		attempt++
		r, err := call(ctx)
		if err == nil {
			result = r
			return nil
		}
		if !chat.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.RetryNotify(op, newPolicy(ctx, maxAttempts, baseDelay), func(err error, wait time.Duration) {
		log.Debug().
			Str("component", "rest").
			Int("attempt", attempt).
			Int("max_attempts", maxAttempts).
			Dur("wait", wait).
			Err(err).
			Msg("transient failure, retrying")
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

func newPolicy(ctx context.Context, maxAttempts int, baseDelay time.Duration) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = baseDelay
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = time.Duration(math.MaxInt64)
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(maxAttempts-1)), ctx)
}
