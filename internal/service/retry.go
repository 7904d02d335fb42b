package service

import (
	"context"
	"errors"
	"time"

	"github.com/noteduco342/om-delivery/internal/logging"
	"github.com/noteduco342/om-delivery/internal/models"
)

// withRetry runs op until it succeeds, fails with something other than
// models.ErrStoreUnavailable, or attempts run out. The delay doubles after
// every failed attempt.
func withRetry[T any](ctx context.Context, attempts int, delay time.Duration, op func() (T, error)) (T, error) {
	if attempts < 1 {
		attempts = 1
	}

	var (
		result T
		err    error
	)
	for attempt := 1; ; attempt++ {
		result, err = op()
		if err == nil || !errors.Is(err, models.ErrStoreUnavailable) || attempt >= attempts {
			return result, err
		}

		logging.Ctx(ctx).Warn().Err(err).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Msg("status store unavailable, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return result, err
		case <-timer.C:
		}
		delay *= 2
	}
}
