package repository

import (
	"context"
	"time"

	"github.com/Shivanand-hulikatti/activity-enrollment/internal/apperr"
)

// RetryOptions controls how a Store retries transactions that failed with a
// transient fault.
type RetryOptions struct {
	MaxRetries int
	Delay      time.Duration
}

// withRetry runs op until it succeeds, fails with a non-transient error, or
// exhausts opts.MaxRetries. The delay grows linearly with the attempt number.
func withRetry(ctx context.Context, opts RetryOptions, transient func(error) bool, op func() error) error {
	var err error
	for attempt := 0; attempt <= opts.MaxRetries; attempt++ {
		if attempt > 0 && opts.Delay > 0 {
			select {
			case <-ctx.Done():
				return apperr.Wrap(apperr.KindUnavailable, "store unavailable", ctx.Err())
			case <-time.After(time.Duration(attempt) * opts.Delay):
			}
		}
		err = op()
		if err == nil || !transient(err) {
			return err
		}
	}
	return apperr.Wrap(apperr.KindUnavailable, "store unavailable", err)
}
