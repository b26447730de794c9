// README: Restartable live-query loop; resubscribes with backoff when a listener fails.
package docstore

import (
	"context"
	"errors"
	"time"
)

type WatchOptions struct {
	// Retry is the initial delay before resubscribing after a listener error. It doubles
	// up to MaxRetry. Zero means 500ms.
	Retry    time.Duration
	MaxRetry time.Duration
	// OnError observes listener errors that trigger a restart.
	OnError func(err error)
}

// Watch feeds every snapshot of q to fn until ctx is cancelled or fn returns an error.
// A failed listener is replaced by a fresh subscription, which starts with the full
// current result set again.
func Watch(ctx context.Context, store Store, q Query, opts WatchOptions, fn func(Snapshot) error) error {
	retry := opts.Retry
	if retry <= 0 {
		retry = 500 * time.Millisecond
	}
	maxRetry := opts.MaxRetry
	if maxRetry < retry {
		maxRetry = 30 * time.Second
	}
	delay := retry

	for {
		sub := store.Subscribe(ctx, q)
		err := drain(sub, fn, &delay, retry)
		sub.Stop()

		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		var stop stopError
		if errors.As(err, &stop) {
			return stop.err
		}
		if errors.Is(err, ErrStopped) {
			return nil
		}
		if opts.OnError != nil {
			opts.OnError(err)
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		delay *= 2
		if delay > maxRetry {
			delay = maxRetry
		}
	}
}

type stopError struct{ err error }

func (e stopError) Error() string { return e.err.Error() }

func drain(sub Subscription, fn func(Snapshot) error, delay *time.Duration, reset time.Duration) error {
	for {
		snap, err := sub.Next()
		if err != nil {
			return err
		}
		*delay = reset
		if err := fn(snap); err != nil {
			return stopError{err: err}
		}
	}
}
