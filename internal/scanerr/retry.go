package scanerr

import (
	"context"
	"errors"
	"time"
)

// DefaultRetryAttempts matches the recovery policy for transient
// network/protocol failures: three attempts with exponential backoff
// between one and thirty seconds.
const DefaultRetryAttempts = 3

const (
	retryBaseDelay = time.Second
	retryMaxDelay  = 30 * time.Second
)

// Retry runs fn up to attempts times, sleeping with exponential backoff
// between failures. Terminal error kinds stop immediately: a tripped
// circuit breaker (the crawl tick must abort, not hammer the host) and
// validation failures (the input will never get better), plus context
// cancellation.
func Retry(ctx context.Context, attempts int, fn func(ctx context.Context) error) error {
	if attempts <= 0 {
		attempts = DefaultRetryAttempts
	}
	delay := retryBaseDelay
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrValidationFailed) || ctx.Err() != nil {
			return err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > retryMaxDelay {
			delay = retryMaxDelay
		}
	}
	return err
}
