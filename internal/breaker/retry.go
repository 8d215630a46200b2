package breaker

import (
	"context"
	"errors"
	"time"

	"runhub/internal/api"

	"github.com/cenkalti/backoff/v5"
)

// transientError marks a failure as retryable.
type transientError struct {
	err error
}

func (t *transientError) Error() string {
	return t.err.Error()
}

func (t *transientError) Unwrap() error {
	return t.err
}

// MarkTransient wraps err so the retry policy treats it as retryable.
// Adapters use this for network timeouts and 5xx-equivalent failures.
func MarkTransient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err was marked transient anywhere in its
// chain, or is a context deadline expiry.
func IsTransient(err error) bool {
	var t *transientError
	if errors.As(err, &t) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// Retry executes fn up to maxAttempts times with exponential backoff and
// jitter, retrying only transient failures. Breaker-open rejections and
// permanent failures stop retrying immediately. The caller's context
// deadline bounds the whole sequence.
func Retry(ctx context.Context, maxAttempts int, fn func(ctx context.Context) error) error {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	operation := func() (struct{}, error) {
		err := fn(ctx)
		if err == nil {
			return struct{}{}, nil
		}
		if api.IsCode(err, api.ErrCircuitOpen) || !IsTransient(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 2 * time.Second

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(maxAttempts)),
	)
	return err
}
