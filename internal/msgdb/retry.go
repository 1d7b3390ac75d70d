package msgdb

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultRetryAttempts = 3
	defaultRetryBackoff  = 50 * time.Millisecond
)

// withRetry runs fn up to attempts times while SQLite reports the database
// busy, doubling the wait between attempts.
func withRetry(ctx context.Context, attempts int, initial time.Duration, fn func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = initial
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	policy.MaxElapsedTime = 0

	operation := func() error {
		err := fn()
		if err != nil && !isBusyError(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	var retries uint64
	if attempts > 1 {
		retries = uint64(attempts - 1)
	}
	return backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, retries), ctx))
}

func isBusyError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	message := strings.ToLower(err.Error())
	for _, marker := range []string{"database is locked", "database is busy", "sqlite_busy"} {
		if strings.Contains(message, marker) {
			return true
		}
	}
	return false
}
