package lock

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/congo-pay/balancecore/internal/balance"
)

// RetryPolicy bounds how long a caller keeps retrying a busy acquisition.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultRetryPolicy suits interactive request handlers.
var DefaultRetryPolicy = RetryPolicy{Attempts: 5, BaseDelay: 20 * time.Millisecond, MaxDelay: 500 * time.Millisecond}

// AcquireWithRetry calls AcquireAll until it succeeds, the attempts run out or
// ctx is done. Only ErrBusy is retried; store failures return immediately.
func (m *Manager) AcquireWithRetry(ctx context.Context, keys []balance.Key, purpose string, ttl time.Duration, policy RetryPolicy) ([]Lock, error) {
	if policy.Attempts <= 0 {
		policy.Attempts = 1
	}
	delay := policy.BaseDelay

	var lastErr error
	for attempt := 0; attempt < policy.Attempts; attempt++ {
		locks, err := m.AcquireAll(ctx, keys, purpose, ttl)
		if err == nil {
			return locks, nil
		}
		if !errors.Is(err, ErrBusy) {
			return nil, err
		}
		lastErr = err
		if attempt == policy.Attempts-1 {
			break
		}

		wait := delay
		if wait > 0 {
			wait += time.Duration(rand.Int64N(int64(wait)/2 + 1))
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if policy.MaxDelay > 0 && delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}
	return nil, lastErr
}
