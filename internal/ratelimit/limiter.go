// Package ratelimit implements a per-(owner, action) cooldown gate.
//
// The gate only guarantees a minimum spacing between accepted actions; it is
// not a sliding window or token bucket, so throughput under bursts is not
// bounded precisely. The read and the write are separate store calls: two
// racing calls for the same pair can both be admitted in a rare interleaving,
// which is tolerated for this non-critical gating.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/congo-pay/balancecore/internal/balance"
	"github.com/congo-pay/balancecore/internal/metrics"
)

// Record is one accepted attempt. The newest record per pair governs.
type Record struct {
	Owner  string
	Action string
	At     time.Time
}

// Decision is the outcome of a cooldown check.
type Decision struct {
	Allowed bool
	Wait    time.Duration
}

// WaitSeconds is the remaining wait rounded up to whole seconds.
func (d Decision) WaitSeconds() int {
	if d.Wait <= 0 {
		return 0
	}
	secs := d.Wait / time.Second
	if d.Wait%time.Second != 0 {
		secs++
	}
	return int(secs)
}

// ErrRateLimited matches every *LimitedError.
var ErrRateLimited = errors.New("rate limited")

// LimitedError carries the wait a caller should report to the client.
type LimitedError struct {
	Owner  string
	Action string
	Wait   time.Duration
}

func (e *LimitedError) Error() string {
	return fmt.Sprintf("%s for %s rate limited, retry in %ds", e.Action, e.Owner, e.WaitSeconds())
}

func (e *LimitedError) Is(target error) bool { return target == ErrRateLimited }

// WaitSeconds rounds the wait up to whole seconds.
func (e *LimitedError) WaitSeconds() int { return Decision{Wait: e.Wait}.WaitSeconds() }

// Err converts a denial into a *LimitedError. Allowed decisions return nil.
func (d Decision) Err(owner, action string) error {
	if d.Allowed {
		return nil
	}
	return &LimitedError{Owner: owner, Action: action, Wait: d.Wait}
}

// Store persists rate-limit records.
type Store interface {
	Latest(ctx context.Context, owner, action string) (Record, bool, error)
	Append(ctx context.Context, rec Record) error
	DeleteBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// Limiter is the cooldown gate.
type Limiter struct {
	store   Store
	logger  *slog.Logger
	now     func() time.Time
	metrics *metrics.Metrics
}

// Option customises a Limiter.
type Option func(*Limiter)

func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Limiter) { l.metrics = m }
}

// NewLimiter builds a Limiter over store.
func NewLimiter(store Store, logger *slog.Logger, opts ...Option) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Limiter{store: store, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CheckAndRecord admits the attempt when the newest record for the pair is at
// least cooldown old, recording it. A denied attempt is not recorded.
func (l *Limiter) CheckAndRecord(ctx context.Context, owner, action string, cooldown time.Duration) (Decision, error) {
	owner = strings.TrimSpace(owner)
	action = strings.TrimSpace(action)
	if owner == "" || action == "" {
		return Decision{}, errors.New("owner and action are required")
	}
	if cooldown < 0 {
		return Decision{}, fmt.Errorf("cooldown must not be negative, got %s", cooldown)
	}

	now := l.now()
	last, ok, err := l.store.Latest(ctx, owner, action)
	if err != nil {
		return Decision{}, balance.StoreError("read rate limit record", err)
	}
	if ok {
		if elapsed := now.Sub(last.At); elapsed < cooldown {
			d := Decision{Allowed: false, Wait: cooldown - elapsed}
			l.metrics.IncRateLimitDecision(action, false)
			l.logger.Debug("rate limited",
				slog.String("owner", owner),
				slog.String("action", action),
				slog.Int("wait_seconds", d.WaitSeconds()),
			)
			return d, nil
		}
	}

	if err := l.store.Append(ctx, Record{Owner: owner, Action: action, At: now}); err != nil {
		return Decision{}, balance.StoreError("write rate limit record", err)
	}
	l.metrics.IncRateLimitDecision(action, true)
	return Decision{Allowed: true}, nil
}

// Cleanup deletes records older than retention. Fresh records are never
// touched, so it is safe to run alongside CheckAndRecord.
func (l *Limiter) Cleanup(ctx context.Context, retention time.Duration) (int, error) {
	if retention <= 0 {
		return 0, fmt.Errorf("retention must be positive, got %s", retention)
	}
	n, err := l.store.DeleteBefore(ctx, l.now().Add(-retention))
	if err != nil {
		return 0, balance.StoreError("clean rate limit records", err)
	}
	return n, nil
}
