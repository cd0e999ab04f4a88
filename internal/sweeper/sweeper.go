// Package sweeper periodically removes expired balance locks and stale rate
// limit records.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/congo-pay/balancecore/internal/metrics"
)

// LockPurger deletes lock records that are past their expiry.
type LockPurger interface {
	PurgeExpired(ctx context.Context) (int, error)
}

// RecordCleaner deletes rate limit records older than retention.
type RecordCleaner interface {
	Cleanup(ctx context.Context, retention time.Duration) (int, error)
}

// Result counts what a pass removed.
type Result struct {
	LocksRemoved      int `json:"locks_removed"`
	RateLimitsRemoved int `json:"rate_limits_removed"`
}

// Sweeper runs cleanup passes.
type Sweeper struct {
	locks     LockPurger
	limiter   RecordCleaner
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// New builds a Sweeper. interval only matters for Run.
func New(locks LockPurger, limiter RecordCleaner, retention, interval time.Duration, logger *slog.Logger, m *metrics.Metrics) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		locks:     locks,
		limiter:   limiter,
		retention: retention,
		interval:  interval,
		logger:    logger,
		metrics:   m,
	}
}

// SweepExpired runs one pass. Both steps always run; their errors are joined.
func (s *Sweeper) SweepExpired(ctx context.Context) (Result, error) {
	var (
		res  Result
		errs []error
	)

	n, err := s.locks.PurgeExpired(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("purge locks: %w", err))
	} else {
		res.LocksRemoved = n
		s.metrics.AddSweepRemovals("lock", n)
	}

	n, err = s.limiter.Cleanup(ctx, s.retention)
	if err != nil {
		errs = append(errs, fmt.Errorf("clean rate limits: %w", err))
	} else {
		res.RateLimitsRemoved = n
		s.metrics.AddSweepRemovals("rate_limit", n)
	}

	return res, errors.Join(errs...)
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	if s.interval <= 0 {
		return fmt.Errorf("sweep interval must be positive, got %s", s.interval)
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("sweeper started", slog.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopped")
			return nil
		case <-ticker.C:
			res, err := s.SweepExpired(ctx)
			if err != nil {
				s.logger.Error("sweep failed", slog.Any("error", err))
			}
			s.logger.Info("sweep complete",
				slog.Int("locks_removed", res.LocksRemoved),
				slog.Int("rate_limits_removed", res.RateLimitsRemoved),
			)
		}
	}
}
