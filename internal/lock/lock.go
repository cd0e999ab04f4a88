package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/congo-pay/balancecore/internal/balance"
	"github.com/congo-pay/balancecore/internal/metrics"
)

const releaseTimeout = 2 * time.Second

var (
	// ErrBusy means the balance is currently held by another operation. It is
	// an expected, retryable outcome rather than a fault.
	ErrBusy = errors.New("balance currently in use")

	// ErrLockLost is returned when renewing a lock that already expired or was
	// superseded.
	ErrLockLost = errors.New("lock lost")
)

// BusyError names the key that blocked an acquisition.
type BusyError struct {
	Key balance.Key
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("balance %s currently in use", e.Key.ID())
}

func (e *BusyError) Is(target error) bool {
	return target == ErrBusy
}

// Lock is a time-bounded exclusive claim on one balance key.
type Lock struct {
	ID        string
	Key       balance.Key
	Purpose   string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Live reports whether the lock still excludes others at now.
func (l Lock) Live(now time.Time) bool {
	return now.Before(l.ExpiresAt)
}

// Store is the shared backing store for lock records. Insert must perform the
// live-lock check and the write as one atomic operation.
type Store interface {
	// Insert stores l unless a live lock exists for l.Key. An expired record
	// for the same key may be superseded.
	Insert(ctx context.Context, l Lock, now time.Time) (bool, error)
	Delete(ctx context.Context, lockID string) (bool, error)
	// Extend moves the expiry of a lock that is still live at now.
	Extend(ctx context.Context, lockID string, expiresAt, now time.Time) (bool, error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// Manager acquires and releases balance locks against a Store.
type Manager struct {
	store   Store
	logger  *slog.Logger
	now     func() time.Time
	metrics *metrics.Metrics
}

// Option customises a Manager.
type Option func(*Manager)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithMetrics attaches collectors.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// NewManager builds a Manager over store.
func NewManager(store Store, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{store: store, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire claims key for ttl. A live lock held elsewhere yields *BusyError.
func (m *Manager) Acquire(ctx context.Context, key balance.Key, purpose string, ttl time.Duration) (Lock, error) {
	if err := key.Validate(); err != nil {
		return Lock{}, err
	}
	if ttl <= 0 {
		return Lock{}, fmt.Errorf("lock ttl must be positive, got %s", ttl)
	}

	now := m.now()
	l := Lock{
		ID:        uuid.NewString(),
		Key:       key,
		Purpose:   purpose,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	ok, err := m.store.Insert(ctx, l, now)
	if err != nil {
		m.metrics.IncLockAcquisition("error")
		return Lock{}, balance.StoreError("acquire lock "+key.ID(), err)
	}
	if !ok {
		m.metrics.IncLockAcquisition("busy")
		m.logger.Debug("balance lock busy", slog.String("key", key.ID()), slog.String("purpose", purpose))
		return Lock{}, &BusyError{Key: key}
	}

	m.metrics.IncLockAcquisition("acquired")
	return l, nil
}

// AcquireAll locks every distinct key in canonical order. If any key is busy,
// the locks taken so far are released and the *BusyError for that key is
// returned.
func (m *Manager) AcquireAll(ctx context.Context, keys []balance.Key, purpose string, ttl time.Duration) ([]Lock, error) {
	ordered := balance.SortKeys(keys)
	if len(ordered) == 0 {
		return nil, errors.New("no keys to lock")
	}

	held := make([]Lock, 0, len(ordered))
	for _, key := range ordered {
		l, err := m.Acquire(ctx, key, purpose, ttl)
		if err != nil {
			m.ReleaseAll(ctx, held)
			return nil, err
		}
		held = append(held, l)
	}
	return held, nil
}

// Release deletes the lock with lockID. Unknown or already released ids
// return false without error.
func (m *Manager) Release(ctx context.Context, lockID string) (bool, error) {
	ok, err := m.store.Delete(ctx, lockID)
	if err != nil {
		return false, balance.StoreError("release lock "+lockID, err)
	}
	return ok, nil
}

// ReleaseAll releases every lock, logging failures. A lock left behind
// expires on its own and is reclaimed by the sweeper.
func (m *Manager) ReleaseAll(ctx context.Context, locks []Lock) {
	if len(locks) == 0 {
		return
	}
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	for i := len(locks) - 1; i >= 0; i-- {
		l := locks[i]
		if _, err := m.Release(releaseCtx, l.ID); err != nil {
			m.metrics.IncLockReleaseError()
			m.logger.Warn("release balance lock failed",
				slog.String("lock_id", l.ID),
				slog.String("key", l.Key.ID()),
				slog.Any("error", err),
			)
		}
	}
}

// Renew extends a held lock to now+ttl.
func (m *Manager) Renew(ctx context.Context, l Lock, ttl time.Duration) (Lock, error) {
	if ttl <= 0 {
		return Lock{}, fmt.Errorf("lock ttl must be positive, got %s", ttl)
	}
	now := m.now()
	expires := now.Add(ttl)
	ok, err := m.store.Extend(ctx, l.ID, expires, now)
	if err != nil {
		return Lock{}, balance.StoreError("renew lock "+l.ID, err)
	}
	if !ok {
		return Lock{}, fmt.Errorf("renew %s: %w", l.Key.ID(), ErrLockLost)
	}
	l.ExpiresAt = expires
	return l, nil
}

// RenewAll renews each lock in turn and stops at the first failure.
func (m *Manager) RenewAll(ctx context.Context, locks []Lock, ttl time.Duration) ([]Lock, error) {
	renewed := make([]Lock, len(locks))
	for i, l := range locks {
		r, err := m.Renew(ctx, l, ttl)
		if err != nil {
			return nil, err
		}
		renewed[i] = r
	}
	return renewed, nil
}

// PurgeExpired deletes lock records whose expiry has passed.
func (m *Manager) PurgeExpired(ctx context.Context) (int, error) {
	n, err := m.store.DeleteExpired(ctx, m.now())
	if err != nil {
		return 0, balance.StoreError("purge expired locks", err)
	}
	return n, nil
}
