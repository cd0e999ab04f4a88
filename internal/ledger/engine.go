package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/balancecore/internal/balance"
	"github.com/congo-pay/balancecore/internal/lock"
	"github.com/congo-pay/balancecore/internal/metrics"
)

// Engine applies transfers under balance locks.
type Engine struct {
	store   Store
	atomic  AtomicWriter
	legs    LegWriter
	locks   *lock.Manager
	logger  *slog.Logger
	now     func() time.Time
	metrics *metrics.Metrics
	// system maps each platform account owner to its kind.
	system map[string]balance.Kind
}

// Option customises an Engine.
type Option func(*Engine)

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithSystemOwners registers the owners of platform balances. Once set, a
// registered owner may only appear under its own kind, and fee sink or
// treasury balances only under a registered owner.
func WithSystemOwners(owners map[string]balance.Kind) Option {
	return func(e *Engine) {
		e.system = make(map[string]balance.Kind, len(owners))
		for owner, kind := range owners {
			e.system[strings.TrimSpace(owner)] = kind
		}
	}
}

// NewEngine builds an Engine. store must also implement AtomicWriter or
// LegWriter; atomic commits are preferred when both are available.
func NewEngine(store Store, locks *lock.Manager, logger *slog.Logger, opts ...Option) (*Engine, error) {
	if store == nil || locks == nil {
		return nil, errors.New("ledger engine requires a store and a lock manager")
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{store: store, locks: locks, logger: logger, now: time.Now}
	if w, ok := store.(AtomicWriter); ok {
		e.atomic = w
	} else if w, ok := store.(LegWriter); ok {
		e.legs = w
	} else {
		return nil, fmt.Errorf("ledger store %T cannot write balances", store)
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Balance reads a single balance. Unknown balances are zero.
func (e *Engine) Balance(ctx context.Context, key balance.Key) (decimal.Decimal, error) {
	if err := key.Validate(); err != nil {
		return decimal.Zero, err
	}
	values, err := e.store.Balances(ctx, []balance.Key{key})
	if err != nil {
		return decimal.Zero, balance.StoreError("read balance "+key.ID(), err)
	}
	return values[key.ID()], nil
}

// EntryByReference returns the journaled transfer for (kind, reference).
func (e *Engine) EntryByReference(ctx context.Context, kind, reference string) (Entry, bool, error) {
	entry, ok, err := e.store.EntryByReference(ctx, kind, reference)
	if err != nil {
		return Entry{}, false, balance.StoreError("read transfer "+kind+"/"+reference, err)
	}
	return entry, ok, nil
}

// Apply validates t, locks every key it touches, checks balances and writes
// all legs. Locks are released on every path.
func (e *Engine) Apply(ctx context.Context, t Transfer, lockTTL time.Duration) (res Result, err error) {
	start := e.now()
	defer func() {
		e.metrics.ObserveTransfer(outcome(err), e.now().Sub(start))
	}()

	if err := t.Validate(); err != nil {
		e.logger.Error("malformed transfer",
			slog.String("kind", t.Kind),
			slog.String("reference", t.Reference),
			slog.Any("error", err),
		)
		return Result{}, &RejectedError{Reason: ReasonMalformed, Err: err}
	}
	if err := e.checkOwners(t); err != nil {
		e.logger.Error("transfer violates account ownership",
			slog.String("kind", t.Kind),
			slog.String("reference", t.Reference),
			slog.Any("error", err),
		)
		return Result{}, &RejectedError{Reason: ReasonMalformed, Err: err}
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}

	keys := t.Keys()
	held, err := e.locks.AcquireAll(ctx, keys, "transfer:"+t.Kind, lockTTL)
	if err != nil {
		var busy *lock.BusyError
		if errors.As(err, &busy) {
			return Result{}, &RejectedError{Reason: ReasonLocked, Key: busy.Key, Err: err}
		}
		return Result{}, err
	}
	defer e.locks.ReleaseAll(ctx, held)

	if t.Reference != "" {
		if _, dup, err := e.EntryByReference(ctx, t.Kind, t.Reference); err != nil {
			return Result{}, err
		} else if dup {
			return Result{}, fmt.Errorf("%s/%s: %w", t.Kind, t.Reference, ErrDuplicateTransfer)
		}
	}

	current, err := e.store.Balances(ctx, keys)
	if err != nil {
		return Result{}, balance.StoreError("read balances", err)
	}

	running := make(map[string]decimal.Decimal, len(keys))
	for _, k := range keys {
		running[k.ID()] = current[k.ID()]
	}
	applied := make([]AppliedLeg, len(t.Legs))
	for i, leg := range t.Legs {
		id := leg.Key.ID()
		running[id] = running[id].Add(leg.Delta)
		applied[i] = AppliedLeg{Key: leg.Key, Delta: leg.Delta, Balance: running[id]}
	}
	for _, k := range keys {
		if running[k.ID()].IsNegative() && !k.Kind.AllowsNegative() {
			return Result{}, &RejectedError{Reason: ReasonInsufficientBalance, Key: k}
		}
	}

	if _, err := e.locks.RenewAll(ctx, held, lockTTL); err != nil {
		if errors.Is(err, lock.ErrLockLost) {
			e.logger.Warn("balance lock lost before write",
				slog.String("transfer_id", t.ID),
				slog.Any("error", err),
			)
			return Result{}, &RejectedError{Reason: ReasonLockLost, Err: err}
		}
		return Result{}, err
	}

	entry := Entry{
		TransferID: t.ID,
		Reference:  t.Reference,
		Kind:       t.Kind,
		Boundary:   t.Boundary,
		Memo:       t.Memo,
		Legs:       applied,
		AppliedAt:  e.now().UTC(),
	}
	if err := e.write(ctx, entry); err != nil {
		return Result{}, err
	}

	e.logger.Info("transfer applied",
		slog.String("transfer_id", t.ID),
		slog.String("kind", t.Kind),
		slog.Int("legs", len(t.Legs)),
	)
	return Result{TransferID: t.ID, AppliedLegs: applied}, nil
}

func (e *Engine) checkOwners(t Transfer) error {
	if e.system == nil {
		return nil
	}
	for i, leg := range t.Legs {
		kind, registered := e.system[leg.Key.Owner]
		switch {
		case registered && kind != leg.Key.Kind:
			return fmt.Errorf("leg %d: owner %q holds %s balances only", i, leg.Key.Owner, kind)
		case !registered && leg.Key.Kind != balance.KindUser:
			return fmt.Errorf("leg %d: %s is not a registered %s account", i, leg.Key.Owner, leg.Key.Kind)
		}
	}
	return nil
}

// UserKey builds a validated user balance key for caller input. Owners of
// platform accounts and any reserved ids are refused.
func (e *Engine) UserKey(owner, currency string, reserved ...string) (balance.Key, error) {
	key := balance.UserKey(owner, currency)
	if err := key.Validate(); err != nil {
		return balance.Key{}, balance.Invalid("%v", err)
	}
	if _, ok := e.system[key.Owner]; ok {
		return balance.Key{}, balance.Invalid("owner %q is reserved for platform accounts", key.Owner)
	}
	for _, r := range reserved {
		if key.Owner == strings.TrimSpace(r) {
			return balance.Key{}, balance.Invalid("owner %q is reserved for platform accounts", key.Owner)
		}
	}
	return key, nil
}

func (e *Engine) write(ctx context.Context, entry Entry) error {
	if e.atomic != nil {
		if err := e.atomic.Commit(ctx, entry); err != nil {
			if errors.Is(err, ErrDuplicateTransfer) {
				return err
			}
			return balance.StoreError("commit transfer "+entry.TransferID, err)
		}
		return nil
	}

	written := make([]balance.Key, 0, len(entry.Legs))
	for _, f := range entry.finals() {
		if err := e.legs.SetBalance(ctx, f.key, f.value); err != nil {
			return e.partial(entry, written, balance.StoreError("write balance "+f.key.ID(), err))
		}
		written = append(written, f.key)
	}
	if err := e.legs.AppendEntry(ctx, entry); err != nil {
		return e.partial(entry, written, balance.StoreError("journal transfer "+entry.TransferID, err))
	}
	return nil
}

// partial reports a sequential write that stopped. Nothing written is a clean
// failure; anything else needs reconciliation.
func (e *Engine) partial(entry Entry, written []balance.Key, err error) error {
	if len(written) == 0 {
		return err
	}
	ids := make([]string, len(written))
	for i, k := range written {
		ids[i] = k.ID()
	}
	e.logger.Error("transfer partially written",
		slog.String("transfer_id", entry.TransferID),
		slog.Any("written", ids),
		slog.Any("error", err),
	)
	return &InconsistentStateError{TransferID: entry.TransferID, Written: written, Err: err}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "applied"
	case errors.Is(err, ErrLocked):
		return ReasonLocked
	case errors.Is(err, ErrInsufficientBalance):
		return ReasonInsufficientBalance
	case errors.Is(err, ErrMalformedTransfer):
		return ReasonMalformed
	case errors.Is(err, ErrLockLost):
		return ReasonLockLost
	case errors.Is(err, ErrDuplicateTransfer):
		return "duplicate"
	case errors.Is(err, ErrInconsistentState):
		return "inconsistent"
	}
	return "error"
}

// ApplyOnce applies t unless its reference was already journaled, in which
// case the earlier result is returned with replayed set. A concurrent
// duplicate that wins the race is replayed the same way.
func (e *Engine) ApplyOnce(ctx context.Context, t Transfer, lockTTL time.Duration) (res Result, replayed bool, err error) {
	if t.Reference == "" {
		res, err = e.Apply(ctx, t, lockTTL)
		return res, false, err
	}
	if res, ok, err := e.replay(ctx, t); err != nil || ok {
		return res, ok, err
	}
	res, err = e.Apply(ctx, t, lockTTL)
	if errors.Is(err, ErrDuplicateTransfer) {
		res, ok, rerr := e.replay(ctx, t)
		if rerr != nil {
			return Result{}, false, rerr
		}
		if ok {
			return res, true, nil
		}
	}
	return res, false, err
}

func (e *Engine) replay(ctx context.Context, t Transfer) (Result, bool, error) {
	entry, ok, err := e.EntryByReference(ctx, t.Kind, t.Reference)
	if err != nil || !ok {
		return Result{}, false, err
	}
	return Result{TransferID: entry.TransferID, AppliedLegs: entry.Legs}, true, nil
}

// BalanceAfter returns the balance a result left on key, if the result
// touched it.
func (r Result) BalanceAfter(key balance.Key) (decimal.Decimal, bool) {
	found := false
	var value decimal.Decimal
	for _, leg := range r.AppliedLegs {
		if leg.Key.ID() == key.ID() {
			value, found = leg.Balance, true
		}
	}
	return value, found
}
