package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/balancecore/internal/balance"
)

var (
	// ErrLocked means one of the transfer's balances is held by another
	// operation. Retrying later is safe.
	ErrLocked = errors.New("balance currently in use")

	// ErrInsufficientBalance is a business outcome: a leg would take a balance
	// that may not go negative below zero.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrMalformedTransfer indicates a caller bug.
	ErrMalformedTransfer = errors.New("malformed transfer")

	// ErrLockLost means a lock expired before the write phase began. Nothing
	// was written.
	ErrLockLost = errors.New("balance lock lost before write")

	// ErrDuplicateTransfer indicates the reference was already journaled for
	// this kind of transfer.
	ErrDuplicateTransfer = errors.New("duplicate transfer reference")

	// ErrInconsistentState means a sequential write failed after some legs were
	// written. Reconciliation is required.
	ErrInconsistentState = errors.New("ledger left in inconsistent state")
)

// Rejection reasons reported by RejectedError.
const (
	ReasonLocked              = "locked"
	ReasonInsufficientBalance = "insufficient_balance"
	ReasonMalformed           = "malformed_transfer"
	ReasonLockLost            = "lock_lost"
)

// RejectedError is a clean rejection: no leg was written.
type RejectedError struct {
	Reason string
	Key    balance.Key
	Err    error
}

func (e *RejectedError) Error() string {
	msg := "transfer rejected: " + e.Reason
	if e.Key.Owner != "" {
		msg += " (" + e.Key.ID() + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RejectedError) Unwrap() error { return e.Err }

func (e *RejectedError) Is(target error) bool {
	switch e.Reason {
	case ReasonLocked:
		return target == ErrLocked
	case ReasonInsufficientBalance:
		return target == ErrInsufficientBalance
	case ReasonMalformed:
		return target == ErrMalformedTransfer
	case ReasonLockLost:
		return target == ErrLockLost
	}
	return false
}

// InconsistentStateError reports a write that stopped part way.
type InconsistentStateError struct {
	TransferID string
	Written    []balance.Key
	Err        error
}

func (e *InconsistentStateError) Error() string {
	return fmt.Sprintf("transfer %s partially written (%d balances): %v", e.TransferID, len(e.Written), e.Err)
}

func (e *InconsistentStateError) Unwrap() error { return e.Err }

func (e *InconsistentStateError) Is(target error) bool { return target == ErrInconsistentState }

// Leg is one signed balance change.
type Leg struct {
	Key   balance.Key     `json:"key"`
	Delta decimal.Decimal `json:"delta"`
}

// Transfer is an all-or-nothing set of legs. Boundary transfers mint or burn
// value at the platform edge and are exempt from the zero-sum check.
type Transfer struct {
	ID        string
	Reference string
	Kind      string
	Boundary  bool
	Memo      string
	Legs      []Leg
}

// Validate checks the transfer is well formed.
func (t Transfer) Validate() error {
	if len(t.Legs) == 0 {
		return errors.New("transfer has no legs")
	}
	if t.Kind == "" {
		return errors.New("transfer kind is required")
	}

	kinds := make(map[string]balance.Kind, len(t.Legs))
	sums := make(map[string]decimal.Decimal)
	for i, leg := range t.Legs {
		if err := leg.Key.Validate(); err != nil {
			return fmt.Errorf("leg %d: %w", i, err)
		}
		if leg.Delta.IsZero() {
			return fmt.Errorf("leg %d on %s has zero delta", i, leg.Key.ID())
		}
		if k, seen := kinds[leg.Key.Owner]; seen && k != leg.Key.Kind {
			return fmt.Errorf("leg %d: owner %s appears as both %s and %s", i, leg.Key.Owner, k, leg.Key.Kind)
		}
		kinds[leg.Key.Owner] = leg.Key.Kind
		sums[leg.Key.Currency] = sums[leg.Key.Currency].Add(leg.Delta)
	}

	if !t.Boundary {
		for currency, sum := range sums {
			if !sum.IsZero() {
				return fmt.Errorf("%s legs sum to %s, want 0", currency, sum)
			}
		}
	}
	return nil
}

// Keys returns the distinct keys touched, in lock order.
func (t Transfer) Keys() []balance.Key {
	keys := make([]balance.Key, len(t.Legs))
	for i, leg := range t.Legs {
		keys[i] = leg.Key
	}
	return balance.SortKeys(keys)
}

// AppliedLeg is a leg together with the balance it produced.
type AppliedLeg struct {
	Key     balance.Key     `json:"key"`
	Delta   decimal.Decimal `json:"delta"`
	Balance decimal.Decimal `json:"balance"`
}

// Entry is the immutable journal record of an applied transfer.
type Entry struct {
	TransferID string       `json:"transfer_id"`
	Reference  string       `json:"reference,omitempty"`
	Kind       string       `json:"kind"`
	Boundary   bool         `json:"boundary"`
	Memo       string       `json:"memo,omitempty"`
	Legs       []AppliedLeg `json:"legs"`
	AppliedAt  time.Time    `json:"applied_at"`
}

// Result is returned by a successful Apply.
type Result struct {
	TransferID  string
	AppliedLegs []AppliedLeg
}

// Reverse builds the transfer that undoes entry. Applied transfers are never
// edited; a reversal is a new transfer.
func Reverse(entry Entry, kind, reference string) Transfer {
	legs := make([]Leg, len(entry.Legs))
	for i, leg := range entry.Legs {
		legs[i] = Leg{Key: leg.Key, Delta: leg.Delta.Neg()}
	}
	return Transfer{
		Reference: reference,
		Kind:      kind,
		Boundary:  entry.Boundary,
		Memo:      "reversal of " + entry.TransferID,
		Legs:      legs,
	}
}

type finalBalance struct {
	key   balance.Key
	delta decimal.Decimal
	value decimal.Decimal
}

// finals folds the entry into one net change and resulting value per key, in
// lock order.
func (e Entry) finals() []finalBalance {
	byID := make(map[string]*finalBalance)
	var order []balance.Key
	for _, leg := range e.Legs {
		id := leg.Key.ID()
		f, ok := byID[id]
		if !ok {
			f = &finalBalance{key: leg.Key}
			byID[id] = f
			order = append(order, leg.Key)
		}
		f.delta = f.delta.Add(leg.Delta)
		f.value = leg.Balance
	}
	out := make([]finalBalance, 0, len(byID))
	for _, k := range balance.SortKeys(order) {
		out = append(out, *byID[k.ID()])
	}
	return out
}

// Store reads balances and the transfer journal. A balance that was never
// written reads as zero.
type Store interface {
	Balances(ctx context.Context, keys []balance.Key) (map[string]decimal.Decimal, error)
	EntryByReference(ctx context.Context, kind, reference string) (Entry, bool, error)
}

// AtomicWriter applies every leg of an entry and journals it as one atomic
// unit.
type AtomicWriter interface {
	Commit(ctx context.Context, entry Entry) error
}

// LegWriter is implemented by stores without multi-record atomicity. The
// engine writes balances one by one in lock order, then the journal entry.
type LegWriter interface {
	SetBalance(ctx context.Context, key balance.Key, value decimal.Decimal) error
	AppendEntry(ctx context.Context, entry Entry) error
}
