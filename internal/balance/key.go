package balance

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind classifies the owner of a balance. The kind decides policy such as
// whether the balance may go negative.
type Kind int

const (
	// KindUser is an end user's spendable balance.
	KindUser Kind = iota
	// KindFeeSink accumulates platform fees. It tracks cumulative totals rather
	// than spendable funds.
	KindFeeSink
	// KindTreasury is the platform treasury account.
	KindTreasury
)

var kindNames = map[Kind]string{
	KindUser:     "user",
	KindFeeSink:  "fee_sink",
	KindTreasury: "treasury",
}

// String returns the storage name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// AllowsNegative reports whether balances of this kind may drop below zero.
func (k Kind) AllowsNegative() bool {
	return k == KindFeeSink || k == KindTreasury
}

func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("unknown account kind %d", int(k))
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseKind maps a storage name back to a Kind.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if strings.EqualFold(name, strings.TrimSpace(s)) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown account kind %q", s)
}

// Key identifies one lockable balance: an owner's holding of one currency
// under one account kind. Two keys are the same balance when their IDs match.
type Key struct {
	Owner    string `json:"owner"`
	Kind     Kind   `json:"kind"`
	Currency string `json:"currency"`
}

// NewKey builds a normalised key.
func NewKey(owner string, kind Kind, currency string) Key {
	return Key{
		Owner:    strings.TrimSpace(owner),
		Kind:     kind,
		Currency: strings.ToUpper(strings.TrimSpace(currency)),
	}
}

// UserKey is shorthand for a user balance key.
func UserKey(owner, currency string) Key { return NewKey(owner, KindUser, currency) }

// FeeSinkKey is shorthand for a fee sink balance key.
func FeeSinkKey(owner, currency string) Key { return NewKey(owner, KindFeeSink, currency) }

// TreasuryKey is shorthand for a treasury balance key.
func TreasuryKey(owner, currency string) Key { return NewKey(owner, KindTreasury, currency) }

// ID returns the canonical identifier used as the uniqueness constraint for
// lock records and balance rows. The kind is part of it, so a user and a
// platform account sharing an owner id never share a balance.
func (k Key) ID() string {
	return k.Kind.String() + "/" + k.Owner + ":" + k.Currency
}

func (k Key) String() string {
	return k.ID()
}

// Validate reports malformed keys.
func (k Key) Validate() error {
	switch {
	case k.Owner == "":
		return errors.New("balance key owner is required")
	case k.Currency == "":
		return errors.New("balance key currency is required")
	case strings.ContainsAny(k.Owner, ":/"):
		return fmt.Errorf("balance key owner %q must not contain ':' or '/'", k.Owner)
	case !k.Kind.Valid():
		return fmt.Errorf("balance key %s has unknown kind %d", k.ID(), int(k.Kind))
	}
	return nil
}

// SortKeys returns the distinct keys ordered lexicographically by ID. Every
// multi-key acquisition uses this order.
func SortKeys(keys []Key) []Key {
	seen := make(map[string]struct{}, len(keys))
	out := make([]Key, 0, len(keys))
	for _, k := range keys {
		id := k.ID()
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}
