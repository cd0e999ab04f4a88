package ledger

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/balancecore/internal/balance"
)

// MemoryStore is a concurrency-safe in-process ledger useful for unit tests
// and single-node development. Commit applies an entry under one mutex.
type MemoryStore struct {
	mu       sync.RWMutex
	balances map[string]decimal.Decimal
	entries  []Entry
	refs     map[string]int
}

// NewMemoryStore creates an empty ledger.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances: make(map[string]decimal.Decimal),
		refs:     make(map[string]int),
	}
}

func refKey(kind, reference string) string { return kind + "/" + reference }

func (s *MemoryStore) Balances(_ context.Context, keys []balance.Key) (map[string]decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]decimal.Decimal, len(keys))
	for _, k := range keys {
		out[k.ID()] = s.balances[k.ID()]
	}
	return out, nil
}

func (s *MemoryStore) EntryByReference(_ context.Context, kind, reference string) (Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.refs[refKey(kind, reference)]
	if !ok {
		return Entry{}, false, nil
	}
	return s.entries[i], true, nil
}

func (s *MemoryStore) Commit(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.Reference != "" {
		if _, dup := s.refs[refKey(entry.Kind, entry.Reference)]; dup {
			return ErrDuplicateTransfer
		}
	}
	for _, f := range entry.finals() {
		s.balances[f.key.ID()] = f.value
	}
	s.appendLocked(entry)
	return nil
}

func (s *MemoryStore) SetBalance(_ context.Context, key balance.Key, value decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[key.ID()] = value
	return nil
}

func (s *MemoryStore) AppendEntry(_ context.Context, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.Reference != "" {
		if _, dup := s.refs[refKey(entry.Kind, entry.Reference)]; dup {
			return ErrDuplicateTransfer
		}
	}
	s.appendLocked(entry)
	return nil
}

func (s *MemoryStore) appendLocked(entry Entry) {
	s.entries = append(s.entries, entry)
	if entry.Reference != "" {
		s.refs[refKey(entry.Kind, entry.Reference)] = len(s.entries) - 1
	}
}

// Entries returns a copy of the journal in application order.
func (s *MemoryStore) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}
