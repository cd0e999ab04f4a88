package ratelimit

import (
	"context"
	"sync"
	"time"
)

type pair struct {
	owner  string
	action string
}

type memoryStore struct {
	mu      sync.Mutex
	records map[pair][]time.Time
}

// NewMemoryStore creates an in-process record store.
func NewMemoryStore() Store {
	return &memoryStore{records: make(map[pair][]time.Time)}
}

func (s *memoryStore) Latest(_ context.Context, owner, action string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	times := s.records[pair{owner, action}]
	if len(times) == 0 {
		return Record{}, false, nil
	}
	return Record{Owner: owner, Action: action, At: times[len(times)-1]}, true, nil
}

func (s *memoryStore) Append(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := pair{rec.Owner, rec.Action}
	s.records[p] = append(s.records[p], rec.At)
	return nil
}

func (s *memoryStore) DeleteBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for p, times := range s.records {
		kept := times[:0]
		for _, at := range times {
			if at.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, at)
		}
		if len(kept) == 0 {
			delete(s.records, p)
			continue
		}
		s.records[p] = kept
	}
	return removed, nil
}
