package lock

import (
	"context"
	"sync"
	"time"
)

type memoryStore struct {
	mu    sync.Mutex
	byKey map[string]Lock
	byID  map[string]string
}

// NewMemoryStore creates a concurrency-safe in-process lock store. It only
// coordinates goroutines within one process.
func NewMemoryStore() Store {
	return &memoryStore{
		byKey: make(map[string]Lock),
		byID:  make(map[string]string),
	}
}

func (s *memoryStore) Insert(_ context.Context, l Lock, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keyID := l.Key.ID()
	if existing, ok := s.byKey[keyID]; ok {
		if existing.Live(now) {
			return false, nil
		}
		delete(s.byID, existing.ID)
	}
	s.byKey[keyID] = l
	s.byID[l.ID] = keyID
	return true, nil
}

func (s *memoryStore) Delete(_ context.Context, lockID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keyID, ok := s.byID[lockID]
	if !ok {
		return false, nil
	}
	delete(s.byID, lockID)
	delete(s.byKey, keyID)
	return true, nil
}

func (s *memoryStore) Extend(_ context.Context, lockID string, expiresAt, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keyID, ok := s.byID[lockID]
	if !ok {
		return false, nil
	}
	l := s.byKey[keyID]
	if !l.Live(now) {
		return false, nil
	}
	l.ExpiresAt = expiresAt
	s.byKey[keyID] = l
	return true, nil
}

func (s *memoryStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for keyID, l := range s.byKey {
		if l.Live(now) {
			continue
		}
		delete(s.byKey, keyID)
		delete(s.byID, l.ID)
		removed++
	}
	return removed, nil
}
