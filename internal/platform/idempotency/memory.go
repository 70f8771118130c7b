package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps keys in process. Used by tests and single-replica dev runs.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (s *MemoryStore) Claim(_ context.Context, claim Claim) (Outcome, Entry, error) {
	claim = claim.normalized()
	id := documentID(claim.Key)

	s.mu.Lock()
	defer s.mu.Unlock()

	var current *Entry
	if entry, ok := s.entries[id]; ok {
		current = &entry
	}
	outcome, entry, err := judge(current, claim)
	if err != nil {
		return 0, Entry{}, err
	}
	if outcome == OutcomeFresh {
		s.entries[id] = entry
	}
	return outcome, entry, nil
}

func (s *MemoryStore) Complete(_ context.Context, claim Claim, snap Snapshot) error {
	claim = claim.normalized()
	id := documentID(claim.Key)

	s.mu.Lock()
	defer s.mu.Unlock()

	var current *Entry
	if entry, ok := s.entries[id]; ok {
		current = &entry
	}
	entry, err := completedEntry(current, claim, snap)
	if err != nil {
		return err
	}
	s.entries[id] = entry
	return nil
}

func (s *MemoryStore) Abandon(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, documentID(key))
	s.mu.Unlock()
	return nil
}

// Purge drops at most limit expired entries; limit <= 0 means all of them.
func (s *MemoryStore) Purge(_ context.Context, now time.Time, limit int) (int, error) {
	now = now.UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, entry := range s.entries {
		if limit > 0 && removed >= limit {
			break
		}
		if entry.ExpiresAt.IsZero() || !entry.expired(now) {
			continue
		}
		delete(s.entries, id)
		removed++
	}
	return removed, nil
}
