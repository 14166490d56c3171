package idempotency

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	payloadHash string
	done        bool
	response    StoredResponse
	expiresAt   time.Time
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore keeps idempotency state in process memory. It backs tests and
// local development where a Firestore emulator is not worth the setup.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*memoryEntry)}
}

// Begin implements Store.
func (s *MemoryStore) Begin(_ context.Context, key, payloadHash string, now time.Time, ttl time.Duration) (Outcome, error) {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || entry.expired(now) {
		s.entries[key] = &memoryEntry{
			payloadHash: payloadHash,
			expiresAt:   now.Add(ttl),
		}
		return Outcome{}, nil
	}
	if entry.payloadHash != payloadHash {
		return Outcome{}, ErrPayloadMismatch
	}
	if entry.done {
		resp := entry.response
		resp.Body = append([]byte(nil), resp.Body...)
		return Outcome{Replay: &resp}, nil
	}
	return Outcome{InFlight: true}, nil
}

// Complete implements Store.
func (s *MemoryStore) Complete(_ context.Context, key, payloadHash string, resp StoredResponse, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if ok && entry.payloadHash != payloadHash {
		return ErrPayloadMismatch
	}
	if !ok {
		entry = &memoryEntry{payloadHash: payloadHash}
		s.entries[key] = entry
	}

	stored := StoredResponse{
		Status: resp.Status,
		Header: replayableHeaders(resp.Header),
	}
	if len(resp.Body) > 0 {
		stored.Body = append([]byte(nil), resp.Body...)
	}
	entry.done = true
	entry.response = stored
	entry.expiresAt = now.Add(ttl)
	return nil
}

// Abandon implements Store.
func (s *MemoryStore) Abandon(_ context.Context, key, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

// CleanupExpired implements Store.
func (s *MemoryStore) CleanupExpired(_ context.Context, now time.Time, limit int) (int, error) {
	now = now.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, entry := range s.entries {
		if limit > 0 && removed >= limit {
			break
		}
		if entry.expired(now) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}

var _ Store = (*MemoryStore)(nil)
