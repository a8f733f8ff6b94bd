// Package session loads and saves per-visitor sessions around each
// request. Sessions are kept in a Store addressed by the id carried in
// the session cookie.
package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned when a session does not exist or has expired.
var ErrNotFound = errors.New("session not found")

// Store persists session values.
type Store interface {
	// Load returns the values of session id, or ErrNotFound.
	Load(ctx context.Context, id string) (map[string]any, error)

	// Save stores values under id for ttl.
	Save(ctx context.Context, id string, values map[string]any, ttl time.Duration) error

	// Delete removes session id. Deleting a missing session is not an
	// error.
	Delete(ctx context.Context, id string) error
}

type memoryEntry struct {
	values    map[string]any
	expiresAt time.Time
}

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]memoryEntry
	now      func() time.Time
}

// NewMemoryStore creates an in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]memoryEntry),
		now:      time.Now,
	}
}

// Load returns a copy of the stored values.
func (s *MemoryStore) Load(ctx context.Context, id string) (map[string]any, error) {
	s.mu.RLock()
	entry, ok := s.sessions[id]
	s.mu.RUnlock()

	if !ok || !s.now().Before(entry.expiresAt) {
		return nil, ErrNotFound
	}
	return copyValues(entry.values), nil
}

// Save stores a copy of values.
func (s *MemoryStore) Save(ctx context.Context, id string, values map[string]any, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = memoryEntry{
		values:    copyValues(values),
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

// Delete removes a session.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// DeleteExpired removes expired sessions and returns how many were
// removed.
func (s *MemoryStore) DeleteExpired(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var n int64
	for id, entry := range s.sessions {
		if !now.Before(entry.expiresAt) {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

func copyValues(values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}

var _ Store = (*MemoryStore)(nil)
