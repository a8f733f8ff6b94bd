package notes

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Note is a stored note.
type Note struct {
	ID        string    `json:"_id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	seq uint64
}

// CacheInvalidatedAt reports when the note last changed.
func (n Note) CacheInvalidatedAt() (time.Time, bool) {
	return n.UpdatedAt, !n.UpdatedAt.IsZero()
}

// Store is an in-memory note store.
type Store struct {
	mu    sync.RWMutex
	notes map[string]Note
	seq   uint64
	now   func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		notes: make(map[string]Note),
		now:   time.Now,
	}
}

// Create stores a new note.
func (s *Store) Create(title, body string) Note {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.seq++
	n := Note{
		ID:        uuid.NewString(),
		Title:     title,
		Body:      body,
		CreatedAt: now,
		UpdatedAt: now,
		seq:       s.seq,
	}
	s.notes[n.ID] = n
	return n
}

// Get returns a note by id.
func (s *Store) Get(id string) (Note, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.notes[id]
	return n, ok
}

// Update applies fn to a note and bumps its update time.
func (s *Store) Update(id string, fn func(*Note)) (Note, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notes[id]
	if !ok {
		return Note{}, false
	}
	fn(&n)
	n.ID = id
	n.UpdatedAt = s.now()
	s.notes[id] = n
	return n, true
}

// Delete removes a note.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.notes[id]; !ok {
		return false
	}
	delete(s.notes, id)
	return true
}

// List returns notes newest first, skipping offset and returning at most
// limit. A non-positive limit returns all remaining notes.
func (s *Store) List(offset, limit int) []Note {
	s.mu.RLock()
	out := make([]Note, 0, len(s.notes))
	for _, n := range s.notes {
		out = append(out, n)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].seq > out[j].seq
	})

	if offset < 0 {
		offset = 0
	}
	if offset >= len(out) {
		return []Note{}
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}

// Len returns the number of notes.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.notes)
}

// Purge removes every note and returns how many were removed.
func (s *Store) Purge() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.notes)
	s.notes = make(map[string]Note)
	return n
}
