package clue

import (
	"errors"
	"sync"
)

// ErrFrozen is returned when inserting into a store whose scan has finished.
var ErrFrozen = errors.New("clue store is frozen")

// Store is the deduplicating clue collection of a single scan. It is safe
// for concurrent use by probe workers.
type Store struct {
	mu     sync.Mutex
	index  map[string]int // digest -> position in clues
	clues  []Clue
	hits   int
	frozen bool
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{index: make(map[string]int)}
}

// Insert merges c into an existing clue with the same digest, adding its
// count, or appends it as a new clue. The merge-or-insert decision is made
// under the store lock, so concurrent inserts of one digest never create
// duplicates. A count below 1 is treated as 1.
func (s *Store) Insert(c Clue) (merged bool, err error) {
	if c.Count < 1 {
		c.Count = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frozen {
		return false, ErrFrozen
	}
	s.hits += c.Count

	if i, ok := s.index[c.Digest]; ok {
		s.clues[i].Count += c.Count
		return true, nil
	}
	s.index[c.Digest] = len(s.clues)
	s.clues = append(s.clues, c)
	return false, nil
}

// All returns the clues in first-seen order.
func (s *Store) All() []Clue {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Clue, len(s.clues))
	copy(out, s.clues)
	return out
}

// Size returns the number of distinct clues.
func (s *Store) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clues)
}

// Hits returns the total number of responses inserted.
func (s *Store) Hits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits
}

// Freeze stops further inserts and returns the final clue set.
func (s *Store) Freeze() []Clue {
	s.mu.Lock()
	s.frozen = true
	s.mu.Unlock()
	return s.All()
}

// Frozen reports whether Freeze has been called.
func (s *Store) Frozen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frozen
}
