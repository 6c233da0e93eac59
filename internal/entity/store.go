package entity

import "sync"

// Store is a deduplicated, insertion-ordered collection of entities keyed by
// their global key. Once a key is stored its value is never replaced.
type Store struct {
	mu    sync.RWMutex
	index map[string]int
	items []Entity
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{index: make(map[string]int)}
}

// Has reports whether an entity with the given key is stored.
func (s *Store) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.index[key]
	return ok
}

// Get returns the entity stored under key.
func (s *Store) Get(key string) (Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[key]
	if !ok {
		return Entity{}, false
	}
	return s.items[i], true
}

// Put stores e unless its key is already present. It reports whether the
// entity was inserted.
func (s *Store) Put(e Entity) bool {
	key := e.Key()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[key]; ok {
		return false
	}
	s.index[key] = len(s.items)
	s.items = append(s.items, e)
	return true
}

// Values returns the stored entities in insertion order.
func (s *Store) Values() []Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entity, len(s.items))
	copy(out, s.items)
	return out
}

// Len returns the number of stored entities.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
