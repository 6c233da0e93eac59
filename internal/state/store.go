package state

import (
	"context"
	"errors"
	"slices"
	"sync"
)

// ErrSuperseded is returned when a fetch session is committed after a newer
// one has begun.
var ErrSuperseded = errors.New("fetch session superseded")

// Change names what an update touched. The values double as event types.
type Change string

const (
	ChangeGraph     Change = "graph.updated"
	ChangeFilter    Change = "filter.updated"
	ChangeSelection Change = "selection.updated"
	ChangeAuth      Change = "auth.updated"
)

// Listener is called after every update with the new snapshot.
type Listener func(Change, Snapshot)

// Store holds the current snapshot.
type Store struct {
	mu      sync.Mutex
	current Snapshot

	// notifyMu keeps listener calls in update order. It is always taken
	// before mu.
	notifyMu  sync.Mutex
	listeners map[int]Listener
	nextID    int

	fetchSeq    uint64
	cancelFetch context.CancelFunc
}

// NewStore creates a store holding initial.
func NewStore(initial Snapshot) *Store {
	return &Store{current: initial, listeners: make(map[int]Listener)}
}

// Current returns the current snapshot.
func (s *Store) Current() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Update replaces the current snapshot with fn(current) and notifies
// listeners.
func (s *Store) Update(change Change, fn func(Snapshot) Snapshot) Snapshot {
	s.notifyMu.Lock()
	s.mu.Lock()
	next := s.apply(fn)
	s.mu.Unlock()

	s.notify(change, next)
	return next
}

// apply runs fn on the current snapshot. Callers hold mu.
func (s *Store) apply(fn func(Snapshot) Snapshot) Snapshot {
	next := fn(s.current)
	next.Version = s.current.Version + 1
	s.current = next
	return next
}

// notify calls listeners and releases notifyMu.
func (s *Store) notify(change Change, snap Snapshot) {
	defer s.notifyMu.Unlock()

	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		s.listeners[id](change, snap)
	}
}

// Subscribe registers l and returns a function removing it. Listeners may
// call Current but must not call Update, Commit, Subscribe or the returned
// function.
func (s *Store) Subscribe(l Listener) func() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	return func() {
		s.notifyMu.Lock()
		defer s.notifyMu.Unlock()
		delete(s.listeners, id)
	}
}

// FetchSession is one fetch in flight. Only the newest session may commit.
type FetchSession struct {
	store  *Store
	seq    uint64
	cancel context.CancelFunc
}

// BeginFetch starts a new fetch session and cancels the previous one, if
// still running. The returned context is cancelled when a newer session
// begins or Done is called.
func (s *Store) BeginFetch(ctx context.Context) (context.Context, *FetchSession) {
	ctx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelFetch != nil {
		s.cancelFetch()
	}
	s.fetchSeq++
	s.cancelFetch = cancel
	return ctx, &FetchSession{store: s, seq: s.fetchSeq, cancel: cancel}
}

// Current reports whether no newer session has begun.
func (f *FetchSession) Current() bool {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	return f.seq == f.store.fetchSeq
}

// Commit applies fn as a graph update if f is still the newest session.
func (f *FetchSession) Commit(fn func(Snapshot) Snapshot) (Snapshot, error) {
	s := f.store
	s.notifyMu.Lock()
	s.mu.Lock()
	if f.seq != s.fetchSeq {
		s.mu.Unlock()
		s.notifyMu.Unlock()
		return Snapshot{}, ErrSuperseded
	}
	next := s.apply(fn)
	s.mu.Unlock()

	s.notify(ChangeGraph, next)
	return next, nil
}

// Done releases the session's context.
func (f *FetchSession) Done() {
	f.cancel()
}
