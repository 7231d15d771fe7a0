// Package clips holds the ordered list of recorded clips.
package clips

import (
	"errors"
	"slices"
	"sync"

	"github.com/google/uuid"
)

// ErrOutOfRange is returned for a clip index outside [0, Len()).
var ErrOutOfRange = errors.New("clip index out of range")

// Clip is one recorded segment. Index always equals the clip's position in
// the list.
type Clip struct {
	ID      string `json:"id"`
	Ref     string `json:"ref"`
	Index   int    `json:"index"`
	Playing bool   `json:"playing"`
}

// Store is a mutable ordered clip list. Observers are notified after every
// mutation, outside the lock, with a copy of the list taken by that
// mutation. Deliveries are serialized and never go back in time: a snapshot
// older than one already delivered is dropped. Observers may read the store
// but must not mutate it.
type Store struct {
	mu        sync.Mutex
	clips     []Clip
	observers map[int]func([]Clip)
	nextObs   int
	version   uint64

	deliverMu sync.Mutex
	delivered uint64
}

// change is one mutation's view of the list, ready for delivery.
type change struct {
	version uint64
	list    []Clip
	fns     []func([]Clip)
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{observers: make(map[int]func([]Clip))}
}

// Subscribe registers fn for list changes. The returned func unregisters it.
func (s *Store) Subscribe(fn func([]Clip)) (cancel func()) {
	s.mu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.observers, id)
		s.mu.Unlock()
	}
}

// Append adds a clip for ref at the end of the list.
func (s *Store) Append(ref string) Clip {
	s.mu.Lock()
	c := Clip{ID: uuid.NewString(), Ref: ref, Index: len(s.clips)}
	s.clips = append(s.clips, c)
	ch := s.changedLocked()
	s.mu.Unlock()
	s.notify(ch)
	return c
}

// RemoveAt deletes clip i and renumbers the clips after it.
func (s *Store) RemoveAt(i int) (Clip, error) {
	s.mu.Lock()
	if i < 0 || i >= len(s.clips) {
		s.mu.Unlock()
		return Clip{}, ErrOutOfRange
	}
	removed := s.clips[i]
	s.clips = append(s.clips[:i], s.clips[i+1:]...)
	for j := i; j < len(s.clips); j++ {
		s.clips[j].Index = j
	}
	ch := s.changedLocked()
	s.mu.Unlock()
	s.notify(ch)
	return removed, nil
}

// Clear empties the list.
func (s *Store) Clear() {
	s.mu.Lock()
	s.clips = nil
	ch := s.changedLocked()
	s.mu.Unlock()
	s.notify(ch)
}

// SetPlaying sets the playing flag of clip i.
func (s *Store) SetPlaying(i int, playing bool) error {
	s.mu.Lock()
	if i < 0 || i >= len(s.clips) {
		s.mu.Unlock()
		return ErrOutOfRange
	}
	ch := s.setPlayingLocked(i, playing)
	s.mu.Unlock()
	s.notify(ch)
	return nil
}

// SetPlayingByID sets the playing flag of the clip with id, wherever it now is.
// It reports false for an unknown id.
func (s *Store) SetPlayingByID(id string, playing bool) bool {
	s.mu.Lock()
	i := slices.IndexFunc(s.clips, func(c Clip) bool { return c.ID == id })
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	ch := s.setPlayingLocked(i, playing)
	s.mu.Unlock()
	s.notify(ch)
	return true
}

// setPlayingLocked returns nil when the flag already had that value.
func (s *Store) setPlayingLocked(i int, playing bool) *change {
	if s.clips[i].Playing == playing {
		return nil
	}
	s.clips[i].Playing = playing
	return s.changedLocked()
}

// At returns clip i.
func (s *Store) At(i int) (Clip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.clips) {
		return Clip{}, ErrOutOfRange
	}
	return s.clips[i], nil
}

// List returns a copy of the clips in order.
func (s *Store) List() []Clip {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

// Len returns the number of clips.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clips)
}

func (s *Store) snapshot() []Clip {
	out := make([]Clip, len(s.clips))
	copy(out, s.clips)
	return out
}

// changedLocked stamps a mutation and captures what its observers will see.
// Must be called with mu held.
func (s *Store) changedLocked() *change {
	s.version++
	ids := make([]int, 0, len(s.observers))
	for id := range s.observers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func([]Clip), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.observers[id])
	}
	return &change{version: s.version, list: s.snapshot(), fns: fns}
}

func (s *Store) notify(ch *change) {
	if ch == nil {
		return
	}
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	if ch.version < s.delivered {
		return
	}
	s.delivered = ch.version
	for _, fn := range ch.fns {
		fn(ch.list)
	}
}
