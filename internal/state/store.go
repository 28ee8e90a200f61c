// Package state is the process-wide table of per-conversation running state.
package state

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/MikeSquared-Agency/propensity/internal/conversation"
	"github.com/MikeSquared-Agency/propensity/internal/features"
)

// ErrInconsistentState is returned when an update would rewrite or fork a
// conversation's history, or when a lease is used after it ended.
var ErrInconsistentState = errors.New("inconsistent conversation state")

// Score is the last policy result recorded for a conversation.
type Score struct {
	TurnIndex   int
	Probability float64
	Value       *float64
}

// ConversationState is everything the engine carries for one conversation.
type ConversationState struct {
	ID              string
	Turns           []conversation.Turn
	Features        features.State
	LastObservation features.Observation
	LastScore       *Score
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Clone returns a deep copy.
func (c ConversationState) Clone() ConversationState {
	out := c
	out.Turns = append([]conversation.Turn(nil), c.Turns...)
	out.Features = c.Features.Clone()
	if c.LastObservation != nil {
		out.LastObservation = append(features.Observation(nil), c.LastObservation...)
	}
	if c.LastScore != nil {
		s := *c.LastScore
		if s.Value != nil {
			v := *s.Value
			s.Value = &v
		}
		out.LastScore = &s
	}
	return out
}

type entry struct {
	// owner is a one-slot semaphore; holding it is holding the lease.
	owner chan struct{}
	state ConversationState
}

// Store holds conversation state for the life of the process. There is no
// eviction; callers end a conversation with Reset or by using a new id.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// Acquire returns the exclusive lease for id, creating empty state if the id
// is new. It blocks while another caller holds the lease, until ctx ends.
// An entry that still has no turns when its lease is released is dropped,
// so a failed first prediction leaves nothing behind.
func (s *Store) Acquire(ctx context.Context, id string) (*Lease, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty conversation id", ErrInconsistentState)
	}
	for {
		e := s.getOrCreate(id)
		select {
		case e.owner <- struct{}{}:
		case <-ctx.Done():
			// Drop the entry we may have created, unless someone holds it;
			// their release does the same check.
			select {
			case e.owner <- struct{}{}:
				s.dropIfEmpty(id, e)
				<-e.owner
			default:
			}
			return nil, fmt.Errorf("acquire %s: %w", id, ctx.Err())
		}

		s.mu.Lock()
		current := s.entries[id] == e
		s.mu.Unlock()
		if current {
			return &Lease{store: s, id: id, e: e}, nil
		}
		// Reset while we waited; drop the orphan and retry on the new entry.
		<-e.owner
	}
}

func (s *Store) getOrCreate(id string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		now := s.now().UTC()
		e = &entry{
			owner: make(chan struct{}, 1),
			state: ConversationState{ID: id, CreatedAt: now, UpdatedAt: now},
		}
		s.entries[id] = e
	}
	return e
}

// dropIfEmpty removes e if it is still the entry for id and has no turns.
// The caller must hold e's lease.
func (s *Store) dropIfEmpty(id string, e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entries[id] == e && len(e.state.Turns) == 0 {
		delete(s.entries, id)
	}
}

// Reset forgets a conversation. A lease held on it at the time can no
// longer commit. Reports whether the id existed.
func (s *Store) Reset(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[id]
	delete(s.entries, id)
	return ok
}

// Snapshot returns a copy of the state for id without taking the lease.
func (s *Store) Snapshot(id string) (ConversationState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return ConversationState{}, false
	}
	return e.state.Clone(), true
}

// Len returns the number of tracked conversations.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// IDs returns tracked conversation ids in sorted order.
func (s *Store) IDs() []string {
	s.mu.Lock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Lease is exclusive ownership of one conversation's state.
type Lease struct {
	store *Store
	id    string
	e     *entry

	mu       sync.Mutex
	released bool
}

// ID returns the conversation id the lease covers.
func (l *Lease) ID() string { return l.id }

// State returns a copy of the current state.
func (l *Lease) State() (ConversationState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return ConversationState{}, fmt.Errorf("%w: lease on %s already released", ErrInconsistentState, l.id)
	}
	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	return l.e.state.Clone(), nil
}

// Commit replaces the stored state with next. next must keep the stored
// history as its prefix; anything else is a forked conversation.
func (l *Lease) Commit(next ConversationState) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return fmt.Errorf("%w: lease on %s already released", ErrInconsistentState, l.id)
	}
	if next.ID != l.id {
		return fmt.Errorf("%w: state for %q committed under %q", ErrInconsistentState, next.ID, l.id)
	}

	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	if l.store.entries[l.id] != l.e {
		return fmt.Errorf("%w: conversation %s was reset", ErrInconsistentState, l.id)
	}
	if !conversation.HasPrefix(next.Turns, l.e.state.Turns) {
		return fmt.Errorf("%w: conversation %s history would be rewritten", ErrInconsistentState, l.id)
	}
	next = next.Clone()
	next.CreatedAt = l.e.state.CreatedAt
	next.UpdatedAt = l.store.now().UTC()
	l.e.state = next
	return nil
}

// Release gives up the lease. Safe to call more than once. A conversation
// that never got a committed turn is forgotten.
func (l *Lease) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return
	}
	l.released = true
	l.store.dropIfEmpty(l.id, l.e)
	<-l.e.owner
}
