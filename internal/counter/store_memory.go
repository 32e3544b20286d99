package counter

import (
	"context"
	"sync"
)

// InMemoryStore keeps the counters document under a mutex. The mutex gives
// the same all-or-nothing semantics the Postgres store gets from
// serializable transactions.
type InMemoryStore struct {
	mu       sync.Mutex
	counters *Counters
}

// NewInMemoryStore constructs an empty in-memory counter store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Mutate(ctx context.Context, fn func(c *Counters) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	working := NewCounters()
	if s.counters != nil {
		for cc, n := range s.counters.MemberIDCounters {
			working.MemberIDCounters[cc] = n
		}
		working.InstructorIDCounter = s.counters.InstructorIDCounter
		working.SchoolIDCounter = s.counters.SchoolIDCounter
	}

	// fn sees a copy; the document only replaces the stored one on success.
	if err := fn(working); err != nil {
		return err
	}
	s.counters = working
	return nil
}

func (s *InMemoryStore) Get(ctx context.Context) (*Counters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := NewCounters()
	if s.counters != nil {
		for cc, n := range s.counters.MemberIDCounters {
			out.MemberIDCounters[cc] = n
		}
		out.InstructorIDCounter = s.counters.InstructorIDCounter
		out.SchoolIDCounter = s.counters.SchoolIDCounter
	}
	return out, nil
}
