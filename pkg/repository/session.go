// Package repository holds the per-session lookup state and serves year
// views of the last loaded record set.
package repository

import (
	"strconv"
	"sync"
	"time"

	"github.com/Sternrassler/nyc-exemptions/pkg/availability"
	"github.com/Sternrassler/nyc-exemptions/pkg/exemptions"
	"github.com/Sternrassler/nyc-exemptions/pkg/parcel"
	"github.com/google/uuid"
)

// Ticket is the generation a lookup was started with.
type Ticket uint64

// State is the result of one completed lookup. The parcel, records and
// availability always belong together.
type State struct {
	Parcel     parcel.ID
	Records    []exemptions.Record
	Years      availability.Map
	Generation Ticket
	LoadedAt   time.Time
}

// SelectYear returns the records whose year field equals year. The result is
// never nil.
func (s State) SelectYear(year int) []exemptions.Record {
	want := strconv.Itoa(year)
	out := make([]exemptions.Record, 0)
	for _, rec := range s.Records {
		if rec.Value(exemptions.FieldYear) == want {
			out = append(out, rec)
		}
	}
	return out
}

// All returns a copy of the records.
func (s State) All() []exemptions.Record {
	return append([]exemptions.Record(nil), s.Records...)
}

// Session is the mutable state of one user session.
type Session struct {
	id string

	mu     sync.RWMutex
	latest Ticket
	state  *State
}

// NewSession creates an empty session with a random ID.
func NewSession() *Session {
	return &Session{id: uuid.NewString()}
}

// ID returns the session ID.
func (s *Session) ID() string {
	return s.id
}

// Begin starts a lookup and returns its ticket. Tickets increase
// monotonically.
func (s *Session) Begin() Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest++
	return s.latest
}

// Replace publishes a completed lookup. It reports false, leaving the state
// untouched, when a lookup begun after t has already been published.
func (s *Session) Replace(t Ticket, id parcel.ID, records []exemptions.Record, years availability.Map) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != nil && s.state.Generation > t {
		return false
	}

	s.state = &State{
		Parcel:     id,
		Records:    records,
		Years:      years,
		Generation: t,
		LoadedAt:   time.Now(),
	}
	return true
}

// Current returns the last published state.
func (s *Session) Current() (State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == nil {
		return State{}, false
	}
	return *s.state, true
}

// Stale reports whether a lookup begun after t exists.
func (s *Session) Stale(t Ticket) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest > t
}
