package filter

import (
	"sync"

	"github.com/dyluth/geowatch/pkg/tracking"
)

// Params is an immutable copy of the filter at one instant.
type Params struct {
	Users UserSet
	Range *tracking.TimeRange
}

// State is the current filter selection. It is safe for concurrent use.
// The poller captures Params at dispatch and compares Range at apply time.
type State struct {
	mu          sync.RWMutex
	users       UserSet
	known       []int64
	initialized bool
	rng         *tracking.TimeRange
}

// NewState returns a state with no users selected and no time range.
func NewState() *State {
	return &State{users: UserSet{}}
}

// InitUsersOnce selects every id in roster the first time it is called.
// Later calls only refresh the list of known users. Returns true when the
// selection was initialised by this call.
func (s *State) InitUsersOnce(roster []tracking.Identity) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.known = s.known[:0]
	for _, id := range roster {
		s.known = append(s.known, id.ID)
	}
	if s.initialized {
		return false
	}
	s.users = NewUserSet(s.known...)
	s.initialized = true
	return true
}

// Initialized reports whether the user selection has been set.
func (s *State) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized
}

// SetUsers replaces the selection.
func (s *State) SetUsers(ids ...int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = NewUserSet(ids...)
	s.initialized = true
}

// SelectAll selects every known user.
func (s *State) SelectAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = NewUserSet(s.known...)
	s.initialized = true
}

// SelectNone clears the selection.
func (s *State) SelectNone() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = UserSet{}
	s.initialized = true
}

// Toggle flips one user's membership.
func (s *State) Toggle(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.users.Clone()
	if next.Has(id) {
		delete(next, id)
	} else {
		next[id] = struct{}{}
	}
	s.users = next
	s.initialized = true
}

// SetRange installs a fetch window. An invalid window is rejected with
// tracking.ErrInvalidRange and the state is left unchanged.
func (s *State) SetRange(r tracking.TimeRange) error {
	if err := r.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rng = &r
	return nil
}

// ClearRange removes the fetch window.
func (s *State) ClearRange() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rng = nil
}

// Range returns a copy of the current window, or nil.
func (s *State) Range() *tracking.TimeRange {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.rng == nil {
		return nil
	}
	r := *s.rng
	return &r
}

// Users returns a copy of the current selection.
func (s *State) Users() UserSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.users.Clone()
}

// Params snapshots users and range together.
func (s *State) Params() Params {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p := Params{Users: s.users.Clone()}
	if s.rng != nil {
		r := *s.rng
		p.Range = &r
	}
	return p
}
