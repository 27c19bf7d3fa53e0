// Package account exposes the identity and lock state of the active
// account as a subscribable signal. Derived state (such as the decrypted
// policy snapshot) recomputes from the latest signal value on every change.
package account

import "sync"

// State is the current account session: which account is active and
// whether its vault is unlocked. The zero value means no active account.
type State struct {
	UserID   string
	Unlocked bool
}

// Active reports whether an account is active.
func (s State) Active() bool {
	return s.UserID != ""
}

// Signal broadcasts account state changes to subscribers. Subscribers are
// invoked synchronously, after the new state is visible to State(), so a
// caller observing a Set* return is guaranteed downstream state has been
// recomputed. Not re-entrant: subscribers must not mutate the signal.
type Signal struct {
	mu    sync.Mutex
	state State

	subMu  sync.Mutex
	subs   map[uint64]func(State)
	order  []uint64 // invocation order = subscription order
	nextID uint64
}

// NewSignal creates a Signal with no active account.
func NewSignal() *Signal {
	return &Signal{subs: make(map[uint64]func(State))}
}

// State returns the current account state.
func (s *Signal) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetActive switches the active account. Switching to a different account
// starts it locked; re-setting the same account keeps its lock state.
func (s *Signal) SetActive(userID string) {
	s.mu.Lock()
	if s.state.UserID == userID {
		s.mu.Unlock()
		return
	}
	s.state = State{UserID: userID}
	next := s.state
	s.mu.Unlock()
	s.notify(next)
}

// SetUnlocked marks the active account's vault as unlocked or locked.
// A no-op when no account is active.
func (s *Signal) SetUnlocked(unlocked bool) {
	s.mu.Lock()
	if !s.state.Active() || s.state.Unlocked == unlocked {
		s.mu.Unlock()
		return
	}
	s.state.Unlocked = unlocked
	next := s.state
	s.mu.Unlock()
	s.notify(next)
}

// Clear removes the active account.
func (s *Signal) Clear() {
	s.mu.Lock()
	if !s.state.Active() {
		s.mu.Unlock()
		return
	}
	s.state = State{}
	next := s.state
	s.mu.Unlock()
	s.notify(next)
}

// Subscribe registers a callback for state changes and returns a cancel
// function. Callbacks run in subscription order, so earlier subscribers
// (e.g. a store session sync) settle before later ones (e.g. a snapshot
// recompute). The callback is not invoked with the current state; callers
// wanting an initial value read State() after subscribing.
func (s *Signal) Subscribe(fn func(State)) (cancel func()) {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.order = append(s.order, id)
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		for i, sid := range s.order {
			if sid == id {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
		s.subMu.Unlock()
	}
}

// notify invokes all subscribers, in subscription order, with the given
// state.
func (s *Signal) notify(state State) {
	s.subMu.Lock()
	fns := make([]func(State), 0, len(s.subs))
	for _, id := range s.order {
		fns = append(fns, s.subs[id])
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(state)
	}
}
