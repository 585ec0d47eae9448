// Package state holds the client application state: the auth, batches and
// chat slices, their reducers, and the Store that serialises dispatches.
package state

import "sync"

// Action is implemented by every action type in this package.
type Action interface {
	action()
}

// State is the root of the application state.
type State struct {
	Auth    Auth
	Batches Batches
	Chat    Chat
}

func Initial() State {
	return State{
		Auth:    Auth{Status: StatusIdle},
		Batches: Batches{Status: StatusIdle},
		Chat:    Chat{Messages: []ChatMessage{}},
	}
}

// Reduce runs every slice reducer over a.
func Reduce(s State, a Action) State {
	return State{
		Auth:    ReduceAuth(s.Auth, a),
		Batches: ReduceBatches(s.Batches, a),
		Chat:    ReduceChat(s.Chat, a),
	}
}

// Store is the single writer of State. Dispatch is serialised; listeners run
// after the lock is released, in subscription order.
type Store struct {
	mu        sync.Mutex
	state     State
	listeners []func(State)
}

func NewStore(initial State) *Store {
	return &Store{state: initial}
}

func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Store) Dispatch(a Action) State {
	s.mu.Lock()
	s.state = Reduce(s.state, a)
	next := s.state
	listeners := s.listeners
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(next)
	}
	return next
}

// Subscribe registers fn to be called after every dispatch.
func (s *Store) Subscribe(fn func(State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Token is a shortcut for State().Auth.Token.
func (s *Store) Token() string {
	return s.State().Auth.Token
}
