// Package store is a minimal unidirectional state container for the family
// state. It exists so the server and tests have a host for the sync
// middleware; it is not a general-purpose framework.
package store

import (
	"sync"
	"sync/atomic"

	"github.com/famkit/famsync"
)

// Reducer applies an action to the current state and returns the next state.
// It runs exactly once per dispatched action.
type Reducer func(state *famsync.FamilyState, action famsync.Action) *famsync.FamilyState

// Middleware hooks around the reduction step. Dispatch guarantees the order
// BeforeReduce -> reduce -> AfterReduce per action, serialized; AfterReduce
// observes state the reducer may have produced for that same action. This
// ordering is part of the container's contract with its middleware. Hooks may
// read State but must not call Dispatch synchronously.
type Middleware interface {
	BeforeReduce(action famsync.Action)
	AfterReduce(action famsync.Action)
}

type Store struct {
	mu    sync.Mutex // serializes dispatches
	state atomic.Pointer[famsync.FamilyState]
	mw    []Middleware

	reduce Reducer

	subMu sync.Mutex
	subs  map[chan *famsync.FamilyState]struct{}
}

func New(reduce Reducer) *Store {
	return &Store{
		reduce: reduce,
		subs:   make(map[chan *famsync.FamilyState]struct{}),
	}
}

// Use attaches middleware. Must be called before the first Dispatch.
func (s *Store) Use(mw Middleware) {
	s.mw = append(s.mw, mw)
}

// Dispatch feeds one action through the middleware phases and the reducer.
// Safe for concurrent use; actions are serialized.
func (s *Store) Dispatch(action famsync.Action) {
	s.mu.Lock()
	for _, mw := range s.mw {
		mw.BeforeReduce(action)
	}
	next := s.reduce(s.state.Load(), action)
	s.state.Store(next)
	for _, mw := range s.mw {
		mw.AfterReduce(action)
	}
	s.mu.Unlock()

	s.notify(next)
}

// State returns the current state, nil when no family is registered.
func (s *Store) State() *famsync.FamilyState {
	return s.state.Load()
}

// Subscribe registers a channel receiving the state after every dispatch.
// Slow subscribers miss snapshots rather than blocking the dispatch path.
func (s *Store) Subscribe() chan *famsync.FamilyState {
	ch := make(chan *famsync.FamilyState, 16)
	s.subMu.Lock()
	s.subs[ch] = struct{}{}
	s.subMu.Unlock()
	return ch
}

func (s *Store) Unsubscribe(ch chan *famsync.FamilyState) {
	s.subMu.Lock()
	if _, ok := s.subs[ch]; ok {
		delete(s.subs, ch)
		close(ch)
	}
	s.subMu.Unlock()
}

func (s *Store) notify(state *famsync.FamilyState) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- state:
		default:
		}
	}
}
