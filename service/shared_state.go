package service

import (
	"sync"

	"github.com/hexresearch/hexstody-sub000/state"
)

// SharedState holds the live aggregate. The update worker is the only
// writer; everybody else reads under the shared lock and must not keep
// pointers into the state past the callback.
type SharedState struct {
	mu   sync.RWMutex
	st   *state.State
	seq  uint64
	subs []chan struct{}
}

func NewSharedState(st *state.State) *SharedState {
	return &SharedState{st: st}
}

// Read runs fn under the read lock.
func (s *SharedState) Read(fn func(st *state.State)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.st)
}

// Copy returns a deep copy of the current state.
func (s *SharedState) Copy() *state.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.Clone()
}

// Seq is the log sequence number of the last committed update.
func (s *SharedState) Seq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seq
}

// Subscribe returns a channel signalled, without blocking the writer,
// after every committed update.
func (s *SharedState) Subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()
	return ch
}

// update runs fn with the write lock held. fn returns the new state, or
// nil to keep the old one.
func (s *SharedState) update(fn func(cur *state.State) (*state.State, uint64, error)) error {
	s.mu.Lock()
	next, seq, err := fn(s.st)
	if err == nil && next != nil {
		s.st = next
		s.seq = seq
	}
	subs := s.subs
	s.mu.Unlock()
	if err == nil && next != nil {
		for _, ch := range subs {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	}
	return err
}
