// Package ready provides the loader's readiness signal: a result slot that
// is assigned exactly once, plus a channel closed when it is.
package ready

import (
	"context"
	"sync"
)

// Signal settles once, either resolved or rejected with an error.
// The zero value is not usable; use New.
type Signal struct {
	err     error
	done    chan struct{}
	once    sync.Once
	settled bool
	mu      sync.RWMutex
}

func New() *Signal {
	return &Signal{done: make(chan struct{})}
}

// Resolve marks the signal successful. Returns false if it had already settled.
func (s *Signal) Resolve() bool {
	return s.settle(nil)
}

// Reject marks the signal failed with err. A nil err is recorded as a
// resolution. Returns false if the signal had already settled.
func (s *Signal) Reject(err error) bool {
	return s.settle(err)
}

func (s *Signal) settle(err error) bool {
	won := false
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.settled = true
		s.mu.Unlock()
		close(s.done)
		won = true
	})
	return won
}

// Done is closed once the signal settles.
func (s *Signal) Done() <-chan struct{} {
	return s.done
}

// Settled reports whether Resolve or Reject has taken effect.
func (s *Signal) Settled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settled
}

// Err returns the rejection cause; nil while pending or when resolved.
func (s *Signal) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Wait blocks until the signal settles or ctx is done.
func (s *Signal) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}
