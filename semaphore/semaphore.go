// Package semaphore provides a counting semaphore with FIFO hand-off,
// draining, and an idle-join.
//
// Information Hiding:
// - Waiter queue layout and hand-off protocol
// - Idle signalling between Release and Wait
package semaphore

import (
	"container/list"
	"context"
	"errors"
	"sync"
)

// ErrDrained is returned to acquirers that were queued when Drain was called,
// and to every acquire attempted afterwards.
var ErrDrained = errors.New("semaphore drained")

// Permit is a granted slot. Releasing the same permit twice is a no-op.
type Permit struct {
	sem      *Semaphore
	released bool
}

type waiter struct {
	ready chan error
}

// Semaphore bounds the number of concurrent holders.
type Semaphore struct {
	mu       sync.Mutex
	capacity int
	inUse    int
	drained  bool
	waiters  list.List
	idle     chan struct{}
}

// New creates a semaphore with the given capacity. Capacity below 1 is raised to 1.
func New(capacity int) *Semaphore {
	if capacity < 1 {
		capacity = 1
	}
	s := &Semaphore{capacity: capacity, idle: make(chan struct{})}
	close(s.idle)
	return s
}

// Acquire blocks until a permit is available, ctx is done, or the semaphore
// is drained. Waiters are served strictly in arrival order.
func (s *Semaphore) Acquire(ctx context.Context) (*Permit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.drained {
		s.mu.Unlock()
		return nil, ErrDrained
	}
	if s.inUse < s.capacity && s.waiters.Len() == 0 {
		s.grantLocked()
		s.mu.Unlock()
		return &Permit{sem: s}, nil
	}

	w := &waiter{ready: make(chan error, 1)}
	elem := s.waiters.PushBack(w)
	s.mu.Unlock()

	select {
	case err := <-w.ready:
		if err != nil {
			return nil, err
		}
		return &Permit{sem: s}, nil
	case <-ctx.Done():
		s.mu.Lock()
		select {
		case err := <-w.ready:
			// Granted or drained while we were cancelling.
			s.mu.Unlock()
			if err == nil {
				s.release()
			}
		default:
			s.waiters.Remove(elem)
			s.mu.Unlock()
		}
		return nil, ctx.Err()
	}
}

// Release returns the permit. The slot passes directly to the oldest waiter.
func (s *Semaphore) Release(p *Permit) {
	if p == nil || p.sem != s {
		return
	}
	s.mu.Lock()
	if p.released {
		s.mu.Unlock()
		return
	}
	p.released = true
	s.mu.Unlock()
	s.release()
}

func (s *Semaphore) release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if front := s.waiters.Front(); front != nil && !s.drained {
		s.waiters.Remove(front)
		// The slot stays counted in inUse; ownership moves to the waiter.
		front.Value.(*waiter).ready <- nil
		return
	}

	s.inUse--
	if s.inUse == 0 {
		close(s.idle)
	}
}

// Drain fails every queued acquirer with ErrDrained and rejects future
// acquires. Permits already granted remain valid until released.
func (s *Semaphore) Drain() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.drained = true
	for e := s.waiters.Front(); e != nil; e = s.waiters.Front() {
		s.waiters.Remove(e)
		e.Value.(*waiter).ready <- ErrDrained
	}
}

// Wait blocks until no permits are in use or ctx is done.
func (s *Semaphore) Wait(ctx context.Context) error {
	s.mu.Lock()
	idle := s.idle
	s.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Capacity returns the total number of permits.
func (s *Semaphore) Capacity() int {
	return s.capacity
}

// InUse returns the number of granted, unreleased permits.
func (s *Semaphore) InUse() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inUse
}

// Available returns the number of free permits.
func (s *Semaphore) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capacity - s.inUse
}

// Waiting returns the number of queued acquirers.
func (s *Semaphore) Waiting() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waiters.Len()
}

// Drained reports whether Drain has been called.
func (s *Semaphore) Drained() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drained
}

func (s *Semaphore) grantLocked() {
	if s.inUse == 0 {
		s.idle = make(chan struct{})
	}
	s.inUse++
}
