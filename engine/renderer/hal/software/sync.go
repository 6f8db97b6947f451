package software

import (
	"fmt"
	"sync"
	"time"

	"github.com/spaghettifunk/lumen/engine/renderer/hal"
)

type Fence struct {
	mu       sync.Mutex
	signaled bool
	done     chan struct{}
}

func newFence(signaled bool) *Fence {
	f := &Fence{done: make(chan struct{})}
	if signaled {
		f.signaled = true
		close(f.done)
	}
	return f
}

func (f *Fence) Wait(timeout time.Duration) error {
	f.mu.Lock()
	done := f.done
	f.mu.Unlock()

	if timeout == 0 {
		<-done
		return nil
	}
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("fence wait timed out after %s", timeout)
	}
}

func (f *Fence) Reset() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signaled {
		f.signaled = false
		f.done = make(chan struct{})
	}
	return nil
}

func (f *Fence) Signaled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signaled
}

func (f *Fence) signal() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signaled {
		return fmt.Errorf("submit with a fence that is already signaled: %w", ErrValidation)
	}
	f.signaled = true
	close(f.done)
	return nil
}

func (f *Fence) Destroy() {}

type Semaphore struct {
	mu       sync.Mutex
	signaled bool
}

func (s *Semaphore) signal() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.signaled {
		return fmt.Errorf("semaphore signaled twice without a wait: %w", ErrValidation)
	}
	s.signaled = true
	return nil
}

func (s *Semaphore) consume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.signaled {
		return fmt.Errorf("wait on a semaphore that will never be signaled: %w", ErrValidation)
	}
	s.signaled = false
	return nil
}

func (s *Semaphore) Destroy() {}

func asSemaphore(s hal.Semaphore) (*Semaphore, error) {
	sem, ok := s.(*Semaphore)
	if !ok || sem == nil {
		return nil, fmt.Errorf("foreign semaphore %T: %w", s, ErrValidation)
	}
	return sem, nil
}
