package kernel

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const semaphoreBlockSize = 48

type Semaphore struct {
	Object

	mu      sync.Mutex
	value   uint32
	waiters waitQueue
	deleted bool
}

func (k *Kernel) InitSemaphore(ctx context.Context, s *Semaphore, name string, value uint32) {
	k.InitObject(ctx, s, ClassSemaphore, name)
	s.value = value
}

func (k *Kernel) CreateSemaphore(ctx context.Context, name string, value uint32) (*Semaphore, error) {
	schedule(ctx)
	s := &Semaphore{value: value}
	if err := k.AllocateObject(ctx, s, ClassSemaphore, name, semaphoreBlockSize); err != nil {
		return nil, err
	}
	return s, nil
}

// Take decrements the semaphore, blocking up to timeout.
func (s *Semaphore) Take(ctx context.Context, timeout time.Duration) error {
	schedule(ctx)
	dl := newDeadline(timeout)
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		if s.deleted {
			return ErrDeleted
		}
		if s.value > 0 {
			s.value--
			return nil
		}
		if err := wait(ctx, &s.mu, &s.waiters, dl.remaining()); err != nil {
			return err
		}
	}
}

// Release increments the semaphore. It may be called from interrupt
// context.
func (s *Semaphore) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleted {
		return ErrDeleted
	}
	s.value++
	s.waiters.wakeOne(nil)
	return nil
}

func (s *Semaphore) Value() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

func (s *Semaphore) shutdown() {
	s.mu.Lock()
	s.deleted = true
	s.waiters.wakeAll(ErrDeleted)
	s.mu.Unlock()
}

func (s *Semaphore) Detach() error {
	if !s.IsStatic() {
		return fmt.Errorf("%w: semaphore %s is dynamic", ErrInvalid, s.name)
	}
	s.shutdown()
	s.k.DetachObject(s)
	return nil
}

func (s *Semaphore) Delete() error {
	if s.IsStatic() {
		return fmt.Errorf("%w: semaphore %s is static", ErrInvalid, s.name)
	}
	s.shutdown()
	s.k.DeleteObject(s)
	return nil
}
