package kernel

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const mutexBlockSize = 56

// Mutex is a recursive lock owned by a thread.
type Mutex struct {
	Object

	mu      sync.Mutex
	holder  *Thread
	hold    int
	waiters waitQueue
	deleted bool
}

func (k *Kernel) InitMutex(ctx context.Context, m *Mutex, name string) {
	k.InitObject(ctx, m, ClassMutex, name)
}

func (k *Kernel) CreateMutex(ctx context.Context, name string) (*Mutex, error) {
	schedule(ctx)
	m := &Mutex{}
	if err := k.AllocateObject(ctx, m, ClassMutex, name, mutexBlockSize); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Mutex) Take(ctx context.Context, timeout time.Duration) error {
	schedule(ctx)
	t := Self(ctx)
	if t == nil {
		return ErrNotThread
	}
	dl := newDeadline(timeout)
	m.mu.Lock()
	defer m.mu.Unlock()
	for {
		switch {
		case m.deleted:
			return ErrDeleted
		case m.holder == nil:
			m.holder, m.hold = t, 1
			return nil
		case m.holder == t:
			m.hold++
			return nil
		}
		if err := wait(ctx, &m.mu, &m.waiters, dl.remaining()); err != nil {
			return err
		}
		if m.holder == t {
			return nil
		}
	}
}

// Release drops one level of ownership, handing the lock to the first
// waiter when it reaches zero.
func (m *Mutex) Release(ctx context.Context) error {
	t := Self(ctx)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.holder != t || t == nil {
		return ErrNotOwner
	}
	m.hold--
	if m.hold > 0 {
		return nil
	}
	m.holder = nil
	if next := m.waiters.wakeOne(nil); next != nil {
		m.holder, m.hold = next, 1
	}
	return nil
}

func (m *Mutex) Holder() *Thread {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.holder
}

func (m *Mutex) shutdown() {
	m.mu.Lock()
	m.deleted = true
	m.holder = nil
	m.waiters.wakeAll(ErrDeleted)
	m.mu.Unlock()
}

func (m *Mutex) Detach() error {
	if !m.IsStatic() {
		return fmt.Errorf("%w: mutex %s is dynamic", ErrInvalid, m.name)
	}
	m.shutdown()
	m.k.DetachObject(m)
	return nil
}

func (m *Mutex) Delete() error {
	if m.IsStatic() {
		return fmt.Errorf("%w: mutex %s is static", ErrInvalid, m.name)
	}
	m.shutdown()
	m.k.DeleteObject(m)
	return nil
}
