package kernel

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const eventBlockSize = 48

type EventOption uint8

const (
	EventAnd   EventOption = 1 << 0
	EventOr    EventOption = 1 << 1
	EventClear EventOption = 1 << 2
)

type eventCond struct {
	set  uint32
	opt  EventOption
	recv uint32
}

func (c *eventCond) match(set uint32) (uint32, bool) {
	if c.opt&EventAnd != 0 {
		return c.set, set&c.set == c.set
	}
	got := set & c.set
	return got, got != 0
}

// Event is a 32-bit flag set threads can wait on.
type Event struct {
	Object

	mu      sync.Mutex
	set     uint32
	waiters waitQueue
	conds   map[*Thread]*eventCond
	deleted bool
}

func (k *Kernel) InitEvent(ctx context.Context, e *Event, name string) {
	k.InitObject(ctx, e, ClassEvent, name)
	e.conds = make(map[*Thread]*eventCond)
}

func (k *Kernel) CreateEvent(ctx context.Context, name string) (*Event, error) {
	schedule(ctx)
	e := &Event{conds: make(map[*Thread]*eventCond)}
	if err := k.AllocateObject(ctx, e, ClassEvent, name, eventBlockSize); err != nil {
		return nil, err
	}
	return e, nil
}

// Send sets bits and wakes every waiter whose condition now holds.
func (e *Event) Send(bits uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return ErrDeleted
	}
	e.set |= bits
	for _, t := range append([]*Thread(nil), e.waiters.threads...) {
		c := e.conds[t]
		if c == nil {
			continue
		}
		got, ok := c.match(e.set)
		if !ok {
			continue
		}
		c.recv = got
		if t.wake(nil) {
			e.waiters.remove(t)
			if c.opt&EventClear != 0 {
				e.set &^= got
			}
		}
	}
	return nil
}

// Recv waits until the bits in set satisfy opt and returns the bits that
// matched.
func (e *Event) Recv(ctx context.Context, set uint32, opt EventOption, timeout time.Duration) (uint32, error) {
	schedule(ctx)
	if set == 0 || opt&(EventAnd|EventOr) == 0 {
		return 0, fmt.Errorf("%w: empty event condition", ErrInvalid)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return 0, ErrDeleted
	}
	c := &eventCond{set: set, opt: opt}
	if got, ok := c.match(e.set); ok {
		if opt&EventClear != 0 {
			e.set &^= got
		}
		return got, nil
	}

	t := Self(ctx)
	if t == nil {
		return 0, ErrNotThread
	}
	e.conds[t] = c
	defer delete(e.conds, t)
	if err := wait(ctx, &e.mu, &e.waiters, timeout); err != nil {
		return 0, err
	}
	return c.recv, nil
}

func (e *Event) Value() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.set
}

func (e *Event) shutdown() {
	e.mu.Lock()
	e.deleted = true
	e.waiters.wakeAll(ErrDeleted)
	e.mu.Unlock()
}

func (e *Event) Detach() error {
	if !e.IsStatic() {
		return fmt.Errorf("%w: event %s is dynamic", ErrInvalid, e.name)
	}
	e.shutdown()
	e.k.DetachObject(e)
	return nil
}

func (e *Event) Delete() error {
	if e.IsStatic() {
		return fmt.Errorf("%w: event %s is static", ErrInvalid, e.name)
	}
	e.shutdown()
	e.k.DeleteObject(e)
	return nil
}
