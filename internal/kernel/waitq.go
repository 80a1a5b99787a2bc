package kernel

import (
	"context"
	"sync"
	"time"
)

// waitQueue is a FIFO of threads blocked on an object.
type waitQueue struct {
	threads []*Thread
}

func (q *waitQueue) push(t *Thread) { q.threads = append(q.threads, t) }

func (q *waitQueue) remove(t *Thread) {
	for i, x := range q.threads {
		if x == t {
			q.threads = append(q.threads[:i], q.threads[i+1:]...)
			return
		}
	}
}

// wakeOne readies the first waiter still blocked, dropping stale entries.
func (q *waitQueue) wakeOne(err error) *Thread {
	for len(q.threads) > 0 {
		t := q.threads[0]
		q.threads = q.threads[1:]
		if t.wake(err) {
			return t
		}
	}
	return nil
}

func (q *waitQueue) wakeAll(err error) {
	for _, t := range q.threads {
		t.wake(err)
	}
	q.threads = nil
}

func (q *waitQueue) len() int { return len(q.threads) }

// wait blocks the calling thread on q. mu guards the object and is held
// on entry and on return, including when the thread is closed while
// waiting.
func wait(ctx context.Context, mu *sync.Mutex, q *waitQueue, timeout time.Duration) error {
	t := Self(ctx)
	if t == nil {
		return ErrNotThread
	}
	if timeout == NoWait {
		return ErrTimeout
	}
	t.block()
	q.push(t)
	mu.Unlock()
	defer func() {
		mu.Lock()
		q.remove(t)
	}()
	return t.park(timeout)
}

type deadline struct {
	forever bool
	at      time.Time
}

func newDeadline(timeout time.Duration) deadline {
	if timeout < 0 {
		return deadline{forever: true}
	}
	return deadline{at: time.Now().Add(timeout)}
}

func (d deadline) remaining() time.Duration {
	if d.forever {
		return Forever
	}
	return max(time.Until(d.at), 0)
}
