package kernel

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"
)

type ThreadState uint8

const (
	ThreadInit ThreadState = iota
	ThreadReady
	ThreadBlocked
	ThreadSuspended
	ThreadClosed
)

func (s ThreadState) String() string {
	switch s {
	case ThreadInit:
		return "init"
	case ThreadReady:
		return "ready"
	case ThreadBlocked:
		return "blocked"
	case ThreadSuspended:
		return "suspend"
	case ThreadClosed:
		return "close"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Timeouts for blocking calls.
const (
	Forever time.Duration = -1
	NoWait  time.Duration = 0
)

const (
	threadBlockSize = 128
	MinStackSize    = 256
)

type ThreadEntry func(ctx context.Context, param any)

// Thread is a kernel thread backed by a goroutine.
type Thread struct {
	Object

	entry     ThreadEntry
	param     any
	stack     *Block
	stackSize int
	priority  int
	tick      int
	timer     Timer

	// Cleanup runs inside the critical section when the thread is
	// reclaimed.
	Cleanup func(t *Thread)

	mu        sync.Mutex
	cond      *sync.Cond
	stat      ThreadState
	wakeErr   error
	reclaimed bool
	done      chan struct{}
}

func (k *Kernel) setupThread(ctx context.Context, t *Thread, entry ThreadEntry, param any, stackSize, priority, tick int) {
	t.entry = entry
	t.param = param
	t.stackSize = stackSize
	t.priority = priority
	t.tick = tick
	t.cond = sync.NewCond(&t.mu)
	t.stat = ThreadInit
	t.done = make(chan struct{})
	k.initTimer(&t.timer, t.name, threadTimeout, t, 0, TimerOneShot)
}

func (k *Kernel) checkThreadParams(entry ThreadEntry, stackSize, priority int) error {
	if entry == nil {
		return fmt.Errorf("%w: nil thread entry", ErrInvalid)
	}
	if priority < 0 || priority >= k.cfg.PriorityMax {
		return fmt.Errorf("%w: priority %d outside [0, %d)", ErrInvalid, priority, k.cfg.PriorityMax)
	}
	if stackSize < MinStackSize {
		return fmt.Errorf("%w: stack size %d below %d", ErrInvalid, stackSize, MinStackSize)
	}
	return nil
}

// InitThread prepares a statically allocated thread. Its stack is
// supplied by the caller and is not charged to the heap.
func (k *Kernel) InitThread(ctx context.Context, t *Thread, name string, entry ThreadEntry, param any, stackSize, priority, tick int) error {
	schedule(ctx)
	if err := k.checkThreadParams(entry, stackSize, priority); err != nil {
		return err
	}
	k.InitObject(ctx, t, ClassThread, name)
	k.setupThread(ctx, t, entry, param, stackSize, priority, tick)
	return nil
}

// CreateThread allocates a thread and its stack from the heap.
func (k *Kernel) CreateThread(ctx context.Context, name string, entry ThreadEntry, param any, stackSize, priority, tick int) (*Thread, error) {
	schedule(ctx)
	if err := k.checkThreadParams(entry, stackSize, priority); err != nil {
		return nil, err
	}
	stack, err := k.heap.Alloc(ownerOf(ctx), stackSize)
	if err != nil {
		return nil, err
	}
	t := &Thread{stack: stack}
	if err := k.AllocateObject(ctx, t, ClassThread, name, threadBlockSize); err != nil {
		k.heap.Free(stack)
		return nil, err
	}
	k.setupThread(ctx, t, entry, param, stackSize, priority, tick)
	return t, nil
}

// BindOwner records owner on a thread that has not started. The thread is
// not adopted: it only gains a back reference.
func (k *Kernel) BindOwner(t *Thread, owner OwnerID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stat != ThreadInit {
		return fmt.Errorf("%w: thread %s already started", ErrState, t.name)
	}
	t.owner = owner
	return nil
}

// Startup makes the thread runnable.
func (t *Thread) Startup() error {
	t.mu.Lock()
	if stat := t.stat; stat != ThreadInit {
		t.mu.Unlock()
		return fmt.Errorf("%w: thread %s is %s", ErrState, t.Name(), stat)
	}
	t.stat = ThreadReady
	t.mu.Unlock()
	go t.run()
	return nil
}

func (t *Thread) run() {
	defer t.k.threadExit(t)
	t.Checkpoint()
	t.entry(withThread(t.k.ctx, t), t.param)
}

func (k *Kernel) threadExit(t *Thread) {
	t.mu.Lock()
	closed := t.stat == ThreadClosed
	t.stat = ThreadClosed
	t.cond.Broadcast()
	t.mu.Unlock()
	t.timer.Stop()
	if !closed {
		k.defunct.push(t)
	}
	close(t.done)
}

// Checkpoint parks a suspended thread and terminates a closed one. Only
// the thread itself may call it.
func (t *Thread) Checkpoint() {
	t.mu.Lock()
	for t.stat == ThreadSuspended {
		t.cond.Wait()
	}
	closed := t.stat == ThreadClosed
	t.mu.Unlock()
	if closed {
		runtime.Goexit()
	}
}

// block marks the calling thread blocked. It must be followed by park.
func (t *Thread) block() {
	t.mu.Lock()
	if t.stat == ThreadReady {
		t.stat = ThreadBlocked
	}
	t.wakeErr = nil
	t.mu.Unlock()
}

// park waits until the thread is readied. A non-negative timeout arms the
// thread timer.
func (t *Thread) park(timeout time.Duration) error {
	t.mu.Lock()
	if timeout > 0 && t.stat == ThreadBlocked {
		t.timer.startAfter(timeout)
	}
	for t.stat == ThreadBlocked || t.stat == ThreadSuspended {
		t.cond.Wait()
	}
	stat, err := t.stat, t.wakeErr
	t.wakeErr = nil
	t.mu.Unlock()
	t.timer.Stop()
	if stat == ThreadClosed {
		runtime.Goexit()
	}
	return err
}

// wake readies a blocked thread with the given wait result.
func (t *Thread) wake(err error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stat != ThreadBlocked {
		return false
	}
	t.stat = ThreadReady
	t.wakeErr = err
	t.cond.Broadcast()
	return true
}

func threadTimeout(param any) {
	param.(*Thread).wake(ErrTimeout)
}

// Suspend stops the thread at its next scheduling point.
func (t *Thread) Suspend() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.stat {
	case ThreadInit, ThreadClosed:
		return fmt.Errorf("%w: cannot suspend %s thread %s", ErrState, t.stat, t.name)
	}
	t.stat = ThreadSuspended
	return nil
}

// Resume readies a suspended thread. A wait it was in returns
// ErrInterrupted.
func (t *Thread) Resume() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stat != ThreadSuspended {
		return fmt.Errorf("%w: thread %s is %s", ErrState, t.name, t.stat)
	}
	t.stat = ThreadReady
	t.wakeErr = ErrInterrupted
	t.cond.Broadcast()
	return nil
}

func (t *Thread) close() bool {
	t.mu.Lock()
	if t.stat == ThreadClosed {
		t.mu.Unlock()
		return false
	}
	wasInit := t.stat == ThreadInit
	t.stat = ThreadClosed
	t.cond.Broadcast()
	t.mu.Unlock()
	t.timer.Stop()
	if wasInit {
		close(t.done)
	}
	return true
}

// Delete closes a dynamic thread and hands it to the reaper.
func (t *Thread) Delete() error {
	if t.IsStatic() {
		return fmt.Errorf("%w: thread %s is static", ErrInvalid, t.name)
	}
	if t.close() {
		t.k.defunct.push(t)
	}
	return nil
}

// Detach closes a static thread and hands it to the reaper.
func (t *Thread) Detach() error {
	if !t.IsStatic() {
		return fmt.Errorf("%w: thread %s is dynamic", ErrInvalid, t.name)
	}
	if t.close() {
		t.k.defunct.push(t)
	}
	return nil
}

func (t *Thread) State() ThreadState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stat
}

func (t *Thread) Priority() int { return t.priority }

func (t *Thread) StackSize() int { return t.stackSize }

func (t *Thread) Tick() int { return t.tick }

// Stack is the heap block behind a dynamic thread's stack.
func (t *Thread) Stack() *Block { return t.stack }

func (t *Thread) Timer() *Timer { return &t.timer }

// Done is closed once the thread's goroutine has finished, or when a
// thread that never started is closed.
func (t *Thread) Done() <-chan struct{} { return t.done }

// Sleep blocks the calling thread for d.
func (k *Kernel) Sleep(ctx context.Context, d time.Duration) error {
	t := Self(ctx)
	if t == nil {
		return ErrNotThread
	}
	t.Checkpoint()
	if d <= 0 {
		runtime.Gosched()
		return nil
	}
	t.block()
	if err := t.park(d); err != nil && err != ErrTimeout {
		return err
	}
	return nil
}

func (k *Kernel) Yield(ctx context.Context) {
	schedule(ctx)
	runtime.Gosched()
}

// Threads lists registered threads.
func (k *Kernel) Threads() []*Thread {
	objs := k.objects.list(ClassThread)
	out := make([]*Thread, 0, len(objs))
	for _, obj := range objs {
		out = append(out, obj.(*Thread))
	}
	return out
}
