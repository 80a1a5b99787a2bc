package kernel

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type TimerFunc func(param any)

type TimerFlag uint8

const (
	TimerOneShot  TimerFlag = 0
	TimerPeriodic TimerFlag = 1
)

const timerBlockSize = 64

// Timer runs fn in interrupt context when it expires.
type Timer struct {
	Object

	fn     TimerFunc
	param  any
	period time.Duration
	flag   TimerFlag

	mu     sync.Mutex
	t      *time.Timer
	active bool
	gen    uint64
}

func (k *Kernel) initTimer(tm *Timer, name string, fn TimerFunc, param any, period time.Duration, flag TimerFlag) {
	tm.k = k
	tm.name = name
	tm.fn = fn
	tm.param = param
	tm.period = period
	tm.flag = flag
}

func (k *Kernel) InitTimer(ctx context.Context, tm *Timer, name string, fn TimerFunc, param any, period time.Duration, flag TimerFlag) error {
	if fn == nil {
		return fmt.Errorf("%w: nil timer function", ErrInvalid)
	}
	k.InitObject(ctx, tm, ClassTimer, name)
	k.initTimer(tm, name, fn, param, period, flag)
	return nil
}

func (k *Kernel) CreateTimer(ctx context.Context, name string, fn TimerFunc, param any, period time.Duration, flag TimerFlag) (*Timer, error) {
	schedule(ctx)
	if fn == nil {
		return nil, fmt.Errorf("%w: nil timer function", ErrInvalid)
	}
	tm := &Timer{}
	if err := k.AllocateObject(ctx, tm, ClassTimer, name, timerBlockSize); err != nil {
		return nil, err
	}
	k.initTimer(tm, name, fn, param, period, flag)
	return tm, nil
}

// Start arms the timer with its configured period.
func (tm *Timer) Start() error {
	if tm.period <= 0 {
		return fmt.Errorf("%w: timer %s has no period", ErrInvalid, tm.name)
	}
	tm.startAfter(tm.period)
	return nil
}

func (tm *Timer) startAfter(d time.Duration) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.t != nil {
		tm.t.Stop()
	}
	tm.period = d
	tm.gen++
	gen := tm.gen
	tm.active = true
	tm.t = time.AfterFunc(d, func() { tm.fire(gen) })
}

func (tm *Timer) fire(gen uint64) {
	tm.mu.Lock()
	if !tm.active || gen != tm.gen {
		tm.mu.Unlock()
		return
	}
	if tm.flag&TimerPeriodic != 0 {
		tm.t = time.AfterFunc(tm.period, func() { tm.fire(gen) })
	} else {
		tm.active = false
	}
	fn, param := tm.fn, tm.param
	tm.mu.Unlock()
	fn(param)
}

// Stop disarms the timer. A callback already running is not waited for.
func (tm *Timer) Stop() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if tm.t != nil {
		tm.t.Stop()
	}
	tm.active = false
	tm.gen++
}

func (tm *Timer) Active() bool {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.active
}

func (tm *Timer) Period() time.Duration {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.period
}

func (tm *Timer) Detach() error {
	if !tm.IsStatic() {
		return fmt.Errorf("%w: timer %s is dynamic", ErrInvalid, tm.name)
	}
	tm.Stop()
	tm.k.DetachObject(tm)
	return nil
}

func (tm *Timer) Delete() error {
	if tm.IsStatic() {
		return fmt.Errorf("%w: timer %s is static", ErrInvalid, tm.name)
	}
	tm.Stop()
	tm.k.DeleteObject(tm)
	return nil
}
