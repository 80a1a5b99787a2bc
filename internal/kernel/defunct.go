package kernel

import (
	"slices"
	"sync"

	"go.uber.org/zap"
)

// defunctList holds closed threads waiting to be reclaimed.
type defunctList struct {
	mu      sync.Mutex
	threads []*Thread
	signal  chan struct{}
}

func (d *defunctList) push(t *Thread) {
	d.mu.Lock()
	d.threads = append(d.threads, t)
	d.mu.Unlock()
	select {
	case d.signal <- struct{}{}:
	default:
	}
}

func (d *defunctList) pop() *Thread {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.threads) == 0 {
		return nil
	}
	t := d.threads[0]
	d.threads = d.threads[1:]
	return t
}

func (d *defunctList) remove(t *Thread) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, x := range d.threads {
		if x == t {
			d.threads = append(d.threads[:i], d.threads[i+1:]...)
			return
		}
	}
}

func (d *defunctList) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.threads)
}

// idle is the reaper loop.
func (k *Kernel) idle() {
	defer k.wg.Done()
	for {
		select {
		case <-k.stop:
			return
		case <-k.defunct.signal:
			k.ReapNow()
		}
	}
}

// ReapNow reclaims every thread on the defunct list and returns how many
// it released.
func (k *Kernel) ReapNow() int {
	n := 0
	for t := k.defunct.pop(); t != nil; t = k.defunct.pop() {
		if k.reclaim(t) {
			n++
		}
		k.hookMu.RLock()
		hooks := slices.Clone(k.reapHooks)
		k.hookMu.RUnlock()
		for _, hook := range hooks {
			hook(t)
		}
	}
	return n
}

// Defunct returns the number of threads waiting for the reaper.
func (k *Kernel) Defunct() int { return k.defunct.len() }

// ReclaimThread closes t and releases it immediately instead of waiting
// for the reaper. Reap hooks do not run.
func (k *Kernel) ReclaimThread(t *Thread) bool {
	t.close()
	k.defunct.remove(t)
	return k.reclaim(t)
}

func (k *Kernel) reclaim(t *Thread) bool {
	t.mu.Lock()
	done := t.reclaimed
	t.reclaimed = true
	t.mu.Unlock()
	if done {
		return false
	}

	k.EnterCritical()
	if t.Cleanup != nil {
		t.Cleanup(t)
	}
	k.ExitCritical()

	if t.IsStatic() {
		k.DetachObject(t)
	} else {
		k.heap.Free(t.stack)
		k.DeleteObject(t)
	}
	k.logger.Debug("Thread reclaimed",
		zap.String("thread", t.Name()),
		zap.Uint64("owner", uint64(t.owner)))
	return true
}
