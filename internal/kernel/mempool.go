package kernel

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const memPoolBlockSize = 64

// MemPool hands out fixed-size blocks carved from one region.
type MemPool struct {
	Object

	mu        sync.Mutex
	base      uintptr
	blockSize int
	count     int
	free      []uintptr
	inUse     map[uintptr]bool
	region    *Block
	waiters   waitQueue
	deleted   bool
}

func (mp *MemPool) setup(base uintptr, blockSize, count int) {
	mp.base = base
	mp.blockSize = alignUp(blockSize, heapAlign)
	mp.count = count
	mp.inUse = make(map[uintptr]bool, count)
	mp.free = make([]uintptr, 0, count)
	for i := 0; i < count; i++ {
		mp.free = append(mp.free, base+uintptr(i*mp.blockSize))
	}
}

// InitMemPool builds a pool over caller-supplied memory at base.
func (k *Kernel) InitMemPool(ctx context.Context, mp *MemPool, name string, base uintptr, blockSize, count int) error {
	if blockSize <= 0 || count <= 0 {
		return fmt.Errorf("%w: memory pool %dx%d", ErrInvalid, count, blockSize)
	}
	k.InitObject(ctx, mp, ClassMemPool, name)
	mp.setup(base, blockSize, count)
	return nil
}

func (k *Kernel) CreateMemPool(ctx context.Context, name string, blockSize, count int) (*MemPool, error) {
	schedule(ctx)
	if blockSize <= 0 || count <= 0 {
		return nil, fmt.Errorf("%w: memory pool %dx%d", ErrInvalid, count, blockSize)
	}
	region, err := k.heap.Alloc(ownerOf(ctx), alignUp(blockSize, heapAlign)*count)
	if err != nil {
		return nil, err
	}
	mp := &MemPool{region: region}
	if err := k.AllocateObject(ctx, mp, ClassMemPool, name, memPoolBlockSize); err != nil {
		k.heap.Free(region)
		return nil, err
	}
	mp.setup(region.Addr, blockSize, count)
	return mp, nil
}

// Alloc takes one block, waiting up to timeout for one to be freed.
func (mp *MemPool) Alloc(ctx context.Context, timeout time.Duration) (uintptr, error) {
	schedule(ctx)
	dl := newDeadline(timeout)
	mp.mu.Lock()
	defer mp.mu.Unlock()
	for {
		if mp.deleted {
			return 0, ErrDeleted
		}
		if n := len(mp.free); n > 0 {
			addr := mp.free[n-1]
			mp.free = mp.free[:n-1]
			mp.inUse[addr] = true
			return addr, nil
		}
		rem := dl.remaining()
		if rem == NoWait {
			return 0, ErrNoMemory
		}
		if err := wait(ctx, &mp.mu, &mp.waiters, rem); err != nil {
			return 0, err
		}
	}
}

func (mp *MemPool) Free(addr uintptr) error {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	if !mp.inUse[addr] {
		return fmt.Errorf("%w: 0x%x is not allocated from %s", ErrInvalid, addr, mp.name)
	}
	delete(mp.inUse, addr)
	mp.free = append(mp.free, addr)
	mp.waiters.wakeOne(nil)
	return nil
}

func (mp *MemPool) Available() int {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return len(mp.free)
}

func (mp *MemPool) shutdown() {
	mp.mu.Lock()
	mp.deleted = true
	mp.waiters.wakeAll(ErrDeleted)
	mp.mu.Unlock()
}

func (mp *MemPool) Detach() error {
	if !mp.IsStatic() {
		return fmt.Errorf("%w: memory pool %s is dynamic", ErrInvalid, mp.name)
	}
	mp.shutdown()
	mp.k.DetachObject(mp)
	return nil
}

func (mp *MemPool) Delete() error {
	if mp.IsStatic() {
		return fmt.Errorf("%w: memory pool %s is static", ErrInvalid, mp.name)
	}
	mp.shutdown()
	mp.k.heap.Free(mp.region)
	mp.k.DeleteObject(mp)
	return nil
}
