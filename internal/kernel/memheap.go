package kernel

import (
	"context"
	"fmt"
)

// MemHeap is a secondary heap over caller-supplied memory. It only exists
// statically, so it can be detached but never deleted.
type MemHeap struct {
	Object

	heap *Heap
}

func (k *Kernel) InitMemHeap(ctx context.Context, mh *MemHeap, name string, base uintptr, size int) error {
	if size <= 0 {
		return fmt.Errorf("%w: memory heap size %d", ErrInvalid, size)
	}
	k.InitObject(ctx, mh, ClassMemHeap, name)
	mh.heap = NewHeap(base, size)
	return nil
}

func (mh *MemHeap) Alloc(size int) (uintptr, error) {
	b, err := mh.heap.Alloc(mh.owner, size)
	if err != nil {
		return 0, err
	}
	return b.Addr, nil
}

func (mh *MemHeap) Free(addr uintptr) {
	mh.heap.mu.Lock()
	b := mh.heap.blocks[addr]
	mh.heap.mu.Unlock()
	mh.heap.Free(b)
}

func (mh *MemHeap) Used() int { return mh.heap.Used() }

func (mh *MemHeap) Detach() error {
	mh.k.DetachObject(mh)
	return nil
}
