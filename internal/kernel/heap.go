package kernel

import (
	"fmt"
	"sort"
	"sync"
)

const heapAlign = 8

// Block is one allocation from a Heap.
type Block struct {
	Addr  uintptr
	Size  int
	Owner OwnerID
	Data  []byte
}

// End is the first address past the block.
func (b *Block) End() uintptr { return b.Addr + uintptr(b.Size) }

type extent struct {
	addr uintptr
	size int
}

// Heap is a first-fit allocator over a simulated address range with
// per-owner accounting.
type Heap struct {
	mu      sync.Mutex
	base    uintptr
	size    int
	free    []extent
	blocks  map[uintptr]*Block
	used    int
	peak    int
	byOwner map[OwnerID]int
}

func NewHeap(base uintptr, size int) *Heap {
	return &Heap{
		base:    base,
		size:    size,
		free:    []extent{{addr: base, size: size}},
		blocks:  make(map[uintptr]*Block),
		byOwner: make(map[OwnerID]int),
	}
}

func alignUp(n, align int) int {
	return (n + align - 1) &^ (align - 1)
}

// Alloc reserves size bytes charged to owner.
func (h *Heap) Alloc(owner OwnerID, size int) (*Block, error) {
	if size < 0 {
		return nil, fmt.Errorf("%w: negative size %d", ErrInvalid, size)
	}
	n := alignUp(max(size, 1), heapAlign)

	h.mu.Lock()
	defer h.mu.Unlock()
	for i, e := range h.free {
		if e.size < n {
			continue
		}
		b := &Block{Addr: e.addr, Size: n, Owner: owner, Data: make([]byte, size)}
		if e.size == n {
			h.free = append(h.free[:i], h.free[i+1:]...)
		} else {
			h.free[i] = extent{addr: e.addr + uintptr(n), size: e.size - n}
		}
		h.blocks[b.Addr] = b
		h.used += n
		h.peak = max(h.peak, h.used)
		h.byOwner[owner] += n
		return b, nil
	}
	return nil, fmt.Errorf("%w: %d bytes requested, %d free", ErrNoMemory, size, h.size-h.used)
}

// Free releases b. Freeing nil or a block that is no longer live is a no-op.
func (h *Heap) Free(b *Block) {
	if b == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.blocks[b.Addr]; !ok || cur != b {
		return
	}
	delete(h.blocks, b.Addr)
	h.used -= b.Size
	h.byOwner[b.Owner] -= b.Size
	if h.byOwner[b.Owner] == 0 {
		delete(h.byOwner, b.Owner)
	}

	i := sort.Search(len(h.free), func(i int) bool { return h.free[i].addr > b.Addr })
	h.free = append(h.free, extent{})
	copy(h.free[i+1:], h.free[i:])
	h.free[i] = extent{addr: b.Addr, size: b.Size}

	if i+1 < len(h.free) && h.free[i].addr+uintptr(h.free[i].size) == h.free[i+1].addr {
		h.free[i].size += h.free[i+1].size
		h.free = append(h.free[:i+1], h.free[i+2:]...)
	}
	if i > 0 && h.free[i-1].addr+uintptr(h.free[i-1].size) == h.free[i].addr {
		h.free[i-1].size += h.free[i].size
		h.free = append(h.free[:i], h.free[i+1:]...)
	}
}

// Read returns n bytes at addr when the range lies inside one live block.
func (h *Heap) Read(addr uintptr, n int) ([]byte, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, b := range h.blocks {
		if addr < b.Addr || addr >= b.Addr+uintptr(len(b.Data)) {
			continue
		}
		off := int(addr - b.Addr)
		if off+n > len(b.Data) {
			return nil, false
		}
		return b.Data[off : off+n], true
	}
	return nil, false
}

func (h *Heap) Base() uintptr { return h.base }

func (h *Heap) Size() int { return h.size }

func (h *Heap) Used() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.used
}

func (h *Heap) Peak() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.peak
}

// UsedBy returns the bytes currently charged to owner.
func (h *Heap) UsedBy(owner OwnerID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.byOwner[owner]
}

// Blocks returns the number of live allocations.
func (h *Heap) Blocks() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.blocks)
}
