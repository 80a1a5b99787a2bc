// Package cpu models the processor module code runs on. The only
// instruction it knows is an indirect branch through a pointer-sized word
// in mapped text: the word is either the address of a kernel routine or
// another word to follow.
//
// A non-coherent CPU fetches text through an instruction cache that is
// only refilled by InvalidateICache, so code patched without cache
// maintenance reads as stale zero words.
package cpu

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/kernel/symtab"
)

var (
	ErrBadAddress         = errors.New("cpu: bad address")
	ErrIllegalInstruction = errors.New("cpu: illegal instruction")
	ErrBranchLoop         = errors.New("cpu: branch chain too long")
)

const defaultMaxHops = 16

// Memory is the data side of the address space.
type Memory interface {
	Read(addr uintptr, n int) ([]byte, bool)
}

type region struct {
	base   uintptr
	size   int
	word   int
	order  binary.ByteOrder
	icache []byte
}

func (r *region) contains(addr uintptr, n int) bool {
	return addr >= r.base && addr+uintptr(n) <= r.base+uintptr(r.size)
}

type CPU struct {
	syms     *symtab.Table
	mem      Memory
	coherent bool
	maxHops  int

	mu      sync.RWMutex
	regions []*region

	flushes     atomic.Uint64
	invalidates atomic.Uint64
	calls       atomic.Uint64
}

type Option func(*CPU)

// WithMaxHops bounds how many words a single call may chase.
func WithMaxHops(n int) Option {
	return func(c *CPU) { c.maxHops = n }
}

func New(syms *symtab.Table, mem Memory, coherent bool, opts ...Option) *CPU {
	c := &CPU{syms: syms, mem: mem, coherent: coherent, maxHops: defaultMaxHops}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *CPU) Symbols() *symtab.Table { return c.syms }

func (c *CPU) Coherent() bool { return c.coherent }

// MapText makes [base, base+size) executable. word is 4 or 8.
func (c *CPU) MapText(base uintptr, size, word int, order binary.ByteOrder) error {
	if word != 4 && word != 8 {
		return fmt.Errorf("%w: word size %d", ErrBadAddress, word)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.regions {
		if base < r.base+uintptr(r.size) && r.base < base+uintptr(size) {
			return fmt.Errorf("%w: text 0x%08x overlaps 0x%08x", ErrBadAddress, base, r.base)
		}
	}
	c.regions = append(c.regions, &region{
		base:   base,
		size:   size,
		word:   word,
		order:  order,
		icache: make([]byte, size),
	})
	sort.Slice(c.regions, func(i, j int) bool { return c.regions[i].base < c.regions[j].base })
	return nil
}

func (c *CPU) UnmapText(base uintptr) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, r := range c.regions {
		if r.base == base {
			c.regions = append(c.regions[:i], c.regions[i+1:]...)
			return
		}
	}
}

// FlushDCache writes back data cache lines. Memory is always current in
// this model, so only the operation is counted.
func (c *CPU) FlushDCache(addr uintptr, size int) {
	c.flushes.Add(1)
}

// InvalidateICache refills the instruction cache for the range from
// memory.
func (c *CPU) InvalidateICache(addr uintptr, size int) {
	c.invalidates.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.regions {
		lo := max(addr, r.base)
		hi := min(addr+uintptr(size), r.base+uintptr(r.size))
		if lo >= hi {
			continue
		}
		data, ok := c.mem.Read(lo, int(hi-lo))
		if !ok {
			continue
		}
		copy(r.icache[lo-r.base:], data)
	}
}

func (c *CPU) fetch(addr uintptr) (uintptr, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, r := range c.regions {
		if !r.contains(addr, r.word) {
			continue
		}
		var raw []byte
		if c.coherent {
			data, ok := c.mem.Read(addr, r.word)
			if !ok {
				return 0, true, fmt.Errorf("%w: 0x%08x", ErrBadAddress, addr)
			}
			raw = data
		} else {
			off := addr - r.base
			raw = r.icache[off : off+uintptr(r.word)]
		}
		if r.word == 4 {
			return uintptr(r.order.Uint32(raw)), true, nil
		}
		return uintptr(r.order.Uint64(raw)), true, nil
	}
	return 0, false, nil
}

// Call executes the code at addr with args and returns its result.
func (c *CPU) Call(ctx context.Context, addr uintptr, args ...any) (int, error) {
	c.calls.Add(1)
	for hop := 0; hop <= c.maxHops; hop++ {
		if fn, ok := c.syms.Func(addr); ok {
			return fn(ctx, args...), nil
		}
		next, mapped, err := c.fetch(addr)
		if err != nil {
			return 0, err
		}
		if !mapped {
			return 0, fmt.Errorf("%w: 0x%08x is not executable", ErrBadAddress, addr)
		}
		if next == 0 {
			return 0, fmt.Errorf("%w: zero word at 0x%08x", ErrIllegalInstruction, addr)
		}
		addr = next
	}
	return 0, fmt.Errorf("%w: more than %d hops", ErrBranchLoop, c.maxHops)
}

type Stats struct {
	Flushes     uint64
	Invalidates uint64
	Calls       uint64
	Regions     int
}

func (c *CPU) Stats() Stats {
	c.mu.RLock()
	n := len(c.regions)
	c.mu.RUnlock()
	return Stats{
		Flushes:     c.flushes.Load(),
		Invalidates: c.invalidates.Load(),
		Calls:       c.calls.Load(),
		Regions:     n,
	}
}
