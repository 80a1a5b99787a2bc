// Package symtab holds the kernel's exported symbol table: the routines
// and data a module may link against by name.
package symtab

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Base is where kernel symbols are placed in the simulated address space.
const (
	Base    uintptr = 0x0800_0000
	spacing uintptr = 16
)

var (
	ErrDuplicate = errors.New("symtab: duplicate symbol")
	ErrInvalid   = errors.New("symtab: invalid export")
)

// Func is a kernel routine callable from module code.
type Func func(ctx context.Context, args ...any) int

// Symbol is one name/address pair.
type Symbol struct {
	Name string  `json:"name"`
	Addr uintptr `json:"addr"`
}

// Export describes a symbol before it is placed. A routine has Fn set; a
// data symbol has a fixed Addr instead.
type Export struct {
	Name string
	Fn   Func
	Addr uintptr
}

// Table is an immutable symbol table.
type Table struct {
	syms  []Symbol
	funcs map[uintptr]Func
}

// New places exports in order and builds a table.
func New(exports ...Export) (*Table, error) {
	t := &Table{
		syms:  make([]Symbol, 0, len(exports)),
		funcs: make(map[uintptr]Func, len(exports)),
	}
	seen := make(map[string]bool, len(exports))
	next := Base
	for _, e := range exports {
		if e.Name == "" {
			return nil, fmt.Errorf("%w: empty name", ErrInvalid)
		}
		if seen[e.Name] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicate, e.Name)
		}
		seen[e.Name] = true

		addr := e.Addr
		switch {
		case e.Fn != nil:
			addr = next
			next += spacing
			t.funcs[addr] = e.Fn
		case addr == 0:
			return nil, fmt.Errorf("%w: %s has neither routine nor address", ErrInvalid, e.Name)
		}
		t.syms = append(t.syms, Symbol{Name: e.Name, Addr: addr})
	}
	return t, nil
}

// Lookup returns the address of name. A missing symbol yields (0, false).
func (t *Table) Lookup(name string) (uintptr, bool) {
	for _, s := range t.syms {
		if s.Name == name {
			return s.Addr, true
		}
	}
	return 0, false
}

// Func returns the routine placed at addr.
func (t *Table) Func(addr uintptr) (Func, bool) {
	fn, ok := t.funcs[addr]
	return fn, ok
}

// Symbols returns the table in build order.
func (t *Table) Symbols() []Symbol {
	return append([]Symbol(nil), t.syms...)
}

// Sorted returns the symbols ordered by name.
func (t *Table) Sorted() []Symbol {
	out := t.Symbols()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (t *Table) Len() int { return len(t.syms) }

var (
	mu      sync.Mutex
	exports []Export
	sealed  bool
	once    sync.Once
	kernel  *Table
)

// Register adds a routine to the kernel table. It must run from init;
// registering after Kernel has been built panics.
func Register(name string, fn Func) {
	add(Export{Name: name, Fn: fn})
}

// RegisterData adds a data symbol at a fixed address.
func RegisterData(name string, addr uintptr) {
	add(Export{Name: name, Addr: addr})
}

func add(e Export) {
	mu.Lock()
	defer mu.Unlock()
	if sealed {
		panic("symtab: register " + e.Name + " after the kernel table was built")
	}
	exports = append(exports, e)
}

// Exports returns a copy of the registered exports.
func Exports() []Export {
	mu.Lock()
	defer mu.Unlock()
	return append([]Export(nil), exports...)
}

// Kernel returns the table built from every registered export.
func Kernel() *Table {
	once.Do(func() {
		mu.Lock()
		sealed = true
		list := append([]Export(nil), exports...)
		mu.Unlock()
		t, err := New(list...)
		if err != nil {
			panic(err)
		}
		kernel = t
	})
	return kernel
}
