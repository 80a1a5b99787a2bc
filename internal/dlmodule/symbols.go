package dlmodule

import (
	"debug/elf"
	"fmt"
)

// exported reports whether sym belongs in a module's export table.
func exported(sym elf.Symbol) bool {
	if sym.Name == "" || sym.Section == elf.SHN_UNDEF || sym.Section == elf.SHN_COMMON {
		return false
	}
	switch elf.ST_BIND(sym.Info) {
	case elf.STB_GLOBAL, elf.STB_WEAK:
	default:
		return false
	}
	switch elf.ST_TYPE(sym.Info) {
	case elf.STT_FUNC, elf.STT_OBJECT, elf.STT_NOTYPE:
		return true
	}
	return false
}

// addSymbol records an export. Each name is its own heap block charged
// to the module.
func (m *Manager) addSymbol(mod *Module, name string, addr uintptr) error {
	b, err := m.k.Heap().Alloc(mod.OwnerID(), len(name)+1)
	if err != nil {
		return fmt.Errorf("%w: symbol %s: %v", ErrResource, name, err)
	}
	copy(b.Data, name)
	mod.symbols = append(mod.symbols, moduleSymbol{name: b, value: name, addr: addr})
	return nil
}

// sealSymbols charges the symbol table container once all names are in.
func (m *Manager) sealSymbols(mod *Module) error {
	if len(mod.symbols) == 0 {
		return nil
	}
	b, err := m.k.Heap().Alloc(mod.OwnerID(), len(mod.symbols)*2*mod.word)
	if err != nil {
		return fmt.Errorf("%w: symbol table: %v", ErrResource, err)
	}
	mod.symtabBlock = b
	return nil
}

func (m *Manager) freeSymbols(mod *Module) {
	heap := m.k.Heap()
	for _, s := range mod.symbols {
		heap.Free(s.name)
	}
	mod.symbols = nil
	heap.Free(mod.symtabBlock)
	mod.symtabBlock = nil
}

func (mod *Module) lookup(name string) (uintptr, bool) {
	for _, s := range mod.symbols {
		if s.value == name {
			return s.addr, true
		}
	}
	return 0, false
}

// Dlsym returns the address of a symbol the module exports.
func Dlsym(mod *Module, name string) (uintptr, bool) {
	if mod == nil {
		return 0, false
	}
	return mod.lookup(name)
}

// resolve returns the address an undefined symbol binds to: the module's
// own exports first, then the kernel table.
func (m *Manager) resolve(mod *Module, name string) (uintptr, error) {
	if addr, ok := mod.lookup(name); ok {
		return addr, nil
	}
	if addr, ok := m.syms.Lookup(name); ok {
		return addr, nil
	}
	return 0, fmt.Errorf("%w: unresolved symbol %q", ErrRelocation, name)
}
