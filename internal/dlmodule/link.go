package dlmodule

import (
	"debug/elf"
	"fmt"
	"io"

	"go.uber.org/zap"
)

const (
	entrySymbol   = "main"
	initSymbol    = "module_init"
	cleanupSymbol = "module_cleanup"
)

func (m *Manager) allocImage(mod *Module, size uint64) error {
	if size == 0 {
		return fmt.Errorf("%w: image has no loadable content", ErrFormat)
	}
	if size > uint64(m.k.Heap().Size()) {
		return fmt.Errorf("%w: image of %d bytes exceeds the heap", ErrResource, size)
	}
	b, err := m.k.Heap().Alloc(mod.OwnerID(), int(size))
	if err != nil {
		return fmt.Errorf("%w: image: %v", ErrResource, err)
	}
	mod.image = b
	return nil
}

// link relocates f into a fresh image owned by mod.
func (m *Manager) link(mod *Module, f *elf.File) error {
	mod.kind = f.Type
	mod.machine = f.Machine
	mod.word = wordSize(f.Class)
	mod.order = f.ByteOrder

	var err error
	if f.Type == elf.ET_REL {
		err = m.linkRelocatable(mod, f)
	} else {
		err = m.linkShared(mod, f)
	}
	if err != nil {
		return err
	}
	if err := m.sealSymbols(mod); err != nil {
		return err
	}

	if mod.entry == 0 {
		mod.entry, _ = mod.lookup(entrySymbol)
	}
	mod.initFn, _ = mod.lookup(initSymbol)
	mod.cleanupFn, _ = mod.lookup(cleanupSymbol)
	return nil
}

func (m *Manager) linkRelocatable(mod *Module, f *elf.File) error {
	offsets := make([]int64, len(f.Sections))
	var size uint64
	for i, s := range f.Sections {
		offsets[i] = -1
		if s.Flags&elf.SHF_ALLOC == 0 || s.Size == 0 {
			continue
		}
		align := max(s.Addralign, 1)
		size = (size + align - 1) / align * align
		offsets[i] = int64(size)
		size += s.Size
	}
	if err := m.allocImage(mod, size); err != nil {
		return err
	}
	img := mod.image
	mod.vstart = 0

	for i, s := range f.Sections {
		if offsets[i] < 0 || s.Type == elf.SHT_NOBITS {
			continue
		}
		data, err := s.Data()
		if err != nil {
			return fmt.Errorf("%w: section %s: %v", ErrFormat, s.Name, err)
		}
		copy(img.Data[offsets[i]:], data)
	}

	syms, err := f.Symbols()
	if err != nil {
		return fmt.Errorf("%w: symbol table: %v", ErrFormat, err)
	}
	addrOf := func(sym elf.Symbol) (uintptr, error) {
		switch {
		case sym.Section == elf.SHN_ABS:
			return uintptr(sym.Value), nil
		case sym.Section == elf.SHN_COMMON:
			return 0, fmt.Errorf("%w: common symbol %q", ErrRelocation, sym.Name)
		case int(sym.Section) >= len(offsets) || offsets[sym.Section] < 0:
			return 0, fmt.Errorf("%w: symbol %q in unallocated section %d", ErrRelocation, sym.Name, sym.Section)
		}
		return img.Addr + uintptr(offsets[sym.Section]) + uintptr(sym.Value), nil
	}

	for _, sym := range syms {
		if !exported(sym) {
			continue
		}
		addr, err := addrOf(sym)
		if err != nil {
			continue
		}
		if err := m.addSymbol(mod, sym.Name, addr); err != nil {
			return err
		}
	}

	for _, s := range f.Sections {
		if s.Type != elf.SHT_REL && s.Type != elf.SHT_RELA {
			continue
		}
		if int(s.Info) >= len(offsets) || offsets[s.Info] < 0 {
			continue
		}
		target := f.Sections[s.Info]
		relocs, err := readRelocations(f, s)
		if err != nil {
			return err
		}
		for _, r := range relocs {
			if r.off+uint64(mod.word) > target.Size {
				return fmt.Errorf("%w: %s offset 0x%x outside %s", ErrRelocation, s.Name, r.off, target.Name)
			}
			var value uintptr
			if r.sym != 0 {
				if int(r.sym) > len(syms) {
					return fmt.Errorf("%w: %s symbol index %d out of range", ErrFormat, s.Name, r.sym)
				}
				sym := syms[r.sym-1]
				if sym.Section == elf.SHN_UNDEF {
					value, err = m.resolve(mod, sym.Name)
				} else {
					value, err = addrOf(sym)
				}
				if err != nil {
					return err
				}
			}
			off := uint64(offsets[s.Info]) + r.off
			if err := patch(mod.machine, img.Data, off, mod.word, mod.order, r, value, img.Addr); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Manager) linkShared(mod *Module, f *elf.File) error {
	vstart, vend := ^uint64(0), uint64(0)
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD || p.Memsz == 0 {
			continue
		}
		vstart = min(vstart, p.Vaddr)
		vend = max(vend, p.Vaddr+p.Memsz)
	}
	if vend == 0 {
		return fmt.Errorf("%w: no loadable segments", ErrFormat)
	}
	if err := m.allocImage(mod, vend-vstart); err != nil {
		return err
	}
	img := mod.image
	mod.vstart = uintptr(vstart)

	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD || p.Filesz == 0 {
			continue
		}
		if p.Filesz > p.Memsz {
			return fmt.Errorf("%w: segment file size exceeds memory size", ErrFormat)
		}
		dst := img.Data[p.Vaddr-vstart : p.Vaddr-vstart+p.Filesz]
		if _, err := io.ReadFull(p.Open(), dst); err != nil {
			return fmt.Errorf("%w: segment at 0x%x: %v", ErrFormat, p.Vaddr, err)
		}
	}

	inImage := func(v uint64) bool { return v >= vstart && v < vend }
	rebase := func(v uint64) uintptr { return img.Addr + uintptr(v-vstart) }
	bias := img.Addr - uintptr(vstart)

	syms, err := f.DynamicSymbols()
	if err != nil {
		return fmt.Errorf("%w: dynamic symbols: %v", ErrFormat, err)
	}
	addrOf := func(sym elf.Symbol) (uintptr, error) {
		switch {
		case sym.Section == elf.SHN_ABS:
			return uintptr(sym.Value), nil
		case sym.Section == elf.SHN_COMMON:
			return 0, fmt.Errorf("%w: common symbol %q", ErrRelocation, sym.Name)
		case !inImage(sym.Value):
			return 0, fmt.Errorf("%w: symbol %q at 0x%x outside image", ErrRelocation, sym.Name, sym.Value)
		}
		return rebase(sym.Value), nil
	}
	for _, sym := range syms {
		if !exported(sym) {
			continue
		}
		addr, err := addrOf(sym)
		if err != nil {
			m.logger.Debug("Skipping export", zap.String("symbol", sym.Name), zap.Error(err))
			continue
		}
		if err := m.addSymbol(mod, sym.Name, addr); err != nil {
			return err
		}
	}

	dynsym := -1
	for i, s := range f.Sections {
		if s.Type == elf.SHT_DYNSYM {
			dynsym = i
			break
		}
	}
	for _, s := range f.Sections {
		if (s.Type != elf.SHT_REL && s.Type != elf.SHT_RELA) || int(s.Link) != dynsym {
			continue
		}
		relocs, err := readRelocations(f, s)
		if err != nil {
			return err
		}
		for _, r := range relocs {
			if !inImage(r.off) {
				return fmt.Errorf("%w: %s offset 0x%x outside image", ErrRelocation, s.Name, r.off)
			}
			var value uintptr
			if r.sym != 0 {
				if int(r.sym) > len(syms) {
					return fmt.Errorf("%w: %s symbol index %d out of range", ErrFormat, s.Name, r.sym)
				}
				sym := syms[r.sym-1]
				if sym.Section == elf.SHN_UNDEF {
					value, err = m.resolve(mod, sym.Name)
				} else {
					value, err = addrOf(sym)
				}
				if err != nil {
					return err
				}
			}
			if err := patch(mod.machine, img.Data, r.off-vstart, mod.word, mod.order, r, value, bias); err != nil {
				return err
			}
		}
	}

	if f.Entry != 0 {
		if !inImage(f.Entry) {
			return fmt.Errorf("%w: entry 0x%x outside image", ErrFormat, f.Entry)
		}
		mod.entry = rebase(f.Entry)
	}
	return nil
}
