// Package elfgen assembles small ELF images for loader tests.
package elfgen

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
)

// Section names a symbol may be defined in.
const (
	Text      = ".text"
	Data      = ".data"
	Abs       = "*ABS*"
	Undefined = ""
)

type Symbol struct {
	Name string
	// Value is an offset within Section, or the value itself for Abs.
	Value   uint64
	Section string
	Type    elf.SymType
	Bind    elf.SymBind
}

type Reloc struct {
	// Section is the section patched: Text or Data.
	Section string
	Offset  uint64
	// Symbol is resolved to its index among Symbols. Empty means index 0.
	Symbol string
	Type   uint32
	Addend int64
}

// Image describes the file to build. Zero values pick a little-endian
// 32-bit ARM relocatable object.
type Image struct {
	Class   elf.Class
	Machine elf.Machine
	Type    elf.Type
	Order   binary.ByteOrder
	Magic   string
	Entry   uint64
	Text    []byte
	Data    []byte
	BSS     uint64
	Symbols []Symbol
	Relocs  []Reloc
	Rela    bool
	// VBase is the link address of .text in a shared object.
	VBase uint64
	// NoSegments omits program headers from a shared object.
	NoSegments bool
	// Truncate cuts the built file to this many bytes when non-zero.
	Truncate int
}

// Program returns an ARM relocatable image whose main is a single branch
// to the kernel symbol target.
func Program(target string) Image {
	return Image{
		Text:    make([]byte, 8),
		Symbols: []Symbol{Func("main", 0), Extern(target)},
		Relocs:  []Reloc{{Section: Text, Offset: 0, Symbol: target, Type: uint32(elf.R_ARM_ABS32)}},
	}
}

// Func returns a global function symbol in .text.
func Func(name string, off uint64) Symbol {
	return Symbol{Name: name, Value: off, Section: Text, Type: elf.STT_FUNC, Bind: elf.STB_GLOBAL}
}

// Object returns a global data symbol in .data.
func Object(name string, off uint64) Symbol {
	return Symbol{Name: name, Value: off, Section: Data, Type: elf.STT_OBJECT, Bind: elf.STB_GLOBAL}
}

// Extern returns an undefined global symbol.
func Extern(name string) Symbol {
	return Symbol{Name: name, Type: elf.STT_NOTYPE, Bind: elf.STB_GLOBAL}
}

type section struct {
	name    string
	typ     elf.SectionType
	flags   elf.SectionFlag
	addr    uint64
	data    []byte
	size    uint64
	link    uint32
	info    uint32
	align   uint64
	entsize uint64
	off     uint64
}

type strtab struct {
	buf bytes.Buffer
	idx map[string]uint32
}

func newStrtab() *strtab {
	s := &strtab{idx: map[string]uint32{}}
	s.buf.WriteByte(0)
	s.idx[""] = 0
	return s
}

func (s *strtab) add(name string) uint32 {
	if i, ok := s.idx[name]; ok {
		return i
	}
	i := uint32(s.buf.Len())
	s.buf.WriteString(name)
	s.buf.WriteByte(0)
	s.idx[name] = i
	return i
}

func align(n, a uint64) uint64 { return (n + a - 1) &^ (a - 1) }

func (img *Image) defaults() {
	if img.Class == elf.ELFCLASSNONE {
		img.Class = elf.ELFCLASS32
	}
	if img.Machine == elf.EM_NONE {
		img.Machine = elf.EM_ARM
	}
	if img.Type == elf.ET_NONE {
		img.Type = elf.ET_REL
	}
	if img.Order == nil {
		img.Order = binary.LittleEndian
	}
}

// Build renders the image. It panics on an inconsistent description.
func (img Image) Build() []byte {
	img.defaults()
	is64 := img.Class == elf.ELFCLASS64
	shared := img.Type != elf.ET_REL
	bo := img.Order

	text := &section{name: Text, typ: elf.SHT_PROGBITS, flags: elf.SHF_ALLOC | elf.SHF_EXECINSTR, data: img.Text, align: 8}
	data := &section{name: Data, typ: elf.SHT_PROGBITS, flags: elf.SHF_ALLOC | elf.SHF_WRITE, data: img.Data, align: 8}
	if shared {
		text.addr = img.VBase
		data.addr = img.VBase + align(uint64(len(img.Text)), 8)
	}
	sections := []*section{{}, text, data}
	secIndex := map[string]uint16{Text: 1, Data: 2}
	secAddr := map[string]uint64{Text: text.addr, Data: data.addr}

	if img.BSS > 0 {
		bss := &section{name: ".bss", typ: elf.SHT_NOBITS, flags: elf.SHF_ALLOC | elf.SHF_WRITE, size: img.BSS, align: 8}
		if shared {
			bss.addr = data.addr + align(uint64(len(img.Data)), 8)
		}
		sections = append(sections, bss)
	}

	symName, strName := ".symtab", ".strtab"
	symType := elf.SHT_SYMTAB
	if shared {
		symName, strName, symType = ".dynsym", ".dynstr", elf.SHT_DYNSYM
	}
	strs := newStrtab()
	var symbuf bytes.Buffer
	symIndex := map[string]uint32{}
	writeSym := func(name string, value, size uint64, info uint8, shndx uint16) {
		if is64 {
			must(binary.Write(&symbuf, bo, elf.Sym64{Name: strs.add(name), Info: info, Shndx: shndx, Value: value, Size: size}))
		} else {
			must(binary.Write(&symbuf, bo, elf.Sym32{Name: strs.add(name), Value: uint32(value), Size: uint32(size), Info: info, Shndx: shndx}))
		}
	}
	writeSym("", 0, 0, 0, 0)
	for i, s := range img.Symbols {
		shndx := uint16(elf.SHN_UNDEF)
		value := s.Value
		switch s.Section {
		case Undefined:
		case Abs:
			shndx = uint16(elf.SHN_ABS)
		default:
			idx, ok := secIndex[s.Section]
			if !ok {
				panic(fmt.Sprintf("elfgen: unknown section %q", s.Section))
			}
			shndx = idx
			value += secAddr[s.Section]
		}
		writeSym(s.Name, value, 4, elf.ST_INFO(s.Bind, s.Type), shndx)
		if s.Name != "" {
			symIndex[s.Name] = uint32(i + 1)
		}
	}
	entsize := uint64(16)
	if is64 {
		entsize = 24
	}
	symtabIdx := uint32(len(sections))
	sections = append(sections,
		&section{name: symName, typ: symType, data: symbuf.Bytes(), link: symtabIdx + 1, info: 1, align: 8, entsize: entsize},
		&section{name: strName, typ: elf.SHT_STRTAB, data: strs.buf.Bytes(), align: 1},
	)

	relocsFor := func(target string) []Reloc {
		var out []Reloc
		for _, r := range img.Relocs {
			if shared || r.Section == target {
				out = append(out, r)
			}
		}
		return out
	}
	encode := func(list []Reloc) []byte {
		var buf bytes.Buffer
		for _, r := range list {
			sym := uint32(0)
			if r.Symbol != "" {
				idx, ok := symIndex[r.Symbol]
				if !ok {
					panic(fmt.Sprintf("elfgen: relocation against unknown symbol %q", r.Symbol))
				}
				sym = idx
			}
			off := r.Offset
			if shared {
				off += secAddr[r.Section]
			}
			switch {
			case is64 && img.Rela:
				must(binary.Write(&buf, bo, elf.Rela64{Off: off, Info: elf.R_INFO(sym, r.Type), Addend: r.Addend}))
			case is64:
				must(binary.Write(&buf, bo, elf.Rel64{Off: off, Info: elf.R_INFO(sym, r.Type)}))
			case img.Rela:
				must(binary.Write(&buf, bo, elf.Rela32{Off: uint32(off), Info: elf.R_INFO32(sym, r.Type), Addend: int32(r.Addend)}))
			default:
				must(binary.Write(&buf, bo, elf.Rel32{Off: uint32(off), Info: elf.R_INFO32(sym, r.Type)}))
			}
		}
		return buf.Bytes()
	}
	relType, relPrefix := elf.SHT_REL, ".rel"
	relEnt := uint64(8)
	switch {
	case is64 && img.Rela:
		relEnt = 24
	case is64:
		relEnt = 16
	case img.Rela:
		relEnt = 12
	}
	if img.Rela {
		relType, relPrefix = elf.SHT_RELA, ".rela"
	}
	if shared {
		if len(img.Relocs) > 0 {
			sections = append(sections, &section{name: relPrefix + ".dyn", typ: relType, flags: elf.SHF_ALLOC, data: encode(img.Relocs), link: symtabIdx, align: 8, entsize: relEnt})
		}
	} else {
		for _, target := range []string{Text, Data} {
			if list := relocsFor(target); len(list) > 0 {
				sections = append(sections, &section{name: relPrefix + target, typ: relType, data: encode(list), link: symtabIdx, info: uint32(secIndex[target]), align: 8, entsize: relEnt})
			}
		}
	}

	shstr := newStrtab()
	for _, s := range sections {
		shstr.add(s.name)
	}
	shstr.add(".shstrtab")
	shstrIdx := len(sections)
	sections = append(sections, &section{name: ".shstrtab", typ: elf.SHT_STRTAB, data: shstr.buf.Bytes(), align: 1})

	ehsize, phentsize, shentsize := uint64(52), uint64(32), uint64(40)
	if is64 {
		ehsize, phentsize, shentsize = 64, 56, 64
	}
	phnum := uint64(0)
	if shared && !img.NoSegments {
		phnum = 1
	}
	off := ehsize + phnum*phentsize
	for _, s := range sections[1:] {
		off = align(off, max(s.align, 1))
		s.off = off
		if s.typ != elf.SHT_NOBITS {
			s.size = uint64(len(s.data))
		}
		off += uint64(len(s.data))
	}
	shoff := align(off, 8)

	var out bytes.Buffer
	var ident [elf.EI_NIDENT]byte
	copy(ident[:], elf.ELFMAG)
	if img.Magic != "" {
		copy(ident[:4], img.Magic)
	}
	ident[elf.EI_CLASS] = byte(img.Class)
	if bo == binary.BigEndian {
		ident[elf.EI_DATA] = byte(elf.ELFDATA2MSB)
	} else {
		ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	}
	ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)

	phoff := uint64(0)
	if phnum > 0 {
		phoff = ehsize
	}
	if is64 {
		must(binary.Write(&out, bo, elf.Header64{
			Ident: ident, Type: uint16(img.Type), Machine: uint16(img.Machine), Version: uint32(elf.EV_CURRENT),
			Entry: img.Entry, Phoff: phoff, Shoff: shoff, Ehsize: uint16(ehsize),
			Phentsize: uint16(phentsize), Phnum: uint16(phnum), Shentsize: uint16(shentsize),
			Shnum: uint16(len(sections)), Shstrndx: uint16(shstrIdx),
		}))
	} else {
		must(binary.Write(&out, bo, elf.Header32{
			Ident: ident, Type: uint16(img.Type), Machine: uint16(img.Machine), Version: uint32(elf.EV_CURRENT),
			Entry: uint32(img.Entry), Phoff: uint32(phoff), Shoff: uint32(shoff), Ehsize: uint16(ehsize),
			Phentsize: uint16(phentsize), Phnum: uint16(phnum), Shentsize: uint16(shentsize),
			Shnum: uint16(len(sections)), Shstrndx: uint16(shstrIdx),
		}))
	}

	if phnum > 0 {
		filesz := data.addr + uint64(len(img.Data)) - text.addr
		memsz := filesz
		if img.BSS > 0 {
			memsz = align(filesz, 8) + img.BSS
		}
		flags := elf.PF_R | elf.PF_W | elf.PF_X
		if is64 {
			must(binary.Write(&out, bo, elf.Prog64{Type: uint32(elf.PT_LOAD), Flags: uint32(flags), Off: text.off, Vaddr: text.addr, Paddr: text.addr, Filesz: filesz, Memsz: memsz, Align: 8}))
		} else {
			must(binary.Write(&out, bo, elf.Prog32{Type: uint32(elf.PT_LOAD), Off: uint32(text.off), Vaddr: uint32(text.addr), Paddr: uint32(text.addr), Filesz: uint32(filesz), Memsz: uint32(memsz), Flags: uint32(flags), Align: 8}))
		}
	}

	for _, s := range sections[1:] {
		pad(&out, s.off)
		out.Write(s.data)
	}
	pad(&out, shoff)
	for _, s := range sections {
		name := shstr.add(s.name)
		if is64 {
			must(binary.Write(&out, bo, elf.Section64{Name: name, Type: uint32(s.typ), Flags: uint64(s.flags), Addr: s.addr, Off: s.off, Size: s.size, Link: s.link, Info: s.info, Addralign: s.align, Entsize: s.entsize}))
		} else {
			must(binary.Write(&out, bo, elf.Section32{Name: name, Type: uint32(s.typ), Flags: uint32(s.flags), Addr: uint32(s.addr), Off: uint32(s.off), Size: uint32(s.size), Link: s.link, Info: s.info, Addralign: uint32(s.align), Entsize: uint32(s.entsize)}))
		}
	}

	b := out.Bytes()
	if img.Truncate > 0 && img.Truncate < len(b) {
		b = b[:img.Truncate]
	}
	return b
}

func pad(buf *bytes.Buffer, off uint64) {
	for uint64(buf.Len()) < off {
		buf.WriteByte(0)
	}
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
