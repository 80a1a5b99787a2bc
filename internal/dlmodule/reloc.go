package dlmodule

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
	"math"
)

type relocKind int

const (
	relocNone relocKind = iota
	// relocAbs stores S + A.
	relocAbs
	// relocGlobDat and relocJumpSlot store S.
	relocGlobDat
	relocJumpSlot
	// relocRelative stores B + A, where B is the load bias.
	relocRelative
)

func (k relocKind) String() string {
	switch k {
	case relocNone:
		return "NONE"
	case relocAbs:
		return "ABS"
	case relocGlobDat:
		return "GLOB_DAT"
	case relocJumpSlot:
		return "JUMP_SLOT"
	case relocRelative:
		return "RELATIVE"
	}
	return fmt.Sprintf("reloc(%d)", int(k))
}

// archRelocs maps each machine's relocation numbers to the kinds the
// linker applies.
var archRelocs = map[elf.Machine]map[uint32]relocKind{
	elf.EM_ARM: {
		uint32(elf.R_ARM_NONE):      relocNone,
		uint32(elf.R_ARM_ABS32):     relocAbs,
		uint32(elf.R_ARM_GLOB_DAT):  relocGlobDat,
		uint32(elf.R_ARM_JUMP_SLOT): relocJumpSlot,
		uint32(elf.R_ARM_RELATIVE):  relocRelative,
	},
	elf.EM_386: {
		uint32(elf.R_386_NONE):     relocNone,
		uint32(elf.R_386_32):       relocAbs,
		uint32(elf.R_386_GLOB_DAT): relocGlobDat,
		uint32(elf.R_386_JMP_SLOT): relocJumpSlot,
		uint32(elf.R_386_RELATIVE): relocRelative,
	},
	elf.EM_X86_64: {
		uint32(elf.R_X86_64_NONE):     relocNone,
		uint32(elf.R_X86_64_64):       relocAbs,
		uint32(elf.R_X86_64_GLOB_DAT): relocGlobDat,
		uint32(elf.R_X86_64_JMP_SLOT): relocJumpSlot,
		uint32(elf.R_X86_64_RELATIVE): relocRelative,
	},
	elf.EM_AARCH64: {
		uint32(elf.R_AARCH64_NONE):      relocNone,
		uint32(elf.R_AARCH64_ABS64):     relocAbs,
		uint32(elf.R_AARCH64_GLOB_DAT):  relocGlobDat,
		uint32(elf.R_AARCH64_JUMP_SLOT): relocJumpSlot,
		uint32(elf.R_AARCH64_RELATIVE):  relocRelative,
	},
	elf.EM_RISCV: {
		uint32(elf.R_RISCV_NONE):      relocNone,
		uint32(elf.R_RISCV_32):        relocAbs,
		uint32(elf.R_RISCV_64):        relocAbs,
		uint32(elf.R_RISCV_JUMP_SLOT): relocJumpSlot,
		uint32(elf.R_RISCV_RELATIVE):  relocRelative,
	},
}

type relocation struct {
	off       uint64
	sym       uint32
	typ       uint32
	addend    int64
	hasAddend bool
}

// readRelocations decodes a SHT_REL or SHT_RELA section.
func readRelocations(f *elf.File, s *elf.Section) ([]relocation, error) {
	data, err := s.Data()
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrFormat, s.Name, err)
	}
	bo := f.ByteOrder
	rela := s.Type == elf.SHT_RELA

	var size int
	switch {
	case f.Class == elf.ELFCLASS64 && rela:
		size = 24
	case f.Class == elf.ELFCLASS64:
		size = 16
	case rela:
		size = 12
	default:
		size = 8
	}
	if len(data)%size != 0 {
		return nil, fmt.Errorf("%w: %s size %d is not a multiple of %d", ErrFormat, s.Name, len(data), size)
	}

	out := make([]relocation, 0, len(data)/size)
	for b := data; len(b) > 0; b = b[size:] {
		var r relocation
		if f.Class == elf.ELFCLASS64 {
			info := bo.Uint64(b[8:])
			r.off = bo.Uint64(b)
			r.sym, r.typ = elf.R_SYM64(info), elf.R_TYPE64(info)
			if rela {
				r.addend, r.hasAddend = int64(bo.Uint64(b[16:])), true
			}
		} else {
			info := bo.Uint32(b[4:])
			r.off = uint64(bo.Uint32(b))
			r.sym, r.typ = elf.R_SYM32(info), elf.R_TYPE32(info)
			if rela {
				r.addend, r.hasAddend = int64(int32(bo.Uint32(b[8:]))), true
			}
		}
		out = append(out, r)
	}
	return out, nil
}

// patch applies one relocation to the word at buf[off:]. sym is the
// resolved symbol value and bias the load bias for RELATIVE entries.
func patch(machine elf.Machine, buf []byte, off uint64, word int, bo binary.ByteOrder, r relocation, sym, bias uintptr) error {
	kinds := archRelocs[machine]
	kind, ok := kinds[r.typ]
	if !ok {
		return fmt.Errorf("%w: unsupported relocation type %d for %v", ErrRelocation, r.typ, machine)
	}
	if kind == relocNone {
		return nil
	}
	if off > uint64(len(buf)) || uint64(len(buf))-off < uint64(word) {
		return fmt.Errorf("%w: relocation at 0x%x outside image", ErrRelocation, off)
	}
	loc := buf[off : off+uint64(word)]

	addend := r.addend
	if !r.hasAddend {
		if word == 8 {
			addend = int64(bo.Uint64(loc))
		} else {
			addend = int64(int32(bo.Uint32(loc)))
		}
	}

	var value uint64
	switch kind {
	case relocAbs:
		value = uint64(sym) + uint64(addend)
	case relocGlobDat, relocJumpSlot:
		value = uint64(sym)
	case relocRelative:
		value = uint64(bias) + uint64(addend)
	}

	if word == 8 {
		bo.PutUint64(loc, value)
		return nil
	}
	if value > math.MaxUint32 {
		return fmt.Errorf("%w: %v value 0x%x overflows 32 bits", ErrRelocation, kind, value)
	}
	bo.PutUint32(loc, uint32(value))
	return nil
}
