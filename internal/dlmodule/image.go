package dlmodule

import (
	"bytes"
	"debug/elf"
	"fmt"
	"io"
)

var (
	elfMagic = []byte(elf.ELFMAG)
	// rtmMagic marks images produced for the kernel's own toolchain.
	rtmMagic = []byte("\x7fRTM")
)

// IsImage reports whether header starts with a magic Load accepts.
func IsImage(header []byte) bool {
	if len(header) < 4 {
		return false
	}
	return bytes.Equal(header[:4], elfMagic) || bytes.Equal(header[:4], rtmMagic)
}

// magicReader presents an image to debug/elf with its magic normalised.
type magicReader struct {
	data []byte
}

func (r magicReader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	if off >= int64(len(r.data)) {
		return 0, io.EOF
	}
	n := copy(p, r.data[off:])
	for i := off; i < int64(len(elfMagic)) && i-off < int64(n); i++ {
		p[i-off] = elfMagic[i]
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// wordSize returns the pointer width implied by class.
func wordSize(class elf.Class) int {
	if class == elf.ELFCLASS64 {
		return 8
	}
	return 4
}

// machineClasses lists the classes each supported machine comes in.
var machineClasses = map[elf.Machine][]elf.Class{
	elf.EM_ARM:     {elf.ELFCLASS32},
	elf.EM_386:     {elf.ELFCLASS32},
	elf.EM_X86_64:  {elf.ELFCLASS64},
	elf.EM_AARCH64: {elf.ELFCLASS64},
	elf.EM_RISCV:   {elf.ELFCLASS32, elf.ELFCLASS64},
}

// parseImage validates raw and opens it for linking.
func parseImage(raw []byte) (*elf.File, error) {
	if !IsImage(raw) {
		return nil, fmt.Errorf("%w: bad magic", ErrFormat)
	}
	if len(raw) <= elf.EI_CLASS {
		return nil, fmt.Errorf("%w: truncated header", ErrFormat)
	}
	class := elf.Class(raw[elf.EI_CLASS])
	if class != elf.ELFCLASS32 && class != elf.ELFCLASS64 {
		return nil, fmt.Errorf("%w: unsupported class %v", ErrFormat, class)
	}

	f, err := elf.NewFile(magicReader{data: raw})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	if f.Type != elf.ET_REL && f.Type != elf.ET_DYN {
		return nil, fmt.Errorf("%w: unsupported object type %v", ErrFormat, f.Type)
	}
	classes, ok := machineClasses[f.Machine]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported machine %v", ErrFormat, f.Machine)
	}
	for _, c := range classes {
		if c == f.Class {
			return f, nil
		}
	}
	return nil, fmt.Errorf("%w: %v is not a %v image", ErrFormat, f.Machine, f.Class)
}
