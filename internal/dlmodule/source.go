package dlmodule

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"

	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/kernel"
)

// Ops supplies images from a caller-defined store. Load returns the whole
// image; Unload is called with the same buffer once the loader is done
// with it.
type Ops interface {
	Load(ctx context.Context, name string) ([]byte, error)
	Unload(buf []byte)
}

// ReadImage reads the file at name into one heap block. The block is
// charged to the kernel and must be freed by the caller.
func ReadImage(k *kernel.Kernel, fsys fs.FS, name string) (*kernel.Block, error) {
	f, err := fsys.Open(fsPath(fsys, name))
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrIO, name, err)
	}
	defer f.Close()

	length, err := fileLength(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrIO, name, err)
	}
	if length <= 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrIO, name)
	}

	b, err := k.Heap().Alloc(0, int(length))
	if err != nil {
		return nil, fmt.Errorf("%w: read buffer for %s: %v", ErrResource, name, err)
	}
	if _, err := io.ReadFull(f, b.Data); err != nil {
		k.Heap().Free(b)
		return nil, fmt.Errorf("%w: short read of %s: %v", ErrIO, name, err)
	}
	return b, nil
}

// fileLength seeks to the end and back when the file allows it.
func fileLength(f fs.File) (int64, error) {
	if s, ok := f.(io.Seeker); ok {
		n, err := s.Seek(0, io.SeekEnd)
		if err != nil {
			return 0, err
		}
		if _, err := s.Seek(0, io.SeekStart); err != nil {
			return 0, err
		}
		return n, nil
	}
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// fsPath maps a module path onto fsys. Host paths go to the OS as given;
// other file systems take unrooted slash paths.
func fsPath(fsys fs.FS, name string) string {
	if _, ok := fsys.(osFS); ok {
		return name
	}
	p := filepath.ToSlash(filepath.Clean("/" + name))
	if p == "/" {
		return "."
	}
	return p[1:]
}

// readSource fetches the raw image and returns a release func for it.
func (m *Manager) readSource(ctx context.Context, path string, ops Ops) ([]byte, func(), error) {
	if ops == nil {
		b, err := ReadImage(m.k, m.fsys, path)
		if err != nil {
			return nil, nil, err
		}
		return b.Data, func() { m.k.Heap().Free(b) }, nil
	}
	buf, err := ops.Load(ctx, path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %w", ErrIO, path, err)
	}
	if len(buf) == 0 {
		ops.Unload(buf)
		return nil, nil, fmt.Errorf("%w: %s is empty", ErrIO, path)
	}
	return buf, func() { ops.Unload(buf) }, nil
}
