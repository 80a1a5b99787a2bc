package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"

	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/shared/utils"
)

// DefaultMaxSize bounds any single image a source will return.
const DefaultMaxSize = 4 << 20

// Files reads images from a file system.
type Files struct {
	fsys    fs.FS
	maxSize int64
}

func NewFiles(fsys fs.FS, maxSize int64) *Files {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Files{fsys: fsys, maxSize: maxSize}
}

func (f *Files) Load(ctx context.Context, name string) ([]byte, error) {
	if err := utils.ValidateModulePath(name); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := strings.TrimPrefix(path.Clean("/"+name), "/")
	file, err := f.fsys.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", name)
	}
	if info.Size() > f.maxSize {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrTooLarge, name, info.Size())
	}
	return readLimited(file, f.maxSize)
}

func (f *Files) Unload([]byte) {}

// readLimited reads r to the end, failing once more than limit bytes
// arrive.
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	buf, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(buf)) > limit {
		return nil, fmt.Errorf("%w: over %d bytes", ErrTooLarge, limit)
	}
	return buf, nil
}
