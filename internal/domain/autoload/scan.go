package autoload

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
	"github.com/gabriel-vasile/mimetype"
)

// MIME types a scan accepts.
const (
	MIMEELF        = "application/x-elf"
	MIMEModule     = "application/x-rtthread-module"
	MIMEGzip       = "application/gzip"
	MIMEZstd       = "application/zstd"
	defaultInclude = "**/*"
)

var rtmMagic = []byte{0x7f, 'R', 'T', 'M'}

func init() {
	mimetype.Lookup("application/octet-stream").Extend(func(raw []byte, _ uint32) bool {
		return bytes.HasPrefix(raw, rtmMagic)
	}, MIMEModule, ".mo")
}

// Candidate is a file a scan found loadable.
type Candidate struct {
	// Path is relative to the scan root, slash separated.
	Path string `json:"path"`
	MIME string `json:"mime"`
	Size int64  `json:"size"`
}

// Compressed reports whether the image must be decompressed before loading.
func (c Candidate) Compressed() bool {
	return c.MIME == MIMEGzip || c.MIME == MIMEZstd
}

// Scan walks root and returns, sorted by path, every regular file that
// matches one of include and sniffs as a module image. An empty include
// matches everything.
func Scan(ctx context.Context, root string, include []string) ([]Candidate, error) {
	if len(include) == 0 {
		include = []string{defaultInclude}
	}
	for _, p := range include {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid include pattern %q", p)
		}
	}

	var (
		mu    sync.Mutex
		found []Candidate
	)
	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, root, func(p string, d os.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil || d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if !matchAny(include, rel) {
			return nil
		}

		mt, err := mimetype.DetectFile(p)
		if err != nil || !loadable(mt) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}

		mu.Lock()
		found = append(found, Candidate{Path: rel, MIME: mt.String(), Size: info.Size()})
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}

	sort.Slice(found, func(i, j int) bool { return found[i].Path < found[j].Path })
	return found, nil
}

func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, name); ok {
			return true
		}
	}
	return false
}

func loadable(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		if m.Is(MIMEELF) || m.Is(MIMEModule) || m.Is(MIMEGzip) || m.Is(MIMEZstd) {
			return true
		}
	}
	return false
}

// Discover builds a manifest that starts every candidate under root in
// path order.
func Discover(ctx context.Context, root string, include []string) (*Manifest, error) {
	found, err := Scan(ctx, root, include)
	if err != nil {
		return nil, err
	}
	m := &Manifest{Modules: make([]Entry, 0, len(found))}
	for _, c := range found {
		m.Modules = append(m.Modules, Entry{Path: c.Path})
	}
	return m, nil
}
