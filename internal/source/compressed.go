package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/dlmodule"
)

// Codec identifies how an image is packed.
type Codec int

const (
	CodecNone Codec = iota
	CodecGzip
	CodecZstd
)

func (c Codec) String() string {
	switch c {
	case CodecGzip:
		return "gzip"
	case CodecZstd:
		return "zstd"
	}
	return "none"
}

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// Detect sniffs the codec from the leading bytes.
func Detect(data []byte) Codec {
	switch {
	case bytes.HasPrefix(data, zstdMagic):
		return CodecZstd
	case bytes.HasPrefix(data, gzipMagic):
		return CodecGzip
	}
	return CodecNone
}

// Decompress unpacks data, refusing output beyond maxSize bytes.
func Decompress(codec Codec, data []byte, maxSize int64) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	switch codec {
	case CodecNone:
		return data, nil
	case CodecGzip:
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		defer zr.Close()
		return unpack(zr, maxSize)
	case CodecZstd:
		zr, err := zstd.NewReader(bytes.NewReader(data), zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		defer zr.Close()
		return unpack(zr, maxSize)
	}
	return nil, fmt.Errorf("%w: unknown codec %d", ErrCorrupt, codec)
}

func unpack(r io.Reader, maxSize int64) ([]byte, error) {
	out, err := readLimited(r, maxSize)
	if err != nil {
		if errors.Is(err, ErrTooLarge) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return out, nil
}

// Compress packs data with codec. It exists for tooling and tests that
// produce packed images.
func Compress(codec Codec, data []byte) ([]byte, error) {
	var buf bytes.Buffer
	switch codec {
	case CodecNone:
		return data, nil
	case CodecGzip:
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
	case CodecZstd:
		zw, err := zstd.NewWriter(&buf)
		if err != nil {
			return nil, err
		}
		if _, err := zw.Write(data); err != nil {
			zw.Close()
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown codec %d", codec)
	}
	return buf.Bytes(), nil
}

// Compressed unpacks gzip or zstd images served by another source and
// passes everything else through.
type Compressed struct {
	inner   dlmodule.Ops
	maxSize int64

	mu sync.Mutex
	// passed holds buffers that came straight from inner and must go back
	// to it.
	passed map[*byte]struct{}
}

func NewCompressed(inner dlmodule.Ops, maxSize int64) *Compressed {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Compressed{inner: inner, maxSize: maxSize, passed: make(map[*byte]struct{})}
}

func (c *Compressed) Load(ctx context.Context, name string) ([]byte, error) {
	raw, err := c.inner.Load(ctx, name)
	if err != nil {
		return nil, err
	}
	codec := Detect(raw)
	if codec == CodecNone {
		if len(raw) > 0 {
			c.mu.Lock()
			c.passed[&raw[0]] = struct{}{}
			c.mu.Unlock()
		}
		return raw, nil
	}
	defer c.inner.Unload(raw)

	out, err := Decompress(codec, raw, c.maxSize)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

func (c *Compressed) Unload(buf []byte) {
	if len(buf) == 0 {
		c.inner.Unload(buf)
		return
	}
	c.mu.Lock()
	_, ok := c.passed[&buf[0]]
	delete(c.passed, &buf[0])
	c.mu.Unlock()
	if ok {
		c.inner.Unload(buf)
	}
}
