package dlmodule

import (
	"context"
	"debug/elf"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Load reads, links and relocates the image at path from the manager's
// file system. The returned module is in INIT; its module_init hook has
// run.
func (m *Manager) Load(ctx context.Context, path string) (*Module, error) {
	return m.load(ctx, path, nil)
}

// LoadWith is Load with image bytes supplied by ops. A nil ops reads
// from the manager's file system, as Load does.
func (m *Manager) LoadWith(ctx context.Context, path string, ops Ops) (*Module, error) {
	return m.load(ctx, path, ops)
}

func kindLabel(t elf.Type) string {
	switch t {
	case elf.ET_REL:
		return "rel"
	case elf.ET_DYN:
		return "dyn"
	}
	return "unknown"
}

func (m *Manager) load(ctx context.Context, path string, ops Ops) (mod *Module, err error) {
	start := time.Now()
	kind := "unknown"
	defer func() {
		m.metrics.RecordLoad(kind, err, time.Since(start))
		if err != nil {
			m.logger.Warn("Module load failed", zap.String("path", path), zap.Error(err))
		}
	}()

	raw, release, err := m.readSource(ctx, path, ops)
	if err != nil {
		return nil, err
	}
	released := false
	releaseOnce := func() {
		if !released {
			released = true
			release()
		}
	}
	defer releaseOnce()

	f, err := parseImage(raw)
	if err != nil {
		return nil, err
	}
	kind = kindLabel(f.Type)

	mod, err = m.Create(ctx)
	if err != nil {
		return nil, err
	}
	mod.path = path
	mod.digest = m.hasher.Hash(raw)
	m.k.RenameObject(mod, moduleName(path, m.nameMax))

	if err := m.link(mod, f); err != nil {
		m.destroy(ctx, mod, false)
		return nil, err
	}
	releaseOnce()

	m.k.EnterCritical()
	mod.nref++
	m.k.ExitCritical()

	if err := m.mapImage(mod); err != nil {
		m.destroy(ctx, mod, false)
		return nil, err
	}

	if mod.initFn != 0 {
		if _, err := m.cpu.Call(ctx, mod.initFn, mod); err != nil {
			m.logger.Warn("module_init failed", zap.String("module", mod.Name()), zap.Error(err))
		}
	}

	m.logger.Info("Module loaded",
		zap.String("module", mod.Name()),
		zap.String("instance", mod.instanceID.String()),
		zap.String("kind", kind),
		zap.Uintptr("base", mod.ImageBase()),
		zap.Int("size", mod.ImageSize()),
		zap.Int("exports", len(mod.symbols)))
	return mod, nil
}

// mapImage makes the image executable and brings the instruction side in
// line with the relocated bytes.
func (m *Manager) mapImage(mod *Module) error {
	base, size := mod.image.Addr, len(mod.image.Data)
	if err := m.cpu.MapText(base, size, mod.word, mod.order); err != nil {
		return fmt.Errorf("%w: map text: %v", ErrResource, err)
	}
	mod.mapped = true
	if !m.cpu.Coherent() {
		m.cpu.FlushDCache(base, size)
		m.cpu.InvalidateICache(base, size)
	}
	return nil
}
