package dlmodule

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/kernel"
)

type execConfig struct {
	priority  *int
	stackSize *int
}

// ExecOption overrides what a module's init hook chose for its main
// thread. Values are clamped like the module's own.
type ExecOption func(*execConfig)

func WithPriority(p int) ExecOption {
	return func(c *execConfig) { c.priority = &p }
}

func WithStackSize(n int) ExecOption {
	return func(c *execConfig) { c.stackSize = &n }
}

func clampPriority(p, priorityMax int) int {
	if p < 0 || p >= priorityMax {
		return priorityMax - 1
	}
	return p
}

func clampStack(n int) int {
	if n < MinStackSize || n > MaxStackSize {
		return DefaultStackSize
	}
	return n
}

// Exec loads the image at path and starts its entry point on a new
// thread with cmdline as its command line. A module without an entry
// point is returned loaded and not started.
func (m *Manager) Exec(ctx context.Context, path, cmdline string, opts ...ExecOption) (*Module, error) {
	mod, err := m.Load(ctx, path)
	if err != nil {
		return nil, err
	}
	return m.exec(ctx, mod, cmdline, opts)
}

// ExecWith is Exec with image bytes supplied by ops.
func (m *Manager) ExecWith(ctx context.Context, path, cmdline string, ops Ops, opts ...ExecOption) (*Module, error) {
	mod, err := m.LoadWith(ctx, path, ops)
	if err != nil {
		return nil, err
	}
	return m.exec(ctx, mod, cmdline, opts)
}

func (m *Manager) exec(ctx context.Context, mod *Module, cmdline string, opts []ExecOption) (*Module, error) {
	if mod.entry == 0 {
		m.logger.Info("Module has no entry point", zap.String("module", mod.Name()))
		return mod, nil
	}

	var cfg execConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	priorityMax := m.k.PriorityMax()
	m.k.EnterCritical()
	if cfg.priority != nil {
		mod.priority = *cfg.priority
	}
	if cfg.stackSize != nil {
		mod.stackSize = *cfg.stackSize
	}
	mod.priority = clampPriority(mod.priority, priorityMax)
	mod.stackSize = clampStack(mod.stackSize)
	priority, stackSize := mod.priority, mod.stackSize
	m.k.ExitCritical()

	cmd, err := m.k.Heap().Alloc(mod.OwnerID(), len(cmdline)+1)
	if err != nil {
		m.destroy(ctx, mod, true)
		return nil, fmt.Errorf("%w: command line: %v", ErrResource, err)
	}
	copy(cmd.Data, cmdline)
	mod.cmdline = cmd

	t, err := m.k.CreateThread(kernel.WithoutThread(ctx), mod.Name(), m.threadEntry, mod,
		stackSize, priority, threadTick)
	if err != nil {
		m.destroy(ctx, mod, true)
		return nil, fmt.Errorf("%w: main thread: %v", ErrResource, err)
	}
	if err := m.k.BindOwner(t, mod.OwnerID()); err != nil {
		m.k.ReclaimThread(t)
		m.destroy(ctx, mod, true)
		return nil, fmt.Errorf("%w: main thread: %v", ErrResource, err)
	}
	mod.mainThread = t
	if err := t.Startup(); err != nil {
		m.k.ReclaimThread(t)
		mod.mainThread = nil
		m.destroy(ctx, mod, true)
		return nil, fmt.Errorf("%w: start main thread: %v", ErrResource, err)
	}

	m.logger.Info("Module started",
		zap.String("module", mod.Name()),
		zap.Int("priority", priority),
		zap.Int("stack", stackSize))
	return mod, nil
}

// threadEntry is the main thread of every executed module.
func (m *Manager) threadEntry(ctx context.Context, param any) {
	mod, ok := param.(*Module)
	if !ok {
		return
	}
	defer m.exitModule(mod)

	m.k.EnterCritical()
	if mod.destroyed || mod.cmdline == nil {
		m.k.ExitCritical()
		return
	}
	argv := splitArgs(mod.cmdline.Data[:len(mod.cmdline.Data)-1])
	if len(argv) == 0 {
		m.k.ExitCritical()
		return
	}
	mod.setState(StateRunning)
	m.k.ExitCritical()

	ret := m.runEntry(ctx, mod, argv)

	m.k.EnterCritical()
	if !mod.retSet {
		mod.retCode, mod.retSet = ret, true
	}
	m.k.ExitCritical()
}

// runEntry calls the entry point. A panic or CPU fault counts as -1.
func (m *Manager) runEntry(ctx context.Context, mod *Module, argv []string) (ret int) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Module panicked",
				zap.String("module", mod.Name()),
				zap.Any("panic", r))
			ret = -1
		}
	}()
	ret, err := m.cpu.Call(ctx, mod.entry, len(argv), argv)
	if err != nil {
		m.logger.Error("Module entry faulted",
			zap.String("module", mod.Name()),
			zap.Error(err))
		return -1
	}
	return ret
}
