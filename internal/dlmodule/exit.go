package dlmodule

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/kernel"
)

// Self returns the module the calling thread belongs to.
func Self(ctx context.Context) *Module {
	t := kernel.Self(ctx)
	if t == nil || t.Owner() == 0 {
		return nil
	}
	mod, _ := t.Kernel().Lookup(uint64(t.Owner())).(*Module)
	return mod
}

// Exit ends the calling thread's module with code. The main thread is
// retired and every other thread of the module is suspended until the
// module is destroyed; the caller does not return when it is one of
// them.
func Exit(ctx context.Context, code int) error {
	mod := Self(ctx)
	if mod == nil {
		return fmt.Errorf("%w: not called from a module thread", ErrState)
	}
	return mod.mgr.exit(ctx, mod, code)
}

func (m *Manager) exit(ctx context.Context, mod *Module, code int) error {
	m.k.EnterCritical()
	if mod.State() != StateRunning {
		state := mod.State()
		m.k.ExitCritical()
		return fmt.Errorf("%w: module %s is %s", ErrState, mod.Name(), state)
	}
	mod.retCode, mod.retSet = code, true
	m.closeLocked(mod)
	if main := mod.mainThread; main != nil {
		if err := main.Delete(); err != nil {
			m.logger.Warn("Retiring main thread", zap.String("module", mod.Name()), zap.Error(err))
		}
	}
	m.k.ExitCritical()

	m.logger.Info("Module exit", zap.String("module", mod.Name()), zap.Int("code", code))
	if t := kernel.Self(ctx); t != nil {
		t.Checkpoint()
	}
	return nil
}

// exitModule is the main thread's exit path.
func (m *Manager) exitModule(mod *Module) {
	m.k.EnterCritical()
	defer m.k.ExitCritical()
	m.closeLocked(mod)
}

// closeLocked moves a running module to CLOSING and suspends its threads.
// It must be called inside the critical section.
func (m *Manager) closeLocked(mod *Module) {
	if mod.State() != StateRunning {
		return
	}
	mod.setState(StateClosing)
	for _, obj := range mod.Objects() {
		t, ok := obj.(*kernel.Thread)
		if !ok {
			continue
		}
		switch t.State() {
		case kernel.ThreadInit, kernel.ThreadClosed:
			continue
		}
		t.Timer().Stop()
		if err := t.Suspend(); err != nil {
			m.logger.Debug("Suspending module thread", zap.String("thread", t.Name()), zap.Error(err))
		}
	}
}
