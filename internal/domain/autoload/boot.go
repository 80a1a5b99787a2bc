package autoload

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/dlmodule"
)

// Execer starts modules. *dlmodule.Manager implements it.
type Execer interface {
	ExecWith(ctx context.Context, path, cmdline string, ops dlmodule.Ops, opts ...dlmodule.ExecOption) (*dlmodule.Module, error)
}

// Result reports what happened to one manifest entry.
type Result struct {
	Path     string `json:"path"`
	Module   string `json:"module,omitempty"`
	Instance string `json:"instance,omitempty"`
	Started  bool   `json:"started"`
	Skipped  bool   `json:"skipped,omitempty"`
	ExitCode *int   `json:"exit_code,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Booter runs a manifest against a module manager.
type Booter struct {
	mgr    Execer
	ops    dlmodule.Ops
	logger *zap.Logger
}

// NewBooter creates a booter. A nil ops reads images through the
// manager's own file system.
func NewBooter(mgr Execer, ops dlmodule.Ops, logger *zap.Logger) *Booter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Booter{mgr: mgr, ops: ops, logger: logger}
}

// Boot starts the manifest's entries in order. A failing entry is logged
// and the rest still run; the returned error joins every failure.
func (b *Booter) Boot(ctx context.Context, m *Manifest) ([]Result, error) {
	results := make([]Result, 0, len(m.Modules))
	var errs []error

	for _, e := range m.Modules {
		if err := ctx.Err(); err != nil {
			return results, errors.Join(append(errs, err)...)
		}
		r, err := b.start(ctx, e)
		if err != nil {
			r.Error = err.Error()
			errs = append(errs, fmt.Errorf("%s: %w", e.Path, err))
			b.logger.Warn("Autoload entry failed", zap.String("path", e.Path), zap.Error(err))
		}
		results = append(results, r)
	}

	b.logger.Info("Autoload complete",
		zap.Int("entries", len(m.Modules)),
		zap.Int("failed", len(errs)))
	return results, errors.Join(errs...)
}

func (b *Booter) start(ctx context.Context, e Entry) (Result, error) {
	r := Result{Path: e.Path}
	if e.Disabled {
		r.Skipped = true
		return r, nil
	}

	mod, err := b.mgr.ExecWith(ctx, e.Path, e.Cmdline(), b.ops, e.Options()...)
	if err != nil {
		return r, err
	}
	r.Module = mod.Name()
	r.Instance = mod.InstanceID().String()
	r.Started = mod.MainThread() != nil
	b.logger.Info("Autoload started module",
		zap.String("path", e.Path),
		zap.String("module", r.Module),
		zap.Bool("running", r.Started))

	if !e.Wait || !r.Started {
		return r, nil
	}

	wctx := ctx
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}
	code, err := mod.Wait(wctx)
	if err != nil {
		return r, fmt.Errorf("waiting for %s: %w", r.Module, err)
	}
	r.ExitCode = &code
	return r, nil
}
