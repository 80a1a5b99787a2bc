package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/dlmodule"
	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/domain/autoload"
	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/kernel"
	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/kernel/cpu"
	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/kernel/symtab"
	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/shell"
	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/source"
)

// System is one assembled kernel with everything around it.
type System struct {
	Config  *config.Config
	Logger  *logging.Logger
	Kernel  *kernel.Kernel
	CPU     *cpu.CPU
	Modules *dlmodule.Manager
	Metrics *monitoring.Metrics
	Tracer  *tracing.Tracer
	// Source reads images for exec requests: local files or the registry,
	// decompressed as needed.
	Source dlmodule.Ops
	// Remote is nil without a registry URL.
	Remote *source.Remote
	Shell  *shell.Shell

	console     io.Writer
	consoleSink *logging.ConsoleWriter
	shellOut    io.Writer
	exports     []symtab.Export
}

type Option func(*System)

func WithLogger(l *logging.Logger) Option { return func(s *System) { s.Logger = l } }

// WithConsole sends rt_kprintf output to w instead of the log.
func WithConsole(w io.Writer) Option { return func(s *System) { s.console = w } }

// WithShellOutput sets where shell commands print. Defaults to stdout.
func WithShellOutput(w io.Writer) Option { return func(s *System) { s.shellOut = w } }

// WithExports adds kernel symbols beyond the registered ones.
func WithExports(exports ...symtab.Export) Option {
	return func(s *System) { s.exports = append(s.exports, exports...) }
}

// New builds a system. The kernel is not started.
func New(cfg *config.Config, opts ...Option) (*System, error) {
	s := &System{Config: cfg, shellOut: os.Stdout}
	for _, opt := range opts {
		opt(s)
	}
	if s.Logger == nil {
		l, err := logging.New(logging.Config{Level: cfg.Logging.Level, Development: cfg.Logging.Development})
		if err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
		s.Logger = l
	}
	if s.console == nil {
		s.consoleSink = logging.NewConsoleWriter(s.Logger.Component("console"))
		s.console = s.consoleSink
	}

	s.Metrics = monitoring.NewMetrics()
	s.Tracer = tracing.New("dlkernel", s.Logger.Component("tracing"))

	tab, err := symtab.New(append(symtab.Exports(), s.exports...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to build symbol table: %w", err)
	}

	s.Kernel = kernel.New(kernel.Config{
		PriorityMax: cfg.Kernel.PriorityMax,
		HeapSize:    cfg.Kernel.HeapSize,
	}, kernel.WithLogger(s.Logger.Component("kernel")), kernel.WithConsole(s.console))
	s.CPU = cpu.New(tab, s.Kernel.Heap(), cfg.Kernel.Coherent)

	root := os.DirFS(cfg.Loader.Root)
	s.Modules = dlmodule.NewManager(s.Kernel, s.CPU).
		WithLogger(s.Logger.Component("dlmodule")).
		WithMetrics(s.Metrics).
		WithFS(root).
		WithNameMax(cfg.Kernel.NameMax)

	if cfg.Remote.URL != "" {
		s.Remote, err = source.NewRemote(remoteConfig(cfg),
			source.WithLogger(s.Logger.Component("registry")),
			source.WithMetrics(s.Metrics))
		if err != nil {
			s.Tracer.Close()
			return nil, fmt.Errorf("failed to create registry client: %w", err)
		}
	}
	files := source.NewFiles(root, cfg.Loader.MaxImage)
	s.Source = source.NewCompressed(source.NewRouter(files, s.Remote), cfg.Loader.MaxImage)

	s.Shell = shell.New(s.Modules, s.shellOut).WithLogger(s.Logger.Component("shell"))

	s.Logger.Info("System assembled",
		zap.Int("symbols", tab.Len()),
		zap.Int("heap_size", s.Kernel.Heap().Size()),
		zap.Bool("coherent", cfg.Kernel.Coherent),
		zap.String("module_root", cfg.Loader.Root),
		zap.Bool("registry", s.Remote != nil),
	)
	return s, nil
}

func remoteConfig(cfg *config.Config) source.RemoteConfig {
	rc := source.DefaultRemoteConfig()
	rc.BaseURL = cfg.Remote.URL
	rc.Token = cfg.Remote.Token
	rc.Timeout = cfg.Remote.Timeout.D()
	rc.Retries = cfg.Remote.Retries
	rc.RatePerSecond = cfg.Remote.RatePerSecond
	rc.Burst = cfg.Remote.Burst
	rc.MaxSize = cfg.Loader.MaxImage
	rc.TripAfter = cfg.Remote.TripAfter
	rc.Cooldown = cfg.Remote.Cooldown.D()
	return rc
}

// Start starts the kernel's reaper.
func (s *System) Start() { s.Kernel.Start() }

// Boot runs the autoloader when enabled: the configured manifest or,
// without one, every image found under the module root.
func (s *System) Boot(ctx context.Context) ([]autoload.Result, error) {
	lc := s.Config.Loader
	if !lc.Autoload {
		return nil, nil
	}

	var (
		m   *autoload.Manifest
		err error
	)
	if lc.Manifest != "" {
		m, err = autoload.LoadManifest(lc.Manifest)
	} else {
		m, err = autoload.Discover(ctx, lc.Root, lc.Include)
	}
	if err != nil {
		return nil, err
	}

	span, ctx := s.Tracer.Start(ctx, "autoload")
	defer span.End()
	span.SetTag("entries", fmt.Sprint(len(m.Modules)))

	results, err := autoload.NewBooter(s.Modules, s.Source, s.Logger.Component("autoload")).Boot(ctx, m)
	if err != nil {
		span.SetError(err)
	}
	return results, err
}

// ExecFile loads a host file outside the module root and starts it.
func (s *System) ExecFile(ctx context.Context, path, cmdline string, opts ...dlmodule.ExecOption) (*dlmodule.Module, error) {
	name, ops, err := s.hostFile(path)
	if err != nil {
		return nil, err
	}
	return s.Modules.ExecWith(ctx, name, cmdline, ops, opts...)
}

// LoadFile links a host file without starting it.
func (s *System) LoadFile(ctx context.Context, path string) (*dlmodule.Module, error) {
	name, ops, err := s.hostFile(path)
	if err != nil {
		return nil, err
	}
	return s.Modules.LoadWith(ctx, name, ops)
}

func (s *System) hostFile(path string) (string, dlmodule.Ops, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", nil, err
	}
	files := source.NewFiles(os.DirFS(filepath.Dir(abs)), s.Config.Loader.MaxImage)
	return filepath.Base(abs), source.NewCompressed(files, s.Config.Loader.MaxImage), nil
}

// Close stops the kernel and flushes logs.
func (s *System) Close() {
	s.Kernel.Stop()
	s.Tracer.Close()
	if s.consoleSink != nil {
		s.consoleSink.Flush()
	}
	_ = s.Logger.Sync()
}
