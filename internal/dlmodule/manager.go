package dlmodule

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/kernel"
	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/kernel/cpu"
	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/kernel/symtab"
	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/shared/utils"
)

// DefaultNameMax is the object name capacity, terminator included.
const DefaultNameMax = 8

// osFS opens host paths as given, absolute or relative.
type osFS struct{}

func (osFS) Open(name string) (fs.File, error) { return os.Open(name) }

// Manager orchestrates module lifecycle
type Manager struct {
	k       *kernel.Kernel
	cpu     *cpu.CPU
	syms    *symtab.Table
	fsys    fs.FS
	hasher  *utils.Hasher
	logger  *zap.Logger
	metrics *monitoring.Metrics
	nameMax int
}

// NewManager creates a module manager and registers it with the kernel
// as owner tracker and reap hook.
func NewManager(k *kernel.Kernel, c *cpu.CPU) *Manager {
	m := &Manager{
		k:       k,
		cpu:     c,
		syms:    c.Symbols(),
		fsys:    osFS{},
		hasher:  utils.DefaultHasher(),
		logger:  zap.NewNop(),
		nameMax: DefaultNameMax,
	}
	k.SetOwnerTracker(m)
	k.OnReap(m.onReap)
	return m
}

// WithLogger sets the logger for load and teardown events
func (m *Manager) WithLogger(logger *zap.Logger) *Manager {
	m.logger = logger
	return m
}

// WithMetrics adds metrics tracking to the manager
func (m *Manager) WithMetrics(metrics *monitoring.Metrics) *Manager {
	m.metrics = metrics
	return m
}

// WithFS sets the file system Load reads images from
func (m *Manager) WithFS(fsys fs.FS) *Manager {
	m.fsys = fsys
	return m
}

func (m *Manager) WithNameMax(n int) *Manager {
	if n > 1 {
		m.nameMax = n
	}
	return m
}

func (m *Manager) NameMax() int { return m.nameMax }

func (m *Manager) Kernel() *kernel.Kernel { return m.k }

func (m *Manager) Symbols() *symtab.Table { return m.syms }

// Create allocates an empty module in the INIT state with default
// priority and stack size. The control block is charged to the kernel.
func (m *Manager) Create(ctx context.Context) (*Module, error) {
	mod := &Module{
		mgr:        m,
		instanceID: id.NewInstanceID(),
		priority:   m.k.PriorityMax() - 1,
		stackSize:  DefaultStackSize,
		done:       make(chan struct{}),
	}
	if err := m.k.AllocateObject(kernel.WithoutThread(ctx), mod, kernel.ClassModule, "module", moduleBlockSize); err != nil {
		return nil, fmt.Errorf("%w: module control block: %v", ErrResource, err)
	}
	mod.setState(StateInit)
	m.metrics.SetModulesActive(len(m.k.Objects(kernel.ClassModule)))
	return mod, nil
}

// List returns registered modules ordered by id
func (m *Manager) List() []*Module {
	objs := m.k.Objects(kernel.ClassModule)
	out := make([]*Module, 0, len(objs))
	for _, obj := range objs {
		if mod, ok := obj.(*Module); ok {
			out = append(out, mod)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Find returns the first module named name
func (m *Manager) Find(name string) (*Module, bool) {
	mod, ok := m.k.Find(name, kernel.ClassModule).(*Module)
	return mod, ok
}

// Get returns the module with the given instance id
func (m *Manager) Get(instance id.InstanceID) (*Module, bool) {
	for _, mod := range m.List() {
		if mod.instanceID == instance {
			return mod, true
		}
	}
	return nil, false
}

func (m *Manager) module(owner kernel.OwnerID) *Module {
	if owner == 0 {
		return nil
	}
	mod, _ := m.k.Lookup(uint64(owner)).(*Module)
	return mod
}

// Adopt links an object created by one of the module's threads into its
// owned list.
func (m *Manager) Adopt(owner kernel.OwnerID, obj kernel.KObject) {
	mod := m.module(owner)
	if mod == nil {
		return
	}
	mod.mu.Lock()
	defer mod.mu.Unlock()
	if mod.drained {
		m.logger.Warn("Object created during module teardown",
			zap.String("module", mod.Name()),
			zap.Stringer("class", obj.Header().Class()))
		return
	}
	mod.objects = append(mod.objects, obj)
}

// Disown unlinks an object the module released on its own.
func (m *Manager) Disown(owner kernel.OwnerID, obj kernel.KObject) {
	mod := m.module(owner)
	if mod == nil {
		return
	}
	mod.mu.Lock()
	defer mod.mu.Unlock()
	for i, o := range mod.objects {
		if o == obj {
			mod.objects = append(mod.objects[:i], mod.objects[i+1:]...)
			return
		}
	}
}

// onReap destroys a module once the reaper has released its main thread.
func (m *Manager) onReap(t *kernel.Thread) {
	mod := m.module(t.Owner())
	if mod == nil || mod.mainThread != t {
		return
	}
	m.k.EnterCritical()
	mod.reaped = true
	m.k.ExitCritical()

	if err := m.Destroy(m.k.Context(), mod); err != nil {
		m.logger.Debug("Module not destroyed on reap",
			zap.String("module", mod.Name()),
			zap.Error(err))
	}
}
