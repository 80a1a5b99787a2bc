package dlmodule

import (
	"context"
	"debug/elf"
	"encoding/binary"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/kernel"
	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/kernel/symtab"
	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/shared/id"
)

const (
	moduleBlockSize = 96

	DefaultStackSize = 2048
	MinStackSize     = 2048
	MaxStackSize     = 32 * 1024
	threadTick       = 10
)

// Module is a loaded image and the kernel resources charged to it.
type Module struct {
	kernel.Object

	mgr        *Manager
	instanceID id.InstanceID
	path       string
	digest     string
	kind       elf.Type
	machine    elf.Machine
	word       int
	order      binary.ByteOrder

	state     atomic.Int32
	destroyed bool
	reaped    bool
	nref      int
	retCode   int
	retSet    bool

	priority  int
	stackSize int

	image     *kernel.Block
	vstart    uintptr
	entry     uintptr
	initFn    uintptr
	cleanupFn uintptr
	cmdline   *kernel.Block
	mapped    bool

	symbols     []moduleSymbol
	symtabBlock *kernel.Block

	mainThread *kernel.Thread

	// mu guards the owned-object list. Take it after the critical section.
	mu      sync.Mutex
	objects []kernel.KObject
	drained bool

	done chan struct{}
}

type moduleSymbol struct {
	name  *kernel.Block
	value string
	addr  uintptr
}

// OwnerID is the id kernel objects created by the module's threads are
// charged to.
func (m *Module) OwnerID() kernel.OwnerID { return kernel.OwnerID(m.ID()) }

func (m *Module) State() State { return State(m.state.Load()) }

func (m *Module) setState(s State) { m.state.Store(int32(s)) }

func (m *Module) InstanceID() id.InstanceID { return m.instanceID }

// Path is the image path the module was loaded from.
func (m *Module) Path() string { return m.path }

// Digest is the BLAKE2b digest of the raw image.
func (m *Module) Digest() string { return m.digest }

// Kind reports whether the image was relocatable or shared.
func (m *Module) Kind() elf.Type { return m.kind }

func (m *Module) Machine() elf.Machine { return m.machine }

func (m *Module) Priority() int {
	k := m.Kernel()
	k.EnterCritical()
	defer k.ExitCritical()
	return m.priority
}

// SetPriority changes the priority the main thread will get. It only has
// effect before Exec starts the thread, typically from module_init.
func (m *Module) SetPriority(p int) {
	k := m.Kernel()
	k.EnterCritical()
	m.priority = p
	k.ExitCritical()
}

func (m *Module) StackSize() int {
	k := m.Kernel()
	k.EnterCritical()
	defer k.ExitCritical()
	return m.stackSize
}

func (m *Module) SetStackSize(n int) {
	k := m.Kernel()
	k.EnterCritical()
	m.stackSize = n
	k.ExitCritical()
}

func (m *Module) Entry() uintptr { return m.entry }

// ImageBase and ImageSize describe the relocated image in memory.
func (m *Module) ImageBase() uintptr {
	if m.image == nil {
		return 0
	}
	return m.image.Addr
}

func (m *Module) ImageSize() int {
	if m.image == nil {
		return 0
	}
	return len(m.image.Data)
}

// LoadCount is informational; nothing releases a module when it drops.
func (m *Module) LoadCount() int {
	k := m.Kernel()
	k.EnterCritical()
	defer k.ExitCritical()
	return m.nref
}

// RetCode is the module's exit code once it has ended.
func (m *Module) RetCode() int {
	k := m.Kernel()
	k.EnterCritical()
	defer k.ExitCritical()
	return m.retCode
}

func (m *Module) MainThread() *kernel.Thread { return m.mainThread }

// Destroyed reports whether teardown has started.
func (m *Module) Destroyed() bool {
	k := m.Kernel()
	k.EnterCritical()
	defer k.ExitCritical()
	return m.destroyed
}

// Objects returns a snapshot of the kernel objects the module owns.
func (m *Module) Objects() []kernel.KObject {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]kernel.KObject(nil), m.objects...)
}

// Symbols lists the module's exported symbols.
func (m *Module) Symbols() []symtab.Symbol {
	out := make([]symtab.Symbol, 0, len(m.symbols))
	for _, s := range m.symbols {
		out = append(out, symtab.Symbol{Name: s.value, Addr: s.addr})
	}
	return out
}

// Done is closed once the module has been destroyed.
func (m *Module) Done() <-chan struct{} { return m.done }

// Wait blocks until the module is destroyed or ctx ends and returns the
// module's exit code.
func (m *Module) Wait(ctx context.Context) (int, error) {
	select {
	case <-m.done:
		return m.RetCode(), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// moduleName derives a module name from a path: the last path component
// without its extension, truncated to nameMax-1 bytes.
func moduleName(path string, nameMax int) string {
	base := path[strings.LastIndexByte(path, '/')+1:]
	if i := strings.LastIndexByte(base, '.'); i > 0 {
		base = base[:i]
	}
	if nameMax > 0 && len(base) > nameMax-1 {
		base = base[:nameMax-1]
	}
	return base
}
