package kernel

import (
	"context"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Config sizes the kernel.
type Config struct {
	PriorityMax int
	HeapBase    uintptr
	HeapSize    int
}

func DefaultConfig() Config {
	return Config{
		PriorityMax: 32,
		HeapBase:    0x2000_0000,
		HeapSize:    4 << 20,
	}
}

// OwnerTracker is told about every object created or destroyed on behalf
// of a non-kernel owner.
type OwnerTracker interface {
	Adopt(owner OwnerID, obj KObject)
	Disown(owner OwnerID, obj KObject)
}

type Option func(*Kernel)

func WithLogger(logger *zap.Logger) Option {
	return func(k *Kernel) { k.logger = logger }
}

// WithConsole sets the writer behind rt_kprintf.
func WithConsole(w io.Writer) Option {
	return func(k *Kernel) { k.console = w }
}

// Kernel owns the object registry, the system heap and the reaper.
type Kernel struct {
	cfg     Config
	heap    *Heap
	objects *registry
	logger  *zap.Logger
	console io.Writer

	sched sync.Mutex
	level atomic.Int32

	defunct defunctList

	hookMu    sync.RWMutex
	owners    OwnerTracker
	reapHooks []func(*Thread)

	ctx       context.Context
	cancel    context.CancelFunc
	stop      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

func New(cfg Config, opts ...Option) *Kernel {
	def := DefaultConfig()
	if cfg.PriorityMax <= 0 {
		cfg.PriorityMax = def.PriorityMax
	}
	if cfg.HeapBase == 0 {
		cfg.HeapBase = def.HeapBase
	}
	if cfg.HeapSize <= 0 {
		cfg.HeapSize = def.HeapSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	k := &Kernel{
		cfg:     cfg,
		heap:    NewHeap(cfg.HeapBase, cfg.HeapSize),
		objects: newRegistry(),
		logger:  zap.NewNop(),
		console: os.Stdout,
		ctx:     ctx,
		cancel:  cancel,
		stop:    make(chan struct{}),
	}
	k.defunct.signal = make(chan struct{}, 1)
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Start launches the reaper.
func (k *Kernel) Start() {
	k.startOnce.Do(func() {
		k.wg.Add(1)
		go k.idle()
		k.logger.Info("Kernel started",
			zap.Int("priority_max", k.cfg.PriorityMax),
			zap.Int("heap_size", k.cfg.HeapSize))
	})
}

// Stop halts the reaper after draining the defunct list. Threads still
// running are left alone.
func (k *Kernel) Stop() {
	k.stopOnce.Do(func() {
		close(k.stop)
		k.wg.Wait()
		k.ReapNow()
		k.cancel()
		k.logger.Info("Kernel stopped")
	})
}

func (k *Kernel) Config() Config { return k.cfg }

func (k *Kernel) PriorityMax() int { return k.cfg.PriorityMax }

func (k *Kernel) Heap() *Heap { return k.heap }

func (k *Kernel) Logger() *zap.Logger { return k.logger }

func (k *Kernel) Console() io.Writer { return k.console }

// Context is the interrupt-level context: it carries no thread.
func (k *Kernel) Context() context.Context { return k.ctx }

// EnterCritical disables scheduling. It is not reentrant.
func (k *Kernel) EnterCritical() {
	k.sched.Lock()
	k.level.Add(1)
}

func (k *Kernel) ExitCritical() {
	k.level.Add(-1)
	k.sched.Unlock()
}

func (k *Kernel) CriticalLevel() int32 { return k.level.Load() }

func (k *Kernel) SetOwnerTracker(t OwnerTracker) {
	k.hookMu.Lock()
	defer k.hookMu.Unlock()
	k.owners = t
}

// OnReap registers fn to run after the reaper releases a thread.
func (k *Kernel) OnReap(fn func(*Thread)) {
	k.hookMu.Lock()
	defer k.hookMu.Unlock()
	k.reapHooks = append(k.reapHooks, fn)
}

func (k *Kernel) adopt(obj KObject) {
	owner := obj.Header().owner
	if owner == 0 {
		return
	}
	k.hookMu.RLock()
	t := k.owners
	k.hookMu.RUnlock()
	if t != nil {
		t.Adopt(owner, obj)
	}
}

func (k *Kernel) disown(obj KObject) {
	owner := obj.Header().owner
	if owner == 0 {
		return
	}
	k.hookMu.RLock()
	t := k.owners
	k.hookMu.RUnlock()
	if t != nil {
		t.Disown(owner, obj)
	}
}

// ownerOf returns the owner new objects created from ctx are charged to.
func ownerOf(ctx context.Context) OwnerID {
	if t := Self(ctx); t != nil {
		return t.owner
	}
	return 0
}

// InitObject registers a statically allocated object.
func (k *Kernel) InitObject(ctx context.Context, obj KObject, class ObjectClass, name string) {
	h := obj.Header()
	h.k = k
	h.name = name
	h.class = class.Base() | ClassStatic
	h.owner = ownerOf(ctx)
	k.objects.attach(obj)
	k.adopt(obj)
}

// AllocateObject registers a dynamic object whose control block of size
// bytes is charged to the caller's owner.
func (k *Kernel) AllocateObject(ctx context.Context, obj KObject, class ObjectClass, name string, size int) error {
	owner := ownerOf(ctx)
	b, err := k.heap.Alloc(owner, size)
	if err != nil {
		return err
	}
	h := obj.Header()
	h.k = k
	h.name = name
	h.class = class.Base()
	h.owner = owner
	h.block = b
	k.objects.attach(obj)
	k.adopt(obj)
	return nil
}

// DetachObject unregisters a static object. It reports false when obj was
// already gone.
func (k *Kernel) DetachObject(obj KObject) bool {
	if !k.objects.detach(obj) {
		return false
	}
	k.disown(obj)
	return true
}

// DeleteObject unregisters a dynamic object and frees its control block.
func (k *Kernel) DeleteObject(obj KObject) bool {
	if !k.DetachObject(obj) {
		return false
	}
	k.heap.Free(obj.Header().block)
	return true
}

func (k *Kernel) RenameObject(obj KObject, name string) { k.objects.rename(obj, name) }

func (k *Kernel) Lookup(id uint64) KObject { return k.objects.lookup(id) }

func (k *Kernel) Objects(class ObjectClass) []KObject { return k.objects.list(class) }

func (k *Kernel) Find(name string, class ObjectClass) KObject { return k.objects.find(name, class) }

func (k *Kernel) ObjectCount() int { return k.objects.count() }
