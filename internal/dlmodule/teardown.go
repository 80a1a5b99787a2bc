package dlmodule

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/dlkernel/internal/kernel"
)

// ClassHandler reclaims one class of kernel object. Detach handles
// statically initialised objects and Delete dynamically created ones; a
// nil func leaves that variant alone.
type ClassHandler struct {
	Detach func(obj kernel.KObject) error
	Delete func(obj kernel.KObject) error
}

var (
	handlersMu sync.RWMutex
	handlers   = map[kernel.ObjectClass]ClassHandler{}
)

// RegisterClassHandler installs or replaces the handler for class.
func RegisterClassHandler(class kernel.ObjectClass, h ClassHandler) {
	handlersMu.Lock()
	defer handlersMu.Unlock()
	handlers[class.Base()] = h
}

func classHandler(class kernel.ObjectClass) (ClassHandler, bool) {
	handlersMu.RLock()
	defer handlersMu.RUnlock()
	h, ok := handlers[class.Base()]
	return h, ok
}

func detachAs[T interface{ Detach() error }](obj kernel.KObject) error {
	o, ok := obj.(T)
	if !ok {
		return fmt.Errorf("%w: unexpected %T", ErrState, obj)
	}
	return o.Detach()
}

func deleteAs[T interface{ Delete() error }](obj kernel.KObject) error {
	o, ok := obj.(T)
	if !ok {
		return fmt.Errorf("%w: unexpected %T", ErrState, obj)
	}
	return o.Delete()
}

func reclaimThread(obj kernel.KObject) error {
	t, ok := obj.(*kernel.Thread)
	if !ok {
		return fmt.Errorf("%w: unexpected %T", ErrState, obj)
	}
	t.Kernel().ReclaimThread(t)
	return nil
}

func init() {
	RegisterClassHandler(kernel.ClassThread, ClassHandler{Detach: reclaimThread, Delete: reclaimThread})
	RegisterClassHandler(kernel.ClassSemaphore, ClassHandler{Detach: detachAs[*kernel.Semaphore], Delete: deleteAs[*kernel.Semaphore]})
	RegisterClassHandler(kernel.ClassMutex, ClassHandler{Detach: detachAs[*kernel.Mutex], Delete: deleteAs[*kernel.Mutex]})
	RegisterClassHandler(kernel.ClassEvent, ClassHandler{Detach: detachAs[*kernel.Event], Delete: deleteAs[*kernel.Event]})
	RegisterClassHandler(kernel.ClassMailBox, ClassHandler{Detach: detachAs[*kernel.Mailbox], Delete: deleteAs[*kernel.Mailbox]})
	RegisterClassHandler(kernel.ClassMessageQueue, ClassHandler{Detach: detachAs[*kernel.MessageQueue], Delete: deleteAs[*kernel.MessageQueue]})
	RegisterClassHandler(kernel.ClassMemHeap, ClassHandler{Detach: detachAs[*kernel.MemHeap]})
	RegisterClassHandler(kernel.ClassMemPool, ClassHandler{Detach: detachAs[*kernel.MemPool], Delete: deleteAs[*kernel.MemPool]})
	RegisterClassHandler(kernel.ClassTimer, ClassHandler{Detach: detachAs[*kernel.Timer], Delete: deleteAs[*kernel.Timer]})
}

// Destroy tears mod down. A module whose main thread has been started is
// busy in every state until the reaper has released that thread.
func (m *Manager) Destroy(ctx context.Context, mod *Module) error {
	if mod == nil {
		return fmt.Errorf("%w: nil module", ErrState)
	}
	m.k.EnterCritical()
	var err error
	switch {
	case mod.destroyed:
		err = fmt.Errorf("%w: module %s already destroyed", ErrState, mod.Name())
	case mod.mainThread != nil && !mod.reaped:
		err = fmt.Errorf("%w: module %s is %s", ErrBusy, mod.Name(), mod.State())
	case mod.State() == StateRunning:
		err = fmt.Errorf("%w: module %s is running", ErrBusy, mod.Name())
	}
	m.k.ExitCritical()
	if err != nil {
		return err
	}
	return m.destroy(ctx, mod, true)
}

// destroy releases everything mod holds. hooks selects whether
// module_cleanup runs.
func (m *Manager) destroy(ctx context.Context, mod *Module, hooks bool) error {
	m.k.EnterCritical()
	if mod.destroyed {
		m.k.ExitCritical()
		return fmt.Errorf("%w: module %s already destroyed", ErrState, mod.Name())
	}
	mod.destroyed = true
	code := mod.retCode
	if hooks && mod.cleanupFn != 0 && mod.mapped {
		if _, err := m.cpu.Call(ctx, mod.cleanupFn, mod); err != nil {
			m.logger.Warn("module_cleanup failed", zap.String("module", mod.Name()), zap.Error(err))
		}
	}
	m.k.ExitCritical()

	mod.mu.Lock()
	objs := mod.objects
	mod.objects = nil
	mod.drained = true
	mod.mu.Unlock()

	for _, obj := range objs {
		m.reclaimObject(mod, obj)
	}

	heap := m.k.Heap()
	m.k.EnterCritical()
	cmdline := mod.cmdline
	mod.cmdline = nil
	m.k.ExitCritical()
	heap.Free(cmdline)
	m.freeSymbols(mod)
	if mod.mapped {
		m.cpu.UnmapText(mod.image.Addr)
		mod.mapped = false
	}
	heap.Free(mod.image)

	name := mod.Name()
	m.k.DeleteObject(mod)
	close(mod.done)

	outcome := "clean"
	if code != 0 {
		outcome = "nonzero"
	}
	m.metrics.RecordExit(outcome)
	m.metrics.SetModulesActive(len(m.k.Objects(kernel.ClassModule)))
	m.logger.Info("Module destroyed",
		zap.String("module", name),
		zap.String("instance", mod.instanceID.String()),
		zap.Int("reclaimed", len(objs)),
		zap.Int("code", code))
	return nil
}

func (m *Manager) reclaimObject(mod *Module, obj kernel.KObject) {
	h := obj.Header()
	handler, ok := classHandler(h.Class())
	if !ok {
		m.logger.Error("Unsupported object class in module",
			zap.String("module", mod.Name()),
			zap.String("object", h.Name()),
			zap.Stringer("class", h.Class()))
		return
	}
	fn := handler.Delete
	if h.IsStatic() {
		fn = handler.Detach
	}
	if fn == nil {
		return
	}
	if err := fn(obj); err != nil {
		m.logger.Warn("Reclaiming module object",
			zap.String("module", mod.Name()),
			zap.String("object", h.Name()),
			zap.Error(err))
		return
	}
	m.metrics.RecordReclaim(h.Class().String())
}
