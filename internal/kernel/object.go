package kernel

import (
	"fmt"
	"sync"
)

// ObjectClass identifies the kind of a kernel object. The high bit marks
// a statically initialised object.
type ObjectClass uint8

const (
	ClassNull ObjectClass = iota
	ClassThread
	ClassSemaphore
	ClassMutex
	ClassEvent
	ClassMailBox
	ClassMessageQueue
	ClassMemHeap
	ClassMemPool
	ClassDevice
	ClassTimer
	ClassModule
	ClassUnknown

	ClassStatic ObjectClass = 0x80
)

var classNames = map[ObjectClass]string{
	ClassNull:         "null",
	ClassThread:       "thread",
	ClassSemaphore:    "semaphore",
	ClassMutex:        "mutex",
	ClassEvent:        "event",
	ClassMailBox:      "mailbox",
	ClassMessageQueue: "msgqueue",
	ClassMemHeap:      "memheap",
	ClassMemPool:      "mempool",
	ClassDevice:       "device",
	ClassTimer:        "timer",
	ClassModule:       "module",
	ClassUnknown:      "unknown",
}

// Base strips the static marker.
func (c ObjectClass) Base() ObjectClass { return c &^ ClassStatic }

func (c ObjectClass) IsStatic() bool { return c&ClassStatic != 0 }

func (c ObjectClass) String() string {
	name, ok := classNames[c.Base()]
	if !ok {
		name = fmt.Sprintf("class(%d)", uint8(c.Base()))
	}
	if c.IsStatic() {
		return "static " + name
	}
	return name
}

// OwnerID names the owner of an object. Zero is the kernel itself.
type OwnerID uint64

// Object is the header every kernel object embeds.
type Object struct {
	id    uint64
	name  string
	class ObjectClass
	owner OwnerID
	block *Block
	k     *Kernel
}

// KObject is implemented by every type that embeds Object.
type KObject interface {
	Header() *Object
}

func (o *Object) Header() *Object { return o }

func (o *Object) ID() uint64 { return o.id }

func (o *Object) Name() string {
	if o.k == nil {
		return o.name
	}
	o.k.objects.mu.RLock()
	defer o.k.objects.mu.RUnlock()
	return o.name
}

// Class returns the class without the static marker.
func (o *Object) Class() ObjectClass { return o.class.Base() }

func (o *Object) IsStatic() bool { return o.class.IsStatic() }

func (o *Object) Owner() OwnerID { return o.owner }

func (o *Object) Kernel() *Kernel { return o.k }

// Block returns the heap block backing a dynamic object's control block.
func (o *Object) Block() *Block { return o.block }

type registry struct {
	mu      sync.RWMutex
	nextID  uint64
	byID    map[uint64]KObject
	classes map[ObjectClass][]KObject
}

func newRegistry() *registry {
	return &registry{
		byID:    make(map[uint64]KObject),
		classes: make(map[ObjectClass][]KObject),
	}
}

func (r *registry) attach(obj KObject) {
	h := obj.Header()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	h.id = r.nextID
	r.byID[h.id] = obj
	class := h.Class()
	r.classes[class] = append(r.classes[class], obj)
}

// detach removes obj and reports whether it was registered.
func (r *registry) detach(obj KObject) bool {
	h := obj.Header()
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.byID[h.id]; !ok || cur != obj {
		return false
	}
	delete(r.byID, h.id)
	list := r.classes[h.Class()]
	for i, o := range list {
		if o == obj {
			r.classes[h.Class()] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	return true
}

func (r *registry) lookup(id uint64) KObject {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[id]
}

func (r *registry) list(class ObjectClass) []KObject {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]KObject(nil), r.classes[class.Base()]...)
}

func (r *registry) find(name string, class ObjectClass) KObject {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, obj := range r.classes[class.Base()] {
		if obj.Header().name == name {
			return obj
		}
	}
	return nil
}

func (r *registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func (r *registry) rename(obj KObject, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	obj.Header().name = name
}
