// Package object implements the kernel object table shared by every
// subsystem: stable 64-bit identities, type tags, and reference counting
// by outstanding capabilities plus one root reference held by the
// creator until explicit destroy.
package object

import (
	"sync"
	"sync/atomic"

	"github.com/nyxkernel/corekernel/kerr"
	"github.com/nyxkernel/corekernel/rights"
)

// ID is a stable, never-reused-while-referenced object identity.
type ID uint64

// idCounter hands out monotonically increasing object ids. A real kernel
// would derive these from a frame/slot allocator; this simulation only
// needs uniqueness and monotonicity, which atomic increment gives for
// free without a global lock on the hot path.
var idCounter uint64

// NextID allocates a fresh, never-before-issued object id.
func NextID() ID {
	return ID(atomic.AddUint64(&idCounter, 1))
}

// Entry is the kernel-side record for one object: its type tag, a
// reference count, and a destroy callback invoked exactly once when the
// count reaches zero.
type Entry struct {
	ID      ID
	Type    rights.Type
	mu      sync.Mutex
	refs    int
	onZero  func()
	dropped bool
}

// NewEntry creates an object entry with one root reference.
func NewEntry(typ rights.Type, onZero func()) *Entry {
	return &Entry{ID: NextID(), Type: typ, refs: 1, onZero: onZero}
}

// Ref increments the outstanding-capability reference count.
func (e *Entry) Ref() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dropped {
		return
	}
	e.refs++
}

// Unref decrements the reference count, invoking the destroy callback
// exactly once when it reaches zero.
func (e *Entry) Unref() {
	e.mu.Lock()
	e.refs--
	fire := e.refs <= 0 && !e.dropped
	if fire {
		e.dropped = true
	}
	e.mu.Unlock()
	if fire && e.onZero != nil {
		e.onZero()
	}
}

// Live reports whether the object has not yet been destroyed.
func (e *Entry) Live() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.dropped
}

// Table is a registry of objects by id that resolves an id back to the
// value stored for it.
type Table struct {
	mu      sync.RWMutex
	objects map[ID]interface{}
}

func NewTable() *Table {
	return &Table{objects: make(map[ID]interface{})}
}

func (t *Table) Insert(id ID, obj interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.objects[id] = obj
}

func (t *Table) Remove(id ID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.objects, id)
}

func (t *Table) Lookup(id ID) (interface{}, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	obj, ok := t.objects[id]
	if !ok {
		return nil, kerr.New(kerr.NotFound, "object %d not found", id)
	}
	return obj, nil
}
