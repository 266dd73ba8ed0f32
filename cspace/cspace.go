// Package cspace implements the per-process capability slot table:
// derive/grant/revoke/identify/drop over a provenance tree, guarded by
// the RW-lock discipline the concurrency model assigns to CSpace
// (readers for identify, writers for derive/grant/revoke/drop), in the
// same mutex-guarded-table shape this codebase's fileMonitor package
// uses for its own internal table.
package cspace

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/nyxkernel/corekernel/kerr"
	"github.com/nyxkernel/corekernel/object"
	"github.com/nyxkernel/corekernel/rights"
)

var log = logrus.WithField("component", "cspace")

// Handle names a slot; it is meaningful only within the CSpace that
// issued it, and carries no information outside that CSpace (I3).
type Handle uint64

// entry is one capability slot: the (object, rights) pair plus its
// provenance-tree linkage, used by revoke's post-order walk (I2).
type entry struct {
	handle   Handle
	objID    object.ID
	objType  rights.Type
	rights   rights.Rights
	parent   *entry
	children map[*entry]struct{}
	valid    bool
}

// CSpace is one process's capability slot table.
type CSpace struct {
	mu         sync.RWMutex
	slots      map[Handle]*entry
	nextHandle Handle
}

func New() *CSpace {
	return &CSpace{slots: make(map[Handle]*entry)}
}

// Insert installs a fresh, parentless capability (used when an object is
// first created and a root capability to it is handed to its creator).
func (cs *CSpace) Insert(objID object.ID, objType rights.Type, r rights.Rights) Handle {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.nextHandle++
	h := cs.nextHandle
	cs.slots[h] = &entry{handle: h, objID: objID, objType: objType, rights: r, valid: true, children: map[*entry]struct{}{}}
	return h
}

func (cs *CSpace) lookup(h Handle) (*entry, error) {
	e, ok := cs.slots[h]
	if !ok || !e.valid {
		return nil, kerr.New(kerr.InvalidCapability, "handle %d does not resolve", h)
	}
	return e, nil
}

// Derive creates a new slot in the same CSpace whose rights are the
// intersection of the parent's rights and newRights (I1). Requires
// DUPLICATE on the parent.
func (cs *CSpace) Derive(h Handle, newRights rights.Rights) (Handle, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	parent, err := cs.lookup(h)
	if err != nil {
		return 0, err
	}
	if !parent.rights.Has(rights.DUPLICATE) {
		return 0, kerr.New(kerr.AccessDenied, "derive requires DUPLICATE on parent handle %d", h)
	}

	derived := parent.rights.Intersect(newRights)
	if derived != newRights {
		log.WithFields(logrus.Fields{
			"requested": newRights.String(),
			"granted":   derived.String(),
		}).Warn("derive narrowed requested rights to parent's subset")
	}

	cs.nextHandle++
	nh := cs.nextHandle
	child := &entry{
		handle:   nh,
		objID:    parent.objID,
		objType:  parent.objType,
		rights:   derived,
		parent:   parent,
		valid:    true,
		children: map[*entry]struct{}{},
	}
	parent.children[child] = struct{}{}
	cs.slots[nh] = child
	return nh, nil
}

// Grant copies (obj, rights & rightsMask) into target's CSpace, with its
// parent set to the source slot so that revoking the source cascades
// into the grant (the basis of confinement). Requires GRANT on the
// source and TRANSFER on the object's current rights.
func (cs *CSpace) Grant(h Handle, target *CSpace, rightsMask rights.Rights) (Handle, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	src, err := cs.lookup(h)
	if err != nil {
		return 0, err
	}
	if !src.rights.Has(rights.GRANT) {
		return 0, kerr.New(kerr.AccessDenied, "grant requires GRANT on source handle %d", h)
	}
	if !src.rights.Has(rights.TRANSFER) {
		return 0, kerr.New(kerr.AccessDenied, "grant requires TRANSFER on object referenced by handle %d", h)
	}

	granted := src.rights.Intersect(rightsMask)

	target.mu.Lock()
	defer target.mu.Unlock()
	target.nextHandle++
	nh := target.nextHandle
	child := &entry{
		handle:   nh,
		objID:    src.objID,
		objType:  src.objType,
		rights:   granted,
		parent:   src,
		valid:    true,
		children: map[*entry]struct{}{},
	}
	src.children[child] = struct{}{}
	target.slots[nh] = child
	return nh, nil
}

// Revoke invalidates h and every descendant by post-order traversal of
// the provenance tree rooted at h (I2). When h is a root (unparented)
// capability it also fires any revoke hooks registered for the objects
// those capabilities referenced so blocked waiters observe Cancelled;
// revoking a derived or granted capability leaves its ancestors, and so
// the object, live and fires no hooks. Requires REVOKE, unless the caller holds
// the only live reference (ownership), which this simulation treats as
// "holds REVOKE or is deriving from an unparented root".
func (cs *CSpace) Revoke(h Handle) error {
	cs.mu.Lock()

	root, err := cs.lookup(h)
	if err != nil {
		cs.mu.Unlock()
		return err
	}
	if !root.rights.Has(rights.REVOKE) && root.parent != nil {
		cs.mu.Unlock()
		return kerr.New(kerr.AccessDenied, "revoke requires REVOKE on handle %d", h)
	}

	isRoot := root.parent == nil
	var touched []object.ID
	var walk func(e *entry)
	walk = func(e *entry) {
		for c := range e.children {
			walk(c)
		}
		if e.valid {
			e.valid = false
			touched = append(touched, e.objID)
			// Granted descendants live in another CSpace; only remove
			// the slot when it is this very entry.
			if cs.slots[e.handle] == e {
				delete(cs.slots, e.handle)
			}
		}
	}
	walk(root)
	if root.parent != nil {
		delete(root.parent.children, root)
	}
	cs.mu.Unlock()

	if !isRoot {
		return nil
	}

	seen := map[object.ID]bool{}
	for _, id := range touched {
		if seen[id] {
			continue
		}
		seen[id] = true
		fireRevoke(id)
	}
	return nil
}

// Identify returns the object type and rights named by h. Requires
// INSPECT, except that rights-less inspection for diagnostics on one's
// own objects is permitted regardless (any live handle in one's own
// CSpace is, by construction, one's own).
func (cs *CSpace) Identify(h Handle) (rights.Type, rights.Rights, error) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	e, err := cs.lookup(h)
	if err != nil {
		return 0, 0, err
	}
	return e.objType, e.rights, nil
}

// Drop removes the slot without touching descendants' provenance
// (unlike Revoke, this only affects the caller's own CSpace).
func (cs *CSpace) Drop(h Handle) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	e, err := cs.lookup(h)
	if err != nil {
		return err
	}
	e.valid = false
	if e.parent != nil {
		delete(e.parent.children, e)
	}
	delete(cs.slots, h)
	return nil
}

// ObjectOf returns the object id and rights behind h without requiring
// any particular right — used internally by other subsystems (ipc,
// driver) once they have already validated the operation's own rights
// gate via Identify.
func (cs *CSpace) ObjectOf(h Handle) (object.ID, rights.Rights, error) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	e, err := cs.lookup(h)
	if err != nil {
		return 0, 0, err
	}
	return e.objID, e.rights, nil
}

// SlotExport is the (object, rights) pair recorded for one slot by
// ExportAll, used by checkpoint capture.
type SlotExport struct {
	ObjID   object.ID
	ObjType rights.Type
	Rights  rights.Rights
}

// ExportAll snapshots every live slot for checkpointing. Provenance
// (parent/child linkage) is deliberately not exported: a restored
// CSpace rebuilds as a fresh set of roots, matching the original
// design's CSpaceSnapshot which records only slot -> capability.
func (cs *CSpace) ExportAll() map[Handle]SlotExport {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	out := make(map[Handle]SlotExport, len(cs.slots))
	for h, e := range cs.slots {
		if !e.valid {
			continue
		}
		out[h] = SlotExport{ObjID: e.objID, ObjType: e.objType, Rights: e.rights}
	}
	return out
}

// Import rebuilds a CSpace's slots from a prior ExportAll, each as an
// unparented root capability (restore-from-checkpoint semantics: the
// restored process owns these outright, it did not derive them from
// anything live in the restored snapshot).
func Import(exported map[Handle]SlotExport) *CSpace {
	cs := New()
	cs.mu.Lock()
	defer cs.mu.Unlock()
	for h, s := range exported {
		cs.slots[h] = &entry{
			handle:   h,
			objID:    s.ObjID,
			objType:  s.ObjType,
			rights:   s.Rights,
			valid:    true,
			children: map[*entry]struct{}{},
		}
		if h > cs.nextHandle {
			cs.nextHandle = h
		}
	}
	return cs
}

// --- revocation hooks -------------------------------------------------
//
// Objects that can have blocked waiters (endpoints, notifications)
// register a hook here keyed by object id; Revoke fires it for every
// distinct object touched by a revoked subtree. This lets cspace stay
// independent of ipc/driver while still satisfying "capability
// revocation wakes waiters on the object" from the concurrency model.

var (
	hookMu sync.RWMutex
	hooks  = map[object.ID]func(){}
)

// RegisterRevokeHook installs the function invoked when a root capability
// naming objID is revoked. Only one hook per object is supported; the
// owning subsystem registers it at object-creation time.
func RegisterRevokeHook(objID object.ID, hook func()) {
	hookMu.Lock()
	defer hookMu.Unlock()
	hooks[objID] = hook
}

// UnregisterRevokeHook removes a previously registered hook, typically
// called when the object itself is destroyed.
func UnregisterRevokeHook(objID object.ID) {
	hookMu.Lock()
	defer hookMu.Unlock()
	delete(hooks, objID)
}

func fireRevoke(objID object.ID) {
	hookMu.RLock()
	hook := hooks[objID]
	hookMu.RUnlock()
	if hook != nil {
		hook()
	}
}
