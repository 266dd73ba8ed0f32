package ksignal

import "sync"

// AltStack is the per-thread alternate signal stack used when a
// handler's SigAction has FlagOnStack set.
type AltStack struct {
	Addr    uint64
	Size    uint64
	Enabled bool
}

// ProcessState is the process-wide signal state: the shared action
// table and the process-directed pending set (signals sent to the
// process rather than a specific thread).
type ProcessState struct {
	mu      sync.Mutex
	Actions *ActionTable
	pending SigSet
}

func NewProcessState() *ProcessState {
	return &ProcessState{Actions: NewActionTable()}
}

// Raise adds sig to the process-wide pending set.
func (p *ProcessState) Raise(sig Signal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	next, err := p.pending.Add(sig)
	if err != nil {
		return err
	}
	p.pending = next
	return nil
}

func (p *ProcessState) Pending() SigSet {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending
}

func (p *ProcessState) clearPending(sig Signal) {
	p.mu.Lock()
	p.pending = p.pending.Remove(sig)
	p.mu.Unlock()
}

// ThreadState is the per-thread signal state: the blocked mask, the
// thread-directed pending set, the alternate stack, and whether the
// thread is currently inside a handler (and if so, the mask saved to
// restore on sigreturn).
type ThreadState struct {
	mu        sync.Mutex
	Mask      SigSet
	pending   SigSet
	AltStack  AltStack
	handling  *Signal
	savedMask SigSet
}

func NewThreadState() *ThreadState {
	return &ThreadState{}
}

func (t *ThreadState) Raise(sig Signal) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	next, err := t.pending.Add(sig)
	if err != nil {
		return err
	}
	t.pending = next
	return nil
}

func (t *ThreadState) Pending() SigSet {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}

func (t *ThreadState) clearPending(sig Signal) {
	t.mu.Lock()
	t.pending = t.pending.Remove(sig)
	t.mu.Unlock()
}

// SetMask applies how (block/unblock/setmask) to the thread's signal
// mask per sigprocmask() semantics, returning the previous mask.
// SIGKILL and SIGSTOP can never be present in the resulting mask.
func (t *ThreadState) SetMask(how How, set SigSet) SigSet {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev := t.Mask
	switch how {
	case HowBlock:
		t.Mask = t.Mask.Union(set)
	case HowUnblock:
		t.Mask = SigSet(uint64(t.Mask) &^ uint64(set))
	case HowSetMask:
		t.Mask = set
	}
	t.Mask = t.Mask.Remove(SIGKILL).Remove(SIGSTOP)
	return prev
}

// How selects the sigprocmask() operation.
type How int

const (
	HowBlock How = iota
	HowUnblock
	HowSetMask
)

// EnterHandler records that the thread is now executing sig's handler
// with the given effective mask (the union of the action's Mask, sig
// itself unless NODEFER, and the previously blocked set), returning the
// mask that must be restored on sigreturn. If action has FlagResetHand
// set, sig's entry in actions is reset to its default disposition
// before the handler runs, per §4.4 step 4.
func (t *ThreadState) EnterHandler(sig Signal, action SigAction, actions *ActionTable) SigSet {
	if action.Flags.Has(FlagResetHand) && actions != nil {
		actions.ResetToDefault(sig)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	saved := t.Mask
	effective := t.Mask.Union(action.Mask)
	if !action.Flags.Has(FlagNoDefer) {
		effective, _ = effective.Add(sig)
	}
	t.Mask = effective.Remove(SIGKILL).Remove(SIGSTOP)
	s := sig
	t.handling = &s
	t.savedMask = saved
	return saved
}

// ExitHandler (sigreturn) restores the mask saved by EnterHandler and
// clears the currently-handling marker.
func (t *ThreadState) ExitHandler() SigSet {
	t.mu.Lock()
	defer t.mu.Unlock()
	restored := t.savedMask
	t.Mask = restored
	t.handling = nil
	return restored
}

// Handling returns the signal currently being handled, if any.
func (t *ThreadState) Handling() (Signal, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.handling == nil {
		return 0, false
	}
	return *t.handling, true
}
