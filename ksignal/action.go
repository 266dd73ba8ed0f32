package ksignal

import "github.com/nyxkernel/corekernel/kerr"

// HandlerKind selects how a signal is dispositioned when delivered.
type HandlerKind int

const (
	// HandlerDefault runs the signal's DefaultAction.
	HandlerDefault HandlerKind = iota
	// HandlerIgnore silently discards the signal.
	HandlerIgnore
	// HandlerSimple invokes a handler address with no siginfo.
	HandlerSimple
	// HandlerFull invokes a handler address with siginfo/ucontext.
	HandlerFull
)

// Flags are the sigaction() behavior flags.
type Flags uint32

const (
	FlagNoDefer Flags = 1 << iota
	FlagSigInfo
	FlagOnStack
	FlagResetHand
	FlagRestart
)

func (f Flags) Has(mask Flags) bool { return f&mask == mask }

// SigHandler is the (kind, address) pair installed for a signal.
type SigHandler struct {
	Kind HandlerKind
	Addr uint64
}

// SigAction is the disposition installed via SetAction, mirroring
// struct sigaction: a handler, a mask to apply for the handler's
// duration, behavior flags, and an optional restorer trampoline.
type SigAction struct {
	Handler  SigHandler
	Mask     SigSet
	Flags    Flags
	Restorer uint64
}

func defaultAction() SigAction {
	return SigAction{Handler: SigHandler{Kind: HandlerDefault}}
}

// ActionTable holds the 64-entry per-process signal disposition table
// (index 0 unused, 1-63 addressable).
type ActionTable struct {
	actions [MaxSignal + 1]SigAction
}

func NewActionTable() *ActionTable {
	t := &ActionTable{}
	for i := range t.actions {
		t.actions[i] = defaultAction()
	}
	return t
}

// Get returns the currently installed action for sig.
func (t *ActionTable) Get(sig Signal) (SigAction, error) {
	if !sig.Valid() {
		return SigAction{}, kerr.New(kerr.InvalidArgument, "signal %d out of range", sig)
	}
	return t.actions[sig], nil
}

// Set installs a new action for sig, rejecting any handler other than
// the default for SIGKILL/SIGSTOP (they are permanently fixed at their
// default action).
func (t *ActionTable) Set(sig Signal, action SigAction) (SigAction, error) {
	if !sig.Valid() {
		return SigAction{}, kerr.New(kerr.InvalidArgument, "signal %d out of range", sig)
	}
	if !sig.Catchable() && action.Handler.Kind != HandlerDefault {
		return SigAction{}, kerr.New(kerr.InvalidArgument, "signal %d cannot be caught, ignored, or blocked", sig)
	}
	prev := t.actions[sig]
	t.actions[sig] = action
	return prev, nil
}

// ResetOnExec restores every catchable signal's action to default.
func (t *ActionTable) ResetOnExec() {
	for i := Signal(1); i <= MaxSignal; i++ {
		if i.Catchable() {
			t.actions[i] = defaultAction()
		}
	}
}

// ResetToDefault installs the default action for sig, the SA_RESETHAND
// effect applied on handler entry (§4.4 step 4). Invalid signal numbers
// are silently ignored, matching EnterHandler's callers which already
// validated sig before delivering it.
func (t *ActionTable) ResetToDefault(sig Signal) {
	if !sig.Valid() {
		return
	}
	t.actions[sig] = defaultAction()
}
