package kernel

import (
	"github.com/nyxkernel/corekernel/ksignal"
)

// Thread is the schedulable unit: its own signal mask/pending set and
// handler-entry state, plus a back-reference to the owning Process for
// CSpace/address-space/object-table access.
type Thread struct {
	ID      uint64
	Process *Process
	Signals *ksignal.ThreadState
}

// CheckInterrupt resolves the next deliverable signal for t, if any,
// against both its own and its process's pending sets. It is the same
// check ksignal/delivery_test.go's receiveWithSignals helper runs after a
// timed-out wait to decide whether a parked syscall should be
// interrupted, retried (SA_RESTART), or left blocked; the Dispatcher's
// blocking syscalls do not call it.
func (t *Thread) CheckInterrupt() (ksignal.Interrupted, bool) {
	return ksignal.CheckInterrupt(t.Process.Signals, t.Signals)
}
