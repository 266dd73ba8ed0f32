package ksignal

// Disposition is the resolved outcome of delivering a signal: either
// it is silently dropped, it runs its default action, or a handler
// must run.
type Disposition struct {
	Sig     Signal
	Action  DefaultAction
	Handler *SigHandler
}

// Dropped reports whether the signal requires no further action
// (explicitly ignored, or default-ignore with no handler installed).
func (d Disposition) Dropped() bool {
	return d.Handler == nil && d.Action == ActionIgnore
}

// Resolve computes what should happen if sig is delivered right now,
// given the process-wide action table. SIGKILL/SIGSTOP always resolve
// to their default action regardless of the table (they cannot be
// overridden, per ActionTable.Set's rejection at install time, but
// Resolve does not trust that invariant alone — it re-asserts it here
// too since a disposition query must be correct even if the table were
// ever corrupted).
func Resolve(proc *ProcessState, sig Signal) Disposition {
	if !sig.Catchable() {
		return Disposition{Sig: sig, Action: sig.DefaultAction()}
	}
	action, err := proc.Actions.Get(sig)
	if err != nil {
		return Disposition{Sig: sig, Action: sig.DefaultAction()}
	}
	switch action.Handler.Kind {
	case HandlerIgnore:
		return Disposition{Sig: sig, Action: ActionIgnore}
	case HandlerSimple, HandlerFull:
		h := action.Handler
		return Disposition{Sig: sig, Handler: &h}
	default:
		return Disposition{Sig: sig, Action: sig.DefaultAction()}
	}
}

// NextDeliverable picks the lowest-numbered signal that is pending
// (on either the thread or the process) and not currently blocked by
// the thread's mask. It returns (0, false) if nothing is eligible.
// Thread-directed signals are preferred over process-directed ones
// when both have an eligible candidate at the same number, since a
// thread-targeted signal was necessarily aimed at this thread
// specifically.
func NextDeliverable(proc *ProcessState, thr *ThreadState) (Signal, bool) {
	unblocked := func(s SigSet) SigSet {
		return SigSet(uint64(s) &^ uint64(thr.Mask))
	}
	threadEligible := unblocked(thr.Pending())
	procEligible := unblocked(proc.Pending())

	ts, tok := threadEligible.Lowest()
	ps, pok := procEligible.Lowest()

	switch {
	case tok && pok:
		if ts <= ps {
			return ts, true
		}
		return ps, true
	case tok:
		return ts, true
	case pok:
		return ps, true
	default:
		return 0, false
	}
}

// Deliver pops the next eligible signal (if any) and resolves its
// disposition, clearing it from whichever pending set it was found
// in. It is the single entry point a dispatcher calls at a syscall
// return boundary or an IPC wait point to check "should a signal
// interrupt this thread right now."
func Deliver(proc *ProcessState, thr *ThreadState) (Disposition, bool) {
	sig, ok := NextDeliverable(proc, thr)
	if !ok {
		return Disposition{}, false
	}
	thr.clearPending(sig)
	proc.clearPending(sig)
	return Resolve(proc, sig), true
}

// Interrupted is the error-shaped outcome a blocking kernel operation
// (ipc receive/send, notification wait, semaphore acquire) surfaces
// when a signal arrives mid-wait: either the operation must return
// EINTR-equivalent to let the handler run, or — if the action that
// fired has FlagRestart set and the operation is restartable — the
// caller should retry the same blocking call after the handler
// returns.
type Interrupted struct {
	Disposition Disposition
	Action      SigAction
}

// ShouldRestart reports whether a restartable blocking syscall should
// be retried after this signal's handler returns, per the SA_RESTART
// flag.
func (i Interrupted) ShouldRestart() bool {
	return i.Action.Flags.Has(FlagRestart)
}

// CheckInterrupt is called by a blocking kernel primitive's retry loop
// immediately after it wakes up for a reason other than satisfying its
// own wait condition (e.g. parkUntil returning because a signal waiter
// was separately woken). It returns (Interrupted{}, false) when there
// is nothing to deliver, so the caller's loop should just continue
// waiting.
func CheckInterrupt(proc *ProcessState, thr *ThreadState) (Interrupted, bool) {
	sig, ok := NextDeliverable(proc, thr)
	if !ok {
		return Interrupted{}, false
	}
	action, _ := proc.Actions.Get(sig)
	thr.clearPending(sig)
	proc.clearPending(sig)
	return Interrupted{Disposition: Resolve(proc, sig), Action: action}, true
}
