package ksignal

import "testing"

func TestSetMaskBlockUnblockSetMask(t *testing.T) {
	thr := NewThreadState()

	usr1, _ := EmptySet().Add(SIGUSR1)
	prev := thr.SetMask(HowBlock, usr1)
	if prev != EmptySet() {
		t.Fatalf("expected empty previous mask, got %v", prev)
	}
	if !thr.Mask.Has(SIGUSR1) {
		t.Fatal("expected SIGUSR1 blocked")
	}

	thr.SetMask(HowUnblock, usr1)
	if thr.Mask.Has(SIGUSR1) {
		t.Fatal("expected SIGUSR1 unblocked")
	}
}

func TestSetMaskCannotBlockSigKillOrStop(t *testing.T) {
	thr := NewThreadState()
	both := EmptySet()
	both, _ = both.Add(SIGKILL)
	both, _ = both.Add(SIGSTOP)

	thr.SetMask(HowSetMask, both)
	if thr.Mask.Has(SIGKILL) || thr.Mask.Has(SIGSTOP) {
		t.Fatalf("SIGKILL/SIGSTOP must never be maskable, got %v", thr.Mask)
	}
}

func TestEnterExitHandlerRestoresMask(t *testing.T) {
	thr := NewThreadState()
	usr2, _ := EmptySet().Add(SIGUSR2)
	thr.SetMask(HowSetMask, usr2)

	action := SigAction{Handler: SigHandler{Kind: HandlerSimple, Addr: 0x10}}
	saved := thr.EnterHandler(SIGUSR1, action, nil)
	if saved != usr2 {
		t.Fatalf("expected saved mask to be pre-handler mask, got %v", saved)
	}
	if !thr.Mask.Has(SIGUSR1) {
		t.Fatal("expected the delivered signal itself blocked during its own handler (no SA_NODEFER)")
	}
	if sig, ok := thr.Handling(); !ok || sig != SIGUSR1 {
		t.Fatalf("expected Handling() to report SIGUSR1, got %d ok=%v", sig, ok)
	}

	restored := thr.ExitHandler()
	if restored != usr2 {
		t.Fatalf("expected mask restored to pre-handler value, got %v", restored)
	}
	if _, ok := thr.Handling(); ok {
		t.Fatal("expected Handling() to report nothing after ExitHandler")
	}
}

func TestEnterHandlerNoDeferKeepsSignalUnblocked(t *testing.T) {
	thr := NewThreadState()
	action := SigAction{Handler: SigHandler{Kind: HandlerSimple, Addr: 0x10}, Flags: FlagNoDefer}
	thr.EnterHandler(SIGUSR1, action, nil)
	if thr.Mask.Has(SIGUSR1) {
		t.Fatal("SA_NODEFER must leave the delivered signal unblocked during its own handler")
	}
}

func TestEnterHandlerResetHandRestoresDefaultAction(t *testing.T) {
	thr := NewThreadState()
	actions := NewActionTable()
	action := SigAction{Handler: SigHandler{Kind: HandlerSimple, Addr: 0x10}, Flags: FlagResetHand}
	actions.Set(SIGUSR1, action)

	thr.EnterHandler(SIGUSR1, action, actions)

	got, err := actions.Get(SIGUSR1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Handler.Kind != HandlerDefault {
		t.Fatalf("expected SA_RESETHAND to restore the default action, got %+v", got)
	}
}

func TestEnterHandlerWithoutResetHandLeavesActionInstalled(t *testing.T) {
	thr := NewThreadState()
	actions := NewActionTable()
	action := SigAction{Handler: SigHandler{Kind: HandlerSimple, Addr: 0x10}}
	actions.Set(SIGUSR1, action)

	thr.EnterHandler(SIGUSR1, action, actions)

	got, err := actions.Get(SIGUSR1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Handler.Kind != HandlerSimple {
		t.Fatalf("expected action to remain installed without SA_RESETHAND, got %+v", got)
	}
}
