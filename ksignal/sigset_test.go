package ksignal

import "testing"

func TestSigSetAddRemove(t *testing.T) {
	s := EmptySet()
	s, err := s.Add(SIGUSR1)
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if !s.Has(SIGUSR1) {
		t.Fatal("expected SIGUSR1 set")
	}
	s = s.Remove(SIGUSR1)
	if s.Has(SIGUSR1) {
		t.Fatal("expected SIGUSR1 cleared")
	}
}

func TestSigSetAddRejectsOutOfRange(t *testing.T) {
	s := EmptySet()
	if _, err := s.Add(0); err == nil {
		t.Fatal("expected signal 0 to be rejected")
	}
	if _, err := s.Add(64); err == nil {
		t.Fatal("expected signal 64 to be rejected")
	}
}

func TestSigSetLowestPicksSmallest(t *testing.T) {
	s := EmptySet()
	s, _ = s.Add(SIGTERM)
	s, _ = s.Add(SIGINT)
	s, _ = s.Add(SIGUSR1)

	got, ok := s.Lowest()
	if !ok || got != SIGINT {
		t.Fatalf("expected SIGINT (lowest), got %d ok=%v", got, ok)
	}
}

func TestUncatchableSignals(t *testing.T) {
	if SIGKILL.Catchable() {
		t.Fatal("SIGKILL must not be catchable")
	}
	if SIGSTOP.Catchable() {
		t.Fatal("SIGSTOP must not be catchable")
	}
	if !SIGTERM.Catchable() {
		t.Fatal("SIGTERM must be catchable")
	}
}

func TestDefaultActions(t *testing.T) {
	cases := []struct {
		sig  Signal
		want DefaultAction
	}{
		{SIGKILL, ActionTerminate},
		{SIGSTOP, ActionStop},
		{SIGCONT, ActionContinue},
		{SIGCHLD, ActionIgnore},
		{SIGSEGV, ActionCoreDump},
	}
	for _, c := range cases {
		if got := c.sig.DefaultAction(); got != c.want {
			t.Errorf("signal %d: expected %d, got %d", c.sig, c.want, got)
		}
	}
}
