package timetravel

import (
	"testing"

	"github.com/nyxkernel/corekernel/cspace"
)

// TestCheckpointRoundTrip mirrors scenario S5: a writable VMA is filled
// with 0xA5, checkpointed, overwritten with 0x5A, and restored
// IN_PLACE — every byte must read back 0xA5.
func TestCheckpointRoundTrip(t *testing.T) {
	as := NewAddressSpace()
	as.Map(0x1000, 0x2000, 0x3, 0)

	pattern := make([]byte, 0x1000)
	for i := range pattern {
		pattern[i] = 0xA5
	}
	if err := as.Write(0x1000, pattern); err != nil {
		t.Fatalf("write: %v", err)
	}

	cs := cspace.New()
	ck, _ := Capture(1, "s5", as, nil, cs, nil, nil, false)

	overwrite := make([]byte, 0x1000)
	for i := range overwrite {
		overwrite[i] = 0x5A
	}
	if err := as.Write(0x1000, overwrite); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	if _, _, err := Restore(ck, RestoreInPlace, as, 1); err != nil {
		t.Fatalf("restore: %v", err)
	}

	got, err := as.Read(0x1000, 0x1000)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	for i, b := range got {
		if b != 0xA5 {
			t.Fatalf("byte %d: expected 0xA5 after restore, got 0x%x", i, b)
		}
	}
}

func TestCheckpointRefcountFiresOnZero(t *testing.T) {
	as := NewAddressSpace()
	cs := cspace.New()
	ck, _ := Capture(1, "", as, nil, cs, nil, nil, false)

	ck.Ref()
	if !ck.Live() {
		t.Fatal("expected checkpoint to still be live")
	}
	ck.Unref()
	if !ck.Live() {
		t.Fatal("expected checkpoint to still be live with one remaining root reference")
	}
	ck.Unref()
	if ck.Live() {
		t.Fatal("expected checkpoint to be released once refcount reaches zero")
	}
}

func TestRestoreForkMintsNewProcessID(t *testing.T) {
	as := NewAddressSpace()
	cs := cspace.New()
	ck, _ := Capture(7, "", as, nil, cs, nil, nil, false)

	target := NewAddressSpace()
	pid, _, err := Restore(ck, RestoreFork, target, 0)
	if err != nil {
		t.Fatalf("restore fork: %v", err)
	}
	if pid == 0 || pid == 7 {
		t.Fatalf("expected a freshly minted process id distinct from the original, got %d", pid)
	}
}

func TestCSpaceSnapshotRestoresAsRootCapabilities(t *testing.T) {
	as := NewAddressSpace()
	cs := cspace.New()
	h := cs.Insert(42, 0, 0xFF)

	ck, _ := Capture(1, "", as, nil, cs, nil, nil, false)

	_, restoredCSpace, err := Restore(ck, RestoreInPlace, NewAddressSpace(), 1)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	typ, r, err := restoredCSpace.Identify(h)
	if err != nil {
		t.Fatalf("identify restored handle: %v", err)
	}
	if r != 0xFF || typ != 0 {
		t.Fatalf("unexpected restored slot: type=%v rights=%v", typ, r)
	}
}
