package formatter

import "testing"

func TestObjectIDShortIDIsPrefixOfLongID(t *testing.T) {
	oid := ObjectID{ID: 0xDEADBEEF}
	long := oid.LongID()
	short := oid.ShortID()
	if len(short) == 0 || len(short) > len(long) {
		t.Fatalf("short id %q should be a non-empty prefix of long id %q", short, long)
	}
	if long[:len(short)] != short {
		t.Fatalf("short id %q is not a prefix of long id %q", short, long)
	}
}

func TestCheckpointIDFormat(t *testing.T) {
	cid := CheckpointID{Name: "pre-crash", ID: 42}
	got := cid.String()
	if got == "" || got[:10] != "pre-crash@" {
		t.Fatalf("unexpected checkpoint id format: %q", got)
	}
}

func TestRecordingIDHasPrefix(t *testing.T) {
	rid := RecordingID{ID: 7}
	got := rid.String()
	if len(got) < 4 || got[:4] != "rec-" {
		t.Fatalf("expected rec- prefix, got %q", got)
	}
}
