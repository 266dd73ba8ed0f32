package kernel

import (
	"testing"
	"time"

	"github.com/nyxkernel/corekernel/driver"
	"github.com/nyxkernel/corekernel/kerr"
	"github.com/nyxkernel/corekernel/rights"
	"github.com/nyxkernel/corekernel/timetravel"
)

func TestEndpointSendReceiveRoundTrip(t *testing.T) {
	d := NewDispatcher()
	proc := NewProcess(0)

	h, err := d.CreateEndpoint(proc, 0, rights.SEND|rights.RECEIVE)
	if err != nil {
		t.Fatalf("create endpoint: %v", err)
	}
	if err := d.Send(proc, h, []byte("hello"), nil, false, time.Time{}); err != nil {
		t.Fatalf("send: %v", err)
	}
	msg, err := d.Receive(proc, h, false, time.Time{})
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if string(msg.Payload) != "hello" {
		t.Fatalf("payload = %q, want hello", msg.Payload)
	}
}

func TestSendRejectsMissingRight(t *testing.T) {
	d := NewDispatcher()
	proc := NewProcess(0)

	h, err := d.CreateEndpoint(proc, 0, rights.RECEIVE)
	if err != nil {
		t.Fatalf("create endpoint: %v", err)
	}
	if err := d.Send(proc, h, []byte("x"), nil, false, time.Time{}); !kerr.Is(err, kerr.AccessDenied) {
		t.Fatalf("expected AccessDenied sending without SEND right, got %v", err)
	}
}

func TestCapDeriveNarrowsAndRevokeConfines(t *testing.T) {
	d := NewDispatcher()
	proc := NewProcess(0)

	h, err := d.CreateEndpoint(proc, 0, rights.SEND|rights.RECEIVE|rights.GRANT|rights.TRANSFER|rights.DUPLICATE|rights.REVOKE)
	if err != nil {
		t.Fatalf("create endpoint: %v", err)
	}
	child, err := d.CapDerive(proc, h, rights.SEND|rights.RECEIVE|rights.GRANT|rights.DUPLICATE|rights.REVOKE)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	grandchild, err := d.CapDerive(proc, child, rights.SEND|rights.WAIT)
	if err != nil {
		t.Fatalf("derive grandchild: %v", err)
	}
	if _, r, _ := proc.CSpace.Identify(grandchild); r != rights.SEND {
		t.Fatalf("grandchild rights = %v, want SEND only (intersection narrows)", r)
	}

	if err := d.CapRevoke(proc, child); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := d.Send(proc, grandchild, []byte("x"), nil, false, time.Time{}); err == nil {
		t.Fatal("send through revoked descendant should fail")
	}
	if err := d.Send(proc, h, []byte("still alive"), nil, false, time.Time{}); err != nil {
		t.Fatalf("send through live root should still work: %v", err)
	}
}

func TestNotificationSignalWaitPoll(t *testing.T) {
	d := NewDispatcher()
	proc := NewProcess(0)

	h := d.CreateNotification(proc, rights.SIGNAL|rights.WAIT|rights.POLL)

	if _, ok, err := d.Poll(proc, h, 0x1); err != nil || ok {
		t.Fatalf("poll on unsignalled notification: ok=%v err=%v", ok, err)
	}

	if err := d.Signal(proc, h, 0x1); err != nil {
		t.Fatalf("signal: %v", err)
	}
	got, err := d.Wait(proc, h, 0x1, time.Time{})
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if got != 0x1 {
		t.Fatalf("wait returned bits %#x, want 0x1", got)
	}

	if _, ok, err := d.Poll(proc, h, 0x1); err != nil || ok {
		t.Fatalf("bit should be consumed after wait: ok=%v err=%v", ok, err)
	}
}

func TestCallRecvRequestSendResponse(t *testing.T) {
	d := NewDispatcher()
	server := NewProcess(0)
	client := NewProcess(server.ID)

	h, err := d.CreateEndpoint(server, 0, rights.SEND|rights.RECEIVE|rights.CALL|rights.REPLY|rights.GRANT|rights.TRANSFER)
	if err != nil {
		t.Fatalf("create endpoint: %v", err)
	}
	clientHandle, err := d.CapGrant(server, h, client, rights.SEND|rights.CALL)
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	thr := d.ThreadCreate(client)

	done := make(chan error, 1)
	go func() {
		msg, err := d.RecvRequest(server, h, true, time.Now().Add(time.Second))
		if err != nil {
			done <- err
			return
		}
		done <- d.SendResponse(msg.Tag, []byte("pong"), nil)
	}()

	reply, err := d.Call(client, thr, clientHandle, []byte("ping"), time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("server side: %v", err)
	}
	if string(reply.Payload) != "pong" {
		t.Fatalf("reply payload = %q, want pong", reply.Payload)
	}
}

func TestMmioRegisterReadWriteUnmap(t *testing.T) {
	d := NewDispatcher()
	proc := NewProcess(0)

	h, err := d.MmioRegister(proc, 0x1000, 0x100)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := d.MmioWrite32(proc, h, 0x10, 0xdeadbeef); err != nil {
		t.Fatalf("write32: %v", err)
	}
	got, err := d.MmioRead32(proc, h, 0x10)
	if err != nil {
		t.Fatalf("read32: %v", err)
	}
	if got != 0xdeadbeef {
		t.Fatalf("read32 = %#x, want 0xdeadbeef", got)
	}

	if err := d.MmioUnmap(proc, h); err != nil {
		t.Fatalf("unmap: %v", err)
	}
	if _, _, err := proc.CSpace.Identify(h); err == nil {
		t.Fatal("handle should be gone from CSpace after unmap")
	}
}

func TestMmioRegisterRejectsOverlap(t *testing.T) {
	d := NewDispatcher()
	proc := NewProcess(0)

	if _, err := d.MmioRegister(proc, 0x1000, 0x2000); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if _, err := d.MmioRegister(proc, 0x2000, 0x1000); !kerr.Is(err, kerr.MmioConflict) {
		t.Fatalf("expected MmioConflict for overlapping region, got %v", err)
	}
	if _, err := d.MmioRegister(proc, 0x3000, 0x1000); err != nil {
		t.Fatalf("disjoint region after conflict should still succeed: %v", err)
	}
}

func TestIrqRegisterRaiseWait(t *testing.T) {
	d := NewDispatcher()
	proc := NewProcess(0)

	h, n, err := d.IrqRegister(proc, 5, driver.IrqEdge)
	if err != nil {
		t.Fatalf("irq register: %v", err)
	}
	if _, r, _ := proc.CSpace.Identify(h); !r.Has(rights.WAIT) {
		t.Fatal("irq capability should carry WAIT")
	}

	if err := d.Irq.Raise(5); err != nil {
		t.Fatalf("raise: %v", err)
	}
	bits, err := n.Wait(uint64(1)<<5, false, time.Time{})
	if err != nil {
		t.Fatalf("wait on bound notification: %v", err)
	}
	if bits&(uint64(1)<<5) == 0 {
		t.Fatalf("expected bit 5 set, got %#x", bits)
	}
}

func TestCheckpointRestoreRoundTrip(t *testing.T) {
	d := NewDispatcher()
	proc := NewProcess(0)
	proc.AS.Map(0, 0x1000, 0x6, 0)
	if err := proc.AS.Write(0x10, []byte("state")); err != nil {
		t.Fatalf("seed memory: %v", err)
	}

	h, err := d.Checkpoint(proc, "snap1", nil, nil, nil, false)
	if err != nil {
		t.Fatalf("checkpoint: %v", err)
	}

	if err := proc.AS.Write(0x10, []byte("spoil")); err != nil {
		t.Fatalf("mutate memory: %v", err)
	}

	if _, _, err := d.Restore(proc, h, timetravel.RestoreInPlace); err != nil {
		t.Fatalf("restore: %v", err)
	}
	got, err := proc.AS.Read(0x10, len("state"))
	if err != nil {
		t.Fatalf("read after restore: %v", err)
	}
	if string(got) != "state" {
		t.Fatalf("memory after restore = %q, want state", got)
	}
}
