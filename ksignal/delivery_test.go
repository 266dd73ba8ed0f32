package ksignal

import (
	"testing"
	"time"

	"github.com/nyxkernel/corekernel/ipc"
)

func TestNextDeliverablePrefersUnblocked(t *testing.T) {
	proc := NewProcessState()
	thr := NewThreadState()

	thr.SetMask(HowSetMask, func() SigSet { s, _ := EmptySet().Add(SIGUSR1); return s }())
	thr.Raise(SIGUSR1)
	thr.Raise(SIGTERM)

	sig, ok := NextDeliverable(proc, thr)
	if !ok || sig != SIGTERM {
		t.Fatalf("expected SIGTERM (SIGUSR1 blocked), got %d ok=%v", sig, ok)
	}
}

func TestDeliverClearsPending(t *testing.T) {
	proc := NewProcessState()
	thr := NewThreadState()
	thr.Raise(SIGTERM)

	disp, ok := Deliver(proc, thr)
	if !ok || disp.Sig != SIGTERM {
		t.Fatalf("expected to deliver SIGTERM, got %+v ok=%v", disp, ok)
	}
	if thr.Pending().Has(SIGTERM) {
		t.Fatal("expected SIGTERM cleared from pending after delivery")
	}
	if _, ok := Deliver(proc, thr); ok {
		t.Fatal("expected nothing left to deliver")
	}
}

// receiveWithSignals is the dispatcher-level retry loop a blocking
// syscall wrapper runs: it polls the endpoint with a short deadline,
// and on each timeout checks whether a signal became deliverable. A
// handler that completes without SA_RESTART aborts the call; with
// SA_RESTART the same blocking call is re-issued.
func receiveWithSignals(e *ipc.Endpoint, proc *ProcessState, thr *ThreadState, ran *[]Signal) (*ipc.Message, error) {
	for {
		msg, err := e.Receive(true, time.Now().Add(5*time.Millisecond))
		if err == nil {
			return msg, nil
		}
		interrupt, ok := CheckInterrupt(proc, thr)
		if !ok {
			continue
		}
		*ran = append(*ran, interrupt.Disposition.Sig)
		if !interrupt.ShouldRestart() {
			return nil, err
		}
	}
}

// TestSignalDeliveryDuringBlockingReceive mirrors scenario S4: a
// handler with SA_RESTART fires mid-receive, the receive call
// transparently restarts, and a subsequent send unblocks it with the
// message delivered.
func TestSignalDeliveryDuringBlockingReceive(t *testing.T) {
	e, _ := ipc.NewEndpointWithDepth(4)
	defer e.Close()

	proc := NewProcessState()
	thr := NewThreadState()
	proc.Actions.Set(SIGUSR1, SigAction{
		Handler: SigHandler{Kind: HandlerSimple, Addr: 0x1000},
		Flags:   FlagRestart,
	})

	var ran []Signal
	result := make(chan *ipc.Message, 1)
	errCh := make(chan error, 1)
	go func() {
		msg, err := receiveWithSignals(e, proc, thr, &ran)
		if err != nil {
			errCh <- err
			return
		}
		result <- msg
	}()

	time.Sleep(10 * time.Millisecond)
	thr.Raise(SIGUSR1)

	time.Sleep(20 * time.Millisecond)
	if err := e.Send(&ipc.Message{Payload: []byte("hello")}, false, time.Time{}); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case msg := <-result:
		if string(msg.Payload) != "hello" {
			t.Fatalf("unexpected payload %q", msg.Payload)
		}
	case err := <-errCh:
		t.Fatalf("receive aborted instead of restarting: %v", err)
	case <-time.After(time.Second):
		t.Fatal("receive never unblocked after restart")
	}

	if len(ran) != 1 || ran[0] != SIGUSR1 {
		t.Fatalf("expected exactly one SIGUSR1 handler run, got %v", ran)
	}
}
