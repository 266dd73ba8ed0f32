// Package ipc implements the synchronous message endpoint and the
// bit-signalling notification, plus the semaphore and event-group
// primitives derived from notifications, and the call/recv_request/
// send_response synchronous-RPC surface built on endpoints.
//
// The wake-after-unlock discipline below (enqueue or mutate state while
// holding the mutex, record who to wake, release the lock, then wake)
// is the same discipline this codebase's fileMonitor package already
// uses around its event channel to avoid holding a lock while a
// goroutine on the other end is scheduled (monitor.go releases its lock
// before sending on the event channel).
package ipc

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nyxkernel/corekernel/cspace"
	"github.com/nyxkernel/corekernel/kerr"
	"github.com/nyxkernel/corekernel/object"
	"github.com/nyxkernel/corekernel/rights"
)

var log = logrus.WithField("component", "ipc")

// DefaultDepth is the default bounded FIFO depth for a new endpoint.
const DefaultDepth = 128

// MaxCapTransfers bounds how many capability handles a single message
// may carry.
const MaxCapTransfers = 16

// ReplyTag identifies a pending synchronous call so the server can
// route send_response to the right reply endpoint (I6: at most one
// concurrent reply per call).
type ReplyTag struct {
	ClientThread uint64
	reply        *Endpoint
	replied      *int32
}

// CapTransfer names a capability to move with a message; Handle is
// resolved against the sender's CSpace and RightsMask narrows what the
// receiver gets (defaults to the sender's own rights when zero).
type CapTransfer struct {
	Handle     cspace.Handle
	RightsMask rights.Rights
}

// Message is one endpoint payload.
type Message struct {
	Payload []byte
	Caps    []CapTransfer
	Tag     *ReplyTag // set on messages delivered via recv_request
}

// waiter is a single-slot wake channel; closing/sending is done at most
// once, and the wake is best-effort (a buffered send that silently no-ops
// if the waiter already gave up via cancellation/timeout).
type waiter chan struct{}

func newWaiter() waiter { return make(waiter, 1) }

func (w waiter) wake() {
	select {
	case w <- struct{}{}:
	default:
	}
}

// Endpoint is a bounded FIFO of messages plus two waiter lists.
type Endpoint struct {
	objID object.ID

	mu          sync.Mutex
	queue       []*Message
	maxDepth    int
	sendWaiters []waiter
	recvWaiters []waiter
	closed      bool
}

// NewEndpoint creates an endpoint with the default depth and registers
// it for capability-revocation cancellation.
func NewEndpoint() (*Endpoint, object.ID) {
	return NewEndpointWithDepth(DefaultDepth)
}

func NewEndpointWithDepth(depth int) (*Endpoint, object.ID) {
	if depth <= 0 {
		depth = DefaultDepth
	}
	e := &Endpoint{
		maxDepth: depth,
	}
	entry := object.NewEntry(rights.TypeEndpoint, nil)
	e.objID = entry.ID
	cspace.RegisterRevokeHook(e.objID, e.cancelAll)
	return e, e.objID
}

// ObjectID returns the kernel object id backing this endpoint.
func (e *Endpoint) ObjectID() object.ID { return e.objID }

// Send enqueues msg. If blocking is false, a full queue returns
// QueueFull immediately; if true, the caller parks on send-waiters
// until space frees up, the deadline elapses (Timeout), or the endpoint
// is cancelled/closed (Cancelled).
func (e *Endpoint) Send(msg *Message, blocking bool, deadline time.Time) error {
	parked := false
	for {
		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			if parked {
				return kerr.New(kerr.Cancelled, "endpoint closed while send was parked")
			}
			return kerr.New(kerr.Closed, "send on closed endpoint")
		}
		if len(e.queue) < e.maxDepth {
			e.queue = append(e.queue, msg)
			var toWake waiter
			if len(e.recvWaiters) > 0 {
				toWake = e.recvWaiters[0]
				e.recvWaiters = e.recvWaiters[1:]
			}
			e.mu.Unlock()
			if toWake != nil {
				toWake.wake()
			}
			return nil
		}
		if !blocking {
			e.mu.Unlock()
			return kerr.New(kerr.QueueFull, "endpoint at capacity %d", e.maxDepth)
		}
		w := newWaiter()
		e.sendWaiters = append(e.sendWaiters, w)
		e.mu.Unlock()

		if err := parkUntil(w, deadline); err != nil {
			e.removeSendWaiter(w)
			return err
		}
		parked = true
	}
}

// Receive pops the front message. If blocking is false, an empty queue
// returns Empty immediately; if true, the caller parks until a message
// arrives, the deadline elapses, or the endpoint is cancelled/closed.
func (e *Endpoint) Receive(blocking bool, deadline time.Time) (*Message, error) {
	for {
		e.mu.Lock()
		if len(e.queue) > 0 {
			msg := e.queue[0]
			e.queue = e.queue[1:]
			var toWake waiter
			if len(e.sendWaiters) > 0 {
				toWake = e.sendWaiters[0]
				e.sendWaiters = e.sendWaiters[1:]
			}
			e.mu.Unlock()
			if toWake != nil {
				toWake.wake()
			}
			return msg, nil
		}
		if e.closed {
			e.mu.Unlock()
			return nil, kerr.New(kerr.Cancelled, "receive on closed endpoint")
		}
		if !blocking {
			e.mu.Unlock()
			return nil, kerr.New(kerr.Empty, "endpoint queue empty")
		}
		w := newWaiter()
		e.recvWaiters = append(e.recvWaiters, w)
		e.mu.Unlock()

		if err := parkUntil(w, deadline); err != nil {
			e.removeRecvWaiter(w)
			return nil, err
		}
	}
}

// TryReceive is a non-blocking Receive.
func (e *Endpoint) TryReceive() (*Message, error) {
	return e.Receive(false, time.Time{})
}

// Close wakes every waiter with Cancelled and rejects subsequent sends
// with Closed. Safe to call more than once.
func (e *Endpoint) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	sendW := e.sendWaiters
	recvW := e.recvWaiters
	e.sendWaiters = nil
	e.recvWaiters = nil
	e.mu.Unlock()

	for _, w := range sendW {
		w.wake()
	}
	for _, w := range recvW {
		w.wake()
	}
	cspace.UnregisterRevokeHook(e.objID)
}

// cancelAll is the cspace revoke hook: identical effect to Close, wired
// in at creation time so a revoked capability cancels blocked waiters.
func (e *Endpoint) cancelAll() {
	log.WithField("endpoint", e.objID).Debug("endpoint cancelled by capability revocation")
	e.Close()
}

func (e *Endpoint) removeSendWaiter(target waiter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, w := range e.sendWaiters {
		if w == target {
			e.sendWaiters = append(e.sendWaiters[:i], e.sendWaiters[i+1:]...)
			return
		}
	}
}

func (e *Endpoint) removeRecvWaiter(target waiter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, w := range e.recvWaiters {
		if w == target {
			e.recvWaiters = append(e.recvWaiters[:i], e.recvWaiters[i+1:]...)
			return
		}
	}
}

// parkUntil blocks until w is woken or the deadline (if non-zero)
// elapses, translating the latter into a Timeout error. It does not
// itself know about signal interruption or revocation distinctly from
// a plain wake: callers that need to distinguish Cancelled re-check
// endpoint state (closed) after a wake, which Send/Receive's loop does
// by retrying from the top.
func parkUntil(w waiter, deadline time.Time) error {
	if deadline.IsZero() {
		<-w
		return nil
	}
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case <-w:
		return nil
	case <-timer.C:
		return kerr.New(kerr.Timeout, "deadline elapsed while parked")
	}
}
