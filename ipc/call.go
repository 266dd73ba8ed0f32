package ipc

import (
	"sync/atomic"
	"time"

	"github.com/nyxkernel/corekernel/kerr"
)

// Call performs the client side of synchronous RPC: it binds a private
// reply endpoint, tags the request with it, sends the request, and
// blocks for the response. Cancelling a call (deadline or external
// cancellation) closes the reply endpoint so a server's later
// send_response observes a dead endpoint rather than delivering into
// the void (I6).
func (e *Endpoint) Call(clientThread uint64, payload []byte, deadline time.Time) (*Message, error) {
	reply, _ := NewEndpointWithDepth(1)
	replied := int32(0)

	req := &Message{
		Payload: payload,
		Tag: &ReplyTag{
			ClientThread: clientThread,
			reply:        reply,
			replied:      &replied,
		},
	}

	if err := e.Send(req, true, deadline); err != nil {
		reply.Close()
		return nil, err
	}

	resp, err := reply.Receive(true, deadline)
	if err != nil {
		reply.Close()
		return nil, err
	}
	return resp, nil
}

// RecvRequest is the server side: it is exactly Receive, since the tag
// travels inline on the message.
func (e *Endpoint) RecvRequest(blocking bool, deadline time.Time) (*Message, error) {
	return e.Receive(blocking, deadline)
}

// SendResponse delivers msg on the reply endpoint bound to tag,
// enforcing exactly one response per call (I6).
func SendResponse(tag *ReplyTag, msg *Message) error {
	if tag == nil || tag.reply == nil {
		return kerr.New(kerr.InvalidArgument, "send_response requires a reply tag")
	}
	if !atomic.CompareAndSwapInt32(tag.replied, 0, 1) {
		return kerr.New(kerr.InvalidCapability, "a response has already been sent for this call")
	}
	if err := tag.reply.Send(msg, false, time.Time{}); err != nil {
		// The reply endpoint was closed by a cancelled client: this is
		// the "InvalidEndpoint" case from the call/reply spec, modeled
		// here as InvalidCapability since the reply endpoint's capability
		// is what no longer resolves to a live object.
		return kerr.New(kerr.InvalidCapability, "reply endpoint is no longer live: %v", err)
	}
	return nil
}
