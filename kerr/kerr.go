// Package kerr defines the kernel-boundary error kinds shared by every
// in-process component of the capability kernel (cspace, ipc, ksignal,
// timetravel, driver). Every exported operation that can fail across a
// syscall boundary returns one of these sentinel codes, wrapped with
// call-site context via github.com/pkg/errors.
package kerr

import (
	stderrors "errors"
	"fmt"

	"github.com/pkg/errors"
)

// Code identifies one of the error kinds from the error handling design.
// Negative syscall return values map 1:1 onto these codes.
type Code int

const (
	_ Code = iota
	// InvalidCapability: handle does not resolve in current CSpace.
	InvalidCapability
	// WrongType: operation invoked on a capability of the wrong object type.
	WrongType
	// AccessDenied: required rights mask not satisfied.
	AccessDenied
	// QueueFull: non-blocking send found the endpoint at capacity.
	QueueFull
	// Empty: non-blocking receive found nothing queued.
	Empty
	// Timeout: a deadline elapsed before the awaited condition held.
	Timeout
	// Interrupted: a signal interrupted a blocking call.
	Interrupted
	// Cancelled: the object waited on was revoked or closed.
	Cancelled
	// NotFound: object id unknown (post-destruction races).
	NotFound
	// MmioConflict: region overlaps an existing registration.
	MmioConflict
	// IrqAlreadyRegistered: non-shared IRQ conflict.
	IrqAlreadyRegistered
	// OutOfResources: heap / frame-allocator / slot-table exhaustion.
	OutOfResources
	// InvalidArgument: malformed input.
	InvalidArgument
	// PermissionDenied: process lacks the syscall-level permission.
	PermissionDenied
	// Closed: endpoint has been closed; further sends are rejected.
	Closed
	// BufferFull: a recording session hit its configured event limit.
	BufferFull
	// NotRecording: an operation that requires an active recording ran
	// against a session that has already been finalized.
	NotRecording
	// Unavailable: a dependent service (the guardian daemon's socket)
	// could not be reached.
	Unavailable
)

var names = map[Code]string{
	InvalidCapability:    "InvalidCapability",
	WrongType:            "WrongType",
	AccessDenied:         "AccessDenied",
	QueueFull:            "QueueFull",
	Empty:                "Empty",
	Timeout:              "Timeout",
	Interrupted:          "Interrupted",
	Cancelled:            "Cancelled",
	NotFound:             "NotFound",
	MmioConflict:         "MmioConflict",
	IrqAlreadyRegistered: "IrqAlreadyRegistered",
	OutOfResources:       "OutOfResources",
	InvalidArgument:      "InvalidArgument",
	PermissionDenied:     "PermissionDenied",
	Closed:               "Closed",
	BufferFull:           "BufferFull",
	NotRecording:         "NotRecording",
	Unavailable:          "Unavailable",
}

func (c Code) String() string {
	if n, ok := names[c]; ok {
		return n
	}
	return fmt.Sprintf("Code(%d)", int(c))
}

func (c Code) Error() string {
	return c.String()
}

// New wraps a Code with call-site context, matching the
// errors.Wrap(err, msg) idiom this codebase already uses throughout.
func New(c Code, format string, args ...interface{}) error {
	return errors.Wrap(c, fmt.Sprintf(format, args...))
}

// Is reports whether err carries Code c anywhere in its cause chain.
// Works with both errors.Wrap-produced errors and plain Codes.
func Is(err error, c Code) bool {
	var code Code
	if stderrors.As(err, &code) {
		return code == c
	}
	return errors.Cause(err) == c
}

// Invariant formats a message for a violated kernel invariant (I1-I7).
// Callers panic(kerr.Invariant(...)); the dispatch boundary recovers and
// converts the panic into a PermissionDenied-class error so a single
// invariant bug cannot take an entire process down.
type InvariantViolation struct {
	Invariant string
	Detail    string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("invariant %s violated: %s", e.Invariant, e.Detail)
}

func Invariant(name, detail string) error {
	return &InvariantViolation{Invariant: name, Detail: detail}
}

// Recover converts a panic produced by Invariant into a PermissionDenied
// error, for use at the outermost kernel dispatch boundary:
//
//	defer func() { err = kerr.Recover(recover(), err) }()
func Recover(r interface{}, prior error) error {
	if r == nil {
		return prior
	}
	if iv, ok := r.(*InvariantViolation); ok {
		return errors.Wrap(Code(PermissionDenied), iv.Error())
	}
	panic(r)
}
