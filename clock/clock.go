// Package clock provides the single monotonic time source used across
// the kernel simulation for values stored as plain integers, such as
// recording and checkpoint timestamps (timetravel); ipc deadlines use
// stdlib time.Timer instead. It wraps golang.org/x/sys/unix's CLOCK_MONOTONIC the
// same way this codebase reaches for golang.org/x/sys/unix instead of
// higher-level stdlib wrappers whenever a syscall-backed primitive is
// available.
package clock

import "golang.org/x/sys/unix"

// NowNanos returns nanoseconds since an arbitrary but fixed point (the
// monotonic clock), matching the recording trace header's "nanosecond
// timestamp relative to recording start" requirement once callers
// subtract a captured start value.
func NowNanos() uint64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		// CLOCK_MONOTONIC is not expected to fail on any supported
		// platform; degrade to zero rather than panicking a caller
		// that is merely timestamping an event.
		return 0
	}
	return uint64(ts.Sec)*1_000_000_000 + uint64(ts.Nsec)
}
