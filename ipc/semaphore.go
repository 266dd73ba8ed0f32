package ipc

import (
	"sync/atomic"
	"time"

	"github.com/nyxkernel/corekernel/kerr"
)

// notifyBit is the single bit a Semaphore uses on its backing
// Notification to signal "count became available."
const notifyBit = uint64(1) << 0

// Semaphore is an atomic counter plus the notify-bit-0 convention for
// waking blocked acquirers.
type Semaphore struct {
	count int64
	n     *Notification
}

func NewSemaphore(initial int64) *Semaphore {
	n, _ := NewNotification()
	return &Semaphore{count: initial, n: n}
}

// Release increments the count and signals waiters that it may now be
// possible to acquire.
func (s *Semaphore) Release(delta int64) {
	atomic.AddInt64(&s.count, delta)
	s.n.Signal(notifyBit)
}

// Acquire blocks (per §5, a named suspension point: "semaphore.acquire
// when count == 0") until the count is positive, then decrements it.
func (s *Semaphore) Acquire(blocking bool, deadline time.Time) error {
	for {
		if s.tryAcquireOne() {
			return nil
		}
		if !blocking {
			return kerr.New(kerr.Empty, "semaphore count is zero")
		}
		if _, err := s.n.Wait(notifyBit, true, deadline); err != nil {
			return err
		}
	}
}

func (s *Semaphore) tryAcquireOne() bool {
	for {
		cur := atomic.LoadInt64(&s.count)
		if cur <= 0 {
			return false
		}
		if atomic.CompareAndSwapInt64(&s.count, cur, cur-1) {
			return true
		}
	}
}

// Count returns the current count, for diagnostics/tests.
func (s *Semaphore) Count() int64 {
	return atomic.LoadInt64(&s.count)
}
