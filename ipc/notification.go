package ipc

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/nyxkernel/corekernel/cspace"
	"github.com/nyxkernel/corekernel/kerr"
	"github.com/nyxkernel/corekernel/object"
	"github.com/nyxkernel/corekernel/rights"
)

// notifyWaiter is a waiter parked on a Notification, carrying the mask
// of bits it cares about.
type notifyWaiter struct {
	mask uint64
	wake waiter
}

// Notification is a 64-bit atomic signal word with edge-triggered,
// clear-on-consume bits and a mask-aware waiter list.
type Notification struct {
	objID object.ID
	word  uint64 // accessed only via atomic ops

	mu        sync.Mutex
	waiters   []*notifyWaiter
	cancelled bool
}

func NewNotification() (*Notification, object.ID) {
	n := &Notification{}
	entry := object.NewEntry(rights.TypeNotification, nil)
	n.objID = entry.ID
	cspace.RegisterRevokeHook(n.objID, n.cancelAll)
	return n, n.objID
}

func (n *Notification) ObjectID() object.ID { return n.objID }

// Signal OR-merges bits into the word, then wakes every waiter whose
// mask intersects the new bits.
func (n *Notification) Signal(bits uint64) {
	var newWord uint64
	for {
		old := atomic.LoadUint64(&n.word)
		newWord = old | bits
		if atomic.CompareAndSwapUint64(&n.word, old, newWord) {
			break
		}
	}

	n.mu.Lock()
	var toWake []waiter
	remaining := n.waiters[:0]
	for _, w := range n.waiters {
		if newWord&w.mask != 0 {
			toWake = append(toWake, w.wake)
		} else {
			remaining = append(remaining, w)
		}
	}
	n.waiters = remaining
	n.mu.Unlock()

	for _, w := range toWake {
		w.wake()
	}
}

// Wait blocks until some bit in mask is set, then atomically clears and
// returns exactly the bits that matched.
func (n *Notification) Wait(mask uint64, blocking bool, deadline time.Time) (uint64, error) {
	for {
		if matched, ok := n.tryConsume(mask); ok {
			return matched, nil
		}
		if !blocking {
			return 0, kerr.New(kerr.Empty, "no requested bit set")
		}

		w := &notifyWaiter{mask: mask, wake: newWaiter()}
		n.mu.Lock()
		if n.cancelled {
			n.mu.Unlock()
			return 0, kerr.New(kerr.Cancelled, "notification cancelled while parking")
		}
		// Double-check under the same lock Signal takes to scan the
		// waiter list: a Signal between the lockless tryConsume above
		// and this lock acquisition may already have set the bit and
		// scanned past an empty waiter list, which would otherwise be
		// a lost wakeup. Re-running tryConsume here, still holding
		// n.mu, serializes against that scan the same way Endpoint's
		// queue-check and waiter-append share one lock.
		if matched, ok := n.tryConsume(mask); ok {
			n.mu.Unlock()
			return matched, nil
		}
		n.waiters = append(n.waiters, w)
		n.mu.Unlock()

		if err := parkUntil(w.wake, deadline); err != nil {
			n.removeWaiter(w)
			return 0, err
		}
		if n.cancelled {
			return 0, kerr.New(kerr.Cancelled, "notification cancelled")
		}
	}
}

// Poll is a non-blocking Wait.
func (n *Notification) Poll(mask uint64) (uint64, error) {
	return n.Wait(mask, false, time.Time{})
}

// Peek reads the current word without consuming any bits.
func (n *Notification) Peek() uint64 {
	return atomic.LoadUint64(&n.word)
}

func (n *Notification) tryConsume(mask uint64) (uint64, bool) {
	for {
		word := atomic.LoadUint64(&n.word)
		matched := word & mask
		if matched == 0 {
			return 0, false
		}
		if atomic.CompareAndSwapUint64(&n.word, word, word&^matched) {
			return matched, true
		}
	}
}

func (n *Notification) removeWaiter(target *notifyWaiter) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, w := range n.waiters {
		if w == target {
			n.waiters = append(n.waiters[:i], n.waiters[i+1:]...)
			return
		}
	}
}

// cancelAll implements cspace's revoke hook contract: it latches
// cancelled and wakes every waiter so they reobserve the word and
// surface Cancelled instead of a spurious zero-bit result.
func (n *Notification) cancelAll() {
	n.mu.Lock()
	n.cancelled = true
	waiters := n.waiters
	n.waiters = nil
	n.mu.Unlock()
	for _, w := range waiters {
		w.wake.wake()
	}
}
