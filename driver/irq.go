package driver

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nyxkernel/corekernel/ipc"
	"github.com/nyxkernel/corekernel/kerr"
)

var zeroDeadline = time.Time{}

// MaxIRQs bounds valid IRQ numbers to 0..256.
const MaxIRQs = 256

// IrqFlags select delivery semantics for a registered IRQ line.
type IrqFlags uint32

const (
	IrqShared IrqFlags = 1 << iota
	IrqEdge
	IrqLevel
	IrqWake
	IrqOneshot
)

func (f IrqFlags) Has(mask IrqFlags) bool { return f&mask == mask }

// irqHandler is the per-line registration record: the bound
// notification, the flags it was registered with, and a pending
// counter incremented on each Raise and cleared on Ack.
type irqHandler struct {
	notification *ipc.Notification
	flags        IrqFlags
	pending      int64
}

// IrqController binds each IRQ number to bit `irq % 64` of a freshly
// allocated, kernel-owned notification.
type IrqController struct {
	mu       sync.RWMutex
	handlers [MaxIRQs]*irqHandler
}

func NewIrqController() *IrqController {
	return &IrqController{}
}

func validateIRQ(irq int) error {
	if irq < 0 || irq >= MaxIRQs {
		return kerr.New(kerr.InvalidArgument, "irq %d out of range 0..%d", irq, MaxIRQs)
	}
	return nil
}

// Register binds irq to a fresh notification and enables the line,
// returning the notification so a capability with WAIT|POLL|IRQ rights
// can be minted over it. A second registration of the same line
// without IrqShared set on both the existing and new registration
// fails with IrqAlreadyRegistered.
func (c *IrqController) Register(irq int, flags IrqFlags) (*ipc.Notification, error) {
	if err := validateIRQ(irq); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing := c.handlers[irq]; existing != nil {
		if !existing.flags.Has(IrqShared) || !flags.Has(IrqShared) {
			return nil, kerr.New(kerr.IrqAlreadyRegistered, "irq %d already registered and not shared", irq)
		}
	}

	n, _ := ipc.NewNotification()
	c.handlers[irq] = &irqHandler{notification: n, flags: flags}
	log.WithFields(logrus.Fields{"irq": irq, "flags": flags}).Debug("registered irq line")
	return n, nil
}

// Unregister disables the line and drops its bound notification.
func (c *IrqController) Unregister(irq int) error {
	if err := validateIRQ(irq); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handlers[irq] == nil {
		return kerr.New(kerr.NotFound, "irq %d is not registered", irq)
	}
	c.handlers[irq] = nil
	return nil
}

// Raise is invoked by the (simulated) interrupt controller when the
// line fires: it increments the pending counter and signals bit
// irq % 64 on the bound notification.
func (c *IrqController) Raise(irq int) error {
	if err := validateIRQ(irq); err != nil {
		return err
	}
	c.mu.RLock()
	h := c.handlers[irq]
	c.mu.RUnlock()
	if h == nil {
		return kerr.New(kerr.NotFound, "irq %d is not registered", irq)
	}
	atomic.AddInt64(&h.pending, 1)
	bit := uint64(1) << uint(irq%64)
	h.notification.Signal(bit)
	return nil
}

// WaitIRQ is exactly notification.wait(1<<bit) on the line's bound bit.
func (c *IrqController) WaitIRQ(irq int) error {
	if err := validateIRQ(irq); err != nil {
		return err
	}
	c.mu.RLock()
	h := c.handlers[irq]
	c.mu.RUnlock()
	if h == nil {
		return kerr.New(kerr.NotFound, "irq %d is not registered", irq)
	}
	bit := uint64(1) << uint(irq%64)
	if _, err := h.notification.Wait(bit, true, zeroDeadline); err != nil {
		return err
	}
	return nil
}

// AckIRQ clears the pending counter. Lines are never masked, for
// level-triggered lines too: Raise signals on every interrupt whether or
// not the previous one was acknowledged.
func (c *IrqController) AckIRQ(irq int) error {
	if err := validateIRQ(irq); err != nil {
		return err
	}
	c.mu.RLock()
	h := c.handlers[irq]
	c.mu.RUnlock()
	if h == nil {
		return kerr.New(kerr.NotFound, "irq %d is not registered", irq)
	}
	atomic.StoreInt64(&h.pending, 0)
	return nil
}

// Pending reports whether an IRQ has unacked interrupts.
func (c *IrqController) Pending(irq int) (bool, error) {
	if err := validateIRQ(irq); err != nil {
		return false, err
	}
	c.mu.RLock()
	h := c.handlers[irq]
	c.mu.RUnlock()
	if h == nil {
		return false, kerr.New(kerr.NotFound, "irq %d is not registered", irq)
	}
	return atomic.LoadInt64(&h.pending) > 0, nil
}
