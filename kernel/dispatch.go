package kernel

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nyxkernel/corekernel/clock"
	"github.com/nyxkernel/corekernel/cspace"
	"github.com/nyxkernel/corekernel/driver"
	"github.com/nyxkernel/corekernel/ipc"
	"github.com/nyxkernel/corekernel/kerr"
	"github.com/nyxkernel/corekernel/object"
	"github.com/nyxkernel/corekernel/rights"
	"github.com/nyxkernel/corekernel/timetravel"
)

var log = logrus.WithField("component", "kernel")

// Dispatcher holds the system-wide object registries every syscall
// reaches through: endpoints/notifications by object id (resolved from
// a process's own CSpace handle first), the MMIO/IRQ boundary, and the
// checkpoint store. One Dispatcher represents one running kernel
// instance; tests construct a fresh one per scenario.
type Dispatcher struct {
	mu            sync.RWMutex
	endpoints     map[object.ID]*ipc.Endpoint
	notifications map[object.ID]*ipc.Notification
	checkpoints   map[object.ID]*timetravel.Checkpoint
	mmioRegions   map[object.ID]*driver.MmioAccessor

	Mmio *driver.MmioRegistry
	Irq  *driver.IrqController

	transferMu sync.Mutex
	transfers  map[uint64]pendingTransfer
	nextXferID uint64
}

type pendingTransfer struct {
	objID   object.ID
	objType rights.Type
	rights  rights.Rights
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		endpoints:     make(map[object.ID]*ipc.Endpoint),
		notifications: make(map[object.ID]*ipc.Notification),
		checkpoints:   make(map[object.ID]*timetravel.Checkpoint),
		mmioRegions:   make(map[object.ID]*driver.MmioAccessor),
		Mmio:          driver.NewMmioRegistry(),
		Irq:           driver.NewIrqController(),
		transfers:     make(map[uint64]pendingTransfer),
	}
}

// CreateEndpoint allocates an endpoint, registers it, and installs a
// root capability for it in proc's CSpace.
func (d *Dispatcher) CreateEndpoint(proc *Process, depth int, r rights.Rights) (cspace.Handle, error) {
	var ep *ipc.Endpoint
	var id object.ID
	if depth > 0 {
		ep, id = ipc.NewEndpointWithDepth(depth)
	} else {
		ep, id = ipc.NewEndpoint()
	}
	d.mu.Lock()
	d.endpoints[id] = ep
	d.mu.Unlock()
	return proc.CSpace.Insert(id, rights.TypeEndpoint, r), nil
}

func (d *Dispatcher) endpointFor(proc *Process, h cspace.Handle, required rights.Rights) (*ipc.Endpoint, error) {
	typ, r, err := proc.CSpace.Identify(h)
	if err != nil {
		return nil, err
	}
	if typ != rights.TypeEndpoint {
		return nil, kerr.New(kerr.WrongType, "handle %d is not an endpoint", h)
	}
	if !r.Has(required) {
		return nil, kerr.New(kerr.AccessDenied, "endpoint handle %d missing rights %s", h, required)
	}
	objID, _, err := proc.CSpace.ObjectOf(h)
	if err != nil {
		return nil, err
	}
	d.mu.RLock()
	ep, ok := d.endpoints[objID]
	d.mu.RUnlock()
	if !ok {
		return nil, kerr.New(kerr.NotFound, "endpoint object %d not registered", objID)
	}
	return ep, nil
}

// Send implements SYS_SEND: each element of caps names a handle already
// held in proc's CSpace plus the rights mask to narrow it to on
// delivery. Resolution happens here, not inside ipc.Endpoint, because
// the receiving CSpace is only known once Receive actually dequeues the
// message.
func (d *Dispatcher) Send(proc *Process, h cspace.Handle, payload []byte, caps []ipc.CapTransfer, blocking bool, deadline time.Time) error {
	ep, err := d.endpointFor(proc, h, rights.SEND)
	if err != nil {
		return err
	}
	if len(caps) > ipc.MaxCapTransfers {
		return kerr.New(kerr.InvalidArgument, "message carries %d capabilities, at most %d allowed", len(caps), ipc.MaxCapTransfers)
	}

	resolved := make([]ipc.CapTransfer, 0, len(caps))
	for _, c := range caps {
		objID, srcRights, err := proc.CSpace.ObjectOf(c.Handle)
		if err != nil {
			return err
		}
		if !srcRights.Has(rights.TRANSFER) {
			return kerr.New(kerr.AccessDenied, "capability %d lacks TRANSFER", c.Handle)
		}
		objType, _, _ := proc.CSpace.Identify(c.Handle)
		mask := c.RightsMask
		if mask == 0 {
			mask = srcRights
		}
		granted := srcRights.Intersect(mask)

		d.transferMu.Lock()
		d.nextXferID++
		xid := d.nextXferID
		d.transfers[xid] = pendingTransfer{objID: objID, objType: objType, rights: granted}
		d.transferMu.Unlock()

		resolved = append(resolved, ipc.CapTransfer{Handle: cspace.Handle(xid)})
	}

	msg := &ipc.Message{Payload: payload, Caps: resolved}
	return ep.Send(msg, blocking, deadline)
}

// Receive implements SYS_RECEIVE, reinstalling any transferred
// capabilities into proc's own CSpace and rewriting each CapTransfer's
// Handle in place to the newly installed, receiver-local handle.
func (d *Dispatcher) Receive(proc *Process, h cspace.Handle, blocking bool, deadline time.Time) (*ipc.Message, error) {
	ep, err := d.endpointFor(proc, h, rights.RECEIVE)
	if err != nil {
		return nil, err
	}
	msg, err := ep.Receive(blocking, deadline)
	if err != nil {
		return nil, err
	}
	d.installTransfers(proc, msg)
	return msg, nil
}

func (d *Dispatcher) installTransfers(proc *Process, msg *ipc.Message) {
	for i, c := range msg.Caps {
		xid := uint64(c.Handle)
		d.transferMu.Lock()
		t, ok := d.transfers[xid]
		if ok {
			delete(d.transfers, xid)
		}
		d.transferMu.Unlock()
		if !ok {
			continue
		}
		newHandle := proc.CSpace.Insert(t.objID, t.objType, t.rights)
		msg.Caps[i].Handle = newHandle
	}
}

// Call implements SYS_CALL: a synchronous send-then-block-for-reply.
func (d *Dispatcher) Call(proc *Process, thr *Thread, h cspace.Handle, payload []byte, deadline time.Time) (*ipc.Message, error) {
	ep, err := d.endpointFor(proc, h, rights.CALL)
	if err != nil {
		return nil, err
	}
	msg, err := ep.Call(thr.ID, payload, deadline)
	if err != nil {
		return nil, err
	}
	d.installTransfers(proc, msg)
	return msg, nil
}

// RecvRequest implements the server side of SYS_CALL: a blocking
// receive that returns a Message carrying a ReplyTag for SendResponse.
func (d *Dispatcher) RecvRequest(proc *Process, h cspace.Handle, blocking bool, deadline time.Time) (*ipc.Message, error) {
	ep, err := d.endpointFor(proc, h, rights.RECEIVE)
	if err != nil {
		return nil, err
	}
	msg, err := ep.RecvRequest(blocking, deadline)
	if err != nil {
		return nil, err
	}
	d.installTransfers(proc, msg)
	return msg, nil
}

// SendResponse implements SYS_REPLY.
func (d *Dispatcher) SendResponse(tag *ipc.ReplyTag, payload []byte, caps []ipc.CapTransfer) error {
	return ipc.SendResponse(tag, &ipc.Message{Payload: payload, Caps: caps})
}

// CreateNotification allocates a Notification object and a root
// capability for it.
func (d *Dispatcher) CreateNotification(proc *Process, r rights.Rights) cspace.Handle {
	n, id := ipc.NewNotification()
	d.mu.Lock()
	d.notifications[id] = n
	d.mu.Unlock()
	return proc.CSpace.Insert(id, rights.TypeNotification, r)
}

func (d *Dispatcher) notificationFor(proc *Process, h cspace.Handle, required rights.Rights) (*ipc.Notification, error) {
	typ, r, err := proc.CSpace.Identify(h)
	if err != nil {
		return nil, err
	}
	if typ != rights.TypeNotification {
		return nil, kerr.New(kerr.WrongType, "handle %d is not a notification", h)
	}
	if !r.Has(required) {
		return nil, kerr.New(kerr.AccessDenied, "notification handle %d missing rights %s", h, required)
	}
	objID, _, err := proc.CSpace.ObjectOf(h)
	if err != nil {
		return nil, err
	}
	d.mu.RLock()
	n, ok := d.notifications[objID]
	d.mu.RUnlock()
	if !ok {
		return nil, kerr.New(kerr.NotFound, "notification object %d not registered", objID)
	}
	return n, nil
}

// Signal implements SYS_SIGNAL.
func (d *Dispatcher) Signal(proc *Process, h cspace.Handle, bits uint64) error {
	n, err := d.notificationFor(proc, h, rights.SIGNAL)
	if err != nil {
		return err
	}
	n.Signal(bits)
	return nil
}

// Wait implements SYS_WAIT.
func (d *Dispatcher) Wait(proc *Process, h cspace.Handle, mask uint64, deadline time.Time) (uint64, error) {
	n, err := d.notificationFor(proc, h, rights.WAIT)
	if err != nil {
		return 0, err
	}
	return n.Wait(mask, true, deadline)
}

// Poll implements SYS_POLL: a non-blocking wait, reporting whether any
// requested bit was set rather than surfacing Empty as an error.
func (d *Dispatcher) Poll(proc *Process, h cspace.Handle, mask uint64) (uint64, bool, error) {
	n, err := d.notificationFor(proc, h, rights.POLL)
	if err != nil {
		return 0, false, err
	}
	got, err := n.Poll(mask)
	if err != nil {
		if kerr.Is(err, kerr.Empty) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return got, true, nil
}

// --- capability syscalls -----------------------------------------------

func (d *Dispatcher) CapDerive(proc *Process, h cspace.Handle, newRights rights.Rights) (cspace.Handle, error) {
	return proc.CSpace.Derive(h, newRights)
}

func (d *Dispatcher) CapGrant(proc *Process, h cspace.Handle, target *Process, mask rights.Rights) (cspace.Handle, error) {
	return proc.CSpace.Grant(h, target.CSpace, mask)
}

func (d *Dispatcher) CapRevoke(proc *Process, h cspace.Handle) error {
	return proc.CSpace.Revoke(h)
}

func (d *Dispatcher) CapIdentify(proc *Process, h cspace.Handle) (rights.Type, rights.Rights, error) {
	return proc.CSpace.Identify(h)
}

func (d *Dispatcher) CapDrop(proc *Process, h cspace.Handle) error {
	return proc.CSpace.Drop(h)
}

// --- memory syscalls -----------------------------------------------------

func (d *Dispatcher) MemMap(proc *Process, start, end uint64, protection uint8, flags uint32) {
	proc.AS.Map(start, end, protection, flags)
}

func (d *Dispatcher) MemWrite(proc *Process, addr uint64, data []byte) error {
	return proc.AS.Write(addr, data)
}

func (d *Dispatcher) MemRead(proc *Process, addr uint64, length int) ([]byte, error) {
	return proc.AS.Read(addr, length)
}

// --- thread/process syscalls ---------------------------------------------

func (d *Dispatcher) ThreadCreate(proc *Process) *Thread {
	return proc.CreateThread()
}

func (d *Dispatcher) ThreadExit(proc *Process, tid uint64) {
	proc.RemoveThread(tid)
}

func (d *Dispatcher) ProcessSpawn(parent *Process) *Process {
	return NewProcess(parent.ID)
}

func (d *Dispatcher) ProcessExit(proc *Process, code int32) {
	proc.MarkExited(code)
}

// --- time-travel syscalls --------------------------------------------------

func (d *Dispatcher) Checkpoint(proc *Process, name string, threads []timetravel.ThreadSnapshot, files []timetravel.FileSnapshot, tensors []timetravel.TensorSnapshot, includeTensors bool) (cspace.Handle, error) {
	ck, id := timetravel.Capture(proc.ID, name, proc.AS, threads, proc.CSpace, files, tensors, includeTensors)
	d.mu.Lock()
	d.checkpoints[id] = ck
	d.mu.Unlock()
	return proc.CSpace.Insert(id, rights.TypeCheckpoint, rights.READ|rights.DUPLICATE), nil
}

func (d *Dispatcher) Restore(proc *Process, h cspace.Handle, mode timetravel.RestoreMode) (uint64, *cspace.CSpace, error) {
	typ, r, err := proc.CSpace.Identify(h)
	if err != nil {
		return 0, nil, err
	}
	if typ != rights.TypeCheckpoint {
		return 0, nil, kerr.New(kerr.WrongType, "handle %d is not a checkpoint", h)
	}
	if !r.Has(rights.READ) {
		return 0, nil, kerr.New(kerr.AccessDenied, "checkpoint handle %d missing READ", h)
	}
	objID, _, err := proc.CSpace.ObjectOf(h)
	if err != nil {
		return 0, nil, err
	}
	d.mu.RLock()
	ck, ok := d.checkpoints[objID]
	d.mu.RUnlock()
	if !ok {
		return 0, nil, kerr.New(kerr.NotFound, "checkpoint object %d not registered", objID)
	}
	return timetravel.Restore(ck, mode, proc.AS, proc.ID)
}

func (d *Dispatcher) RecordStart(proc *Process, cfg timetravel.RecordingConfig) {
	ck, id := timetravel.Capture(proc.ID, "", proc.AS, nil, proc.CSpace, nil, nil, false)
	d.mu.Lock()
	d.checkpoints[id] = ck
	d.mu.Unlock()
	proc.Recording = timetravel.NewRecordingSession(uint64(object.NextID()), proc.ID, id, cfg)
}

func (d *Dispatcher) RecordStop(proc *Process) *timetravel.RecordingTrace {
	if proc.Recording == nil {
		return nil
	}
	trace := proc.Recording.Finalize()
	proc.Recording = nil
	return trace
}

// --- driver syscalls -------------------------------------------------------

func (d *Dispatcher) MmioRegister(proc *Process, physAddr, size uint64) (cspace.Handle, error) {
	region, err := d.Mmio.Register(uint64(proc.ID), physAddr, size)
	if err != nil {
		return 0, err
	}
	id := object.NextID()
	d.mu.Lock()
	d.mmioRegions[id] = driver.NewMmioAccessor(region)
	d.mu.Unlock()
	return proc.CSpace.Insert(id, rights.TypeMmioRegion, rights.MAP|rights.UNMAP|rights.READ|rights.WRITE), nil
}

func (d *Dispatcher) mmioAccessorFor(proc *Process, h cspace.Handle, required rights.Rights) (*driver.MmioAccessor, object.ID, error) {
	typ, r, err := proc.CSpace.Identify(h)
	if err != nil {
		return nil, 0, err
	}
	if typ != rights.TypeMmioRegion {
		return nil, 0, kerr.New(kerr.WrongType, "handle %d is not an MMIO region", h)
	}
	if !r.Has(required) {
		return nil, 0, kerr.New(kerr.AccessDenied, "MMIO handle %d missing rights %s", h, required)
	}
	objID, _, err := proc.CSpace.ObjectOf(h)
	if err != nil {
		return nil, 0, err
	}
	d.mu.RLock()
	a, ok := d.mmioRegions[objID]
	d.mu.RUnlock()
	if !ok {
		return nil, 0, kerr.New(kerr.NotFound, "MMIO region object %d not registered", objID)
	}
	return a, objID, nil
}

// MmioUnmap implements the driver boundary's unmap: it tears down the
// accessor binding and releases the underlying registration.
func (d *Dispatcher) MmioUnmap(proc *Process, h cspace.Handle) error {
	_, objID, err := d.mmioAccessorFor(proc, h, rights.UNMAP)
	if err != nil {
		return err
	}
	d.mu.RLock()
	a := d.mmioRegions[objID]
	d.mu.RUnlock()
	if err := d.Mmio.Unregister(a.PhysAddr()); err != nil {
		return err
	}
	d.mu.Lock()
	delete(d.mmioRegions, objID)
	d.mu.Unlock()
	return proc.CSpace.Drop(h)
}

func (d *Dispatcher) MmioRead8(proc *Process, h cspace.Handle, offset uint64) (uint8, error) {
	a, _, err := d.mmioAccessorFor(proc, h, rights.READ)
	if err != nil {
		return 0, err
	}
	return a.Read8(offset)
}

func (d *Dispatcher) MmioRead16(proc *Process, h cspace.Handle, offset uint64) (uint16, error) {
	a, _, err := d.mmioAccessorFor(proc, h, rights.READ)
	if err != nil {
		return 0, err
	}
	return a.Read16(offset)
}

func (d *Dispatcher) MmioRead32(proc *Process, h cspace.Handle, offset uint64) (uint32, error) {
	a, _, err := d.mmioAccessorFor(proc, h, rights.READ)
	if err != nil {
		return 0, err
	}
	return a.Read32(offset)
}

func (d *Dispatcher) MmioRead64(proc *Process, h cspace.Handle, offset uint64) (uint64, error) {
	a, _, err := d.mmioAccessorFor(proc, h, rights.READ)
	if err != nil {
		return 0, err
	}
	return a.Read64(offset)
}

func (d *Dispatcher) MmioWrite8(proc *Process, h cspace.Handle, offset uint64, v uint8) error {
	a, _, err := d.mmioAccessorFor(proc, h, rights.WRITE)
	if err != nil {
		return err
	}
	return a.Write8(offset, v)
}

func (d *Dispatcher) MmioWrite16(proc *Process, h cspace.Handle, offset uint64, v uint16) error {
	a, _, err := d.mmioAccessorFor(proc, h, rights.WRITE)
	if err != nil {
		return err
	}
	return a.Write16(offset, v)
}

func (d *Dispatcher) MmioWrite32(proc *Process, h cspace.Handle, offset uint64, v uint32) error {
	a, _, err := d.mmioAccessorFor(proc, h, rights.WRITE)
	if err != nil {
		return err
	}
	return a.Write32(offset, v)
}

func (d *Dispatcher) MmioWrite64(proc *Process, h cspace.Handle, offset uint64, v uint64) error {
	a, _, err := d.mmioAccessorFor(proc, h, rights.WRITE)
	if err != nil {
		return err
	}
	return a.Write64(offset, v)
}

func (d *Dispatcher) IrqRegister(proc *Process, irq int, flags driver.IrqFlags) (cspace.Handle, *ipc.Notification, error) {
	n, err := d.Irq.Register(irq, flags)
	if err != nil {
		return 0, nil, err
	}
	id := object.NextID()
	d.mu.Lock()
	d.notifications[id] = n
	d.mu.Unlock()
	return proc.CSpace.Insert(id, rights.TypeIrq, rights.WAIT|rights.IRQ), n, nil
}

// --- system syscalls ---------------------------------------------------

func (d *Dispatcher) GetTime() uint64 {
	return uint64(clock.NowNanos())
}

var shutdownRequested int32

func (d *Dispatcher) Shutdown() {
	atomic.StoreInt32(&shutdownRequested, 1)
	log.Info("shutdown requested")
}

func (d *Dispatcher) ShutdownRequested() bool {
	return atomic.LoadInt32(&shutdownRequested) == 1
}
