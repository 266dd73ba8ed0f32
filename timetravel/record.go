package timetravel

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/nyxkernel/corekernel/clock"
	"github.com/nyxkernel/corekernel/kerr"
	"github.com/nyxkernel/corekernel/object"
)

// RecordingConfig selects which non-deterministic event classes a
// session captures: syscalls, scheduler decisions, tensor ops, memory.
type RecordingConfig struct {
	CaptureSyscalls  bool
	CaptureMemory    bool
	CaptureScheduler bool
	CaptureTensors   bool
	MaxEvents        int
}

func DefaultRecordingConfig() RecordingConfig {
	return RecordingConfig{
		CaptureSyscalls:  true,
		CaptureScheduler: true,
		CaptureTensors:   true,
		MaxEvents:        1_000_000,
	}
}

// EventKind variant-tags a RecordEvent's payload: events follow in
// length-prefixed records, each variant-tagged by kind.
type EventKind uint8

const (
	EventSyscallEntry EventKind = iota
	EventSyscallExit
	EventThreadScheduled
	EventThreadPreempted
	EventTimerTick
	EventSignalDelivered
	EventRandomValue
	EventIoRead
	EventMemoryAccess
	EventTensorOp
	EventIpcReceive
	EventLockAcquire
	EventLockRelease
	EventContextSwitch
)

// EventPayload is implemented by every concrete per-kind payload type
// below; Kind ties a decoded payload back to its EventKind tag.
type EventPayload interface {
	Kind() EventKind
}

type SyscallEntry struct {
	SyscallNum uint64
	Args       [6]uint64
}

func (SyscallEntry) Kind() EventKind { return EventSyscallEntry }

type SyscallExit struct {
	Result int64
	Data   []byte // nil if the syscall returned no output bytes
}

func (SyscallExit) Kind() EventKind { return EventSyscallExit }

type ThreadScheduled struct {
	CPUID            uint32
	PreviousThread   uint64
	HasPreviousThread bool
}

func (ThreadScheduled) Kind() EventKind { return EventThreadScheduled }

// PreemptReason enumerates why a thread was preempted.
type PreemptReason uint8

const (
	PreemptTimerExpired PreemptReason = iota
	PreemptHigherPriority
	PreemptYield
	PreemptBlocked
)

type ThreadPreempted struct {
	Reason PreemptReason
}

func (ThreadPreempted) Kind() EventKind { return EventThreadPreempted }

type TimerTick struct {
	TickCount uint64
}

func (TimerTick) Kind() EventKind { return EventTimerTick }

type SignalDelivered struct {
	Signal  uint32
	Handler uint64
}

func (SignalDelivered) Kind() EventKind { return EventSignalDelivered }

type RandomValue struct {
	Value uint64
}

func (RandomValue) Kind() EventKind { return EventRandomValue }

type IoRead struct {
	FD   uint32
	Data []byte
}

func (IoRead) Kind() EventKind { return EventIoRead }

type MemoryAccess struct {
	Address uint64
	Size    uint32
	IsWrite bool
	Value   uint64
}

func (MemoryAccess) Kind() EventKind { return EventMemoryAccess }

// TensorOpType enumerates the recordable tensor operations.
type TensorOpType uint8

const (
	TensorOpInference TensorOpType = iota
	TensorOpAlloc
	TensorOpFree
	TensorOpCopy
	TensorOpCompute
)

type TensorOp struct {
	OpType   TensorOpType
	TensorID uint64
	Result   []byte // nil if the op produced no result bytes
}

func (TensorOp) Kind() EventKind { return EventTensorOp }

type IpcReceive struct {
	EndpointID uint64
	Message    []byte
}

func (IpcReceive) Kind() EventKind { return EventIpcReceive }

type LockAcquire struct {
	LockAddr uint64
}

func (LockAcquire) Kind() EventKind { return EventLockAcquire }

type LockRelease struct {
	LockAddr uint64
}

func (LockRelease) Kind() EventKind { return EventLockRelease }

// SwitchReason enumerates why a context switch occurred.
type SwitchReason uint8

const (
	SwitchScheduled SwitchReason = iota
	SwitchBlocked
	SwitchExit
	SwitchPreempt
)

type ContextSwitch struct {
	FromThread uint64
	ToThread   uint64
	Reason     SwitchReason
}

func (ContextSwitch) Kind() EventKind { return EventContextSwitch }

// RecordEvent is one entry in a recording trace: a sequence number, a
// timestamp relative to recording start, the producing thread, and a
// variant payload.
type RecordEvent struct {
	Sequence  uint64
	Timestamp uint64
	ThreadID  uint64
	Payload   EventPayload
}

var recordLog = logrus.WithField("component", "timetravel.record")

// RecordingSession is an active, in-progress recording: an initial
// checkpoint plus a growing, bounded event buffer.
type RecordingSession struct {
	ID                uint64
	ProcessID         uint64
	Config            RecordingConfig
	InitialCheckpoint object.ID
	startTime         uint64

	mu     sync.Mutex
	events []RecordEvent
	count  uint64
	active int32
}

// NewRecordingSession begins a recording rooted at the given initial
// checkpoint, captured by the caller before starting the session.
func NewRecordingSession(id, processID uint64, initialCheckpoint object.ID, config RecordingConfig) *RecordingSession {
	return &RecordingSession{
		ID:                id,
		ProcessID:         processID,
		Config:            config,
		InitialCheckpoint: initialCheckpoint,
		startTime:         clock.NowNanos(),
		events:            make([]RecordEvent, 0, 1024),
		active:            1,
	}
}

func (s *RecordingSession) IsActive() bool {
	return atomic.LoadInt32(&s.active) != 0
}

// Record appends one event, stamping its sequence number and a
// timestamp relative to the session's start time. Returns BufferFull
// once Config.MaxEvents is reached, NotRecording if the session was
// already finalized.
func (s *RecordingSession) Record(threadID uint64, payload EventPayload) error {
	if !s.IsActive() {
		return kerr.New(kerr.NotRecording, "recording session %d is not active", s.ID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Config.MaxEvents > 0 && len(s.events) >= s.Config.MaxEvents {
		return kerr.New(kerr.BufferFull, "recording session %d exceeded %d events", s.ID, s.Config.MaxEvents)
	}

	seq := s.count
	s.count++
	s.events = append(s.events, RecordEvent{
		Sequence:  seq,
		Timestamp: clock.NowNanos() - s.startTime,
		ThreadID:  threadID,
		Payload:   payload,
	})
	return nil
}

// Finalize stops the session and returns the immutable trace.
func (s *RecordingSession) Finalize() *RecordingTrace {
	atomic.StoreInt32(&s.active, 0)
	s.mu.Lock()
	defer s.mu.Unlock()
	recordLog.WithFields(logrus.Fields{
		"recording": s.ID,
		"events":    len(s.events),
	}).Debug("recording session finalized")
	return &RecordingTrace{
		RecordingID:       s.ID,
		ProcessID:         s.ProcessID,
		InitialCheckpoint: s.InitialCheckpoint,
		Events:            append([]RecordEvent(nil), s.events...),
		StartTime:         s.startTime,
		EndTime:           clock.NowNanos(),
	}
}

// RecordingTrace is the finalized, immutable output of a recording
// session: the recording trace file.
type RecordingTrace struct {
	RecordingID       uint64
	ProcessID         uint64
	InitialCheckpoint object.ID
	Events            []RecordEvent
	StartTime         uint64
	EndTime           uint64
}

func (t *RecordingTrace) DurationNanos() uint64 {
	return t.EndTime - t.StartTime
}

func (t *RecordingTrace) EventCount() int {
	return len(t.Events)
}
