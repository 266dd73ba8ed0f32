package timetravel

import (
	"bytes"
	"encoding/binary"

	"github.com/nyxkernel/corekernel/kerr"
	"github.com/nyxkernel/corekernel/object"
)

// TraceMagic is the 8-byte magic + version string opening every trace
// file.
const TraceMagic = "NYXREC01"

const headerSize = 56

// Serialize encodes the trace as the 56-byte header followed by one
// length-prefixed, variant-tagged record per event. Values are
// little-endian throughout.
func (t *RecordingTrace) Serialize() []byte {
	var buf bytes.Buffer
	buf.WriteString(TraceMagic)
	writeU64(&buf, t.RecordingID)
	writeU64(&buf, t.ProcessID)
	writeU64(&buf, uint64(t.InitialCheckpoint))
	writeU64(&buf, t.StartTime)
	writeU64(&buf, t.EndTime)
	writeU64(&buf, uint64(len(t.Events)))

	for _, ev := range t.Events {
		rec := encodeEvent(ev)
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(rec)))
		buf.Write(lenBuf[:])
		buf.Write(rec)
	}
	return buf.Bytes()
}

// Deserialize parses a trace produced by Serialize, validating the
// magic and reconstructing every event.
func Deserialize(data []byte) (*RecordingTrace, error) {
	if len(data) < headerSize || string(data[0:8]) != TraceMagic {
		return nil, kerr.New(kerr.InvalidArgument, "not a recording trace (bad magic or short header)")
	}
	r := bytes.NewReader(data[8:])

	trace := &RecordingTrace{}
	trace.RecordingID = readU64(r)
	trace.ProcessID = readU64(r)
	trace.InitialCheckpoint = object.ID(readU64(r))
	trace.StartTime = readU64(r)
	trace.EndTime = readU64(r)
	eventCount := readU64(r)

	trace.Events = make([]RecordEvent, 0, eventCount)
	for i := uint64(0); i < eventCount; i++ {
		var lenBuf [4]byte
		if _, err := r.Read(lenBuf[:]); err != nil {
			return nil, kerr.New(kerr.InvalidArgument, "truncated trace: missing length prefix for event %d", i)
		}
		recLen := binary.LittleEndian.Uint32(lenBuf[:])
		rec := make([]byte, recLen)
		if _, err := r.Read(rec); err != nil {
			return nil, kerr.New(kerr.InvalidArgument, "truncated trace: short record for event %d", i)
		}
		ev, err := decodeEvent(rec)
		if err != nil {
			return nil, err
		}
		trace.Events = append(trace.Events, ev)
	}
	return trace, nil
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeBytes(buf *bytes.Buffer, data []byte) {
	writeU32(buf, uint32(len(data)))
	buf.Write(data)
}

func readU64(r *bytes.Reader) uint64 {
	var b [8]byte
	r.Read(b[:])
	return binary.LittleEndian.Uint64(b[:])
}

func readU32(r *bytes.Reader) uint32 {
	var b [4]byte
	r.Read(b[:])
	return binary.LittleEndian.Uint32(b[:])
}

func readBytes(r *bytes.Reader) []byte {
	n := readU32(r)
	if n == 0 {
		return nil
	}
	out := make([]byte, n)
	r.Read(out)
	return out
}

func writeOptionalBytes(buf *bytes.Buffer, data []byte) {
	if data == nil {
		buf.WriteByte(0)
		return
	}
	buf.WriteByte(1)
	writeBytes(buf, data)
}

func readOptionalBytes(r *bytes.Reader) []byte {
	present, _ := r.ReadByte()
	if present == 0 {
		return nil
	}
	return readBytes(r)
}

// encodeEvent produces one variant-tagged record body: kind (1 byte) |
// sequence (8) | timestamp (8) | thread_id (8) | payload.
func encodeEvent(ev RecordEvent) []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(ev.Payload.Kind()))
	writeU64(&buf, ev.Sequence)
	writeU64(&buf, ev.Timestamp)
	writeU64(&buf, ev.ThreadID)

	switch p := ev.Payload.(type) {
	case SyscallEntry:
		writeU64(&buf, p.SyscallNum)
		for _, a := range p.Args {
			writeU64(&buf, a)
		}
	case SyscallExit:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], uint64(p.Result))
		buf.Write(b[:])
		writeOptionalBytes(&buf, p.Data)
	case ThreadScheduled:
		writeU32(&buf, p.CPUID)
		if p.HasPreviousThread {
			buf.WriteByte(1)
			writeU64(&buf, p.PreviousThread)
		} else {
			buf.WriteByte(0)
		}
	case ThreadPreempted:
		buf.WriteByte(byte(p.Reason))
	case TimerTick:
		writeU64(&buf, p.TickCount)
	case SignalDelivered:
		writeU32(&buf, p.Signal)
		writeU64(&buf, p.Handler)
	case RandomValue:
		writeU64(&buf, p.Value)
	case IoRead:
		writeU32(&buf, p.FD)
		writeBytes(&buf, p.Data)
	case MemoryAccess:
		writeU64(&buf, p.Address)
		writeU32(&buf, p.Size)
		if p.IsWrite {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
		writeU64(&buf, p.Value)
	case TensorOp:
		buf.WriteByte(byte(p.OpType))
		writeU64(&buf, p.TensorID)
		writeOptionalBytes(&buf, p.Result)
	case IpcReceive:
		writeU64(&buf, p.EndpointID)
		writeBytes(&buf, p.Message)
	case LockAcquire:
		writeU64(&buf, p.LockAddr)
	case LockRelease:
		writeU64(&buf, p.LockAddr)
	case ContextSwitch:
		writeU64(&buf, p.FromThread)
		writeU64(&buf, p.ToThread)
		buf.WriteByte(byte(p.Reason))
	}
	return buf.Bytes()
}

func decodeEvent(rec []byte) (RecordEvent, error) {
	if len(rec) < 25 {
		return RecordEvent{}, kerr.New(kerr.InvalidArgument, "event record too short")
	}
	kind := EventKind(rec[0])
	r := bytes.NewReader(rec[1:])
	seq := readU64(r)
	ts := readU64(r)
	threadID := readU64(r)

	var payload EventPayload
	switch kind {
	case EventSyscallEntry:
		num := readU64(r)
		var args [6]uint64
		for i := range args {
			args[i] = readU64(r)
		}
		payload = SyscallEntry{SyscallNum: num, Args: args}
	case EventSyscallExit:
		result := int64(readU64(r))
		payload = SyscallExit{Result: result, Data: readOptionalBytes(r)}
	case EventThreadScheduled:
		cpu := readU32(r)
		has, _ := r.ReadByte()
		var prev uint64
		if has == 1 {
			prev = readU64(r)
		}
		payload = ThreadScheduled{CPUID: cpu, PreviousThread: prev, HasPreviousThread: has == 1}
	case EventThreadPreempted:
		reason, _ := r.ReadByte()
		payload = ThreadPreempted{Reason: PreemptReason(reason)}
	case EventTimerTick:
		payload = TimerTick{TickCount: readU64(r)}
	case EventSignalDelivered:
		sig := readU32(r)
		handler := readU64(r)
		payload = SignalDelivered{Signal: sig, Handler: handler}
	case EventRandomValue:
		payload = RandomValue{Value: readU64(r)}
	case EventIoRead:
		fd := readU32(r)
		data := readBytes(r)
		payload = IoRead{FD: fd, Data: data}
	case EventMemoryAccess:
		addr := readU64(r)
		size := readU32(r)
		isWrite, _ := r.ReadByte()
		value := readU64(r)
		payload = MemoryAccess{Address: addr, Size: size, IsWrite: isWrite == 1, Value: value}
	case EventTensorOp:
		opType, _ := r.ReadByte()
		tensorID := readU64(r)
		result := readOptionalBytes(r)
		payload = TensorOp{OpType: TensorOpType(opType), TensorID: tensorID, Result: result}
	case EventIpcReceive:
		endpointID := readU64(r)
		msg := readBytes(r)
		payload = IpcReceive{EndpointID: endpointID, Message: msg}
	case EventLockAcquire:
		payload = LockAcquire{LockAddr: readU64(r)}
	case EventLockRelease:
		payload = LockRelease{LockAddr: readU64(r)}
	case EventContextSwitch:
		from := readU64(r)
		to := readU64(r)
		reason, _ := r.ReadByte()
		payload = ContextSwitch{FromThread: from, ToThread: to, Reason: SwitchReason(reason)}
	default:
		return RecordEvent{}, kerr.New(kerr.InvalidArgument, "unknown event kind %d", kind)
	}

	return RecordEvent{Sequence: seq, Timestamp: ts, ThreadID: threadID, Payload: payload}, nil
}
