// Package timetravel implements checkpoint capture/restore and
// execution recording: immutable, refcount-managed process snapshots,
// and a bounded append-only event trace with a variant-tagged,
// length-prefixed wire format.
package timetravel

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/nyxkernel/corekernel/clock"
	"github.com/nyxkernel/corekernel/cspace"
	"github.com/nyxkernel/corekernel/kerr"
	"github.com/nyxkernel/corekernel/object"
	"github.com/nyxkernel/corekernel/rights"
)

var log = logrus.WithField("component", "timetravel")

// PageKind tags how a page's payload is stored in a MemorySnapshot.
type PageKind uint8

const (
	PageCopied PageKind = iota
	PageShared
	PageZero
)

// PageData is one page's checkpointed payload.
type PageData struct {
	Kind    PageKind
	Data    []byte // valid when Kind == PageCopied
	PhysRef uint64 // valid when Kind == PageShared
}

type MemoryRegionSnapshot struct {
	Start      uint64
	End        uint64
	Protection uint8
	Flags      uint32
}

// MemorySnapshot captures every VMA and, per page, either a copy of
// its contents or (not produced by Capture today, since this kernel
// always copies rather than implementing copy-on-write) a shared
// physical-frame reference.
type MemorySnapshot struct {
	Regions []MemoryRegionSnapshot
	Pages   map[uint64]PageData
}

func captureMemory(as *AddressSpace) MemorySnapshot {
	snap := MemorySnapshot{Pages: make(map[uint64]PageData)}
	for _, r := range as.Regions() {
		snap.Regions = append(snap.Regions, MemoryRegionSnapshot{
			Start: r.Start, End: r.End, Protection: r.Protection, Flags: r.Flags,
		})
		for addr := pageAlign(r.Start); addr < r.End; addr += PageSize {
			data, _ := as.Read(addr, PageSize)
			snap.Pages[addr] = PageData{Kind: PageCopied, Data: data}
		}
	}
	return snap
}

func (m MemorySnapshot) restore(as *AddressSpace) {
	for _, r := range m.Regions {
		as.Map(r.Start, r.End, r.Protection, r.Flags)
	}
	for addr, page := range m.Pages {
		switch page.Kind {
		case PageCopied:
			as.Write(addr, page.Data)
		case PageZero:
			as.Write(addr, make([]byte, PageSize))
		case PageShared:
			// A shared physical frame would be re-mapped CoW here; this
			// kernel's Capture never produces PageShared (see above), so
			// restoring one is only reachable via a hand-built snapshot.
		}
	}
}

type ThreadSnapshot struct {
	ThreadID           uint64
	Registers          RegisterState
	TLSBase            uint64
	StackPointer       uint64
	InstructionPointer uint64
	State              uint8
}

// RegisterState mirrors an x86_64 general-purpose + segment register
// file plus an opaque FPU/SSE save area.
type RegisterState struct {
	RAX, RBX, RCX, RDX    uint64
	RSI, RDI, RBP, RSP    uint64
	R8, R9, R10, R11      uint64
	R12, R13, R14, R15    uint64
	RIP, RFlags           uint64
	CS, SS, DS, ES, FS, GS uint64
	FPUState              [512]byte
}

type FileSnapshot struct {
	FD     uint32
	Path   string
	Offset uint64
	Flags  uint32
}

type TensorSnapshot struct {
	TensorID   uint64
	DeviceType uint8
	Shape      []uint64
	Dtype      uint8
	Data       []byte
}

// CSpaceSnapshot is an exported slot table, restored as a fresh set of
// root capabilities.
type CSpaceSnapshot struct {
	Slots map[cspace.Handle]cspace.SlotExport
}

// Checkpoint is an immutable, refcount-managed process snapshot.
type Checkpoint struct {
	entry *object.Entry

	ID        object.ID
	ProcessID uint64
	Name      string
	CreatedAt uint64
	Memory    MemorySnapshot
	Threads   []ThreadSnapshot
	CSpace    CSpaceSnapshot
	Files     []FileSnapshot
	Tensors   []TensorSnapshot // nil unless tensors were requested

	mu   sync.Mutex
	live bool
}

// Capture walks the process's address space, threads, capability
// space, and open files (and optionally tensors) and assembles an
// immutable Checkpoint, returning it alongside a fresh object id a
// capability can name.
func Capture(processID uint64, name string, as *AddressSpace, threads []ThreadSnapshot, cs *cspace.CSpace, files []FileSnapshot, tensors []TensorSnapshot, includeTensors bool) (*Checkpoint, object.ID) {
	ck := &Checkpoint{
		ProcessID: processID,
		Name:      name,
		CreatedAt: clock.NowNanos(),
		Memory:    captureMemory(as),
		Threads:   append([]ThreadSnapshot(nil), threads...),
		CSpace:    CSpaceSnapshot{Slots: cs.ExportAll()},
		Files:     append([]FileSnapshot(nil), files...),
		live:      true,
	}
	if includeTensors {
		ck.Tensors = append([]TensorSnapshot(nil), tensors...)
	}
	ck.entry = object.NewEntry(rights.TypeCheckpoint, func() {
		ck.mu.Lock()
		ck.live = false
		ck.mu.Unlock()
		log.WithField("checkpoint", ck.ID).Debug("checkpoint released, no remaining references")
	})
	ck.ID = ck.entry.ID
	return ck, ck.ID
}

func (ck *Checkpoint) Ref()   { ck.entry.Ref() }
func (ck *Checkpoint) Unref() { ck.entry.Unref() }

func (ck *Checkpoint) Live() bool {
	ck.mu.Lock()
	defer ck.mu.Unlock()
	return ck.live
}

// RestoreMode selects IN_PLACE vs FORK restore semantics.
type RestoreMode int

const (
	RestoreInPlace RestoreMode = iota
	RestoreFork
)

var processIDCounter uint64

func newProcessID() uint64 {
	processIDCounter++
	return processIDCounter
}

// Restore writes the checkpoint's memory into as and rebuilds a new
// CSpace from the checkpoint's exported slots, returning the effective
// process id and that CSpace. For IN_PLACE the returned id equals
// processID; for FORK a new process id is minted and returned. In both
// modes the caller's existing CSpace is left untouched.
func Restore(ck *Checkpoint, mode RestoreMode, as *AddressSpace, processID uint64) (uint64, *cspace.CSpace, error) {
	if !ck.Live() {
		return 0, nil, kerr.New(kerr.NotFound, "checkpoint %d is no longer live", ck.ID)
	}
	ck.Memory.restore(as)
	restoredCSpace := cspace.Import(ck.CSpace.Slots)

	switch mode {
	case RestoreInPlace:
		return processID, restoredCSpace, nil
	case RestoreFork:
		return newProcessID(), restoredCSpace, nil
	default:
		return 0, nil, kerr.New(kerr.InvalidArgument, "unknown restore mode %d", mode)
	}
}
