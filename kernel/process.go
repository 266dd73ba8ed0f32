package kernel

import (
	"sync"

	"github.com/nyxkernel/corekernel/cspace"
	"github.com/nyxkernel/corekernel/ksignal"
	"github.com/nyxkernel/corekernel/object"
	"github.com/nyxkernel/corekernel/timetravel"
)

// Process is the process-level aggregate: one CSpace, one address
// space, the POSIX-style signal action table and pending set, and the
// threads scheduled within it. It is what a Checkpoint ultimately
// captures and a Restore rebuilds.
type Process struct {
	ID     uint64
	Parent uint64

	CSpace  *cspace.CSpace
	AS      *timetravel.AddressSpace
	Signals *ksignal.ProcessState

	mu       sync.Mutex
	threads  map[uint64]*Thread
	nextTID  uint64
	exited   bool
	exitCode int32

	Recording *timetravel.RecordingSession
}

var (
	nextPIDMu sync.Mutex
	nextPID   uint64 = 1
)

func allocatePID() uint64 {
	nextPIDMu.Lock()
	defer nextPIDMu.Unlock()
	pid := nextPID
	nextPID++
	return pid
}

// NewProcess creates a process with an empty CSpace and address space
// and no threads; callers spawn the initial thread separately via
// CreateThread, mirroring THREAD_CREATE being a distinct syscall from
// PROCESS_SPAWN.
func NewProcess(parent uint64) *Process {
	return &Process{
		ID:      allocatePID(),
		Parent:  parent,
		CSpace:  cspace.New(),
		AS:      timetravel.NewAddressSpace(),
		Signals: ksignal.NewProcessState(),
		threads: make(map[uint64]*Thread),
	}
}

// CreateThread allocates a new thread within p and returns it.
func (p *Process) CreateThread() *Thread {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextTID++
	t := &Thread{
		ID:      p.nextTID,
		Process: p,
		Signals: ksignal.NewThreadState(),
	}
	p.threads[t.ID] = t
	return t
}

// RemoveThread drops a thread from the process's live thread table
// (THREAD_EXIT).
func (p *Process) RemoveThread(tid uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.threads, tid)
}

// Thread looks up a live thread by id.
func (p *Process) Thread(tid uint64) (*Thread, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.threads[tid]
	return t, ok
}

// ThreadCount reports how many threads are still scheduled in p
// (PROCESS_WAIT uses this to decide whether a process has fully exited).
func (p *Process) ThreadCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.threads)
}

func (p *Process) MarkExited(code int32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exited = true
	p.exitCode = code
}

func (p *Process) Exited() (bool, int32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exited, p.exitCode
}

// GlobalObjects is a process-independent object.Table. The Dispatcher
// keeps its own per-kind maps of the objects its syscalls create and
// does not register them here.
var GlobalObjects = object.NewTable()
