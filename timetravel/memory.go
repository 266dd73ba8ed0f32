package timetravel

import (
	"sync"

	"github.com/nyxkernel/corekernel/kerr"
)

// PageSize is the page granularity checkpoint capture operates at.
const PageSize = 4096

// VMA describes one mapped region of a process's address space.
type VMA struct {
	Start      uint64
	End        uint64
	Protection uint8
	Flags      uint32
}

func pageAlign(addr uint64) uint64 {
	return addr &^ (PageSize - 1)
}

// AddressSpace is a minimal, checkpointable virtual memory model: a
// list of VMAs plus their backing page contents. It stands in for the
// process address space a real kernel's page tables would expose; the
// dispatcher wires one per process the same way it wires in a CSpace.
type AddressSpace struct {
	mu      sync.Mutex
	regions []VMA
	pages   map[uint64][]byte
}

func NewAddressSpace() *AddressSpace {
	return &AddressSpace{pages: make(map[uint64][]byte)}
}

// Map installs a new VMA covering [start, end). Pages within it read
// as zero until written.
func (a *AddressSpace) Map(start, end uint64, protection uint8, flags uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.regions = append(a.regions, VMA{Start: start, End: end, Protection: protection, Flags: flags})
}

func (a *AddressSpace) regionContaining(addr uint64) (VMA, bool) {
	for _, r := range a.regions {
		if addr >= r.Start && addr < r.End {
			return r, true
		}
	}
	return VMA{}, false
}

// Write stores data starting at addr; the first and the last byte of the
// range must each lie in a mapped VMA.
func (a *AddressSpace) Write(addr uint64, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.regionContaining(addr); !ok {
		return kerr.New(kerr.InvalidArgument, "address 0x%x is not mapped", addr)
	}
	if _, ok := a.regionContaining(addr + uint64(len(data)) - 1); len(data) > 0 && !ok {
		return kerr.New(kerr.InvalidArgument, "write at 0x%x length %d crosses an unmapped boundary", addr, len(data))
	}
	for i := 0; i < len(data); {
		page := pageAlign(addr + uint64(i))
		off := (addr + uint64(i)) - page
		buf, ok := a.pages[page]
		if !ok {
			buf = make([]byte, PageSize)
			a.pages[page] = buf
		}
		n := copy(buf[off:], data[i:])
		i += n
	}
	return nil
}

// Read returns a copy of length bytes starting at addr. Unwritten
// pages read as zero.
func (a *AddressSpace) Read(addr uint64, length int) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]byte, length)
	for i := 0; i < length; {
		page := pageAlign(addr + uint64(i))
		off := int((addr + uint64(i)) - page)
		n := PageSize - off
		if remaining := length - i; n > remaining {
			n = remaining
		}
		if buf, ok := a.pages[page]; ok {
			copy(out[i:i+n], buf[off:off+n])
		}
		i += n
	}
	return out, nil
}

// Regions returns a copy of the current VMA list.
func (a *AddressSpace) Regions() []VMA {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]VMA, len(a.regions))
	copy(out, a.regions)
	return out
}
