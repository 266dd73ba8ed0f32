package driver

import (
	"sync"

	"github.com/nyxkernel/corekernel/kerr"
)

// MsiAllocator hands out contiguous MSI vector ranges starting above
// the line-based IRQ space, vectors 48 and up. It is additive and
// opt-in alongside line-based IRQ registration, not a replacement for
// it.
type MsiAllocator struct {
	mu   sync.Mutex
	next uint16
}

const msiVectorBase = 48
const msiVectorMax = 255

func NewMsiAllocator() *MsiAllocator {
	return &MsiAllocator{next: msiVectorBase}
}

// AllocateMSIVectors reserves count contiguous vectors and returns the
// base vector number.
func (m *MsiAllocator) AllocateMSIVectors(count uint8) (uint8, error) {
	if count == 0 {
		return 0, kerr.New(kerr.InvalidArgument, "must allocate at least one MSI vector")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	base := m.next
	if int(base)+int(count) > msiVectorMax+1 {
		return 0, kerr.New(kerr.OutOfResources, "no contiguous range of %d MSI vectors remains", count)
	}
	m.next += uint16(count)
	return uint8(base), nil
}

// MsiConfig is one device's single-MSI programming: the address/data
// pair written to the device's MSI capability registers.
type MsiConfig struct {
	BaseVector uint8
	Count      uint8
	Address    uint64
	Data       uint32
}

// ConfigureMSI validates a device's MSI configuration. Actual
// address/data register programming is device-specific and, as in the
// original, left to the caller's device driver; this only checks that
// the vector range fits in the vector space (it does not check that the
// range came from an MsiAllocator, and it records nothing).
func ConfigureMSI(cfg MsiConfig) error {
	if int(cfg.BaseVector)+int(cfg.Count) > msiVectorMax+1 {
		return kerr.New(kerr.InvalidArgument, "MSI vector range [%d, %d) exceeds the valid vector space", cfg.BaseVector, int(cfg.BaseVector)+int(cfg.Count))
	}
	return nil
}

// MsiXEntry is one MSI-X table entry: (vector, address, data).
type MsiXEntry struct {
	Vector  uint8
	Address uint64
	Data    uint32
}

// ConfigureMSIX validates an MSI-X table programming request. A real
// driver would write each entry to the device's memory-mapped MSI-X
// table via an MmioAccessor; this only rejects duplicate vectors and
// records nothing, leaving the entries for the caller to apply.
func ConfigureMSIX(entries []MsiXEntry) error {
	seen := make(map[uint8]bool, len(entries))
	for _, e := range entries {
		if seen[e.Vector] {
			return kerr.New(kerr.InvalidArgument, "duplicate MSI-X vector %d in table", e.Vector)
		}
		seen[e.Vector] = true
	}
	return nil
}
