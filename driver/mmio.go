// Package driver implements the MMIO region registry and IRQ
// registration/wait/ack boundary, plus an additional MSI/MSI-X vector
// allocator for drivers that prefer message-signaled interrupts over
// line-based ones.
package driver

import (
	"encoding/binary"
	"sync"

	mapset "github.com/deckarep/golang-set"
	"github.com/sirupsen/logrus"

	"github.com/nyxkernel/corekernel/kerr"
)

var log = logrus.WithField("component", "driver")

// PageSize is the granularity MMIO regions are aligned to.
const PageSize = 4096

func alignDown(v uint64) uint64 { return v &^ (PageSize - 1) }
func alignUp(v uint64) uint64   { return (v + PageSize - 1) &^ (PageSize - 1) }

// MmioRegion is one registered device register window.
type MmioRegion struct {
	PhysAddr uint64
	Size     uint64
	Owner    uint64
	buf      []byte
}

// MmioRegistry enforces I7 (MMIO regions are disjoint) and hands out
// bounds-checked accessors over each registered region's backing
// buffer, which stands in for a real kernel's uncached page-table
// mapping of device registers.
type MmioRegistry struct {
	mu       sync.RWMutex
	regions  map[uint64]*MmioRegion
	occupied mapset.Set // page-aligned physical addresses in use, for a fast pre-check before the authoritative interval scan
}

func NewMmioRegistry() *MmioRegistry {
	return &MmioRegistry{
		regions:  make(map[uint64]*MmioRegion),
		occupied: mapset.NewSet(),
	}
}

// Register installs a new (phys, size) region, page-aligning both, and
// rejects any overlap with an already-registered region (I7).
func (r *MmioRegistry) Register(owner, physAddr, size uint64) (*MmioRegion, error) {
	aligned := alignDown(physAddr)
	alignedSize := alignUp(size)

	r.mu.Lock()
	defer r.mu.Unlock()

	newEnd := aligned + alignedSize
	for _, existing := range r.regions {
		existingEnd := existing.PhysAddr + existing.Size
		if aligned < existingEnd && newEnd > existing.PhysAddr {
			return nil, kerr.New(kerr.MmioConflict, "region [0x%x, 0x%x) overlaps existing region [0x%x, 0x%x)",
				aligned, newEnd, existing.PhysAddr, existingEnd)
		}
	}

	// Size is page-aligned for conflict checks; the backing buffer keeps
	// the requested size, which is what accessors bound offsets against.
	region := &MmioRegion{PhysAddr: aligned, Size: alignedSize, Owner: owner, buf: make([]byte, size)}
	r.regions[aligned] = region
	for p := aligned; p < newEnd; p += PageSize {
		r.occupied.Add(p)
	}
	log.WithFields(logrus.Fields{"phys": aligned, "size": alignedSize}).Debug("registered MMIO region")
	return region, nil
}

// Unregister removes a previously registered region.
func (r *MmioRegistry) Unregister(physAddr uint64) error {
	aligned := alignDown(physAddr)
	r.mu.Lock()
	defer r.mu.Unlock()
	region, ok := r.regions[aligned]
	if !ok {
		return kerr.New(kerr.NotFound, "no MMIO region registered at 0x%x", aligned)
	}
	delete(r.regions, aligned)
	for p := aligned; p < aligned+region.Size; p += PageSize {
		r.occupied.Remove(p)
	}
	return nil
}

// Lookup returns the region containing physAddr, if any.
func (r *MmioRegistry) Lookup(physAddr uint64) (*MmioRegion, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	page := alignDown(physAddr)
	if !r.occupied.Contains(page) {
		return nil, kerr.New(kerr.NotFound, "0x%x is not within any registered MMIO region", physAddr)
	}
	for _, region := range r.regions {
		if physAddr >= region.PhysAddr && physAddr < region.PhysAddr+region.Size {
			return region, nil
		}
	}
	return nil, kerr.New(kerr.NotFound, "0x%x is not within any registered MMIO region", physAddr)
}

// MmioAccessor is a bounds-checked, sized read/write handle onto one
// region.
type MmioAccessor struct {
	region *MmioRegion
}

func NewMmioAccessor(region *MmioRegion) *MmioAccessor {
	return &MmioAccessor{region: region}
}

// PhysAddr returns the page-aligned base address of the accessor's
// backing region, as needed to unregister it by address.
func (a *MmioAccessor) PhysAddr() uint64 {
	return a.region.PhysAddr
}

func (a *MmioAccessor) checkBounds(offset uint64, width int) error {
	size := uint64(len(a.region.buf))
	if offset+uint64(width) > size {
		return kerr.New(kerr.InvalidArgument, "offset 0x%x width %d exceeds region size %d", offset, width, size)
	}
	return nil
}

func (a *MmioAccessor) Read8(offset uint64) (uint8, error) {
	if err := a.checkBounds(offset, 1); err != nil {
		return 0, err
	}
	return a.region.buf[offset], nil
}

func (a *MmioAccessor) Read16(offset uint64) (uint16, error) {
	if err := a.checkBounds(offset, 2); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(a.region.buf[offset:]), nil
}

func (a *MmioAccessor) Read32(offset uint64) (uint32, error) {
	if err := a.checkBounds(offset, 4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(a.region.buf[offset:]), nil
}

func (a *MmioAccessor) Read64(offset uint64) (uint64, error) {
	if err := a.checkBounds(offset, 8); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(a.region.buf[offset:]), nil
}

func (a *MmioAccessor) Write8(offset uint64, v uint8) error {
	if err := a.checkBounds(offset, 1); err != nil {
		return err
	}
	a.region.buf[offset] = v
	return nil
}

func (a *MmioAccessor) Write16(offset uint64, v uint16) error {
	if err := a.checkBounds(offset, 2); err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(a.region.buf[offset:], v)
	return nil
}

func (a *MmioAccessor) Write32(offset uint64, v uint32) error {
	if err := a.checkBounds(offset, 4); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(a.region.buf[offset:], v)
	return nil
}

func (a *MmioAccessor) Write64(offset uint64, v uint64) error {
	if err := a.checkBounds(offset, 8); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(a.region.buf[offset:], v)
	return nil
}
