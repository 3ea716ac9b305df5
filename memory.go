package kvm

import (
	"fmt"
	"math"
	"slices"
	"unsafe"
)

// Region is one installed guest physical memory slot.
type Region struct {
	Slot      uint32  `json:"slot"`
	GuestPhys uint64  `json:"guest_phys"`
	HostAddr  uintptr `json:"host_addr"`
	Size      uint64  `json:"size"`
}

// End returns the first guest physical address past the region.
func (r Region) End() uint64 { return r.GuestPhys + r.Size }

func (r Region) overlaps(guestPhys, size uint64) bool {
	return guestPhys < r.End() && r.GuestPhys < guestPhys+size
}

// MemoryRegions is the slot table of a VM. The VM only registers mappings;
// the caller keeps ownership of the host memory and must keep it mapped
// until the slot is removed.
type MemoryRegions struct {
	m *machine
}

func (mr *MemoryRegions) isPageAligned(v uint64) bool {
	return v&(mr.m.pageSize-1) == 0
}

// Install maps [guestPhys, guestPhys+size) onto host memory at hostAddr and
// returns the lowest free slot id. Validation failures never reach the kernel.
func (mr *MemoryRegions) Install(guestPhys uint64, hostAddr uintptr, size uint64) (uint32, error) {
	m := mr.m

	m.mu.Lock()
	defer m.mu.Unlock()

	m.mustBeActive("Install")

	if size == 0 {
		recordValidationError()
		return 0, fmt.Errorf("%w: size must be non-zero", ErrAlignmentViolation)
	}
	if !mr.isPageAligned(guestPhys) {
		recordValidationError()
		return 0, fmt.Errorf("%w: guestPhys 0x%x (page size %d)", ErrAlignmentViolation, guestPhys, m.pageSize)
	}
	if !mr.isPageAligned(uint64(hostAddr)) {
		recordValidationError()
		return 0, fmt.Errorf("%w: host address 0x%x (page size %d)", ErrAlignmentViolation, hostAddr, m.pageSize)
	}
	if !mr.isPageAligned(size) {
		recordValidationError()
		return 0, fmt.Errorf("%w: size 0x%x (page size %d)", ErrAlignmentViolation, size, m.pageSize)
	}
	// Prevent integer overflow of the guest or host range.
	if guestPhys > math.MaxUint64-size || uint64(hostAddr) > math.MaxUint64-size {
		recordValidationError()
		return 0, fmt.Errorf("%w: range 0x%x+0x%x wraps the address space", ErrAlignmentViolation, guestPhys, size)
	}

	for _, r := range m.slots {
		if r.overlaps(guestPhys, size) {
			recordValidationError()
			return 0, fmt.Errorf("%w: [0x%x, 0x%x) intersects slot %d [0x%x, 0x%x)",
				ErrRegionOverlap, guestPhys, guestPhys+size, r.Slot, r.GuestPhys, r.End())
		}
	}

	slot, ok := mr.freeSlot()
	if !ok {
		recordValidationError()
		return 0, fmt.Errorf("%w: all %d slots in use", ErrSlotExhausted, m.maxSlots)
	}

	region := userspaceMemoryRegion{
		Slot:          slot,
		GuestPhysAddr: guestPhys,
		MemorySize:    size,
		UserspaceAddr: uint64(hostAddr),
	}
	if err := m.k.setUserMemoryRegion(m.vmFd, &region); err != nil {
		recordKernelError()
		return 0, fmt.Errorf("%w: slot %d at 0x%x: %w", ErrKernelRegionInstallFailed, slot, guestPhys, kvmErr("KVM_SET_USER_MEMORY_REGION", err))
	}

	m.slots[slot] = Region{
		Slot:      slot,
		GuestPhys: guestPhys,
		HostAddr:  hostAddr,
		Size:      size,
	}
	// Every id below slot is in use.
	m.nextFree = slot + 1
	recordRegionInstall()

	m.log.Debug("kvm: region installed",
		"slot", slot,
		"guest_phys", fmt.Sprintf("%#x", guestPhys),
		"size", size,
	)
	return slot, nil
}

// InstallBytes installs host as the backing memory for guestPhys. The slice
// must start on a page boundary, as returned by unix.Mmap.
func (mr *MemoryRegions) InstallBytes(guestPhys uint64, host []byte) (uint32, error) {
	if len(host) == 0 {
		// Lifecycle violations still take priority over argument errors.
		func() {
			mr.m.mu.Lock()
			defer mr.m.mu.Unlock()
			mr.m.mustBeActive("InstallBytes")
		}()
		recordValidationError()
		return 0, fmt.Errorf("%w: empty host buffer", ErrAlignmentViolation)
	}
	return mr.Install(guestPhys, uintptr(unsafe.Pointer(&host[0])), uint64(len(host)))
}

// freeSlot returns the lowest id in [0, maxSlots) not in use, starting the
// search at the nextFree hint. Callers hold m.mu.
func (mr *MemoryRegions) freeSlot() (uint32, bool) {
	m := mr.m
	for id := int(m.nextFree); id < m.maxSlots; id++ {
		if _, used := m.slots[uint32(id)]; !used {
			return uint32(id), true
		}
	}
	return 0, false
}

// Remove unregisters slot. On a kernel failure the slot stays installed.
func (mr *MemoryRegions) Remove(slot uint32) error {
	m := mr.m

	m.mu.Lock()
	defer m.mu.Unlock()

	m.mustBeActive("Remove")

	r, ok := m.slots[slot]
	if !ok {
		recordValidationError()
		return fmt.Errorf("%w: %d", ErrUnknownSlot, slot)
	}

	// A zero memory_size deletes the slot.
	region := userspaceMemoryRegion{
		Slot:          slot,
		GuestPhysAddr: r.GuestPhys,
		UserspaceAddr: uint64(r.HostAddr),
	}
	if err := m.k.setUserMemoryRegion(m.vmFd, &region); err != nil {
		recordKernelError()
		return fmt.Errorf("%w: slot %d: %w", ErrKernelRegionRemoveFailed, slot, kvmErr("KVM_SET_USER_MEMORY_REGION", err))
	}

	delete(m.slots, slot)
	if slot < m.nextFree {
		m.nextFree = slot
	}
	recordRegionRemove()

	m.log.Debug("kvm: region removed", "slot", slot)
	return nil
}

// Regions returns a snapshot of the installed slots ordered by guest address.
func (mr *MemoryRegions) Regions() []Region {
	m := mr.m

	m.mu.Lock()
	defer m.mu.Unlock()

	m.mustBeActive("Regions")

	out := make([]Region, 0, len(m.slots))
	for _, r := range m.slots {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b Region) int {
		switch {
		case a.GuestPhys < b.GuestPhys:
			return -1
		case a.GuestPhys > b.GuestPhys:
			return 1
		}
		return 0
	})
	return out
}

// Len returns the number of installed slots.
func (mr *MemoryRegions) Len() int {
	m := mr.m

	m.mu.Lock()
	defer m.mu.Unlock()

	m.mustBeActive("Len")
	return len(m.slots)
}
