package kvm

import (
	"fmt"
	"sync"
	"sync/atomic"
)

var (
	cachedPageSize int
	cachedPageErr  error
	pageSizeOnce   sync.Once

	cachedMaxSlots atomic.Int64
)

// PageSize returns the host page size in bytes. Every guest physical address,
// host backing address and region length must be a multiple of it.
func PageSize() (int, error) {
	pageSizeOnce.Do(func() {
		cachedPageSize, cachedPageErr = probePageSize(defaultKernel)
	})
	return cachedPageSize, cachedPageErr
}

// MaxSlots returns the number of memory slots KVM accepts per VM
// (KVM_CAP_NR_MEMSLOTS). It needs no VM, only access to /dev/kvm.
// A host that cannot answer yields ErrUnsupportedPlatform, never a guess.
func MaxSlots() (int, error) {
	if n := cachedMaxSlots.Load(); n > 0 {
		return int(n), nil
	}
	n, err := probeMaxSlots(defaultKernel, defaultDevice)
	if err != nil {
		return 0, err
	}
	cachedMaxSlots.Store(int64(n))
	return n, nil
}

func probePageSize(k kernel) (int, error) {
	ps := k.pageSize()
	if ps <= 0 || ps&(ps-1) != 0 {
		return 0, fmt.Errorf("%w: host reported page size %d", ErrUnsupportedPlatform, ps)
	}
	return ps, nil
}

func probeMaxSlots(k kernel, device string) (int, error) {
	fd, err := k.open(device)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrUnsupportedPlatform, kvmErr("open "+device, err))
	}
	defer k.close(fd)

	return queryMaxSlots(k, fd)
}

func queryMaxSlots(k kernel, fd int) (int, error) {
	n, err := k.checkExtension(fd, kvmCapNrMemslots)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrUnsupportedPlatform, kvmErr("KVM_CHECK_EXTENSION(KVM_CAP_NR_MEMSLOTS)", err))
	}
	if n <= 0 {
		return 0, fmt.Errorf("%w: KVM_CAP_NR_MEMSLOTS not reported", ErrUnsupportedPlatform)
	}
	return n, nil
}
