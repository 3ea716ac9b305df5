package kvm

import (
	"sync/atomic"
	"time"
)

// Counters for monitoring control plane operations
var (
	// Lifecycle counters
	vmCreateCount    uint64
	vmDestroyCount   uint64
	vcpuCreateCount  uint64
	vcpuDestroyCount uint64
	vmInitAttempts   uint64

	// Slot and register counters
	regionInstalls uint64
	regionRemovals uint64
	registerReads  uint64

	// Timing metrics (nanoseconds)
	totalVMInitTime uint64

	// Error counters
	validationErrors uint64
	kernelErrors     uint64
)

// Metrics is a snapshot of the package counters.
type Metrics struct {
	VMCreated        uint64 `json:"vm_created"`
	VMDestroyed      uint64 `json:"vm_destroyed"`
	VCPUCreated      uint64 `json:"vcpu_created"`
	VCPUDestroyed    uint64 `json:"vcpu_destroyed"`
	RegionsInstalled uint64 `json:"regions_installed"`
	RegionsRemoved   uint64 `json:"regions_removed"`
	RegisterReads    uint64 `json:"register_reads"`
	InitAttempts     uint64 `json:"init_attempts"`
	AvgVMInitTimeNs  uint64 `json:"avg_vm_init_time_ns"`
	ValidationErrors uint64 `json:"validation_errors"`
	KernelErrors     uint64 `json:"kernel_errors"`
}

// GetMetrics returns the current counters
func GetMetrics() Metrics {
	attempts := atomic.LoadUint64(&vmInitAttempts)

	var avgInit uint64
	if attempts > 0 {
		avgInit = atomic.LoadUint64(&totalVMInitTime) / attempts
	}

	return Metrics{
		VMCreated:        atomic.LoadUint64(&vmCreateCount),
		VMDestroyed:      atomic.LoadUint64(&vmDestroyCount),
		VCPUCreated:      atomic.LoadUint64(&vcpuCreateCount),
		VCPUDestroyed:    atomic.LoadUint64(&vcpuDestroyCount),
		RegionsInstalled: atomic.LoadUint64(&regionInstalls),
		RegionsRemoved:   atomic.LoadUint64(&regionRemovals),
		RegisterReads:    atomic.LoadUint64(&registerReads),
		InitAttempts:     attempts,
		AvgVMInitTimeNs:  avgInit,
		ValidationErrors: atomic.LoadUint64(&validationErrors),
		KernelErrors:     atomic.LoadUint64(&kernelErrors),
	}
}

// ResetMetrics clears all counters
func ResetMetrics() {
	atomic.StoreUint64(&vmCreateCount, 0)
	atomic.StoreUint64(&vmDestroyCount, 0)
	atomic.StoreUint64(&vcpuCreateCount, 0)
	atomic.StoreUint64(&vcpuDestroyCount, 0)
	atomic.StoreUint64(&vmInitAttempts, 0)
	atomic.StoreUint64(&regionInstalls, 0)
	atomic.StoreUint64(&regionRemovals, 0)
	atomic.StoreUint64(&registerReads, 0)
	atomic.StoreUint64(&totalVMInitTime, 0)
	atomic.StoreUint64(&validationErrors, 0)
	atomic.StoreUint64(&kernelErrors, 0)
}

// Internal metric recording functions
func recordVMInit(duration time.Duration) {
	atomic.AddUint64(&vmInitAttempts, 1)
	atomic.AddUint64(&totalVMInitTime, uint64(duration.Nanoseconds()))
}

func recordVMCreate() {
	atomic.AddUint64(&vmCreateCount, 1)
}

func recordVMDestroy() {
	atomic.AddUint64(&vmDestroyCount, 1)
}

func recordVCPUCreate() {
	atomic.AddUint64(&vcpuCreateCount, 1)
}

func recordVCPUDestroy() {
	atomic.AddUint64(&vcpuDestroyCount, 1)
}

func recordRegionInstall() {
	atomic.AddUint64(&regionInstalls, 1)
}

func recordRegionRemove() {
	atomic.AddUint64(&regionRemovals, 1)
}

func recordRegisterRead() {
	atomic.AddUint64(&registerReads, 1)
}

func recordValidationError() {
	atomic.AddUint64(&validationErrors, 1)
}

func recordKernelError() {
	atomic.AddUint64(&kernelErrors, 1)
}
