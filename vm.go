package kvm

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"
)

// ExecutionMode selects the execution state the vCPU resets into at EL1.
type ExecutionMode int

const (
	// ModeAArch64 is the default 64-bit profile.
	ModeAArch64 ExecutionMode = iota
	// ModeAArch32EL1 runs EL1 in AArch32 (KVM_ARM_VCPU_EL1_32BIT) for
	// 32-bit guests. The host must advertise KVM_CAP_ARM_EL1_32BIT.
	ModeAArch32EL1
)

func (m ExecutionMode) String() string {
	switch m {
	case ModeAArch64:
		return "aarch64"
	case ModeAArch32EL1:
		return "aarch32-el1"
	default:
		return fmt.Sprintf("ExecutionMode(%d)", int(m))
	}
}

// ParseExecutionMode accepts the names printed by ExecutionMode.String.
func ParseExecutionMode(s string) (ExecutionMode, error) {
	switch s {
	case "", "aarch64", "arm64":
		return ModeAArch64, nil
	case "aarch32-el1", "aarch32", "arm":
		return ModeAArch32EL1, nil
	default:
		return 0, fmt.Errorf("kvm: unknown execution mode %q", s)
	}
}

func (m ExecutionMode) valid() bool {
	return m == ModeAArch64 || m == ModeAArch32EL1
}

// Config controls Initialize. The zero value creates an AArch64 VM on /dev/kvm.
type Config struct {
	Mode ExecutionMode
	// Device is the KVM device node. Defaults to /dev/kvm.
	Device string
	// IPABits requests a guest physical address width. Zero picks the
	// widest size the host advertises.
	IPABits uint32
	// Logger receives lifecycle events. Defaults to slog.Default().
	Logger *slog.Logger
}

func (c *Config) normalize() {
	if c.Device == "" {
		c.Device = defaultDevice
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

type vmState int

const (
	stateUninitialized vmState = iota
	stateActive
	stateDestroyed
)

// machine holds the kernel handles and slot table shared by a VM, its vCPU
// and its MemoryRegions. It carries the finalizer, so it stays alive while
// any of those handles does.
type machine struct {
	k   kernel
	log *slog.Logger

	mode     ExecutionMode
	pageSize uint64
	maxSlots int

	mu     sync.Mutex
	state  vmState
	vmFd   int
	vcpuFd int

	slots map[uint32]Region
	// nextFree is a lower bound on the lowest unused slot id.
	nextFree uint32
}

// mustBeActive panics once the VM has been destroyed. Callers hold m.mu.
func (m *machine) mustBeActive(op string) {
	if m.state != stateActive {
		panic(fmt.Errorf("%w: %s", ErrUseAfterDestroy, op))
	}
}

// release closes the vCPU and then the VM descriptor.
func (m *machine) release() error {
	var errs []error
	if m.vcpuFd >= 0 {
		if err := m.k.close(m.vcpuFd); err != nil {
			errs = append(errs, fmt.Errorf("close vCPU: %w", kvmErr("close", err)))
		}
		m.vcpuFd = -1
		recordVCPUDestroy()
	}
	if m.vmFd >= 0 {
		if err := m.k.close(m.vmFd); err != nil {
			errs = append(errs, fmt.Errorf("close VM: %w", kvmErr("close", err)))
		}
		m.vmFd = -1
		recordVMDestroy()
	}
	m.state = stateDestroyed
	return errors.Join(errs...)
}

// VM is a KVM virtual machine with exactly one vCPU.
//
// A VM must be torn down with Destroy after every memory slot has been
// removed. Using it after Destroy panics with an error wrapping
// ErrUseAfterDestroy.
type VM struct {
	m    *machine
	mem  *MemoryRegions
	vcpu *VCPU
}

// Initialize creates the VM and its vCPU. Any failure leaves no descriptor
// open and is reported wrapped in ErrInitializationFailed.
func Initialize(cfg Config) (*VM, error) {
	return initialize(defaultKernel, cfg)
}

func initialize(k kernel, cfg Config) (*VM, error) {
	start := time.Now()
	defer func() {
		recordVMInit(time.Since(start))
	}()

	cfg.normalize()

	if !cfg.Mode.valid() {
		recordValidationError()
		return nil, fmt.Errorf("%w: unknown execution mode %v", ErrInitializationFailed, cfg.Mode)
	}

	ps, err := probePageSize(k)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInitializationFailed, err)
	}

	sysFd, err := k.open(cfg.Device)
	if err != nil {
		recordKernelError()
		return nil, fmt.Errorf("%w: %w: %w", ErrInitializationFailed, ErrUnsupportedPlatform, kvmErr("open "+cfg.Device, err))
	}
	// The system descriptor is only needed to create the VM.
	defer k.close(sysFd)

	version, err := k.apiVersion(sysFd)
	if err != nil {
		recordKernelError()
		return nil, fmt.Errorf("%w: %w", ErrInitializationFailed, kvmErr("KVM_GET_API_VERSION", err))
	}
	if version != kvmAPIVersion {
		return nil, fmt.Errorf("%w: %w: API version %d, want %d", ErrInitializationFailed, ErrUnsupportedPlatform, version, kvmAPIVersion)
	}

	maxSlots, err := queryMaxSlots(k, sysFd)
	if err != nil {
		recordKernelError()
		return nil, fmt.Errorf("%w: %w", ErrInitializationFailed, err)
	}

	if cfg.Mode == ModeAArch32EL1 {
		n, err := k.checkExtension(sysFd, kvmCapArmEL132Bit)
		if err != nil {
			recordKernelError()
			return nil, fmt.Errorf("%w: %w", ErrInitializationFailed, kvmErr("KVM_CHECK_EXTENSION(KVM_CAP_ARM_EL1_32BIT)", err))
		}
		if n <= 0 {
			return nil, fmt.Errorf("%w: host does not support %v", ErrInitializationFailed, cfg.Mode)
		}
	}

	machineType, err := ipaMachineType(k, sysFd, cfg.IPABits)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInitializationFailed, err)
	}

	vmFd, err := k.createVM(sysFd, machineType)
	if err != nil {
		recordKernelError()
		return nil, fmt.Errorf("%w: %w", ErrInitializationFailed, kvmErr("KVM_CREATE_VM", err))
	}
	recordVMCreate()

	m := &machine{
		k:        k,
		log:      cfg.Logger,
		mode:     cfg.Mode,
		pageSize: uint64(ps),
		maxSlots: maxSlots,
		state:    stateActive,
		vmFd:     vmFd,
		vcpuFd:   -1,
		slots:    make(map[uint32]Region),
	}

	// fail releases whatever has been created so far, vCPU before VM.
	fail := func(err error) (*VM, error) {
		recordKernelError()
		if rerr := m.release(); rerr != nil {
			m.log.Error("kvm: release after failed initialize", "error", rerr)
		}
		return nil, fmt.Errorf("%w: %w", ErrInitializationFailed, err)
	}

	vcpuFd, err := k.createVCPU(vmFd, 0)
	if err != nil {
		return fail(kvmErr("KVM_CREATE_VCPU", err))
	}
	m.vcpuFd = vcpuFd
	recordVCPUCreate()

	target, err := k.preferredTarget(vmFd)
	if err != nil {
		return fail(kvmErr("KVM_ARM_PREFERRED_TARGET", err))
	}
	target.enableFeature(kvmArmVCPUFeaturePSCI02)
	if cfg.Mode == ModeAArch32EL1 {
		target.enableFeature(kvmArmVCPUFeatureEL132Bit)
	}
	if err := k.initVCPU(vcpuFd, &target); err != nil {
		return fail(kvmErr("KVM_ARM_VCPU_INIT", err))
	}

	vm := &VM{
		m:    m,
		mem:  &MemoryRegions{m: m},
		vcpu: &VCPU{m: m},
	}

	// Safety net in case Destroy is never called.
	runtime.SetFinalizer(m, (*machine).finalize)

	m.log.Debug("kvm: VM initialized",
		"mode", cfg.Mode,
		"page_size", ps,
		"max_slots", maxSlots,
		"target", target.Target,
	)

	return vm, nil
}

// ipaMachineType picks the KVM_CREATE_VM machine type carrying the IPA width.
// Hosts without KVM_CAP_ARM_VM_IPA_SIZE only accept type 0 (40-bit IPA).
func ipaMachineType(k kernel, sysFd int, want uint32) (uintptr, error) {
	limit, err := k.checkExtension(sysFd, kvmCapArmVMIPASize)
	if err != nil || limit <= 0 {
		if want != 0 && want != 40 {
			return 0, fmt.Errorf("kvm: host has a fixed 40-bit IPA, %d bits requested", want)
		}
		return 0, nil
	}
	if want == 0 {
		return uintptr(limit) & kvmVMTypeARMIPASizeMask, nil
	}
	if want < 32 || int(want) > limit {
		return 0, fmt.Errorf("kvm: IPA width %d outside [32, %d]", want, limit)
	}
	return uintptr(want) & kvmVMTypeARMIPASizeMask, nil
}

// Mode reports the execution mode chosen at Initialize.
func (vm *VM) Mode() ExecutionMode { return vm.m.mode }

// PageSize reports the page size every region is validated against.
func (vm *VM) PageSize() uint64 { return vm.m.pageSize }

// MaxSlots reports the slot capacity of this VM.
func (vm *VM) MaxSlots() int { return vm.m.maxSlots }

// Memory returns the slot table of this VM.
func (vm *VM) Memory() *MemoryRegions { return vm.mem }

// VCPU returns the single vCPU of this VM.
func (vm *VM) VCPU() *VCPU { return vm.vcpu }

// Destroy releases the vCPU and then the VM. It refuses with
// ErrTeardownOrder while memory slots are installed; calling it on an
// already destroyed VM panics with ErrUseAfterDestroy.
func (vm *VM) Destroy() error {
	m := vm.m

	m.mu.Lock()
	defer m.mu.Unlock()

	m.mustBeActive("Destroy")

	if n := len(m.slots); n > 0 {
		recordValidationError()
		return fmt.Errorf("%w: remove %d slot(s) before Destroy", ErrTeardownOrder, n)
	}

	err := m.release()

	// Clear finalizer since we've cleaned up properly
	runtime.SetFinalizer(m, nil)

	if err != nil {
		recordKernelError()
		return fmt.Errorf("failed to destroy VM: %w", err)
	}

	m.log.Debug("kvm: VM destroyed")
	return nil
}

// finalize is called by the garbage collector as a safety net once neither
// the VM nor any of its handles is reachable.
func (m *machine) finalize() {
	// Use non-blocking lock to prevent deadlock in finalizers
	if !m.mu.TryLock() {
		return
	}
	defer m.mu.Unlock()

	if m.state != stateActive {
		return
	}
	m.log.Error("kvm: VM was not destroyed before garbage collection", "slots", len(m.slots))
	if err := m.release(); err != nil {
		m.log.Error("kvm: release leaked VM", "error", err)
	}
}
