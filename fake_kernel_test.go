package kvm

import (
	"io"
	"log/slog"
	"os"
	"sync"
	"syscall"
	"testing"
)

// fakeKernel records every device call and tracks open descriptors.
type fakeKernel struct {
	mu sync.Mutex

	page       int
	api        int
	caps       map[uintptr]int
	target     uint32
	regs       map[uint64]uint64
	regErrs    map[uint64]error
	failOn     map[string]error
	failAfter  map[string]int // op -> number of successful calls before failOn applies
	nextFd     int
	openFds    map[int]bool
	closeOrder []int
	calls      map[string]int

	machineType uintptr
	lastInit    vcpuInit
	slots       map[uint32]userspaceMemoryRegion
}

func newFakeKernel() *fakeKernel {
	return &fakeKernel{
		page: 4096,
		api:  kvmAPIVersion,
		caps: map[uintptr]int{
			kvmCapNrMemslots:   8,
			kvmCapArmVMIPASize: 40,
			kvmCapArmEL132Bit:  1,
		},
		target: 5, // KVM_ARM_TARGET_GENERIC_V8
		regs: map[uint64]uint64{
			uint64(CPACR_EL1): 0x300000,
			uint64(SCTLR_EL1): 0xc50838,
			uint64(MIDR_EL1):  0x410fd083,
		},
		regErrs:   map[uint64]error{},
		failOn:    map[string]error{},
		failAfter: map[string]int{},
		nextFd:    3,
		openFds:   map[int]bool{},
		calls:     map[string]int{},
		slots:     map[uint32]userspaceMemoryRegion{},
	}
}

// fail makes op return errno from now on.
func (k *fakeKernel) fail(op string, errno syscall.Errno) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.failOn[op] = errno
}

// record counts op and reports the injected failure, if any. Callers hold k.mu.
func (k *fakeKernel) record(op string) error {
	k.calls[op]++
	err, ok := k.failOn[op]
	if !ok {
		return nil
	}
	if k.calls[op] <= k.failAfter[op] {
		return nil
	}
	return err
}

func (k *fakeKernel) newFd() int {
	fd := k.nextFd
	k.nextFd++
	k.openFds[fd] = true
	return fd
}

func (k *fakeKernel) callCount(op string) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.calls[op]
}

func (k *fakeKernel) totalCalls() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	n := 0
	for _, c := range k.calls {
		n += c
	}
	return n
}

func (k *fakeKernel) openCount() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.openFds)
}

func (k *fakeKernel) open(path string) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.record("open"); err != nil {
		return -1, err
	}
	return k.newFd(), nil
}

func (k *fakeKernel) close(fd int) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.record("close"); err != nil {
		return err
	}
	if !k.openFds[fd] {
		return syscall.EBADF
	}
	delete(k.openFds, fd)
	k.closeOrder = append(k.closeOrder, fd)
	return nil
}

func (k *fakeKernel) apiVersion(sysFd int) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.record("apiVersion"); err != nil {
		return 0, err
	}
	return k.api, nil
}

func (k *fakeKernel) checkExtension(fd int, capability uintptr) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.record("checkExtension"); err != nil {
		return 0, err
	}
	return k.caps[capability], nil
}

func (k *fakeKernel) createVM(sysFd int, machineType uintptr) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.record("createVM"); err != nil {
		return -1, err
	}
	k.machineType = machineType
	return k.newFd(), nil
}

func (k *fakeKernel) createVCPU(vmFd int, id int) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.record("createVCPU"); err != nil {
		return -1, err
	}
	if !k.openFds[vmFd] {
		return -1, syscall.EBADF
	}
	return k.newFd(), nil
}

func (k *fakeKernel) preferredTarget(vmFd int) (vcpuInit, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.record("preferredTarget"); err != nil {
		return vcpuInit{}, err
	}
	return vcpuInit{Target: k.target}, nil
}

func (k *fakeKernel) initVCPU(vcpuFd int, init *vcpuInit) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.record("initVCPU"); err != nil {
		return err
	}
	k.lastInit = *init
	return nil
}

func (k *fakeKernel) setUserMemoryRegion(vmFd int, region *userspaceMemoryRegion) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.record("setUserMemoryRegion"); err != nil {
		return err
	}
	if region.MemorySize == 0 {
		if _, ok := k.slots[region.Slot]; !ok {
			return syscall.EINVAL
		}
		delete(k.slots, region.Slot)
		return nil
	}
	k.slots[region.Slot] = *region
	return nil
}

func (k *fakeKernel) getOneReg(vcpuFd int, id uint64) (uint64, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.record("getOneReg"); err != nil {
		return 0, err
	}
	if err := k.regErrs[id]; err != nil {
		return 0, err
	}
	if v, ok := k.regs[id]; ok {
		return v, nil
	}
	return 0, syscall.ENOENT
}

func (k *fakeKernel) pageSize() int {
	return k.page
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestVM initializes a VM on k and fails the test on error.
func newTestVM(t *testing.T, k *fakeKernel, mode ExecutionMode) *VM {
	t.Helper()
	vm, err := initialize(k, Config{Mode: mode, Logger: discardLogger()})
	if err != nil {
		t.Fatalf("initialize(%v) failed: %v", mode, err)
	}
	// Tear down whatever the test left behind so no finalizer fires later.
	t.Cleanup(func() {
		vm.m.mu.Lock()
		active := vm.m.state == stateActive
		vm.m.mu.Unlock()
		if !active {
			return
		}
		k.mu.Lock()
		k.failOn = map[string]error{}
		k.mu.Unlock()
		for _, r := range vm.Memory().Regions() {
			vm.Memory().Remove(r.Slot)
		}
		vm.Destroy()
	})
	return vm
}

// expectPanic runs fn and returns the error value it panicked with.
func expectPanic(t *testing.T, fn func()) (err error) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected panic, got none")
		}
		var ok bool
		if err, ok = r.(error); !ok {
			t.Fatalf("panic value %T is not an error: %v", r, r)
		}
	}()
	fn()
	return nil
}

// isCI returns true if running in GitHub Actions
func isCI() bool {
	return os.Getenv("CI") == "true" || os.Getenv("GITHUB_ACTIONS") == "true"
}
