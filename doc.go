// Package kvm drives Linux KVM on arm64 hosts as an execution backend for an
// instruction emulator.
//
// Provides a VM with exactly one vCPU, a guest physical memory slot table,
// and live register reads.
//
// # Requirements
//
//   - Linux on arm64 with the kvm module loaded
//   - Read/write access to /dev/kvm (usually membership of the kvm group)
//
// # Basic Usage
//
// Probe the host before committing to hardware execution:
//
//	slots, err := kvm.MaxSlots()
//	if err != nil {
//		log.Fatal("KVM not available:", err)
//	}
//	pageSize, _ := kvm.PageSize()
//
// Create a VM:
//
//	vm, err := kvm.Initialize(kvm.Config{Mode: kvm.ModeAArch64})
//	if err != nil {
//		log.Fatal("Failed to initialize VM:", err)
//	}
//
// Memory management:
//
//	// Backing memory must be page-aligned; the VM never frees it.
//	mem, _ := unix.Mmap(-1, 0, pageSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
//	slot, err := vm.Memory().InstallBytes(0x1000, mem)
//	if err != nil {
//		log.Fatal("Failed to install region:", err)
//	}
//
// Register access:
//
//	cpacr, err := vm.VCPU().ReadCPACR()
//	if err == nil {
//		fmt.Println("FP/SIMD:", kvm.FPAccess(cpacr))
//	}
//
// Teardown removes every slot before destroying the VM:
//
//	_ = vm.Memory().Remove(slot)
//	_ = vm.Destroy()
//	_ = unix.Munmap(mem)
//
// # Error Handling
//
// Failures wrap one of the Err* categories and, when the kernel refused a
// request, a *KVMError with the raw errno. Match them with errors.Is and
// errors.As. Setting KVM_ENV=production strips the detailed messages.
//
// # Resource Management
//
// Destroy refuses while slots are installed. Any use of a destroyed VM
// panics with an error wrapping ErrUseAfterDestroy. A finalizer releases
// VMs that were never destroyed and logs the leak.
package kvm
