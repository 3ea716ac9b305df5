package kvm

// kernel is the set of KVM device operations the control plane issues.
// sysKernel talks to the real device; tests substitute a recording fake.
type kernel interface {
	open(path string) (int, error)
	close(fd int) error

	apiVersion(sysFd int) (int, error)
	checkExtension(fd int, capability uintptr) (int, error)
	createVM(sysFd int, machineType uintptr) (int, error)
	createVCPU(vmFd int, id int) (int, error)
	preferredTarget(vmFd int) (vcpuInit, error)
	initVCPU(vcpuFd int, init *vcpuInit) error
	setUserMemoryRegion(vmFd int, region *userspaceMemoryRegion) error
	getOneReg(vcpuFd int, id uint64) (uint64, error)

	pageSize() int
}

var defaultKernel kernel = sysKernel{}
