//go:build linux

package kvm

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

type sysKernel struct{}

func ioctl(fd uintptr, request uint64, arg uintptr) (uintptr, error) {
	v1, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, uintptr(request), arg)
	if errno != 0 {
		return 0, errno
	}
	return v1, nil
}

// ioctlWithRetry restarts requests interrupted by a signal. Any other
// failure is returned to the caller untouched.
func ioctlWithRetry(fd uintptr, request uint64, arg uintptr) (uintptr, error) {
	for {
		v1, err := ioctl(fd, request, arg)
		if err == unix.EINTR {
			continue
		}
		return v1, err
	}
}

func (sysKernel) open(path string) (int, error) {
	return unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
}

func (sysKernel) close(fd int) error {
	return unix.Close(fd)
}

func (sysKernel) apiVersion(sysFd int) (int, error) {
	v, err := ioctlWithRetry(uintptr(sysFd), kvmGetAPIVersion, 0)
	return int(v), err
}

func (sysKernel) checkExtension(fd int, capability uintptr) (int, error) {
	v, err := ioctlWithRetry(uintptr(fd), kvmCheckExtension, capability)
	return int(v), err
}

func (sysKernel) createVM(sysFd int, machineType uintptr) (int, error) {
	v, err := ioctlWithRetry(uintptr(sysFd), kvmCreateVM, machineType)
	return int(v), err
}

func (sysKernel) createVCPU(vmFd int, id int) (int, error) {
	v, err := ioctlWithRetry(uintptr(vmFd), kvmCreateVCPU, uintptr(id))
	return int(v), err
}

func (sysKernel) preferredTarget(vmFd int) (vcpuInit, error) {
	var init vcpuInit
	if _, err := ioctlWithRetry(uintptr(vmFd), kvmArmPreferredTarget, uintptr(unsafe.Pointer(&init))); err != nil {
		return vcpuInit{}, err
	}
	return init, nil
}

func (sysKernel) initVCPU(vcpuFd int, init *vcpuInit) error {
	_, err := ioctlWithRetry(uintptr(vcpuFd), kvmArmVCPUInit, uintptr(unsafe.Pointer(init)))
	return err
}

func (sysKernel) setUserMemoryRegion(vmFd int, region *userspaceMemoryRegion) error {
	_, err := ioctlWithRetry(uintptr(vmFd), kvmSetUserMemoryRegion, uintptr(unsafe.Pointer(region)))
	return err
}

func (sysKernel) getOneReg(vcpuFd int, id uint64) (uint64, error) {
	var val uint64
	reg := oneReg{
		ID:   id,
		Addr: uint64(uintptr(unsafe.Pointer(&val))),
	}
	if _, err := ioctlWithRetry(uintptr(vcpuFd), kvmGetOneReg, uintptr(unsafe.Pointer(&reg))); err != nil {
		return 0, err
	}
	return val, nil
}

func (sysKernel) pageSize() int {
	return unix.Getpagesize()
}
