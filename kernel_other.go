//go:build !linux

package kvm

import (
	"fmt"
	"os"
)

// sysKernel refuses every device operation: KVM only exists on Linux.
type sysKernel struct{}

var errNoKVM = fmt.Errorf("%w: KVM requires Linux", ErrUnsupportedPlatform)

func (sysKernel) open(string) (int, error)                              { return -1, errNoKVM }
func (sysKernel) close(int) error                                       { return errNoKVM }
func (sysKernel) apiVersion(int) (int, error)                           { return 0, errNoKVM }
func (sysKernel) checkExtension(int, uintptr) (int, error)              { return 0, errNoKVM }
func (sysKernel) createVM(int, uintptr) (int, error)                    { return -1, errNoKVM }
func (sysKernel) createVCPU(int, int) (int, error)                      { return -1, errNoKVM }
func (sysKernel) preferredTarget(int) (vcpuInit, error)                 { return vcpuInit{}, errNoKVM }
func (sysKernel) initVCPU(int, *vcpuInit) error                         { return errNoKVM }
func (sysKernel) setUserMemoryRegion(int, *userspaceMemoryRegion) error { return errNoKVM }
func (sysKernel) getOneReg(int, uint64) (uint64, error)                 { return 0, errNoKVM }

func (sysKernel) pageSize() int {
	return os.Getpagesize()
}
