package kvm

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"syscall"
)

// KVMError wraps the raw errno returned by a KVM ioctl.
// Op names the request (e.g. "KVM_SET_USER_MEMORY_REGION").
type KVMError struct {
	Op    string
	Errno syscall.Errno
}

func (e *KVMError) Error() string {
	if isProductionEnv() {
		return e.sanitizedError()
	}
	return e.detailedError()
}

// Unwrap exposes the errno so callers can match it with errors.Is.
func (e *KVMError) Unwrap() error {
	return e.Errno
}

// detailedError provides full error context for development
func (e *KVMError) detailedError() string {
	switch e.Errno {
	case syscall.ENOENT:
		return fmt.Sprintf("kvm: %s: no such entity (ENOENT) - register or slot not known to this vCPU/VM", e.Op)
	case syscall.EINVAL:
		return fmt.Sprintf("kvm: %s: invalid argument (EINVAL) - check alignment, slot id and feature bits", e.Op)
	case syscall.EEXIST:
		return fmt.Sprintf("kvm: %s: already exists (EEXIST) - overlapping slot or duplicate vCPU id", e.Op)
	case syscall.ENOMEM:
		return fmt.Sprintf("kvm: %s: out of memory (ENOMEM) - host memory or memslot limit exhausted", e.Op)
	case syscall.EACCES, syscall.EPERM:
		return fmt.Sprintf("kvm: %s: permission denied (%s) - add the user to the kvm group or check /dev/kvm mode", e.Op, errnoName(e.Errno))
	case syscall.ENODEV, syscall.ENXIO:
		return fmt.Sprintf("kvm: %s: device unavailable (%s) - hardware virtualization disabled or kvm module not loaded", e.Op, errnoName(e.Errno))
	case syscall.EFAULT:
		return fmt.Sprintf("kvm: %s: bad address (EFAULT) - host backing memory is not mapped", e.Op)
	case syscall.EBUSY:
		return fmt.Sprintf("kvm: %s: resource busy (EBUSY) - vCPU is running or already initialized", e.Op)
	case syscall.ENOTTY:
		return fmt.Sprintf("kvm: %s: unsupported request (ENOTTY) - host kernel lacks this ioctl", e.Op)
	default:
		return fmt.Sprintf("kvm: %s: %v (errno %d)", e.Op, e.Errno, uint32(e.Errno))
	}
}

// sanitizedError provides minimal error information for production
func (e *KVMError) sanitizedError() string {
	return fmt.Sprintf("kvm: %s failed (errno %d)", e.Op, uint32(e.Errno))
}

func errnoName(errno syscall.Errno) string {
	switch errno {
	case syscall.EACCES:
		return "EACCES"
	case syscall.EPERM:
		return "EPERM"
	case syscall.ENODEV:
		return "ENODEV"
	case syscall.ENXIO:
		return "ENXIO"
	default:
		return strconv.Itoa(int(errno))
	}
}

// isProductionEnv checks if we're running in production environment
func isProductionEnv() bool {
	env := os.Getenv("KVM_ENV")
	if env == "production" || env == "prod" {
		return true
	}

	// Check if debug mode is explicitly disabled
	if debug := os.Getenv("KVM_DEBUG"); debug != "" {
		if val, err := strconv.ParseBool(debug); err == nil && !val {
			return true
		}
	}

	return false
}

// kvmErr converts a failed device call into a *KVMError when it carries an errno.
func kvmErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return &KVMError{Op: op, Errno: errno}
	}
	return fmt.Errorf("kvm: %s: %w", op, err)
}

// Error categories. Failures are reported wrapped, so match them with errors.Is.
var (
	ErrUnsupportedPlatform       = errors.New("kvm: virtualization facility unavailable")
	ErrInitializationFailed      = errors.New("kvm: VM initialization failed")
	ErrAlignmentViolation        = errors.New("kvm: address or size not page-aligned")
	ErrRegionOverlap             = errors.New("kvm: region overlaps an installed slot")
	ErrSlotExhausted             = errors.New("kvm: no free memory slot")
	ErrKernelRegionInstallFailed = errors.New("kvm: kernel rejected memory region")
	ErrKernelRegionRemoveFailed  = errors.New("kvm: kernel rejected memory region removal")
	ErrUnknownSlot               = errors.New("kvm: slot not installed")
	ErrRegisterUnavailable       = errors.New("kvm: register unavailable")
	ErrVcpuQueryFailed           = errors.New("kvm: vCPU register query failed")
	ErrUseAfterDestroy           = errors.New("kvm: VM used after destroy")
	ErrTeardownOrder             = errors.New("kvm: memory slots still installed")
)
