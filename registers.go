package kvm

import (
	"errors"
	"fmt"
	"syscall"
)

// VCPU is the single virtual CPU of a VM. Registers are always read live
// from the kernel.
type VCPU struct {
	m *machine
}

// ReadSysReg reads one register. A register the vCPU does not implement
// yields ErrRegisterUnavailable; any other kernel failure yields
// ErrVcpuQueryFailed wrapping the *KVMError.
func (c *VCPU) ReadSysReg(r SysReg) (uint64, error) {
	m := c.m

	m.mu.Lock()
	defer m.mu.Unlock()

	m.mustBeActive("ReadSysReg")

	if !r.valid() {
		recordValidationError()
		return 0, fmt.Errorf("%w: %v", ErrRegisterUnavailable, r)
	}

	val, err := m.k.getOneReg(m.vcpuFd, uint64(r))
	if err != nil {
		recordKernelError()
		kerr := kvmErr("KVM_GET_ONE_REG", err)
		if errors.Is(err, syscall.ENOENT) || errors.Is(err, syscall.EINVAL) {
			return 0, fmt.Errorf("%w: %v: %w", ErrRegisterUnavailable, r, kerr)
		}
		return 0, fmt.Errorf("%w: %v: %w", ErrVcpuQueryFailed, r, kerr)
	}

	recordRegisterRead()
	return val, nil
}

// ReadSysRegs reads several registers, stopping at the first failure.
func (c *VCPU) ReadSysRegs(regs ...SysReg) (map[SysReg]uint64, error) {
	out := make(map[SysReg]uint64, len(regs))
	for _, r := range regs {
		val, err := c.ReadSysReg(r)
		if err != nil {
			return nil, err
		}
		out[r] = val
	}
	return out, nil
}

// ReadCPACR reads CPACR_EL1, which holds the FP/SIMD access permission.
func (c *VCPU) ReadCPACR() (uint64, error) { return c.ReadSysReg(CPACR_EL1) }

// FPEN is the CPACR_EL1.FPEN field.
type FPEN uint8

const (
	FPENTrapAll  FPEN = 0 // trap EL0 and EL1 accesses
	FPENTrapEL0  FPEN = 1 // trap EL0 accesses only
	FPENTrapAll2 FPEN = 2
	FPENNoTrap   FPEN = 3
)

const (
	cpacrFPENShift = 20
	cpacrFPENMask  = 0x3
)

// FPAccess decodes CPACR_EL1.FPEN (bits 21:20).
func FPAccess(cpacr uint64) FPEN {
	return FPEN(cpacr >> cpacrFPENShift & cpacrFPENMask)
}

// Enabled reports whether FP/SIMD instructions execute without trapping at EL1.
func (f FPEN) Enabled() bool {
	return f == FPENTrapEL0 || f == FPENNoTrap
}

func (f FPEN) String() string {
	switch f {
	case FPENTrapAll, FPENTrapAll2:
		return "trap EL0/EL1"
	case FPENTrapEL0:
		return "trap EL0"
	case FPENNoTrap:
		return "no trap"
	default:
		return fmt.Sprintf("FPEN(%d)", uint8(f))
	}
}
