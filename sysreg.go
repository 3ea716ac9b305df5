package kvm

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// SysReg identifies a vCPU register by its KVM_GET_ONE_REG id.
type SysReg uint64

const (
	regArm64      = 0x6000000000000000
	regSizeU64    = 0x0030000000000000
	regCoprocMask = 0x000000000fff0000
	regCoprocCore = 0x0010 << 16
	regCoprocSys  = 0x0013 << 16

	regArchMask = 0xff00000000000000
	regSizeMask = 0x00f0000000000000
)

// SysRegID builds the id of the AArch64 system register with the given
// MRS encoding.
func SysRegID(op0, op1, crn, crm, op2 uint64) SysReg {
	return SysReg(regArm64 | regSizeU64 | regCoprocSys |
		(op0&0x3)<<14 | (op1&0x7)<<11 | (crn&0xf)<<7 | (crm&0xf)<<3 | op2&0x7)
}

// coreReg builds the id of a field of struct kvm_regs; off is its byte offset.
func coreReg(off uint64) SysReg {
	return SysReg(regArm64 | regSizeU64 | regCoprocCore | off/4)
}

// X returns general purpose register Xn.
func X(n int) SysReg {
	return coreReg(uint64(n) * 8)
}

var (
	SP     = coreReg(31 * 8)
	PC     = coreReg(32 * 8)
	PSTATE = coreReg(33 * 8)

	MIDR_EL1       = SysRegID(3, 0, 0, 0, 0)
	MPIDR_EL1      = SysRegID(3, 0, 0, 0, 5)
	SCTLR_EL1      = SysRegID(3, 0, 1, 0, 0)
	CPACR_EL1      = SysRegID(3, 0, 1, 0, 2)
	TTBR0_EL1      = SysRegID(3, 0, 2, 0, 0)
	TTBR1_EL1      = SysRegID(3, 0, 2, 0, 1)
	TCR_EL1        = SysRegID(3, 0, 2, 0, 2)
	SPSR_EL1       = SysRegID(3, 0, 4, 0, 0)
	ELR_EL1        = SysRegID(3, 0, 4, 0, 1)
	SP_EL0         = SysRegID(3, 0, 4, 1, 0)
	SP_EL1         = SysRegID(3, 4, 4, 1, 0)
	AFSR0_EL1      = SysRegID(3, 0, 5, 1, 0)
	AFSR1_EL1      = SysRegID(3, 0, 5, 1, 1)
	ESR_EL1        = SysRegID(3, 0, 5, 2, 0)
	FAR_EL1        = SysRegID(3, 0, 6, 0, 0)
	PAR_EL1        = SysRegID(3, 0, 7, 4, 0)
	MAIR_EL1       = SysRegID(3, 0, 10, 2, 0)
	AMAIR_EL1      = SysRegID(3, 0, 10, 3, 0)
	VBAR_EL1       = SysRegID(3, 0, 12, 0, 0)
	CONTEXTIDR_EL1 = SysRegID(3, 0, 13, 0, 1)
	TPIDR_EL1      = SysRegID(3, 0, 13, 0, 4)
	TPIDR_EL0      = SysRegID(3, 3, 13, 0, 2)
	TPIDRRO_EL0    = SysRegID(3, 3, 13, 0, 3)
	CNTKCTL_EL1    = SysRegID(3, 0, 14, 1, 0)
)

var sysRegNames = map[SysReg]string{
	SP:             "SP",
	PC:             "PC",
	PSTATE:         "PSTATE",
	MIDR_EL1:       "MIDR_EL1",
	MPIDR_EL1:      "MPIDR_EL1",
	SCTLR_EL1:      "SCTLR_EL1",
	CPACR_EL1:      "CPACR_EL1",
	TTBR0_EL1:      "TTBR0_EL1",
	TTBR1_EL1:      "TTBR1_EL1",
	TCR_EL1:        "TCR_EL1",
	SPSR_EL1:       "SPSR_EL1",
	ELR_EL1:        "ELR_EL1",
	SP_EL0:         "SP_EL0",
	SP_EL1:         "SP_EL1",
	AFSR0_EL1:      "AFSR0_EL1",
	AFSR1_EL1:      "AFSR1_EL1",
	ESR_EL1:        "ESR_EL1",
	FAR_EL1:        "FAR_EL1",
	PAR_EL1:        "PAR_EL1",
	MAIR_EL1:       "MAIR_EL1",
	AMAIR_EL1:      "AMAIR_EL1",
	VBAR_EL1:       "VBAR_EL1",
	CONTEXTIDR_EL1: "CONTEXTIDR_EL1",
	TPIDR_EL1:      "TPIDR_EL1",
	TPIDR_EL0:      "TPIDR_EL0",
	TPIDRRO_EL0:    "TPIDRRO_EL0",
	CNTKCTL_EL1:    "CNTKCTL_EL1",
}

// genericSysReg matches the S<op0>_<op1>_C<n>_C<m>_<op2> spelling.
var genericSysReg = regexp.MustCompile(`^S([0-3])_([0-7])_C([0-9]|1[0-5])_C([0-9]|1[0-5])_([0-7])$`)

var sysRegByName = func() map[string]SysReg {
	m := make(map[string]SysReg, len(sysRegNames)+31)
	for r, name := range sysRegNames {
		m[name] = r
	}
	for n := 0; n <= 30; n++ {
		m["X"+strconv.Itoa(n)] = X(n)
	}
	return m
}()

// valid reports whether r is a 64-bit arm64 core or system register id.
func (r SysReg) valid() bool {
	if r&regArchMask != regArm64 || r&regSizeMask != regSizeU64 {
		return false
	}
	switch r & regCoprocMask {
	case regCoprocSys:
		return r&^(regArchMask|regSizeMask|regCoprocMask) <= 0xffff
	case regCoprocCore:
		return r&^(regArchMask|regSizeMask|regCoprocMask) <= 33*2
	}
	return false
}

func (r SysReg) String() string {
	if name, ok := sysRegNames[r]; ok {
		return name
	}
	if !r.valid() {
		return fmt.Sprintf("SysReg(%#x)", uint64(r))
	}
	field := uint64(r &^ (regArchMask | regSizeMask | regCoprocMask))
	if r&regCoprocMask == regCoprocCore {
		if field%2 == 0 && field/2 <= 30 {
			return "X" + strconv.FormatUint(field/2, 10)
		}
		return fmt.Sprintf("CORE(%#x)", field*4)
	}
	return fmt.Sprintf("S%d_%d_C%d_C%d_%d",
		field>>14&0x3, field>>11&0x7, field>>7&0xf, field>>3&0xf, field&0x7)
}

// ParseSysReg resolves a register name such as "CPACR_EL1", "X0" or the
// generic "S3_0_C1_C0_2" form. Names are case-insensitive.
func ParseSysReg(name string) (SysReg, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	if r, ok := sysRegByName[upper]; ok {
		return r, nil
	}
	if m := genericSysReg.FindStringSubmatch(upper); m != nil {
		var f [5]uint64
		for i := range f {
			f[i], _ = strconv.ParseUint(m[i+1], 10, 8)
		}
		return SysRegID(f[0], f[1], f[2], f[3], f[4]), nil
	}
	return 0, fmt.Errorf("%w: unknown register %q", ErrRegisterUnavailable, name)
}

// SysRegNames lists the named registers known to ParseSysReg.
func SysRegNames() []string {
	names := make([]string, 0, len(sysRegNames))
	for _, name := range sysRegNames {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
