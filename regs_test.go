package kvm

import (
	"errors"
	"syscall"
	"testing"
)

func TestSysRegEncoding(t *testing.T) {
	tests := []struct {
		reg  SysReg
		want uint64
	}{
		{CPACR_EL1, 0x603000000013c082},
		{SCTLR_EL1, 0x603000000013c080},
		{MIDR_EL1, 0x603000000013c000},
		{MPIDR_EL1, 0x603000000013c005},
		{TPIDR_EL0, 0x603000000013de82},
		{SP_EL1, 0x603000000013e208},
		{X(0), 0x6030000000100000},
		{X(30), 0x603000000010003c},
		{SP, 0x603000000010003e},
		{PC, 0x6030000000100040},
		{PSTATE, 0x6030000000100042},
	}

	for _, tt := range tests {
		t.Run(tt.reg.String(), func(t *testing.T) {
			if uint64(tt.reg) != tt.want {
				t.Errorf("%v = %#x, want %#x", tt.reg, uint64(tt.reg), tt.want)
			}
			if !tt.reg.valid() {
				t.Errorf("%v reported invalid", tt.reg)
			}
		})
	}
}

func TestSysRegString(t *testing.T) {
	tests := []struct {
		reg  SysReg
		want string
	}{
		{CPACR_EL1, "CPACR_EL1"},
		{PSTATE, "PSTATE"},
		{X(17), "X17"},
		{SysRegID(3, 0, 15, 2, 1), "S3_0_C15_C2_1"},
		{SysReg(0x1234), "SysReg(0x1234)"},
	}
	for _, tt := range tests {
		if got := tt.reg.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestParseSysReg(t *testing.T) {
	tests := []struct {
		name string
		want SysReg
	}{
		{"CPACR_EL1", CPACR_EL1},
		{"cpacr_el1", CPACR_EL1},
		{" TTBR1_EL1 ", TTBR1_EL1},
		{"x0", X(0)},
		{"X30", X(30)},
		{"pc", PC},
		{"S3_0_C1_C0_2", CPACR_EL1},
		{"s3_3_c13_c0_2", TPIDR_EL0},
	}
	for _, tt := range tests {
		got, err := ParseSysReg(tt.name)
		if err != nil {
			t.Errorf("ParseSysReg(%q) failed: %v", tt.name, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseSysReg(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}

	for _, bad := range []string{"", "X31", "CPACR_EL2", "S4_0_C1_C0_2", "S3_0_C16_C0_0", "S3_0_C1_C0_2junk", "S3_0_C1_C0_2_9", "S3_0_C1_C0_", "S03_0_C1_C0_2"} {
		if _, err := ParseSysReg(bad); !errors.Is(err, ErrRegisterUnavailable) {
			t.Errorf("ParseSysReg(%q) error = %v, want ErrRegisterUnavailable", bad, err)
		}
	}
}

func TestSysRegNamesRoundTrip(t *testing.T) {
	names := SysRegNames()
	if len(names) == 0 {
		t.Fatal("SysRegNames() is empty")
	}
	for _, name := range names {
		r, err := ParseSysReg(name)
		if err != nil {
			t.Errorf("ParseSysReg(%q) failed: %v", name, err)
			continue
		}
		if r.String() != name {
			t.Errorf("ParseSysReg(%q).String() = %q", name, r.String())
		}
	}
}

func TestReadCPACR(t *testing.T) {
	k := newFakeKernel()
	vm := newTestVM(t, k, ModeAArch64)
	defer vm.Destroy()

	val, err := vm.VCPU().ReadCPACR()
	if err != nil {
		t.Fatalf("ReadCPACR() failed: %v", err)
	}
	if val != 0x300000 {
		t.Errorf("ReadCPACR() = %#x, want 0x300000", val)
	}
	if k.callCount("getOneReg") != 1 {
		t.Errorf("getOneReg called %d times, want 1", k.callCount("getOneReg"))
	}
}

func TestReadSysRegLive(t *testing.T) {
	k := newFakeKernel()
	vm := newTestVM(t, k, ModeAArch64)
	defer vm.Destroy()

	first, err := vm.VCPU().ReadSysReg(SCTLR_EL1)
	if err != nil {
		t.Fatalf("ReadSysReg() failed: %v", err)
	}
	k.mu.Lock()
	k.regs[uint64(SCTLR_EL1)] = first | 1
	k.mu.Unlock()

	second, err := vm.VCPU().ReadSysReg(SCTLR_EL1)
	if err != nil {
		t.Fatalf("ReadSysReg() failed: %v", err)
	}
	if second != first|1 {
		t.Errorf("ReadSysReg() = %#x, want fresh value %#x", second, first|1)
	}
}

func TestReadSysRegErrors(t *testing.T) {
	tests := []struct {
		name    string
		errno   syscall.Errno
		wantErr error
	}{
		{"absent register", syscall.ENOENT, ErrRegisterUnavailable},
		{"rejected id", syscall.EINVAL, ErrRegisterUnavailable},
		{"bad address", syscall.EFAULT, ErrVcpuQueryFailed},
		{"vcpu busy", syscall.EBUSY, ErrVcpuQueryFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := newFakeKernel()
			vm := newTestVM(t, k, ModeAArch64)
			defer vm.Destroy()
			k.regErrs[uint64(ESR_EL1)] = tt.errno

			_, err := vm.VCPU().ReadSysReg(ESR_EL1)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ReadSysReg() error = %v, want %v", err, tt.wantErr)
			}
			var kerr *KVMError
			if !errors.As(err, &kerr) || kerr.Errno != tt.errno {
				t.Errorf("error = %v, want *KVMError with %v", err, tt.errno)
			}
		})
	}
}

func TestReadSysRegUnknownID(t *testing.T) {
	k := newFakeKernel()
	vm := newTestVM(t, k, ModeAArch64)
	defer vm.Destroy()

	_, err := vm.VCPU().ReadSysReg(SysReg(0xdeadbeef))
	if !errors.Is(err, ErrRegisterUnavailable) {
		t.Fatalf("ReadSysReg() error = %v, want ErrRegisterUnavailable", err)
	}
	if k.callCount("getOneReg") != 0 {
		t.Errorf("malformed register id reached the kernel")
	}
}

func TestReadSysRegs(t *testing.T) {
	k := newFakeKernel()
	vm := newTestVM(t, k, ModeAArch64)
	defer vm.Destroy()

	vals, err := vm.VCPU().ReadSysRegs(CPACR_EL1, MIDR_EL1)
	if err != nil {
		t.Fatalf("ReadSysRegs() failed: %v", err)
	}
	if vals[CPACR_EL1] != 0x300000 || vals[MIDR_EL1] != 0x410fd083 {
		t.Errorf("ReadSysRegs() = %v", vals)
	}

	if _, err := vm.VCPU().ReadSysRegs(CPACR_EL1, FAR_EL1); !errors.Is(err, ErrRegisterUnavailable) {
		t.Errorf("ReadSysRegs() with absent register: error = %v", err)
	}
}

func TestFPAccess(t *testing.T) {
	tests := []struct {
		cpacr   uint64
		want    FPEN
		enabled bool
	}{
		{0x0, FPENTrapAll, false},
		{0x100000, FPENTrapEL0, true},
		{0x200000, FPENTrapAll2, false},
		{0x300000, FPENNoTrap, true},
		{0xffffffffffcfffff, FPENTrapAll, false},
	}
	for _, tt := range tests {
		got := FPAccess(tt.cpacr)
		if got != tt.want {
			t.Errorf("FPAccess(%#x) = %v, want %v", tt.cpacr, got, tt.want)
		}
		if got.Enabled() != tt.enabled {
			t.Errorf("FPAccess(%#x).Enabled() = %v, want %v", tt.cpacr, got.Enabled(), tt.enabled)
		}
	}
}
