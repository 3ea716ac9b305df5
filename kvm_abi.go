package kvm

// userspaceMemoryRegion mirrors struct kvm_userspace_memory_region.
type userspaceMemoryRegion struct {
	Slot          uint32
	Flags         uint32
	GuestPhysAddr uint64
	MemorySize    uint64
	UserspaceAddr uint64
}

// vcpuInit mirrors struct kvm_vcpu_init.
type vcpuInit struct {
	Target   uint32
	Features [kvmArmVCPUInitFeatureWords]uint32
}

// oneReg mirrors struct kvm_one_reg.
type oneReg struct {
	ID   uint64
	Addr uint64
}

func (v *vcpuInit) enableFeature(feature uint32) {
	word := feature / 32
	bit := feature % 32

	if word >= kvmArmVCPUInitFeatureWords {
		return
	}

	v.Features[word] |= 1 << bit
}

func (v *vcpuInit) hasFeature(feature uint32) bool {
	word := feature / 32
	if word >= kvmArmVCPUInitFeatureWords {
		return false
	}
	return v.Features[word]&(1<<(feature%32)) != 0
}
