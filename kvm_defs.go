package kvm

const (
	kvmAPIVersion = 12

	kvmGetAPIVersion       = 0xae00
	kvmCreateVM            = 0xae01
	kvmCheckExtension      = 0xae03
	kvmCreateVCPU          = 0xae41
	kvmSetUserMemoryRegion = 0x4020ae46
	kvmGetOneReg           = 0x4010aeab
	kvmArmVCPUInit         = 0x4020aeae
	kvmArmPreferredTarget  = 0x8020aeaf
)

// KVM_CHECK_EXTENSION capabilities.
const (
	kvmCapNrMemslots   = 10
	kvmCapArmEL132Bit  = 93
	kvmCapArmVMIPASize = 165
)

// kvm_vcpu_init feature bits.
const (
	kvmArmVCPUInitFeatureWords = 7

	kvmArmVCPUFeatureEL132Bit = 1
	kvmArmVCPUFeaturePSCI02   = 2
)

// KVM_VM_TYPE_ARM_IPA_SIZE(x) keeps the IPA width in the low byte of the machine type.
const kvmVMTypeARMIPASizeMask = 0xff

const defaultDevice = "/dev/kvm"
