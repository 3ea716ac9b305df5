package kvm

import "fmt"

// Supported returns true if the KVM device can be opened and speaks the
// stable API (version 12).
func Supported() (bool, error) {
	return supported(defaultKernel, defaultDevice)
}

func supported(k kernel, device string) (bool, error) {
	fd, err := k.open(device)
	if err != nil {
		return false, kvmErr("open "+device, err)
	}
	defer k.close(fd)

	version, err := k.apiVersion(fd)
	if err != nil {
		return false, kvmErr("KVM_GET_API_VERSION", err)
	}
	return version == kvmAPIVersion, nil
}

// Capabilities describes what the host KVM offers to this package.
type Capabilities struct {
	APIVersion int  `json:"api_version"`
	MaxSlots   int  `json:"max_slots"`
	PageSize   int  `json:"page_size"`
	IPABits    int  `json:"ipa_bits"`
	AArch32EL1 bool `json:"aarch32_el1"`
}

// Probe gathers Capabilities in one pass over the KVM device.
func Probe() (Capabilities, error) {
	return probeCapabilities(defaultKernel, defaultDevice)
}

func probeCapabilities(k kernel, device string) (Capabilities, error) {
	var caps Capabilities

	ps, err := probePageSize(k)
	if err != nil {
		return caps, err
	}
	caps.PageSize = ps

	fd, err := k.open(device)
	if err != nil {
		return caps, fmt.Errorf("%w: %w", ErrUnsupportedPlatform, kvmErr("open "+device, err))
	}
	defer k.close(fd)

	if caps.APIVersion, err = k.apiVersion(fd); err != nil {
		return caps, fmt.Errorf("%w: %w", ErrUnsupportedPlatform, kvmErr("KVM_GET_API_VERSION", err))
	}
	if caps.MaxSlots, err = queryMaxSlots(k, fd); err != nil {
		return caps, err
	}
	// Optional capabilities: a failed query means "absent".
	if n, err := k.checkExtension(fd, kvmCapArmVMIPASize); err == nil {
		caps.IPABits = n
	}
	if n, err := k.checkExtension(fd, kvmCapArmEL132Bit); err == nil {
		caps.AArch32EL1 = n > 0
	}
	return caps, nil
}
