// Package arch isolates every privileged instruction the core issues
// (CPUID, RDMSR, WRMSR, INVLPG, INVEPT, INVVPID, VMREAD, VMWRITE,
// VMLAUNCH, VMRESUME, VMRUN) behind a narrow interface: a small,
// explicit surface wrapping host-privileged operations, with a
// build-tagged production path and a fully deterministic simulator for
// tests. Every other package depends only on the Intrinsics contract,
// never on inline assembly directly.
package arch

import "errors"

// ErrUnsupportedVendor indicates the running CPU is neither VT-x nor
// SVM capable, or CPUID reports a vendor string the core does not
// recognise.
var ErrUnsupportedVendor = errors.New("arch: unsupported cpu vendor")

// Vendor identifies which virtualization extension a CPU implements.
type Vendor int

const (
	VendorUnknown Vendor = iota
	VendorIntelVmx
	VendorAmdSvm
)

func (v Vendor) String() string {
	switch v {
	case VendorIntelVmx:
		return "intel-vmx"
	case VendorAmdSvm:
		return "amd-svm"
	default:
		return "unknown"
	}
}

// EntryKind distinguishes the three hardware entry instructions the
// core issues from vs.Run.
type EntryKind int

const (
	EntryVmlaunch EntryKind = iota
	EntryVmresume
	EntryVmrun
)

// Intrinsics is the complete set of privileged operations the core
// issues. A production implementation is necessarily unsafe and
// architecture-specific; this interface exists so every other package
// in internal/core depends only on this contract, never on inline
// assembly directly.
type Intrinsics interface {
	// Vendor probes CPUID to report which virtualization extension
	// this CPU implements.
	Vendor() (Vendor, error)

	// Rdmsr reads a model-specific register.
	Rdmsr(msr uint32) (uint64, error)
	// Wrmsr writes a model-specific register.
	Wrmsr(msr uint32, value uint64) error

	// Invlpg invalidates a single TLB entry for the given linear
	// address (local to the current PP).
	Invlpg(linearAddr uint64) error
	// Invept invalidates cached EPT mappings (Intel).
	Invept(eptType uint64, eptPointer uint64) error
	// Invvpid invalidates cached VPID-tagged TLB entries (Intel).
	Invvpid(invalidationType uint64, vpid uint16, linearAddr uint64) error
	// Invlpga invalidates a single TLB entry tagged by ASID (AMD).
	Invlpga(linearAddr uint64, asid uint32) error

	// Vmread reads a VMCS field (Intel only; callers must have issued
	// Vmptrld for the target VMCS first).
	Vmread(field uint64) (uint64, error)
	// Vmwrite writes a VMCS field (Intel only).
	Vmwrite(field uint64, value uint64) error
	// Vmptrld loads the VMCS physical address as the current pointer
	// (Intel only).
	Vmptrld(vmcsPhysAddr uint64) error
	// Vmclear clears a VMCS's launch state.
	Vmclear(vmcsPhysAddr uint64) error

	// Enter issues the hardware entry instruction named by kind and
	// does not return on success; on failure it returns an error
	// describing the pre-entry condition that was detected; failures
	// after entry are VM-exits, not errors from this call.
	Enter(kind EntryKind, stateAddr uint64) error

	// Promote tears down virtualization on the current PP (VMXOFF on
	// Intel, the SVM equivalent on AMD) and resumes execution natively
	// using the state at stateAddr. Returns only on failure.
	Promote(stateAddr uint64) error
}
