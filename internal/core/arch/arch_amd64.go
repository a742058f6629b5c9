//go:build amd64

// Production arch intrinsics for amd64. The privileged instruction
// sequences themselves (CPUID, RDMSR, WRMSR, VMREAD, VMWRITE,
// VMLAUNCH, VMRESUME, VMRUN, INVEPT, INVVPID, INVLPGA) live in the
// boot shim's ring-0 entry trampoline, not in this module; the core
// only calls through the Intrinsics interface. This file documents the
// contract a real trampoline must satisfy and wires the one operation
// userspace Go can portably perform without ring-0 privilege
// (RDMSR/WRMSR via the host's /dev/cpu/*/msr interface) so the
// contract is exercisable in a hosted bring-up environment before the
// bare-metal trampoline exists.
package arch

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// HostMSR is a production Intrinsics implementation that reads and
// writes MSRs through the Linux /dev/cpu/<n>/msr character device
// (CAP_SYS_RAWIO required) and reports Unsupported for every operation
// that requires ring-0 (VMX root-mode entry, EPT/VPID invalidation):
// those are the boot shim's responsibility.
type HostMSR struct {
	cpu int
}

// NewHostMSR returns a HostMSR intrinsics implementation bound to the
// given logical CPU number.
func NewHostMSR(cpu int) *HostMSR {
	return &HostMSR{cpu: cpu}
}

var _ Intrinsics = (*HostMSR)(nil)

func (h *HostMSR) msrPath() string {
	return fmt.Sprintf("/dev/cpu/%d/msr", h.cpu)
}

func (h *HostMSR) Vendor() (Vendor, error) {
	// CPUID leaf 0 / 0x8000_000A vendor detection is a boot-time
	// probe the launch shim performs once and hands to the core; this
	// production stub has no portable userspace CPUID intrinsic in
	// Go, so it is left to the caller to supply via a real trampoline.
	return VendorUnknown, fmt.Errorf("arch: Vendor: %w", ErrUnsupportedVendor)
}

func (h *HostMSR) Rdmsr(msr uint32) (uint64, error) {
	f, err := os.OpenFile(h.msrPath(), os.O_RDONLY, 0)
	if err != nil {
		return 0, fmt.Errorf("arch: open msr device: %w", err)
	}
	defer f.Close()

	var buf [8]byte
	if _, err := f.ReadAt(buf[:], int64(msr)); err != nil {
		return 0, fmt.Errorf("arch: rdmsr %#x: %w", msr, err)
	}
	return uint64(buf[0]) | uint64(buf[1])<<8 | uint64(buf[2])<<16 | uint64(buf[3])<<24 |
		uint64(buf[4])<<32 | uint64(buf[5])<<40 | uint64(buf[6])<<48 | uint64(buf[7])<<56, nil
}

func (h *HostMSR) Wrmsr(msr uint32, value uint64) error {
	f, err := os.OpenFile(h.msrPath(), os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("arch: open msr device: %w", err)
	}
	defer f.Close()

	buf := [8]byte{
		byte(value), byte(value >> 8), byte(value >> 16), byte(value >> 24),
		byte(value >> 32), byte(value >> 40), byte(value >> 48), byte(value >> 56),
	}
	if _, err := f.WriteAt(buf[:], int64(msr)); err != nil {
		return fmt.Errorf("arch: wrmsr %#x: %w", msr, err)
	}
	return nil
}

func (h *HostMSR) Invlpg(linearAddr uint64) error {
	return errUnsupportedRing0("invlpg")
}

func (h *HostMSR) Invept(eptType uint64, eptPointer uint64) error {
	return errUnsupportedRing0("invept")
}

func (h *HostMSR) Invvpid(invalidationType uint64, vpid uint16, linearAddr uint64) error {
	return errUnsupportedRing0("invvpid")
}

func (h *HostMSR) Invlpga(linearAddr uint64, asid uint32) error {
	return errUnsupportedRing0("invlpga")
}

func (h *HostMSR) Vmread(field uint64) (uint64, error) {
	return 0, errUnsupportedRing0("vmread")
}

func (h *HostMSR) Vmwrite(field uint64, value uint64) error {
	return errUnsupportedRing0("vmwrite")
}

func (h *HostMSR) Vmptrld(vmcsPhysAddr uint64) error {
	return errUnsupportedRing0("vmptrld")
}

func (h *HostMSR) Vmclear(vmcsPhysAddr uint64) error {
	return errUnsupportedRing0("vmclear")
}

func (h *HostMSR) Enter(kind EntryKind, stateAddr uint64) error {
	return errUnsupportedRing0("vm entry")
}

func (h *HostMSR) Promote(stateAddr uint64) error {
	return errUnsupportedRing0("promote")
}

func errUnsupportedRing0(op string) error {
	return fmt.Errorf("arch: %s: %w (requires the ring-0 boot shim trampoline, out of core scope)", op, unix.ENOSYS)
}
