package arch

import (
	"fmt"
	"sync"
)

// Sim is a deterministic Intrinsics test double: no hardware is
// touched, MSRs and TLB invalidations are recorded in memory, and
// Enter succeeds by default (tests that want to exercise a specific
// exit or fault inject one via EnterFunc). It lets the rest of the
// core be tested without real VT-x/SVM.
type Sim struct {
	mu      sync.Mutex
	vendor  Vendor
	msrs    map[uint32]uint64
	vmcs    map[uint64]map[uint64]uint64 // vmcsPhysAddr -> field -> value
	current uint64                       // currently VMPTRLD'd VMCS, 0 if none

	// Invalidations records every TLB invalidation issued, in order, as
	// human-readable strings tests can assert against.
	Invalidations []string

	// EnterFunc, if set, is called by Enter instead of the default
	// always-succeeds behavior. Lets tests simulate a VM-exit
	// (return nil) or a hardware entry failure (return an error).
	EnterFunc func(kind EntryKind, stateAddr uint64) error

	// PromoteFunc, if set, is called by Promote instead of the
	// default always-succeeds behavior.
	PromoteFunc func(stateAddr uint64) error
}

// NewSim constructs a simulator reporting the given vendor.
func NewSim(vendor Vendor) *Sim {
	return &Sim{
		vendor: vendor,
		msrs:   make(map[uint32]uint64),
		vmcs:   make(map[uint64]map[uint64]uint64),
	}
}

var _ Intrinsics = (*Sim)(nil)

func (s *Sim) Vendor() (Vendor, error) {
	if s.vendor == VendorUnknown {
		return VendorUnknown, ErrUnsupportedVendor
	}
	return s.vendor, nil
}

func (s *Sim) Rdmsr(msr uint32) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.msrs[msr], nil
}

func (s *Sim) Wrmsr(msr uint32, value uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msrs[msr] = value
	return nil
}

func (s *Sim) Invlpg(linearAddr uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Invalidations = append(s.Invalidations, fmt.Sprintf("invlpg %#x", linearAddr))
	return nil
}

func (s *Sim) Invept(eptType uint64, eptPointer uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Invalidations = append(s.Invalidations, fmt.Sprintf("invept %d %#x", eptType, eptPointer))
	return nil
}

func (s *Sim) Invvpid(invalidationType uint64, vpid uint16, linearAddr uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Invalidations = append(s.Invalidations, fmt.Sprintf("invvpid %d %d %#x", invalidationType, vpid, linearAddr))
	return nil
}

func (s *Sim) Invlpga(linearAddr uint64, asid uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Invalidations = append(s.Invalidations, fmt.Sprintf("invlpga %#x %d", linearAddr, asid))
	return nil
}

func (s *Sim) Vmptrld(vmcsPhysAddr uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.vmcs[vmcsPhysAddr]; !ok {
		s.vmcs[vmcsPhysAddr] = make(map[uint64]uint64)
	}
	s.current = vmcsPhysAddr
	return nil
}

func (s *Sim) Vmclear(vmcsPhysAddr uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.vmcs, vmcsPhysAddr)
	if s.current == vmcsPhysAddr {
		s.current = 0
	}
	return nil
}

func (s *Sim) Vmread(field uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == 0 {
		return 0, fmt.Errorf("arch: vmread with no VMPTRLD'd vmcs")
	}
	return s.vmcs[s.current][field], nil
}

func (s *Sim) Vmwrite(field uint64, value uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == 0 {
		return fmt.Errorf("arch: vmwrite with no VMPTRLD'd vmcs")
	}
	s.vmcs[s.current][field] = value
	return nil
}

func (s *Sim) Enter(kind EntryKind, stateAddr uint64) error {
	if s.EnterFunc != nil {
		return s.EnterFunc(kind, stateAddr)
	}
	return nil
}

func (s *Sim) Promote(stateAddr uint64) error {
	if s.PromoteFunc != nil {
		return s.PromoteFunc(stateAddr)
	}
	return nil
}
