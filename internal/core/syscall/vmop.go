package syscall

import (
	"github.com/microvisor/core/internal/core/ids"
	"github.com/microvisor/core/internal/core/percpu"
	"github.com/microvisor/core/internal/core/status"
)

// vm_op indices. Every index in this family additionally requires
// the caller to be the vmexit extension (Dispatch enforces
// this before the handler ever runs).
const (
	VmOpCreate uint32 = iota
	VmOpDestroy
	VmOpMapDirect
	VmOpUnmapDirect
	VmOpUnmapDirectBroadcast
	VmOpTlbFlush
)

// Register convention for every family below: ext_reg0 carries the
// handle Dispatch already authorised the call with; ext_reg1 carries
// the primary argument, and any syscall that returns a value writes it
// back into ext_reg1.

func vmOpHandler(d *Dispatcher, cur percpu.CurrentPp, caller ids.ExtId, index uint32, regs *percpu.Registers) status.Status {
	switch index {
	case VmOpCreate:
		id, err := d.Vms.Create()
		if err != nil {
			return status.FromComponentError(err)
		}
		regs.Reg[1] = uint64(id)
		return status.Success
	case VmOpDestroy:
		if err := d.Vms.Destroy(ids.VmId(regs.Reg[1])); err != nil {
			return status.FromComponentError(err)
		}
		return status.Success
	case VmOpMapDirect:
		vmID := ids.VmId(regs.Reg[1])
		gpa, hpa := regs.Reg[2], regs.Reg[3]
		if !d.Vms.Allocated(vmID) {
			return status.InvalidInputReg(1)
		}
		d.setDirectMapping(vmID, gpa, hpa)
		return status.Success
	case VmOpUnmapDirect:
		vmID := ids.VmId(regs.Reg[1])
		gpa := regs.Reg[2]
		if !d.Vms.Allocated(vmID) {
			return status.InvalidInputReg(1)
		}
		d.clearDirectMapping(vmID, gpa)
		return status.Success
	case VmOpUnmapDirectBroadcast:
		// Cross-PP TLB shootdown is the extension's responsibility
		//; the core never implements the broadcast itself.
		return status.FailureUnsupported
	case VmOpTlbFlush:
		vmID := ids.VmId(regs.Reg[1])
		if !d.Vms.Allocated(vmID) {
			return status.InvalidInputReg(1)
		}
		if err := d.Intrinsics.Invept(0, uint64(vmID)); err != nil {
			return status.FromComponentError(err)
		}
		return status.Success
	default:
		return status.FailureUnsupported
	}
}

func (d *Dispatcher) setDirectMapping(vmID ids.VmId, gpa, hpa uint64) {
	d.directMapMu.Lock()
	defer d.directMapMu.Unlock()
	if d.directMap == nil {
		d.directMap = make(map[ids.VmId]map[uint64]uint64)
	}
	if d.directMap[vmID] == nil {
		d.directMap[vmID] = make(map[uint64]uint64)
	}
	d.directMap[vmID][gpa] = hpa
}

func (d *Dispatcher) clearDirectMapping(vmID ids.VmId, gpa uint64) {
	d.directMapMu.Lock()
	defer d.directMapMu.Unlock()
	delete(d.directMap[vmID], gpa)
}

// DirectMapping returns the host physical address mapped to gpa in
// vmID's extended-page-table direct map, and whether it exists.
// Nothing in this module calls it.
func (d *Dispatcher) DirectMapping(vmID ids.VmId, gpa uint64) (uint64, bool) {
	d.directMapMu.Lock()
	defer d.directMapMu.Unlock()
	hpa, ok := d.directMap[vmID][gpa]
	return hpa, ok
}
