package syscall

import (
	"github.com/microvisor/core/internal/core/ids"
	"github.com/microvisor/core/internal/core/percpu"
	"github.com/microvisor/core/internal/core/status"
)

// vp_op indices.
const (
	VpOpCreate uint32 = iota
	VpOpDestroy
	VpOpMigrate
)

func vpOpHandler(d *Dispatcher, cur percpu.CurrentPp, caller ids.ExtId, index uint32, regs *percpu.Registers) status.Status {
	switch index {
	case VpOpCreate:
		id, err := d.Vps.Create(ids.VmId(regs.Reg[1]))
		if err != nil {
			return status.FromComponentError(err)
		}
		regs.Reg[1] = uint64(id)
		return status.Success
	case VpOpDestroy:
		if err := d.Vps.Destroy(ids.VpId(regs.Reg[1])); err != nil {
			return status.FromComponentError(err)
		}
		return status.Success
	case VpOpMigrate:
		vpID := ids.VpId(regs.Reg[1])
		newPp := ids.PpId(regs.Reg[2])
		if err := d.Vps.Migrate(vpID, newPp); err != nil {
			return status.FromComponentError(err)
		}
		return status.Success
	default:
		return status.FailureUnsupported
	}
}
