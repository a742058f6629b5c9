package syscall

import (
	"github.com/microvisor/core/internal/core/ids"
	"github.com/microvisor/core/internal/core/percpu"
	"github.com/microvisor/core/internal/core/status"
	"github.com/microvisor/core/internal/core/vs"
)

// vs_op indices.
const (
	VsOpCreate uint32 = iota
	VsOpDestroy
	VsOpInitAsRoot
	VsOpRead8
	VsOpRead16
	VsOpRead32
	VsOpRead64
	VsOpWrite8
	VsOpWrite16
	VsOpWrite32
	VsOpWrite64
	VsOpReadReg
	VsOpWriteReg
	VsOpRun
	VsOpRunCurrent
	VsOpAdvanceIp
	VsOpAdvanceIpAndRunCurrent
	VsOpPromote
	VsOpClear
)

func vsOpHandler(d *Dispatcher, cur percpu.CurrentPp, caller ids.ExtId, index uint32, regs *percpu.Registers) status.Status {
	switch index {
	case VsOpCreate:
		id, err := d.Vs.Create(ids.VpId(regs.Reg[1]), cur.ID())
		if err != nil {
			return status.FromComponentError(err)
		}
		regs.Reg[1] = uint64(id)
		return status.Success
	case VsOpDestroy:
		if err := d.Vs.Destroy(ids.VsId(regs.Reg[1])); err != nil {
			return status.FromComponentError(err)
		}
		return status.Success
	case VsOpInitAsRoot:
		if err := d.Vs.InitAsRoot(ids.VsId(regs.Reg[1]), cur.ID()); err != nil {
			return status.FromComponentError(err)
		}
		return status.Success
	case VsOpRead8:
		v, err := d.Vs.Read8(ids.VsId(regs.Reg[1]), vs.Field(regs.Reg[2]))
		if err != nil {
			return status.FromComponentError(err)
		}
		regs.Reg[1] = uint64(v)
		return status.Success
	case VsOpRead16:
		v, err := d.Vs.Read16(ids.VsId(regs.Reg[1]), vs.Field(regs.Reg[2]))
		if err != nil {
			return status.FromComponentError(err)
		}
		regs.Reg[1] = uint64(v)
		return status.Success
	case VsOpRead32:
		v, err := d.Vs.Read32(ids.VsId(regs.Reg[1]), vs.Field(regs.Reg[2]))
		if err != nil {
			return status.FromComponentError(err)
		}
		regs.Reg[1] = uint64(v)
		return status.Success
	case VsOpRead64:
		v, err := d.Vs.Read64(ids.VsId(regs.Reg[1]), vs.Field(regs.Reg[2]))
		if err != nil {
			return status.FromComponentError(err)
		}
		regs.Reg[1] = v
		return status.Success
	case VsOpWrite8:
		if err := d.Vs.Write8(ids.VsId(regs.Reg[1]), vs.Field(regs.Reg[2]), uint8(regs.Reg[3])); err != nil {
			return status.FromComponentError(err)
		}
		return status.Success
	case VsOpWrite16:
		if err := d.Vs.Write16(ids.VsId(regs.Reg[1]), vs.Field(regs.Reg[2]), uint16(regs.Reg[3])); err != nil {
			return status.FromComponentError(err)
		}
		return status.Success
	case VsOpWrite32:
		if err := d.Vs.Write32(ids.VsId(regs.Reg[1]), vs.Field(regs.Reg[2]), uint32(regs.Reg[3])); err != nil {
			return status.FromComponentError(err)
		}
		return status.Success
	case VsOpWrite64:
		if err := d.Vs.Write64(ids.VsId(regs.Reg[1]), vs.Field(regs.Reg[2]), regs.Reg[3]); err != nil {
			return status.FromComponentError(err)
		}
		return status.Success
	case VsOpReadReg:
		v, err := d.Vs.ReadReg(ids.VsId(regs.Reg[1]), vs.GPReg(regs.Reg[2]))
		if err != nil {
			return status.FromComponentError(err)
		}
		regs.Reg[1] = v
		return status.Success
	case VsOpWriteReg:
		if err := d.Vs.WriteReg(ids.VsId(regs.Reg[1]), vs.GPReg(regs.Reg[2]), regs.Reg[3]); err != nil {
			return status.FromComponentError(err)
		}
		return status.Success
	case VsOpRun:
		err := d.Vs.Run(cur, ids.VmId(regs.Reg[1]), ids.VpId(regs.Reg[2]), ids.VsId(regs.Reg[3]))
		if err != nil {
			return status.FromComponentError(err)
		}
		return status.Success
	case VsOpRunCurrent:
		if err := d.Vs.RunCurrent(cur); err != nil {
			return status.FromComponentError(err)
		}
		return status.Success
	case VsOpAdvanceIp:
		if err := d.Vs.AdvanceIp(ids.VsId(regs.Reg[1])); err != nil {
			return status.FromComponentError(err)
		}
		return status.Success
	case VsOpAdvanceIpAndRunCurrent:
		if err := d.Vs.AdvanceIpAndRunCurrent(cur); err != nil {
			return status.FromComponentError(err)
		}
		return status.Success
	case VsOpPromote:
		if err := d.Vs.Promote(ids.VsId(regs.Reg[1])); err != nil {
			return status.FromComponentError(err)
		}
		return status.Success
	case VsOpClear:
		if err := d.Vs.Clear(ids.VsId(regs.Reg[1])); err != nil {
			return status.FromComponentError(err)
		}
		return status.Success
	default:
		return status.FailureUnsupported
	}
}
