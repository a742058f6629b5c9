package syscall

import (
	"github.com/microvisor/core/internal/core/ids"
	"github.com/microvisor/core/internal/core/percpu"
	"github.com/microvisor/core/internal/core/status"
)

// intrinsic_op indices: rdmsr/wrmsr/invlpga/invept/invvpid.
const (
	IntrinsicOpRdmsr uint32 = iota
	IntrinsicOpWrmsr
	IntrinsicOpInvlpga
	IntrinsicOpInvept
	IntrinsicOpInvvpid
)

func intrinsicOpHandler(d *Dispatcher, cur percpu.CurrentPp, caller ids.ExtId, index uint32, regs *percpu.Registers) status.Status {
	if d.Intrinsics == nil {
		return status.FailureUnsupported
	}
	switch index {
	case IntrinsicOpRdmsr:
		v, err := d.Intrinsics.Rdmsr(uint32(regs.Reg[1]))
		if err != nil {
			return status.FromComponentError(err)
		}
		regs.Reg[1] = v
		return status.Success
	case IntrinsicOpWrmsr:
		if err := d.Intrinsics.Wrmsr(uint32(regs.Reg[1]), regs.Reg[2]); err != nil {
			return status.FromComponentError(err)
		}
		return status.Success
	case IntrinsicOpInvlpga:
		if err := d.Intrinsics.Invlpga(regs.Reg[1], uint32(regs.Reg[2])); err != nil {
			return status.FromComponentError(err)
		}
		return status.Success
	case IntrinsicOpInvept:
		if err := d.Intrinsics.Invept(regs.Reg[1], regs.Reg[2]); err != nil {
			return status.FromComponentError(err)
		}
		return status.Success
	case IntrinsicOpInvvpid:
		if err := d.Intrinsics.Invvpid(regs.Reg[1], uint16(regs.Reg[2]), regs.Reg[3]); err != nil {
			return status.FromComponentError(err)
		}
		return status.Success
	default:
		return status.FailureUnsupported
	}
}
