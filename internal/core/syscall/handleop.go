package syscall

import (
	"github.com/microvisor/core/internal/core/ids"
	"github.com/microvisor/core/internal/core/percpu"
	"github.com/microvisor/core/internal/core/status"
)

// handle_op indices.
const (
	HandleOpOpen uint32 = iota
	HandleOpClose
)

// handleOpHandler implements handle_op.open_handle/close_handle.
// open_handle is the one syscall Dispatch never
// authorises first, since it is the syscall that produces the handle
// the caller has none of yet.
func handleOpHandler(d *Dispatcher, cur percpu.CurrentPp, caller ids.ExtId, index uint32, regs *percpu.Registers) status.Status {
	switch index {
	case HandleOpOpen:
		handle, err := d.Ext.OpenHandle(caller)
		if err != nil {
			return status.FromComponentError(err)
		}
		regs.Reg[0] = handle
		return status.Success
	case HandleOpClose:
		if err := d.Ext.CloseHandle(caller, regs.Reg[0]); err != nil {
			return status.FromComponentError(err)
		}
		return status.Success
	default:
		return status.FailureUnsupported
	}
}
