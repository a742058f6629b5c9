package syscall

import (
	"github.com/microvisor/core/internal/core/ext"
	"github.com/microvisor/core/internal/core/ids"
	"github.com/microvisor/core/internal/core/percpu"
	"github.com/microvisor/core/internal/core/status"
)

// callback_op indices: register_bootstrap/register_vmexit/register_fail.
const (
	CallbackOpRegisterBootstrap uint32 = iota
	CallbackOpRegisterVmexit
	CallbackOpRegisterFail
)

// callbackOpHandler implements callback_op. ext_reg0 carries the open
// handle (already authorised by Dispatch), ext_reg1 the callback IP.
func callbackOpHandler(d *Dispatcher, cur percpu.CurrentPp, caller ids.ExtId, index uint32, regs *percpu.Registers) status.Status {
	var kind ext.CallbackKind
	switch index {
	case CallbackOpRegisterBootstrap:
		kind = ext.CallbackBootstrap
	case CallbackOpRegisterVmexit:
		kind = ext.CallbackVmexit
	case CallbackOpRegisterFail:
		kind = ext.CallbackFail
	default:
		return status.FailureUnsupported
	}
	if err := d.Ext.RegisterCallback(caller, regs.Reg[0], kind, regs.Reg[1]); err != nil {
		return status.FromComponentError(err)
	}
	return status.Success
}
