package syscall

import (
	"github.com/microvisor/core/internal/core/ids"
	"github.com/microvisor/core/internal/core/percpu"
	"github.com/microvisor/core/internal/core/status"
)

// control_op indices (the extension's bootstrap/vmexit/
// fail callback signals what execloop should do next by issuing one
// of these before returning).
const (
	ControlOpExit uint32 = iota
	ControlOpWait
	ControlOpAgain
)

// ControlSignal is the one-shot latch execloop reads after invoking an
// extension's callback. A callback is a Go closure, not a value
// execloop receives as a return value, so exit/wait/again are recorded
// here as genuine syscalls issued from inside that closure and
// consumed by execloop once the closure returns.
type ControlSignal int

const (
	ControlNone ControlSignal = iota
	ControlExit
	ControlWait
	ControlAgain
)

// controlOpHandler implements the control_op family.
// wait's actual blocking behaviour belongs to execloop's WaitPool;
// this handler only delegates to it and, for wait/exit/again, latches
// the signal execloop consumes after the callback returns.
func controlOpHandler(d *Dispatcher, cur percpu.CurrentPp, caller ids.ExtId, index uint32, regs *percpu.Registers) status.Status {
	switch index {
	case ControlOpExit:
		d.setControlSignal(cur, ControlExit)
		return status.Success
	case ControlOpAgain:
		d.setControlSignal(cur, ControlAgain)
		return status.Success
	case ControlOpWait:
		target := ids.ExtId(regs.Reg[1])
		if err := d.Wait.Wait(target); err != nil {
			return status.FromComponentError(err)
		}
		d.setControlSignal(cur, ControlWait)
		return status.Success
	default:
		return status.FailureUnsupported
	}
}

func (d *Dispatcher) setControlSignal(cur percpu.CurrentPp, sig ControlSignal) {
	d.signalsMu.Lock()
	defer d.signalsMu.Unlock()
	if d.signals == nil {
		d.signals = make(map[percpu.PpId]ControlSignal)
	}
	d.signals[cur.ID()] = sig
}

// TakeControlSignal returns and clears the control signal latched on
// cur's PP since the last call, or ControlNone if none was set.
// execloop calls this immediately after an extension callback closure
// returns.
func (d *Dispatcher) TakeControlSignal(cur percpu.CurrentPp) ControlSignal {
	d.signalsMu.Lock()
	defer d.signalsMu.Unlock()
	sig := d.signals[cur.ID()]
	delete(d.signals, cur.ID())
	return sig
}
