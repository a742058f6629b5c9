package syscall

import (
	"github.com/microvisor/core/internal/core/debugdump"
	"github.com/microvisor/core/internal/core/ids"
	"github.com/microvisor/core/internal/core/percpu"
	"github.com/microvisor/core/internal/core/status"
)

// debug_op indices. write_char/write_string are the
// "small debug subset" Dispatch exempts from handle authorisation;
// every dump_* primitive reads live capability-table state and stays
// behind the handle check like any other syscall.
const (
	DebugOpWriteChar uint32 = iota
	DebugOpWriteString
	DebugOpDumpVm
	DebugOpDumpVp
	DebugOpDumpVs
	DebugOpDumpExt
	DebugOpDumpPagePool
	DebugOpDumpHugePool
	DebugOpDumpVmexitLog
)

// Console is where debug_op.write_char/write_string and the dump_*
// primitives send their rendered text. A Dispatcher with a nil Console
// silently discards output, which is convenient for tests that only
// care about the returned status.
type Console interface {
	WriteString(s string) (int, error)
}

func debugOpHandler(d *Dispatcher, cur percpu.CurrentPp, caller ids.ExtId, index uint32, regs *percpu.Registers) status.Status {
	switch index {
	case DebugOpWriteChar:
		d.writeConsole(string(rune(regs.Reg[0])))
		return status.Success
	case DebugOpWriteString:
		// write_string only validates that the pointer/length fall
		// within caller's direct-mapped range; it never reads the
		// bytes back (the core does not own guest memory), so nothing
		// reaches the console here. A bad pointer still faults exactly as it would for any other
		// memory-touching syscall.
		s, err := d.readGuestString(caller, regs.Reg[0], regs.Reg[1])
		if err != nil {
			return status.FromComponentError(err)
		}
		d.writeConsole(s)
		return status.Success
	case DebugOpDumpVm:
		d.writeConsole(debugdump.Vm(d.Vms))
		return status.Success
	case DebugOpDumpVp:
		d.writeConsole(debugdump.Vp(d.Vps))
		return status.Success
	case DebugOpDumpVs:
		d.writeConsole(debugdump.Vs(d.Vs))
		return status.Success
	case DebugOpDumpExt:
		d.writeConsole(debugdump.Ext(d.Ext))
		return status.Success
	case DebugOpDumpPagePool:
		if d.Pages == nil {
			return status.FailureUnsupported
		}
		d.writeConsole(debugdump.PagePool(d.Pages))
		return status.Success
	case DebugOpDumpHugePool:
		if d.Huge == nil {
			return status.FailureUnsupported
		}
		d.writeConsole(debugdump.HugePool(d.Huge))
		return status.Success
	case DebugOpDumpVmexitLog:
		d.writeConsole(debugdump.VmexitLog(d.vmexitLogSnapshot()))
		return status.Success
	default:
		return status.FailureUnsupported
	}
}

func (d *Dispatcher) writeConsole(s string) {
	if d.Console == nil {
		return
	}
	d.Console.WriteString(s)
}

// readGuestString validates that virt falls within the calling
// extension's direct-mapped range and always returns an empty string
// (length is not used). The core
// does not manage guest memory contents, so there is
// nothing backing virt to actually dereference; the translation check
// still gives write_string the same fault behaviour a bad pointer
// would get from any other syscall that touches extension memory.
func (d *Dispatcher) readGuestString(caller ids.ExtId, virt, length uint64) (string, error) {
	if _, err := d.Ext.VirtToPhys(virt); err != nil {
		return "", err
	}
	return "", nil
}
