// Package syscall implements the syscall dispatcher: decode the
// family:index immediate, validate the presented handle and caller
// privilege, and route to the owning component. All validation happens
// here, before any component or hardware path runs, so a rejected call
// leaves every table untouched.
package syscall

import (
	"sync"

	"github.com/microvisor/core/internal/core/arch"
	"github.com/microvisor/core/internal/core/debugdump"
	"github.com/microvisor/core/internal/core/ext"
	"github.com/microvisor/core/internal/core/ids"
	"github.com/microvisor/core/internal/core/percpu"
	"github.com/microvisor/core/internal/core/pool"
	"github.com/microvisor/core/internal/core/status"
	"github.com/microvisor/core/internal/core/vm"
	"github.com/microvisor/core/internal/core/vp"
	"github.com/microvisor/core/internal/core/vs"
)

// Family names one of the nine syscall families the ABI defines.
type Family uint32

const (
	FamilyHandleOp Family = iota
	FamilyControlOp
	FamilyCallbackOp
	FamilyDebugOp
	FamilyVmOp
	FamilyVpOp
	FamilyVsOp
	FamilyIntrinsicOp
	FamilyMemOp
)

// Immediate packs a family and an in-family index into the single
// 64-bit immediate the syscall ABI carries. Family occupies the high
// 32 bits and index the low 32, wide enough that no family will ever
// need to subdivide its index space further.
func Immediate(f Family, index uint32) uint64 {
	return uint64(f)<<32 | uint64(index)
}

func decode(imm uint64) (Family, uint32) {
	return Family(imm >> 32), uint32(imm)
}

// WaitPool lets control_op.wait block the caller until an extension's
// started flag transitions to true, without syscall importing
// execloop (which itself needs to invoke Dispatch). Implemented by
// execloop.WaitPool and injected at construction — the same
// dependency-inversion shape vm/vp/vs use for their cross-package
// predicates.
type WaitPool interface {
	Wait(id ids.ExtId) error
	Open(id ids.ExtId)
}

type noopWaitPool struct{}

func (noopWaitPool) Wait(ids.ExtId) error { return nil }
func (noopWaitPool) Open(ids.ExtId)       {}

// familyHandler handles every index within one family. regs is the
// calling PP's TLS register file (ext_reg0..5); the handler reads its
// inputs from it and writes any outputs back before returning.
type familyHandler func(d *Dispatcher, cur percpu.CurrentPp, caller ids.ExtId, index uint32, regs *percpu.Registers) status.Status

// Dispatcher is the single entry point every extension syscall passes
// through. It is built once, wiring a fixed map[Family]familyHandler,
// never reconstructed per call.
type Dispatcher struct {
	Ext  *ext.Runtime
	Vms  *vm.Table
	Vps  *vp.Table
	Vs   *vs.Engine
	Cpus *percpu.Bank
	Pages pool.PagePool
	Huge  pool.HugePool
	Wait  WaitPool

	// Intrinsics is the architecture capability set intrinsic_op and
	// vm_op.tlb_flush dispatch onto.
	Intrinsics arch.Intrinsics

	// Console receives debug_op's text output. A nil Console discards
	// it silently.
	Console Console

	handlers map[Family]familyHandler

	signalsMu sync.Mutex
	signals   map[percpu.PpId]ControlSignal

	// vmexitLog is the bounded ring execloop appends to through
	// RecordVmexit on every VM-exit; debug_op.dump_vmexit_log renders a
	// snapshot of it.
	vmexitMu  sync.Mutex
	vmexitLog []debugdump.VmexitLogEntry

	directMapMu sync.Mutex
	directMap   map[ids.VmId]map[uint64]uint64

	heap heapState
}

// Config bundles the component references a Dispatcher routes to.
type Config struct {
	Ext   *ext.Runtime
	Vms   *vm.Table
	Vps   *vp.Table
	Vs    *vs.Engine
	Cpus  *percpu.Bank
	Pages pool.PagePool
	Huge  pool.HugePool
	// Wait is optional; a nil Wait makes control_op.wait a no-op
	// (useful for component tests that don't exercise the wait pool).
	Wait WaitPool
	// Console is optional; a nil Console makes debug_op's text output
	// primitives no-ops.
	Console    Console
	Intrinsics arch.Intrinsics
}

// NewDispatcher constructs a Dispatcher over cfg, building the family
// routing table once.
func NewDispatcher(cfg Config) *Dispatcher {
	wp := cfg.Wait
	if wp == nil {
		wp = noopWaitPool{}
	}
	d := &Dispatcher{
		Ext: cfg.Ext, Vms: cfg.Vms, Vps: cfg.Vps, Vs: cfg.Vs, Cpus: cfg.Cpus,
		Pages: cfg.Pages, Huge: cfg.Huge, Wait: wp, Console: cfg.Console,
		Intrinsics: cfg.Intrinsics,
	}
	d.handlers = map[Family]familyHandler{
		FamilyHandleOp:    handleOpHandler,
		FamilyControlOp:   controlOpHandler,
		FamilyCallbackOp:  callbackOpHandler,
		FamilyDebugOp:     debugOpHandler,
		FamilyVmOp:        vmOpHandler,
		FamilyVpOp:        vpOpHandler,
		FamilyVsOp:        vsOpHandler,
		FamilyIntrinsicOp: intrinsicOpHandler,
		FamilyMemOp:       memOpHandler,
	}
	return d
}

// skipsHandleAuth reports the syscalls exempt from the
// "presented handle must match the open one" check: handle_op.open_handle
// (there is no handle to present yet) and debug_op.write_char/
// write_string, the small debug subset, resolved here as the two
// single-character/string output primitives only, since every
// dump_* primitive reads live capability-table state and should stay
// behind the same authorisation boundary as the tables it inspects
// (see DESIGN.md).
func skipsHandleAuth(f Family, index uint32) bool {
	if f == FamilyHandleOp && index == HandleOpOpen {
		return true
	}
	if f == FamilyDebugOp && (index == DebugOpWriteChar || index == DebugOpWriteString) {
		return true
	}
	return false
}

// requiresVmexitExtension reports whether family f is restricted to the
// vmexit extension; this holds for every index of vm_op and no other
// family.
func requiresVmexitExtension(f Family) bool {
	return f == FamilyVmOp
}

// vmexitLogCap bounds the vmexit log ring; older entries fall off.
const vmexitLogCap = 64

// RecordVmexit appends the witnessed PP's active triple and its
// current exit reason to the vmexit log. execloop calls this once per
// VM-exit, before delivering the exit to the extension's vmexit
// callback.
func (d *Dispatcher) RecordVmexit(cur percpu.CurrentPp) {
	active := d.Cpus.Active(cur)
	if !active.Present {
		return
	}
	var reason uint64
	if d.Vs != nil {
		if obj, err := d.Vs.Get(active.Vs); err == nil {
			if obj.Arch == vs.ArchAmdSvm {
				reason, _ = d.Vs.Read64(active.Vs, vs.FieldSvmExitCode)
			} else {
				r, _ := d.Vs.Read32(active.Vs, vs.FieldVmxExitReason)
				reason = uint64(r)
			}
		}
	}

	d.vmexitMu.Lock()
	defer d.vmexitMu.Unlock()
	d.vmexitLog = append(d.vmexitLog, debugdump.VmexitLogEntry{
		Pp: cur.ID(), Vm: active.Vm, Vp: active.Vp, Vs: active.Vs, Reason: reason,
	})
	if len(d.vmexitLog) > vmexitLogCap {
		d.vmexitLog = d.vmexitLog[len(d.vmexitLog)-vmexitLogCap:]
	}
}

func (d *Dispatcher) vmexitLogSnapshot() []debugdump.VmexitLogEntry {
	d.vmexitMu.Lock()
	defer d.vmexitMu.Unlock()
	return append([]debugdump.VmexitLogEntry(nil), d.vmexitLog...)
}

// Dispatch decodes imm, validates the caller, and routes to the
// owning family handler. Always returns a status; never panics on
// caller-supplied input.
func (d *Dispatcher) Dispatch(cur percpu.CurrentPp, caller ids.ExtId, imm uint64) status.Status {
	family, index := decode(imm)
	handler, ok := d.handlers[family]
	if !ok {
		return status.FailureUnsupported
	}

	regs := d.Cpus.Registers(cur)

	if !skipsHandleAuth(family, index) {
		if err := d.Ext.Authorize(caller, regs.Reg[0]); err != nil {
			return status.FromComponentError(err)
		}
	}
	if requiresVmexitExtension(family) {
		isVmexit, err := d.Ext.IsVmexitExtension(caller)
		if err != nil {
			return status.FromComponentError(err)
		}
		if !isVmexit {
			return status.InvalidPermDenied
		}
	}

	return handler(d, cur, caller, index, regs)
}
