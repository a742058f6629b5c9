// Package vs implements the VS engine: the object that owns one
// hardware guest-state structure (VMCS on Intel, VMCB on AMD), with
// typed field read/write, run/clear/promote, and the lazy migration
// contract. The Intel/AMD split is decided once, at engine
// construction, never per call.
package vs

import (
	"fmt"

	"github.com/microvisor/core/internal/core/arch"
	"github.com/microvisor/core/internal/core/captable"
	"github.com/microvisor/core/internal/core/ids"
	"github.com/microvisor/core/internal/core/percpu"
	"github.com/microvisor/core/internal/core/vm"
	"github.com/microvisor/core/internal/core/vp"
)

// Object is one VS's capability body.
type Object struct {
	AssignedVp ids.VpId
	AssignedPp ids.PpId
	ActiveOnPp bool
	Launched   bool // Intel only: VMLAUNCH vs VMRESUME
	Clean      bool // AMD only: VMCB clean-bits cache state
	Root       bool // id equals the creating pp (CreateRoot, or Create by position); never destroyable
	Arch       Arch

	fields map[Field]uint64
	gprs   map[GPReg]uint64
}

func newObject(a Arch, vpID ids.VpId, pp ids.PpId) Object {
	return Object{
		AssignedVp: vpID,
		AssignedPp: pp,
		Arch:       a,
		fields:     make(map[Field]uint64),
		gprs:       make(map[GPReg]uint64),
	}
}

// Engine is the VS capability table plus the cross-component wiring
// (vp/vm tables, per-PP TLS bank, and the arch intrinsics) that
// vs.Run's algorithm requires.
type Engine struct {
	objs  *captable.Table[ids.VsId, Object]
	vps   *vp.Table
	vms   *vm.Table
	cpus  *percpu.Bank
	intr  arch.Intrinsics
	arch  Arch
	maxPp int
}

// NewEngine constructs a VS engine. capacity is MAX_VSS; a is the
// architecture this machine implements (chosen once, at construction,
// from a runtime arch capability probe — never
// per-call).
func NewEngine(capacity, maxPp int, vps *vp.Table, vms *vm.Table, cpus *percpu.Bank, intr arch.Intrinsics, a Arch) *Engine {
	stillRefs := func(id ids.VsId, o Object) bool { return o.ActiveOnPp || o.Root }
	objs := captable.New[ids.VsId, Object](capacity, nil, stillRefs)
	return &Engine{objs: objs, vps: vps, vms: vms, cpus: cpus, intr: intr, arch: a, maxPp: maxPp}
}

// Create allocates a new VS bound to vpID, initially assigned to pp,
// with a zeroed hardware structure. A VP carries at
// most one VS at a time (a VP is destroyable only once no
// VS is assigned to it), so a second Create against the same VP is
// refused until the first VS is destroyed.
func (e *Engine) Create(vpID ids.VpId, pp ids.PpId) (ids.VsId, error) {
	vpObj, err := e.vps.Get(vpID)
	if err != nil {
		return ids.InvalidVsId, err
	}
	if vpObj.AssignedVs.Valid() {
		return ids.InvalidVsId, ErrVpHasVs
	}
	id, err := e.objs.Allocate(newObject(e.arch, vpID, pp))
	if err != nil {
		return ids.InvalidVsId, err
	}
	if err := e.finishCreate(id, vpID, pp); err != nil {
		return ids.InvalidVsId, err
	}
	return id, nil
}

// CreateRoot allocates the root VS for pp (id == pp); must
// be called once per PP at bootstrap.
func (e *Engine) CreateRoot(vpID ids.VpId, pp ids.PpId) (ids.VsId, error) {
	vpObj, err := e.vps.Get(vpID)
	if err != nil {
		return ids.InvalidVsId, err
	}
	if vpObj.AssignedVs.Valid() {
		return ids.InvalidVsId, ErrVpHasVs
	}
	id := ids.VsId(pp)
	if err := e.objs.AllocateAt(id, newObject(e.arch, vpID, pp)); err != nil {
		return ids.InvalidVsId, err
	}
	if err := e.finishCreate(id, vpID, pp); err != nil {
		return ids.InvalidVsId, err
	}
	return id, nil
}

// finishCreate records the VP's VS assignment and, when the freshly
// allocated id equals the creating pp, marks the VS as a root VS
// ("a VS whose id equals the pp_id on which it was created
// at bootstrap"). The root mark lands only after the assignment
// succeeded, so the rollback can still destroy the half-created slot.
func (e *Engine) finishCreate(id ids.VsId, vpID ids.VpId, pp ids.PpId) error {
	if err := e.vps.SetAssignedVs(vpID, id); err != nil {
		e.objs.Destroy(id)
		return err
	}
	if ids.IsRootVs(id, pp) {
		return e.objs.Mutate(id, func(o Object) (Object, error) {
			o.Root = true
			return o, nil
		})
	}
	return nil
}

// Destroy frees vsID and clears the owning VP's VS assignment. Fails
// if vs is active on any PP or is a root VS.
func (e *Engine) Destroy(vsID ids.VsId) error {
	obj, err := e.objs.Get(vsID)
	if err != nil {
		return err
	}
	if err := e.objs.Destroy(vsID); err != nil {
		return err
	}
	if obj.AssignedVp.Valid() {
		e.vps.SetAssignedVs(obj.AssignedVp, ids.InvalidVsId)
	}
	return nil
}

// AnyAssignedTo reports whether any allocated VS is still assigned to
// vpID — the vp.HasAssignedVs predicate the VP table's destroy-ordering
// check consumes.
func (e *Engine) AnyAssignedTo(vpID ids.VpId) bool {
	found := false
	e.objs.Each(func(_ ids.VsId, o Object) {
		if o.AssignedVp == vpID {
			found = true
		}
	})
	return found
}

// Get returns a copy of vs's capability body.
func (e *Engine) Get(vsID ids.VsId) (Object, error) {
	return e.objs.Get(vsID)
}

// Allocated reports whether vsID names an allocated VS.
func (e *Engine) Allocated(vsID ids.VsId) bool {
	return e.objs.Allocated(vsID)
}

// InitAsRoot initializes vsID from host state captured by the
// late-launch shim. Fails with ErrNotRootVs unless vsID equals the PP
// it was created on.
func (e *Engine) InitAsRoot(vsID ids.VsId, pp ids.PpId) error {
	if !ids.IsRootVs(vsID, pp) {
		return ErrNotRootVs
	}
	return e.objs.Mutate(vsID, func(o Object) (Object, error) {
		if !o.Root {
			return o, ErrNotRootVs
		}
		// The actual host-state capture is the late-launch shim's
		// responsibility; the core only marks the VS ready to run by
		// resetting the per-entry flags.
		o.Launched = false
		o.Clean = false
		return o, nil
	})
}

// readField validates width and arch-fit, then returns the raw field
// value. Shared by Read8/16/32/64.
func (e *Engine) readField(vsID ids.VsId, field Field, width Width) (uint64, error) {
	obj, err := e.objs.Get(vsID)
	if err != nil {
		return 0, err
	}
	if !validForArch(field, obj.Arch) || fieldWidths[field] != width {
		return 0, ErrInvalidField
	}
	return obj.fields[field], nil
}

func (e *Engine) writeField(vsID ids.VsId, field Field, width Width, value uint64) error {
	return e.objs.Mutate(vsID, func(o Object) (Object, error) {
		if !validForArch(field, o.Arch) || fieldWidths[field] != width {
			return o, ErrInvalidField
		}
		o.fields[field] = value
		if o.Arch == ArchAmdSvm {
			// Writing through the cache invalidates the VMCB clean
			// bits: the next entry must reload this state.
			o.Clean = false
		}
		return o, nil
	})
}

// Read8, Read16, Read32, and Read64 return the value of field,
// validated against its declared width.
func (e *Engine) Read8(vsID ids.VsId, field Field) (uint8, error) {
	v, err := e.readField(vsID, field, Width8)
	return uint8(v), err
}

func (e *Engine) Read16(vsID ids.VsId, field Field) (uint16, error) {
	v, err := e.readField(vsID, field, Width16)
	return uint16(v), err
}

func (e *Engine) Read32(vsID ids.VsId, field Field) (uint32, error) {
	v, err := e.readField(vsID, field, Width32)
	return uint32(v), err
}

func (e *Engine) Read64(vsID ids.VsId, field Field) (uint64, error) {
	return e.readField(vsID, field, Width64)
}

// Write8, Write16, Write32, and Write64 write value into field.
func (e *Engine) Write8(vsID ids.VsId, field Field, value uint8) error {
	return e.writeField(vsID, field, Width8, uint64(value))
}

func (e *Engine) Write16(vsID ids.VsId, field Field, value uint16) error {
	return e.writeField(vsID, field, Width16, uint64(value))
}

func (e *Engine) Write32(vsID ids.VsId, field Field, value uint32) error {
	return e.writeField(vsID, field, Width32, uint64(value))
}

func (e *Engine) Write64(vsID ids.VsId, field Field, value uint64) error {
	return e.writeField(vsID, field, Width64, value)
}

// ReadReg returns the cached value of a general-purpose register.
func (e *Engine) ReadReg(vsID ids.VsId, reg GPReg) (uint64, error) {
	obj, err := e.objs.Get(vsID)
	if err != nil {
		return 0, err
	}
	return obj.gprs[reg], nil
}

// WriteReg writes the cached value of a general-purpose register.
func (e *Engine) WriteReg(vsID ids.VsId, reg GPReg, value uint64) error {
	return e.objs.Mutate(vsID, func(o Object) (Object, error) {
		o.gprs[reg] = value
		return o, nil
	})
}

// AdvanceIp bumps guest RIP past the instruction that caused the
// exit. On Intel this is FieldVmxExitInstructionLength added
// to RIP; VMX's exit qualification (FieldVmxExitQualification) is a
// distinct, exit-reason-dependent payload field and is never read
// here. On AMD, the VMCB's decode-assist NextRip field
// (FieldSvmNextRip) already holds the absolute post-instruction RIP,
// so it is written directly rather than added — EXITINFO2
// (FieldSvmExitInfo2) carries unrelated, exit-specific data on SVM and
// is likewise never touched by advance_ip.
func (e *Engine) AdvanceIp(vsID ids.VsId) error {
	return e.objs.Mutate(vsID, func(o Object) (Object, error) {
		if o.Arch == ArchAmdSvm {
			o.fields[FieldGuestRip] = o.fields[FieldSvmNextRip]
			return o, nil
		}
		o.fields[FieldGuestRip] += o.fields[FieldVmxExitInstructionLength]
		return o, nil
	})
}

// Clear implements the clear operation: Intel issues
// VMCLEAR and resets launched to false; AMD zeroes the VMCB clean
// bits so the next entry does a full reload.
func (e *Engine) Clear(vsID ids.VsId) error {
	obj, err := e.objs.Get(vsID)
	if err != nil {
		return err
	}
	if obj.Arch == ArchIntelVmx {
		if err := e.intr.Vmclear(vmcsPhysAddr(vsID)); err != nil {
			return fmt.Errorf("vs: clear: %w", err)
		}
	}
	return e.objs.Mutate(vsID, func(o Object) (Object, error) {
		o.Launched = false
		o.Clean = false
		return o, nil
	})
}

// vmcsPhysAddr stands in for the real VMCS/VMCB physical address
// lookup (an external allocator concern, out of scope);
// the id itself is used as a stable, deterministic proxy so the
// simulator's Vmptrld/Vmclear calls are self-consistent across a run.
func vmcsPhysAddr(vsID ids.VsId) uint64 {
	return uint64(vsID) << 12
}

// Each iterates every allocated VS, in id order (used by
// debug_op.dump_vs).
func (e *Engine) Each(fn func(ids.VsId, Object)) {
	e.objs.Each(fn)
}
