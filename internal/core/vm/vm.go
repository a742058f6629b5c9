// Package vm implements the VM capability object:
// an address-space container for VPs, with a multi-PP active bitmap
// (multi-core VMs may be active on more than one PP simultaneously).
// VM 0 is the implicit root VM representing the host state captured by
// the late-launch shim.
package vm

import (
	"fmt"

	"github.com/microvisor/core/internal/core/captable"
	"github.com/microvisor/core/internal/core/ids"
)

// Object is one VM's capability body. The active-on-PP bitmap is a
// plain uint64 bitset over PpId — a value, not a slice, so the copies
// captable.Get hands out never alias the table's own storage. It is
// written from arbitrary PPs, with every mutation
// serialised through the owning Table's lock.
type Object struct {
	activeOnPp uint64
}

// ActiveOnAnyPp reports whether this VM is active on at least one PP.
func (o Object) ActiveOnAnyPp() bool {
	return o.activeOnPp != 0
}

// ActiveOnPp reports whether this VM is active on the given PP.
func (o Object) ActiveOnPp(pp ids.PpId) bool {
	if int(pp) < 0 || int(pp) >= 64 {
		return false
	}
	return o.activeOnPp&(1<<uint(pp)) != 0
}

// Table owns every VM in the system, including the implicit root VM.
type Table struct {
	maxPps int
	objs   *captable.Table[ids.VmId, Object]
}

// HasAssignedVp reports whether any VP is still assigned to the given
// VM. Implemented by package vp's Table and passed in at
// construction, so vm does not need to import vp (which would create
// an import cycle once vp needs vm for validation).
type HasAssignedVp func(ids.VmId) bool

// NewTable constructs the VM table with capacity maxVms and creates
// the implicit root VM (id 0) immediately. maxPps sizes the per-VM active-on-PP bitmap and must fit the uint64 bitset.
func NewTable(maxVms, maxPps int, hasAssignedVp HasAssignedVp) (*Table, error) {
	if maxPps > 64 {
		return nil, fmt.Errorf("vm: maxPps %d exceeds the 64-PP bitmap", maxPps)
	}
	if hasAssignedVp == nil {
		hasAssignedVp = func(ids.VmId) bool { return false }
	}

	reserved := func(id ids.VmId) bool { return ids.IsRootVm(id) }
	stillRefs := func(id ids.VmId, o Object) bool {
		return o.ActiveOnAnyPp() || hasAssignedVp(id)
	}

	objs := captable.New[ids.VmId, Object](maxVms, reserved, stillRefs)
	t := &Table{maxPps: maxPps, objs: objs}

	if err := objs.AllocateAt(ids.RootVmId, Object{}); err != nil {
		return nil, err
	}
	return t, nil
}

// Create allocates a new VM and returns its id.
func (t *Table) Create() (ids.VmId, error) {
	return t.objs.Allocate(Object{})
}

// Destroy frees vm. Fails with captable.ErrStillReferenced if any VP
// is still assigned to it, it is active on any PP, or it is the root VM.
func (t *Table) Destroy(vm ids.VmId) error {
	return t.objs.Destroy(vm)
}

// Allocated reports whether vm names an allocated VM.
func (t *Table) Allocated(vm ids.VmId) bool {
	return t.objs.Allocated(vm)
}

// SetActiveOnPp marks vm active on pp.
func (t *Table) SetActiveOnPp(vmID ids.VmId, pp ids.PpId) error {
	return t.objs.Mutate(vmID, func(o Object) (Object, error) {
		if int(pp) >= 0 && int(pp) < t.maxPps {
			o.activeOnPp |= 1 << uint(pp)
		}
		return o, nil
	})
}

// ClearActiveOnPp marks vm inactive on pp.
func (t *Table) ClearActiveOnPp(vmID ids.VmId, pp ids.PpId) error {
	return t.objs.Mutate(vmID, func(o Object) (Object, error) {
		if int(pp) >= 0 && int(pp) < t.maxPps {
			o.activeOnPp &^= 1 << uint(pp)
		}
		return o, nil
	})
}

// ActiveOnPp reports whether vm is active on pp.
func (t *Table) ActiveOnPp(vmID ids.VmId, pp ids.PpId) (bool, error) {
	o, err := t.objs.Get(vmID)
	if err != nil {
		return false, err
	}
	return o.ActiveOnPp(pp), nil
}

// Each iterates every allocated VM, in id order (used by
// debug_op.dump_vm).
func (t *Table) Each(fn func(ids.VmId, Object)) {
	t.objs.Each(fn)
}
