// Package vp implements the VP (virtual processor) capability object:
// a schedulable entity inside a VM. assigned_vm is
// fixed at creation; assigned_pp changes only through Migrate, and
// that change is deferred — it merely updates the field here, the
// actual VS reload happens lazily on the next vs.Run on the new PP.
package vp

import (
	"github.com/microvisor/core/internal/core/captable"
	"github.com/microvisor/core/internal/core/ids"
	"github.com/microvisor/core/internal/core/vm"
)

// Object is one VP's capability body.
type Object struct {
	AssignedVm ids.VmId
	AssignedPp ids.PpId // ids.InvalidPpId until first vs.Run
	ActiveOnPp bool
	AssignedVs ids.VsId // ids.InvalidVsId if none
}

// HasAssignedVs reports whether any VS is still assigned to the given
// VP. Implemented by package vs's Table and passed in at construction,
// so vp does not need to import vs.
type HasAssignedVs func(ids.VpId) bool

// Table owns every VP in the system.
type Table struct {
	vms   *vm.Table
	objs  *captable.Table[ids.VpId, Object]
	hasVs HasAssignedVs
}

// NewTable constructs the VP table with capacity maxVps. vms is used
// to validate that a VP's assigned VM is allocated at creation time.
func NewTable(maxVps int, vms *vm.Table, hasAssignedVs HasAssignedVs) *Table {
	if hasAssignedVs == nil {
		hasAssignedVs = func(ids.VpId) bool { return false }
	}
	t := &Table{vms: vms, hasVs: hasAssignedVs}
	stillRefs := func(id ids.VpId, o Object) bool {
		return o.ActiveOnPp || o.AssignedVs.Valid() || t.hasVs(id)
	}
	t.objs = captable.New[ids.VpId, Object](maxVps, nil, stillRefs)
	return t
}

// Create allocates a new VP bound to vmID, which must already be
// allocated. assigned_vm is immutable from this point on.
func (t *Table) Create(vmID ids.VmId) (ids.VpId, error) {
	if !t.vms.Allocated(vmID) {
		return ids.InvalidVpId, captable.ErrNotAllocated
	}
	return t.objs.Allocate(Object{
		AssignedVm: vmID,
		AssignedPp: ids.InvalidPpId,
		AssignedVs: ids.InvalidVsId,
	})
}

// Destroy frees vp. Fails with captable.ErrStillReferenced if a VS is
// still assigned to it or it is active.
func (t *Table) Destroy(vpID ids.VpId) error {
	return t.objs.Destroy(vpID)
}

// Get returns a copy of vp's capability body.
func (t *Table) Get(vpID ids.VpId) (Object, error) {
	return t.objs.Get(vpID)
}

// Allocated reports whether vp names an allocated VP.
func (t *Table) Allocated(vpID ids.VpId) bool {
	return t.objs.Allocated(vpID)
}

// AssignPpIfUnset implements assignment on first use: if vp has no assigned_pp, set it to pp; else require equality
// with the existing assignment. Returns the (possibly unchanged)
// assigned_pp.
func (t *Table) AssignPpIfUnset(vpID ids.VpId, pp ids.PpId) (ids.PpId, error) {
	var result ids.PpId
	err := t.objs.Mutate(vpID, func(o Object) (Object, error) {
		if !o.AssignedPp.Valid() {
			o.AssignedPp = pp
		} else if o.AssignedPp != pp {
			result = o.AssignedPp
			return o, errAssignedToOtherPp
		}
		result = o.AssignedPp
		return o, nil
	})
	return result, err
}

// Migrate changes vp's assigned_pp. This is the only way assigned_pp
// changes explicitly; it does not touch any VS — the actual VMCS/VMCB
// clear is deferred to the next vs.Run on the new PP.
func (t *Table) Migrate(vpID ids.VpId, newPp ids.PpId) error {
	return t.objs.Mutate(vpID, func(o Object) (Object, error) {
		if o.ActiveOnPp {
			return o, errMigrateWhileActive
		}
		o.AssignedPp = newPp
		return o, nil
	})
}

// SetActive marks vp active on its assigned PP.
func (t *Table) SetActive(vpID ids.VpId, active bool) error {
	return t.objs.Mutate(vpID, func(o Object) (Object, error) {
		o.ActiveOnPp = active
		return o, nil
	})
}

// SetAssignedVs records which VS is currently assigned to vp (at most
// one).
func (t *Table) SetAssignedVs(vpID ids.VpId, vsID ids.VsId) error {
	return t.objs.Mutate(vpID, func(o Object) (Object, error) {
		o.AssignedVs = vsID
		return o, nil
	})
}

// AnyAssignedTo reports whether any allocated VP is still assigned to
// vmID — the vm.HasAssignedVp predicate the VM table's destroy-ordering
// check consumes.
func (t *Table) AnyAssignedTo(vmID ids.VmId) bool {
	found := false
	t.objs.Each(func(_ ids.VpId, o Object) {
		if o.AssignedVm == vmID {
			found = true
		}
	})
	return found
}

// Each iterates every allocated VP, in id order.
func (t *Table) Each(fn func(ids.VpId, Object)) {
	t.objs.Each(fn)
}
