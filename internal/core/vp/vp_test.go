package vp

import (
	"errors"
	"testing"

	"github.com/microvisor/core/internal/core/captable"
	"github.com/microvisor/core/internal/core/ids"
	"github.com/microvisor/core/internal/core/vm"
)

func newTestTable(t *testing.T) (*Table, ids.VmId) {
	t.Helper()
	vms, err := vm.NewTable(4, 2, nil)
	if err != nil {
		t.Fatalf("vm.NewTable: %v", err)
	}
	vps := NewTable(4, vms, nil)
	vmID, err := vms.Create()
	if err != nil {
		t.Fatalf("vms.Create: %v", err)
	}
	return vps, vmID
}

func TestCreateRequiresAllocatedVm(t *testing.T) {
	vps, vmID := newTestTable(t)

	id, err := vps.Create(vmID)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	obj, err := vps.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if obj.AssignedVm != vmID {
		t.Fatalf("AssignedVm = %v, want %v", obj.AssignedVm, vmID)
	}
	if obj.AssignedPp.Valid() {
		t.Fatalf("AssignedPp = %v, want unset until first run", obj.AssignedPp)
	}
	if obj.AssignedVs.Valid() {
		t.Fatalf("AssignedVs = %v, want unset at creation", obj.AssignedVs)
	}

	if _, err := vps.Create(ids.VmId(99)); !errors.Is(err, captable.ErrNotAllocated) {
		t.Fatalf("Create(unallocated vm) = %v, want ErrNotAllocated", err)
	}
}

func TestAssignPpIfUnset(t *testing.T) {
	vps, vmID := newTestTable(t)
	id, err := vps.Create(vmID)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// First use pins the PP.
	pp, err := vps.AssignPpIfUnset(id, 1)
	if err != nil {
		t.Fatalf("AssignPpIfUnset: %v", err)
	}
	if pp != ids.PpId(1) {
		t.Fatalf("assigned pp = %v, want 1", pp)
	}

	// A matching second use is a no-op.
	if pp, err = vps.AssignPpIfUnset(id, 1); err != nil || pp != 1 {
		t.Fatalf("AssignPpIfUnset(same pp) = (%v, %v), want (1, nil)", pp, err)
	}

	// A mismatched PP is refused until an explicit migrate.
	if _, err := vps.AssignPpIfUnset(id, 0); err == nil {
		t.Fatal("AssignPpIfUnset on a different pp must fail")
	}
}

func TestMigrateDefersAndValidates(t *testing.T) {
	vps, vmID := newTestTable(t)
	id, err := vps.Create(vmID)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := vps.AssignPpIfUnset(id, 0); err != nil {
		t.Fatalf("AssignPpIfUnset: %v", err)
	}

	if err := vps.SetActive(id, true); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	if err := vps.Migrate(id, 1); err == nil {
		t.Fatal("Migrate of an active vp must fail")
	}
	if err := vps.SetActive(id, false); err != nil {
		t.Fatalf("SetActive(false): %v", err)
	}

	if err := vps.Migrate(id, 1); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	obj, err := vps.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if obj.AssignedPp != ids.PpId(1) {
		t.Fatalf("AssignedPp after migrate = %v, want 1", obj.AssignedPp)
	}
}

func TestDestroyBlockedByAssignedVs(t *testing.T) {
	vps, vmID := newTestTable(t)
	id, err := vps.Create(vmID)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := vps.SetAssignedVs(id, ids.VsId(3)); err != nil {
		t.Fatalf("SetAssignedVs: %v", err)
	}
	if err := vps.Destroy(id); !errors.Is(err, captable.ErrStillReferenced) {
		t.Fatalf("Destroy with vs assigned = %v, want ErrStillReferenced", err)
	}
	if err := vps.SetAssignedVs(id, ids.InvalidVsId); err != nil {
		t.Fatalf("SetAssignedVs(invalid): %v", err)
	}
	if err := vps.Destroy(id); err != nil {
		t.Fatalf("Destroy after vs cleared: %v", err)
	}
}

func TestAnyAssignedTo(t *testing.T) {
	vps, vmID := newTestTable(t)
	if vps.AnyAssignedTo(vmID) {
		t.Fatal("AnyAssignedTo must be false before any vp exists")
	}
	id, err := vps.Create(vmID)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !vps.AnyAssignedTo(vmID) {
		t.Fatal("AnyAssignedTo must be true while a vp is assigned")
	}
	if err := vps.Destroy(id); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if vps.AnyAssignedTo(vmID) {
		t.Fatal("AnyAssignedTo must be false after the vp is destroyed")
	}
}
