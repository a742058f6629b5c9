package vs

import (
	"errors"
	"testing"

	"github.com/microvisor/core/internal/core/arch"
	"github.com/microvisor/core/internal/core/ids"
	"github.com/microvisor/core/internal/core/percpu"
	"github.com/microvisor/core/internal/core/vm"
	"github.com/microvisor/core/internal/core/vp"
)

func newTestEngine(t *testing.T, a Arch, maxPp int) (*Engine, *percpu.Bank, *arch.Sim, ids.VmId, ids.VpId) {
	t.Helper()

	vms, err := vm.NewTable(8, maxPp, func(id ids.VmId) bool { return false })
	if err != nil {
		t.Fatalf("vm.NewTable: %v", err)
	}
	hasVs := func(id ids.VpId) bool { return false }
	vps := vp.NewTable(8, vms, hasVs)

	sim := arch.NewSim(arch.VendorIntelVmx)
	if a == ArchAmdSvm {
		sim = arch.NewSim(arch.VendorAmdSvm)
	}
	cpus := percpu.NewBank(maxPp)
	eng := NewEngine(8, maxPp, vps, vms, cpus, sim, a)

	vmID, err := vms.Create()
	if err != nil {
		t.Fatalf("vms.Create: %v", err)
	}
	vpID, err := vps.Create(vmID)
	if err != nil {
		t.Fatalf("vps.Create: %v", err)
	}
	return eng, cpus, sim, vmID, vpID
}

func TestRunValidatesTriple(t *testing.T) {
	eng, cpus, _, vmID, vpID := newTestEngine(t, ArchIntelVmx, 2)
	cur, err := cpus.Enter(0)
	if err != nil {
		t.Fatalf("Enter: %v", err)
	}
	vsID, err := eng.Create(vpID, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := eng.Run(cur, vmID, vpID, vsID); err != nil {
		t.Fatalf("Run: unexpected error: %v", err)
	}

	got, err := eng.Get(vsID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.Launched {
		t.Fatal("expected Launched to be true after first Run (VMLAUNCH)")
	}
	if !got.ActiveOnPp {
		t.Fatal("expected ActiveOnPp to be true after Run")
	}
	if got.AssignedPp != ids.PpId(0) {
		t.Fatalf("AssignedPp = %v, want 0", got.AssignedPp)
	}

	active := cpus.Active(cur)
	if !active.Present || active.Vs != vsID {
		t.Fatalf("active triple = %+v, want vs=%v present", active, vsID)
	}
}

func TestRunRejectsMismatchedVp(t *testing.T) {
	eng, cpus, _, vmID, vpID := newTestEngine(t, ArchIntelVmx, 2)
	cur, _ := cpus.Enter(0)
	vsID, err := eng.Create(vpID, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	otherVp := ids.VpId(99)
	if err := eng.Run(cur, vmID, otherVp, vsID); err == nil {
		t.Fatal("expected error for vp not allocated")
	}
}

func TestRunVmresumeAfterFirstLaunch(t *testing.T) {
	eng, cpus, _, vmID, vpID := newTestEngine(t, ArchIntelVmx, 2)
	cur, _ := cpus.Enter(0)
	vsID, err := eng.Create(vpID, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	var kinds []arch.EntryKind
	eng.intr.(*arch.Sim).EnterFunc = func(kind arch.EntryKind, stateAddr uint64) error {
		kinds = append(kinds, kind)
		return nil
	}

	if err := eng.Run(cur, vmID, vpID, vsID); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if err := eng.Run(cur, vmID, vpID, vsID); err != nil {
		t.Fatalf("second Run: %v", err)
	}

	if len(kinds) != 2 || kinds[0] != arch.EntryVmlaunch || kinds[1] != arch.EntryVmresume {
		t.Fatalf("entry kinds = %v, want [vmlaunch vmresume]", kinds)
	}
}

// TestRunLazyMigration exercises lazy migration: a VS created on
// one PP, migrated via vp.Migrate to another PP, is lazily cleared and
// reassigned on the next Run — and that Run issues VMLAUNCH again, not
// VMRESUME, since the VMCS on the new PP has never been launched.
func TestRunLazyMigration(t *testing.T) {
	eng, cpus, _, vmID, vpID := newTestEngine(t, ArchIntelVmx, 2)
	cur0, _ := cpus.Enter(0)
	cur1, _ := cpus.Enter(1)

	vsID, err := eng.Create(vpID, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := eng.Run(cur0, vmID, vpID, vsID); err != nil {
		t.Fatalf("Run on pp0: %v", err)
	}
	before, _ := eng.Get(vsID)
	if !before.Launched || before.AssignedPp != ids.PpId(0) {
		t.Fatalf("unexpected state after first run: %+v", before)
	}

	// The VP must be deactivated before it can migrate.
	active := cpus.Active(cur0)
	if err := eng.vps.SetActive(active.Vp, false); err != nil {
		t.Fatalf("SetActive(false): %v", err)
	}
	if err := eng.objs.Mutate(vsID, func(o Object) (Object, error) {
		o.ActiveOnPp = false
		return o, nil
	}); err != nil {
		t.Fatalf("clear ActiveOnPp: %v", err)
	}

	if err := eng.vps.Migrate(vpID, ids.PpId(1)); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	if err := eng.Run(cur1, vmID, vpID, vsID); err != nil {
		t.Fatalf("Run on pp1: %v", err)
	}

	after, err := eng.Get(vsID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if after.AssignedPp != ids.PpId(1) {
		t.Fatalf("AssignedPp after migration run = %v, want 1", after.AssignedPp)
	}
	if !after.Launched {
		t.Fatal("expected Launched true after re-entry on new pp")
	}
}

func TestRunCurrentAndAdvanceIp(t *testing.T) {
	eng, cpus, _, vmID, vpID := newTestEngine(t, ArchIntelVmx, 2)
	cur, _ := cpus.Enter(0)
	vsID, err := eng.Create(vpID, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := eng.RunCurrent(cur); !errors.Is(err, ErrNoActiveTriple) {
		t.Fatalf("RunCurrent before any Run: err = %v, want ErrNoActiveTriple", err)
	}

	if err := eng.Run(cur, vmID, vpID, vsID); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := eng.Write64(vsID, FieldGuestRip, 0x1000); err != nil {
		t.Fatalf("Write64: %v", err)
	}
	if err := eng.Write32(vsID, FieldVmxExitInstructionLength, 5); err != nil {
		t.Fatalf("Write32: %v", err)
	}

	if err := eng.AdvanceIpAndRunCurrent(cur); err != nil {
		t.Fatalf("AdvanceIpAndRunCurrent: %v", err)
	}

	rip, err := eng.Read64(vsID, FieldGuestRip)
	if err != nil {
		t.Fatalf("Read64: %v", err)
	}
	if rip != 0x1005 {
		t.Fatalf("rip = %#x, want 0x1005", rip)
	}
}

// TestRunAdvanceIpOnAmdSvmUsesNextRip exercises the AMD leg of
// AdvanceIp: FieldSvmNextRip already holds the absolute post-exit RIP
// (decode-assist), so it is assigned directly rather than added.
func TestRunAdvanceIpOnAmdSvmUsesNextRip(t *testing.T) {
	eng, cpus, _, vmID, vpID := newTestEngine(t, ArchAmdSvm, 2)
	cur, _ := cpus.Enter(0)
	vsID, err := eng.Create(vpID, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := eng.Run(cur, vmID, vpID, vsID); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := eng.Write64(vsID, FieldGuestRip, 0x1000); err != nil {
		t.Fatalf("Write64: %v", err)
	}
	if err := eng.Write64(vsID, FieldSvmNextRip, 0x1003); err != nil {
		t.Fatalf("Write64: %v", err)
	}

	if err := eng.AdvanceIp(vsID); err != nil {
		t.Fatalf("AdvanceIp: %v", err)
	}

	rip, err := eng.Read64(vsID, FieldGuestRip)
	if err != nil {
		t.Fatalf("Read64: %v", err)
	}
	if rip != 0x1003 {
		t.Fatalf("rip = %#x, want 0x1003 (NextRip assigned, not added)", rip)
	}
}

// TestRunDeactivatesPreviousTripleOnSwitch checks the at-most-one-
// active rule across a triple switch: running a second, unrelated
// triple on a PP that already has one active must clear the outgoing
// VM/VP/VS active-on-pp state, both so at most one of each carries
// active_on_pp == pp and so the outgoing VP/VS are no longer wedged
// behind captable's stillRefs check.
func TestRunDeactivatesPreviousTripleOnSwitch(t *testing.T) {
	// Runs on PP 1 so the first VS (id 0) is not a root VS and the
	// closing Destroy can succeed.
	eng, cpus, _, vmID, vpID := newTestEngine(t, ArchIntelVmx, 2)
	cur, _ := cpus.Enter(1)

	vsID, err := eng.Create(vpID, 1)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := eng.Run(cur, vmID, vpID, vsID); err != nil {
		t.Fatalf("Run first triple: %v", err)
	}

	vmID2, err := eng.vms.Create()
	if err != nil {
		t.Fatalf("vms.Create: %v", err)
	}
	vpID2, err := eng.vps.Create(vmID2)
	if err != nil {
		t.Fatalf("vps.Create: %v", err)
	}
	vsID2, err := eng.Create(vpID2, 1)
	if err != nil {
		t.Fatalf("Create second vs: %v", err)
	}

	if err := eng.Run(cur, vmID2, vpID2, vsID2); err != nil {
		t.Fatalf("Run second triple: %v", err)
	}

	oldVs, err := eng.Get(vsID)
	if err != nil {
		t.Fatalf("Get old vs: %v", err)
	}
	if oldVs.ActiveOnPp {
		t.Fatal("outgoing vs must have ActiveOnPp cleared after triple switch")
	}
	oldVmActive, err := eng.vms.ActiveOnPp(vmID, 1)
	if err != nil {
		t.Fatalf("vms.ActiveOnPp: %v", err)
	}
	if oldVmActive {
		t.Fatal("outgoing vm must have active-on-pp bit cleared after triple switch")
	}

	newVs, err := eng.Get(vsID2)
	if err != nil {
		t.Fatalf("Get new vs: %v", err)
	}
	if !newVs.ActiveOnPp {
		t.Fatal("incoming vs must have ActiveOnPp set after triple switch")
	}

	// The old VS must no longer be wedged: destroy now succeeds since
	// nothing still references it as active.
	if err := eng.Destroy(vsID); err != nil {
		t.Fatalf("Destroy(oldVs): expected success now that it is inactive, got %v", err)
	}
}

func TestRunHardwareEntryFailureLeavesNoPartialState(t *testing.T) {
	eng, cpus, sim, vmID, vpID := newTestEngine(t, ArchIntelVmx, 2)
	cur, _ := cpus.Enter(0)
	vsID, err := eng.Create(vpID, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	sim.EnterFunc = func(kind arch.EntryKind, stateAddr uint64) error {
		return errors.New("injected vm-entry failure")
	}

	if err := eng.Run(cur, vmID, vpID, vsID); err == nil {
		t.Fatal("expected Run to propagate hardware entry failure")
	}

	got, err := eng.Get(vsID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Launched {
		t.Fatal("Launched must not be set when the entry instruction itself failed")
	}
}

func TestPromoteDelegatesToIntrinsics(t *testing.T) {
	eng, _, sim, _, vpID := newTestEngine(t, ArchIntelVmx, 2)
	vsID, err := eng.Create(vpID, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	called := false
	sim.PromoteFunc = func(stateAddr uint64) error {
		called = true
		return nil
	}

	if err := eng.Promote(vsID); err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if !called {
		t.Fatal("expected Promote to delegate to arch.Intrinsics.Promote")
	}
}
