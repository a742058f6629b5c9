package vs

import (
	"errors"
	"testing"

	"github.com/microvisor/core/internal/core/captable"
)

func TestCreateRefusesSecondVsPerVp(t *testing.T) {
	eng, _, _, _, vpID := newTestEngine(t, ArchIntelVmx, 2)

	if _, err := eng.Create(vpID, 1); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	if _, err := eng.Create(vpID, 1); !errors.Is(err, ErrVpHasVs) {
		t.Fatalf("second Create on the same vp = %v, want ErrVpHasVs", err)
	}
}

func TestDestroyClearsVpAssignment(t *testing.T) {
	eng, _, _, _, vpID := newTestEngine(t, ArchIntelVmx, 2)

	vsID, err := eng.Create(vpID, 1)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	vpObj, err := eng.vps.Get(vpID)
	if err != nil {
		t.Fatalf("vps.Get: %v", err)
	}
	if vpObj.AssignedVs != vsID {
		t.Fatalf("vp AssignedVs = %v, want %v", vpObj.AssignedVs, vsID)
	}

	if err := eng.Destroy(vsID); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	vpObj, err = eng.vps.Get(vpID)
	if err != nil {
		t.Fatalf("vps.Get after destroy: %v", err)
	}
	if vpObj.AssignedVs.Valid() {
		t.Fatalf("vp AssignedVs = %v after destroy, want cleared", vpObj.AssignedVs)
	}

	// The VP can immediately take a fresh VS.
	if _, err := eng.Create(vpID, 1); err != nil {
		t.Fatalf("Create after destroy: %v", err)
	}
}

func TestRootVsByPositionCannotBeDestroyed(t *testing.T) {
	eng, _, _, _, vpID := newTestEngine(t, ArchIntelVmx, 2)

	// The first VS allocated on pp 0 takes id 0 == pp — a root VS by
	// position, even through plain Create.
	vsID, err := eng.Create(vpID, 0)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	obj, err := eng.Get(vsID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !obj.Root {
		t.Fatal("vs with id == creating pp must be marked root")
	}
	if err := eng.Destroy(vsID); !errors.Is(err, captable.ErrStillReferenced) {
		t.Fatalf("Destroy(root vs) = %v, want ErrStillReferenced", err)
	}
}

func TestInitAsRootRequiresRootVs(t *testing.T) {
	eng, _, _, _, vpID := newTestEngine(t, ArchIntelVmx, 2)

	vsID, err := eng.Create(vpID, 1) // id 0 on pp 1: not a root VS
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := eng.InitAsRoot(vsID, 1); !errors.Is(err, ErrNotRootVs) {
		t.Fatalf("InitAsRoot(non-root) = %v, want ErrNotRootVs", err)
	}
}

// TestGprCacheFlushedOnTripleSwitch exercises the register hand-off:
// on an active-triple switch the outgoing VS's GPRs are flushed from the
// per-PP TLS slots back into its cache, and the incoming VS's cache is
// loaded into the slots before the hardware entry.
func TestGprCacheFlushedOnTripleSwitch(t *testing.T) {
	eng, cpus, _, vmID, vpID := newTestEngine(t, ArchIntelVmx, 2)
	cur, err := cpus.Enter(1)
	if err != nil {
		t.Fatalf("Enter: %v", err)
	}

	vsA, err := eng.Create(vpID, 1)
	if err != nil {
		t.Fatalf("Create A: %v", err)
	}
	if err := eng.Run(cur, vmID, vpID, vsA); err != nil {
		t.Fatalf("Run A: %v", err)
	}

	// The guest modified RAX while A was running; the value sits in the
	// TLS slots when the VM-exit hands control back.
	cpus.Gprs(cur)[int(RegRax)] = 0x1234

	vmB, err := eng.vms.Create()
	if err != nil {
		t.Fatalf("vms.Create: %v", err)
	}
	vpB, err := eng.vps.Create(vmB)
	if err != nil {
		t.Fatalf("vps.Create: %v", err)
	}
	vsB, err := eng.Create(vpB, 1)
	if err != nil {
		t.Fatalf("Create B: %v", err)
	}
	if err := eng.WriteReg(vsB, RegRbx, 0x77); err != nil {
		t.Fatalf("WriteReg B: %v", err)
	}

	if err := eng.Run(cur, vmB, vpB, vsB); err != nil {
		t.Fatalf("Run B: %v", err)
	}

	// A's cache now holds the flushed TLS value.
	rax, err := eng.ReadReg(vsA, RegRax)
	if err != nil {
		t.Fatalf("ReadReg A: %v", err)
	}
	if rax != 0x1234 {
		t.Fatalf("outgoing vs RAX = %#x, want 0x1234 (flushed from TLS)", rax)
	}

	// The TLS slots now hold B's cache.
	if got := cpus.Gprs(cur)[int(RegRbx)]; got != 0x77 {
		t.Fatalf("tls RBX = %#x, want 0x77 (loaded from incoming vs)", got)
	}
	if got := cpus.Gprs(cur)[int(RegRax)]; got != 0 {
		t.Fatalf("tls RAX = %#x, want 0 (incoming vs never wrote it)", got)
	}
}
