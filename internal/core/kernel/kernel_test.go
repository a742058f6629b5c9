package kernel

import (
	"errors"
	"testing"

	"github.com/microvisor/core/internal/core/arch"
	"github.com/microvisor/core/internal/core/captable"
	"github.com/microvisor/core/internal/core/ids"
	"github.com/microvisor/core/internal/core/vs"
)

func TestNewSelectsArchFromVendorProbe(t *testing.T) {
	for _, tc := range []struct {
		vendor arch.Vendor
		want   vs.Arch
	}{
		{arch.VendorIntelVmx, vs.ArchIntelVmx},
		{arch.VendorAmdSvm, vs.ArchAmdSvm},
	} {
		k, err := New(Config{Intrinsics: arch.NewSim(tc.vendor)})
		if err != nil {
			t.Fatalf("New(%v): %v", tc.vendor, err)
		}
		if k.Arch != tc.want {
			t.Fatalf("New(%v): arch = %v, want %v", tc.vendor, k.Arch, tc.want)
		}
	}
}

func TestNewRejectsUnknownVendor(t *testing.T) {
	_, err := New(Config{Intrinsics: arch.NewSim(arch.VendorUnknown)})
	if !errors.Is(err, arch.ErrUnsupportedVendor) {
		t.Fatalf("New(unknown vendor) err = %v, want ErrUnsupportedVendor", err)
	}
}

func TestNewRequiresIntrinsics(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("New without Intrinsics must fail")
	}
}

func TestRootVmExistsAndIsProtected(t *testing.T) {
	k, err := New(Config{Intrinsics: arch.NewSim(arch.VendorIntelVmx)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !k.Vms.Allocated(ids.RootVmId) {
		t.Fatal("root VM must exist the moment New returns")
	}
	if err := k.Vms.Destroy(ids.RootVmId); !errors.Is(err, captable.ErrStillReferenced) {
		t.Fatalf("Destroy(root vm) = %v, want ErrStillReferenced", err)
	}
}

// TestDestroyOrderingThroughWiring checks that the predicates New
// installs enforce the create/destroy ordering rules without any
// manual wiring by the caller.
func TestDestroyOrderingThroughWiring(t *testing.T) {
	k, err := New(Config{Intrinsics: arch.NewSim(arch.VendorIntelVmx)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	vmID, err := k.Vms.Create()
	if err != nil {
		t.Fatalf("Vms.Create: %v", err)
	}
	vpID, err := k.Vps.Create(vmID)
	if err != nil {
		t.Fatalf("Vps.Create: %v", err)
	}
	// pp 1 so the VS is not a root VS.
	vsID, err := k.Vs.Create(vpID, 1)
	if err != nil {
		t.Fatalf("Vs.Create: %v", err)
	}

	if err := k.Vms.Destroy(vmID); !errors.Is(err, captable.ErrStillReferenced) {
		t.Fatalf("Destroy(vm) with a vp assigned = %v, want ErrStillReferenced", err)
	}
	if err := k.Vps.Destroy(vpID); !errors.Is(err, captable.ErrStillReferenced) {
		t.Fatalf("Destroy(vp) with a vs assigned = %v, want ErrStillReferenced", err)
	}

	if err := k.Vs.Destroy(vsID); err != nil {
		t.Fatalf("Destroy(vs): %v", err)
	}
	if err := k.Vps.Destroy(vpID); err != nil {
		t.Fatalf("Destroy(vp) after vs gone: %v", err)
	}
	if err := k.Vms.Destroy(vmID); err != nil {
		t.Fatalf("Destroy(vm) after vp gone: %v", err)
	}
	if k.Vms.Allocated(vmID) {
		t.Fatalf("vm %v still allocated after destroy", vmID)
	}
}

// TestRootVsProtectedFromDestroy checks that a root VS created on its
// own pp can never be destroyed.
func TestRootVsProtectedFromDestroy(t *testing.T) {
	k, err := New(Config{Intrinsics: arch.NewSim(arch.VendorIntelVmx)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	vpID, err := k.Vps.Create(ids.RootVmId)
	if err != nil {
		t.Fatalf("Vps.Create: %v", err)
	}
	vsID, err := k.Vs.CreateRoot(vpID, 0)
	if err != nil {
		t.Fatalf("Vs.CreateRoot: %v", err)
	}
	if vsID != 0 {
		t.Fatalf("root vs id = %v, want 0 (== pp)", vsID)
	}
	if err := k.Vs.Destroy(vsID); !errors.Is(err, captable.ErrStillReferenced) {
		t.Fatalf("Destroy(root vs) = %v, want ErrStillReferenced", err)
	}
}
