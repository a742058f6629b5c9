package percpu

import (
	"testing"

	"github.com/microvisor/core/internal/core/ids"
)

func TestEnterBoundsChecksPp(t *testing.T) {
	b := NewBank(2)
	if _, err := b.Enter(0); err != nil {
		t.Fatalf("Enter(0): %v", err)
	}
	if _, err := b.Enter(2); err == nil {
		t.Fatal("Enter(2) on a 2-cpu bank must fail")
	}
}

func TestRegistersArePerPp(t *testing.T) {
	b := NewBank(2)
	cur0, _ := b.Enter(0)
	cur1, _ := b.Enter(1)

	b.Registers(cur0).Reg[0] = 0x11
	b.Registers(cur1).Reg[0] = 0x22

	if got := b.Registers(cur0).Reg[0]; got != 0x11 {
		t.Fatalf("pp0 reg0 = %#x, want 0x11", got)
	}
	if got := b.Registers(cur1).Reg[0]; got != 0x22 {
		t.Fatalf("pp1 reg0 = %#x, want 0x22", got)
	}
}

func TestActiveTripleLifecycle(t *testing.T) {
	b := NewBank(1)
	cur, _ := b.Enter(0)

	if b.Active(cur).Present {
		t.Fatal("fresh pp must have no active triple")
	}
	b.SetActive(cur, ActiveTriple{Vm: 1, Vp: 2, Vs: 3, Present: true})
	got := b.Active(cur)
	if !got.Present || got.Vm != ids.VmId(1) || got.Vp != ids.VpId(2) || got.Vs != ids.VsId(3) {
		t.Fatalf("active triple = %+v", got)
	}
	b.ClearActive(cur)
	if b.Active(cur).Present {
		t.Fatal("ClearActive must remove the triple")
	}
}

func TestGprSlotsArePerPp(t *testing.T) {
	b := NewBank(2)
	cur0, _ := b.Enter(0)
	cur1, _ := b.Enter(1)

	b.Gprs(cur0)[0] = 0xaa
	b.Gprs(cur1)[0] = 0xbb

	if got := b.Gprs(cur0)[0]; got != 0xaa {
		t.Fatalf("pp0 gpr0 = %#x, want 0xaa", got)
	}
	if got := b.Gprs(cur1)[0]; got != 0xbb {
		t.Fatalf("pp1 gpr0 = %#x, want 0xbb", got)
	}
}
