// Package percpu models the per-PP TLS registers and active-triple
// bookkeeping: an array indexed by PpId, with unsynchronised access
// legal only on the owning PP. That precondition is enforced not by a
// runtime check but by requiring every accessor to consume a CurrentPp
// witness value that can only be minted by the code actually running
// on that PP (execloop.Run).
package percpu

import (
	"fmt"

	"github.com/microvisor/core/internal/core/ids"
)

// Registers mirrors the calling convention the syscall ABI uses:
// ext_reg0..5. Index 0 carries the handle on syscalls that require
// one.
type Registers struct {
	Reg [6]uint64
}

// CurrentPp witnesses that the holder's code is presently executing on
// the named PP. It is never constructed outside this package; the only
// minting point is Bank.Enter, called once by execloop at the top of
// the per-PP main loop.
type CurrentPp struct {
	id PpId
}

// PpId re-exports ids.PpId so callers that only need percpu don't also
// need to import ids directly for this one type.
type PpId = ids.PpId

// ID returns the PP this witness was minted for.
func (c CurrentPp) ID() PpId { return c.id }

// ActiveTriple is the {VM, VP, VS} currently active on a PP
// (at most one of each, per PP).
type ActiveTriple struct {
	Vm      ids.VmId
	Vp      ids.VpId
	Vs      ids.VsId
	Present bool
}

// GprCount sizes the per-PP general-purpose register cache: enough
// slots for the full x86_64 register file the VS engine caches.
const GprCount = 16

type cpu struct {
	regs   Registers
	active ActiveTriple
	gprs   [GprCount]uint64
}

// Bank owns the per-PP slots for every PP on the machine, indexed by
// PpId.
type Bank struct {
	cpus []cpu
}

// NewBank constructs a Bank sized for maxPps physical processors.
func NewBank(maxPps int) *Bank {
	return &Bank{cpus: make([]cpu, maxPps)}
}

// Enter mints the CurrentPp witness for pp. Must be called exactly
// once per PP, at the top of execloop.Run, before any other percpu
// accessor is used on that PP.
func (b *Bank) Enter(pp PpId) (CurrentPp, error) {
	if int(pp) < 0 || int(pp) >= len(b.cpus) {
		return CurrentPp{}, fmt.Errorf("percpu: pp %v out of range [0,%d)", pp, len(b.cpus))
	}
	return CurrentPp{id: pp}, nil
}

// Registers returns the TLS register file for the witnessed PP. Only
// code running on that PP may call this, enforced by requiring a
// CurrentPp token rather than a bare PpId.
func (b *Bank) Registers(cur CurrentPp) *Registers {
	return &b.cpus[cur.id].regs
}

// Gprs returns the TLS general-purpose register slots for the
// witnessed PP. On every active-triple switch, vs.Run flushes the
// outgoing VS's cached registers out of these slots and loads the
// incoming VS's registers into them, ordered before the hardware
// entry.
func (b *Bank) Gprs(cur CurrentPp) *[GprCount]uint64 {
	return &b.cpus[cur.id].gprs
}

// Active returns the active triple bookkeeping for the witnessed PP.
func (b *Bank) Active(cur CurrentPp) ActiveTriple {
	return b.cpus[cur.id].active
}

// SetActive updates the active triple for the witnessed PP. Called
// only from vs.Run's bookkeeping step.
func (b *Bank) SetActive(cur CurrentPp, triple ActiveTriple) {
	b.cpus[cur.id].active = triple
}

// ClearActive removes the active triple for the witnessed PP.
func (b *Bank) ClearActive(cur CurrentPp) {
	b.cpus[cur.id].active = ActiveTriple{}
}
