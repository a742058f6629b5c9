package debugdump

import (
	"fmt"

	"github.com/microvisor/core/internal/core/ext"
	"github.com/microvisor/core/internal/core/ids"
	"github.com/microvisor/core/internal/core/pool"
	"github.com/microvisor/core/internal/core/vm"
	"github.com/microvisor/core/internal/core/vp"
	"github.com/microvisor/core/internal/core/vs"
)

// Vm renders every allocated VM (debug_op.dump_vm).
func Vm(vms *vm.Table) string {
	t := Table{Headers: []string{"id", "active"}}
	vms.Each(func(id ids.VmId, o vm.Object) {
		active := ""
		if o.ActiveOnAnyPp() {
			active = Bold("yes")
		}
		t.Rows = append(t.Rows, []string{id.String(), active})
	})
	return t.Render()
}

// Vp renders every allocated VP (debug_op.dump_vp).
func Vp(vps *vp.Table) string {
	t := Table{Headers: []string{"id", "vm", "pp", "vs", "active"}}
	vps.Each(func(id ids.VpId, o vp.Object) {
		active := ""
		if o.ActiveOnPp {
			active = Bold("yes")
		}
		t.Rows = append(t.Rows, []string{
			id.String(), o.AssignedVm.String(), o.AssignedPp.String(), o.AssignedVs.String(), active,
		})
	})
	return t.Render()
}

// Vs renders every allocated VS (debug_op.dump_vs).
func Vs(engine *vs.Engine) string {
	t := Table{Headers: []string{"id", "vp", "pp", "arch", "active", "launched"}}
	engine.Each(func(id ids.VsId, o vs.Object) {
		active, launched := "", ""
		if o.ActiveOnPp {
			active = Bold("yes")
		}
		if o.Launched {
			launched = "yes"
		}
		t.Rows = append(t.Rows, []string{
			id.String(), o.AssignedVp.String(), o.AssignedPp.String(), o.Arch.String(), active, launched,
		})
	})
	return t.Render()
}

// Ext renders every allocated extension (debug_op.dump_ext).
func Ext(rt *ext.Runtime) string {
	t := Table{Headers: []string{"id", "handle open", "started", "vmexit"}}
	rt.Each(func(id ids.ExtId, o ext.Object) {
		handleOpen, started, vmexit := "", "", ""
		if o.Handle != 0 {
			handleOpen = Bold("yes")
		}
		if o.Started {
			started = "yes"
		}
		if o.HasVmexit {
			vmexit = "yes"
		}
		t.Rows = append(t.Rows, []string{id.String(), handleOpen, started, vmexit})
	})
	return t.Render()
}

// PagePool renders page_pool's static configuration (debug_op.dump_page_pool).
// Per-slot free/used accounting is an allocator-internal detail the
// PagePool interface doesn't expose; the dump reports what every
// implementation can answer.
func PagePool(p pool.PagePool) string {
	return Fields("page_size", p.PageSize())
}

// HugePool renders huge_pool's static configuration (debug_op.dump_huge_pool).
func HugePool(p pool.HugePool) string {
	return Fields("huge_page_size", p.HugePageSize())
}

// VmexitLog renders a bounded ring of recent VM-exit reasons
// (debug_op.dump_vmexit_log); this only formats a snapshot slice.
func VmexitLog(entries []VmexitLogEntry) string {
	t := Table{Headers: []string{"pp", "vm", "vp", "vs", "reason"}}
	for _, e := range entries {
		t.Rows = append(t.Rows, []string{
			e.Pp.String(), e.Vm.String(), e.Vp.String(), e.Vs.String(), fmt.Sprintf("%#x", e.Reason),
		})
	}
	return t.Render()
}

// VmexitLogEntry is one row execloop records each time a VM-exit
// returns control to the core.
type VmexitLogEntry struct {
	Pp     ids.PpId
	Vm     ids.VmId
	Vp     ids.VpId
	Vs     ids.VsId
	Reason uint64
}
