package vs

import (
	"fmt"

	"github.com/microvisor/core/internal/core/arch"
	"github.com/microvisor/core/internal/core/ids"
	"github.com/microvisor/core/internal/core/percpu"
)

// Run implements the run algorithm for the {vm, vp, vs}
// triple on the PP witnessed by cur. Returns nil when a VM-exit
// returned control to the core (the caller — execloop — is
// responsible for invoking the extension's vmexit callback next); any
// non-nil error was detected before the hardware entry instruction
// executed and leaves all bookkeeping unchanged; failure after the
// entry instruction is expressed as a VM-exit, never as an error here.
func (e *Engine) Run(cur percpu.CurrentPp, vmID ids.VmId, vpID ids.VpId, vsID ids.VsId) error {
	// Step 1: validate allocation and assignment consistency.
	if !e.vms.Allocated(vmID) {
		return fmt.Errorf("vs: run: %w", ErrAssignmentMismatch)
	}
	vpObj, err := e.vps.Get(vpID)
	if err != nil {
		return fmt.Errorf("vs: run: %w", err)
	}
	if vpObj.AssignedVm != vmID {
		return fmt.Errorf("vs: run: vp not assigned to vm: %w", ErrAssignmentMismatch)
	}
	vsObj, err := e.objs.Get(vsID)
	if err != nil {
		return fmt.Errorf("vs: run: %w", err)
	}
	if vsObj.AssignedVp != vpID {
		return fmt.Errorf("vs: run: vs not assigned to vp: %w", ErrAssignmentMismatch)
	}

	pp := cur.ID()

	// Step 2: assignment on first use.
	assignedPp, err := e.vps.AssignPpIfUnset(vpID, pp)
	if err != nil {
		return fmt.Errorf("vs: run: %w", err)
	}
	if assignedPp != pp {
		return fmt.Errorf("vs: run: vp assigned to a different pp: %w", ErrAssignmentMismatch)
	}

	// Step 3: lazy migration — clear and reload if the VS's assigned_pp
	// doesn't match the current PP.
	if vsObj.AssignedPp != pp {
		if err := e.Clear(vsID); err != nil {
			return fmt.Errorf("vs: run: clear before migration: %w", err)
		}
		if err := e.objs.Mutate(vsID, func(o Object) (Object, error) {
			o.AssignedPp = pp
			return o, nil
		}); err != nil {
			return fmt.Errorf("vs: run: update assigned_pp: %w", err)
		}
		vsObj, err = e.objs.Get(vsID)
		if err != nil {
			return fmt.Errorf("vs: run: %w", err)
		}
	}

	// Step 4: active-triple bookkeeping. If the PP had a different
	// triple active, flush the outgoing VS's cached GPRs from the TLS
	// slots back into its register file, then deactivate it — at most
	// one VM, one
	// VP, and one VS with active_on_pp == this PP, and captable's
	// stillRefs checks on exactly these bits, so an outgoing triple
	// left marked active both violates the invariant and wedges its own
	// destroy.
	tls := e.cpus.Gprs(cur)
	prev := e.cpus.Active(cur)
	if prev.Present && (prev.Vm != vmID || prev.Vp != vpID || prev.Vs != vsID) {
		if err := e.objs.Mutate(prev.Vs, func(o Object) (Object, error) {
			for r := RegRax; r <= RegR15; r++ {
				o.gprs[r] = tls[int(r)]
			}
			o.ActiveOnPp = false
			return o, nil
		}); err != nil {
			return fmt.Errorf("vs: run: deactivate previous vs: %w", err)
		}
		if err := e.vms.ClearActiveOnPp(prev.Vm, pp); err != nil {
			return fmt.Errorf("vs: run: deactivate previous vm: %w", err)
		}
		if err := e.vps.SetActive(prev.Vp, false); err != nil {
			return fmt.Errorf("vs: run: deactivate previous vp: %w", err)
		}
	}
	if !prev.Present || prev.Vs != vsID {
		// Load the incoming VS's cached GPRs into the TLS slots, ordered
		// before the hardware entry.
		for r := RegRax; r <= RegR15; r++ {
			tls[int(r)] = vsObj.gprs[r]
		}
	}

	e.cpus.SetActive(cur, percpu.ActiveTriple{Vm: vmID, Vp: vpID, Vs: vsID, Present: true})
	if err := e.vms.SetActiveOnPp(vmID, pp); err != nil {
		return fmt.Errorf("vs: run: %w", err)
	}
	if err := e.vps.SetActive(vpID, true); err != nil {
		return fmt.Errorf("vs: run: %w", err)
	}
	if err := e.objs.Mutate(vsID, func(o Object) (Object, error) {
		o.ActiveOnPp = true
		return o, nil
	}); err != nil {
		return fmt.Errorf("vs: run: %w", err)
	}

	// Step 5: dispatch to architecture and issue the hardware entry.
	phys := vmcsPhysAddr(vsID)
	if vsObj.Arch == ArchIntelVmx {
		if err := e.intr.Vmptrld(phys); err != nil {
			return fmt.Errorf("vs: run: vmptrld: %w", err)
		}
		kind := arch.EntryVmlaunch
		if vsObj.Launched {
			kind = arch.EntryVmresume
		}
		if err := e.intr.Enter(kind, phys); err != nil {
			return fmt.Errorf("vs: run: hardware entry: %w", err)
		}
		if !vsObj.Launched {
			e.objs.Mutate(vsID, func(o Object) (Object, error) {
				o.Launched = true
				return o, nil
			})
		}
	} else {
		if err := e.intr.Enter(arch.EntryVmrun, phys); err != nil {
			return fmt.Errorf("vs: run: hardware entry: %w", err)
		}
	}

	// Step 6: control resumes here on a VM-exit. execloop re-enters
	// the extension through vmexit_ip.
	return nil
}

// RunCurrent re-enters the currently active triple on the witnessed
// PP.
func (e *Engine) RunCurrent(cur percpu.CurrentPp) error {
	active := e.cpus.Active(cur)
	if !active.Present {
		return ErrNoActiveTriple
	}
	return e.Run(cur, active.Vm, active.Vp, active.Vs)
}

// AdvanceIpAndRunCurrent performs AdvanceIp followed by RunCurrent as
// a single atomic sequence.
func (e *Engine) AdvanceIpAndRunCurrent(cur percpu.CurrentPp) error {
	active := e.cpus.Active(cur)
	if !active.Present {
		return ErrNoActiveTriple
	}
	if err := e.AdvanceIp(active.Vs); err != nil {
		return err
	}
	return e.RunCurrent(cur)
}

// Promote tears down hypervisor state on the current PP and re-enters
// the machine as if vsID were running natively;
// returns only on failure.
func (e *Engine) Promote(vsID ids.VsId) error {
	phys := vmcsPhysAddr(vsID)
	if err := e.intr.Promote(phys); err != nil {
		return fmt.Errorf("vs: promote: %w", err)
	}
	return nil
}
