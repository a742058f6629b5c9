package execloop

import (
	"errors"
	"fmt"

	"github.com/microvisor/core/internal/core/ids"
	"github.com/microvisor/core/internal/core/percpu"
	"github.com/microvisor/core/internal/core/status"
	"github.com/microvisor/core/internal/core/syscall"
)

// maxFailReentry bounds consecutive fail-from-fail re-entries. A
// literal reading of the state machine re-enters fail_ip forever on a
// repeated again; this halts instead, since interrupts
// are masked throughout FAIL_EXT and an unbounded loop there can never
// be interrupted from outside.
const maxFailReentry = 8

// State names one node of the per-PP state machine.
type State int

const (
	StateBoot State = iota
	StateBootstrapExt
	StateRunning
	StateVmexitExt
	StateFailExt
	StateHalt
)

func (s State) String() string {
	switch s {
	case StateBoot:
		return "BOOT"
	case StateBootstrapExt:
		return "BOOTSTRAP_EXT"
	case StateRunning:
		return "RUNNING"
	case StateVmexitExt:
		return "VMEXIT_EXT"
	case StateFailExt:
		return "FAIL_EXT"
	case StateHalt:
		return "HALT"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Intent names which callback a fault was taken from, passed to the
// fail callback so it can choose to re-attempt the original
// operation.
type Intent int

const (
	IntentBootstrap Intent = iota
	IntentVmexit
)

// Callback is one extension entry point, modeled as a Go closure since
// the core never executes real extension machine code. cur is the
// witnessed PP; the closure issues syscalls through the same
// *syscall.Dispatcher the loop was built with and signals its intent
// (exit/wait/again) via control_op, consumed by the loop afterward.
// A returned error models a fault, routed to the fail callback.
type Callback func(cur percpu.CurrentPp) error

// Callbacks bundles one extension's three entry points. Fail may be
// nil if the extension never registered one, in which case any fault
// halts the PP immediately.
type Callbacks struct {
	Bootstrap Callback
	Vmexit    Callback
	Fail      func(cur percpu.CurrentPp, intent Intent, cause error) error
}

// ErrNoFailCallback is returned (wrapped) when a callback faults and
// the extension registered no fail callback.
var ErrNoFailCallback = errors.New("execloop: fault with no fail callback registered")

// Loop drives one PP's state machine. Construct one per PP; Run blocks
// until the PP halts.
type Loop struct {
	Pp         ids.PpId
	Ext        ids.ExtId
	Dispatcher *syscall.Dispatcher
	Cpus       *percpu.Bank
	Callbacks  Callbacks
}

// Run drives cur's PP through the state machine until it
// halts, returning the terminal state (always StateHalt on a normal
// return) and the last error observed, if the loop halted due to an
// unrecovered fault.
func (l *Loop) Run() (State, error) {
	cur, err := l.Cpus.Enter(l.Pp)
	if err != nil {
		return StateHalt, fmt.Errorf("execloop: enter pp: %w", err)
	}

	state := StateBoot
	failReentries := 0
	var lastErr error

	for {
		switch state {
		case StateBoot:
			state = StateBootstrapExt

		case StateBootstrapExt:
			l.markStarted(cur)
			if err := l.Callbacks.Bootstrap(cur); err != nil {
				state, lastErr = l.fault(cur, IntentBootstrap, err, &failReentries)
				continue
			}
			failReentries = 0
			state = l.next(cur, StateBootstrapExt, StateRunning)

		case StateRunning:
			// The bootstrap or vmexit callback already issued the run*
			// syscall that brought the guest here; a VM-exit is
			// delivered back to the extension's vmexit callback.
			l.Dispatcher.RecordVmexit(cur)
			state = StateVmexitExt

		case StateVmexitExt:
			if l.Callbacks.Vmexit == nil {
				return StateHalt, fmt.Errorf("execloop: vm-exit with no vmexit callback registered")
			}
			if err := l.Callbacks.Vmexit(cur); err != nil {
				state, lastErr = l.fault(cur, IntentVmexit, err, &failReentries)
				continue
			}
			failReentries = 0
			state = l.next(cur, StateVmexitExt, StateRunning)

		case StateFailExt:
			// fault() already invoked the fail callback and computed
			// the next state; StateFailExt is never entered directly
			// from the top of the loop.
			state = StateHalt

		case StateHalt:
			return StateHalt, lastErr
		}
	}
}

// next maps the control signal latched by the callback that just ran
// to the state machine's next state: exit halts; again re-enters the
// callback's own state (againState — bootstrap loops on bootstrap,
// vmexit retries the same exit in place, never a bootstrap re-entry);
// wait already blocked synchronously inside the syscall, so it retries
// the same way; and no signal at all (a callback that simply returned
// after issuing run*/run_current) falls through to fallthroughState —
// for both bootstrap and vmexit that is RUNNING, so every delivered
// VM-exit passes through the transition that records it.
func (l *Loop) next(cur percpu.CurrentPp, againState, fallthroughState State) State {
	switch l.Dispatcher.TakeControlSignal(cur) {
	case syscall.ControlExit:
		return StateHalt
	case syscall.ControlAgain, syscall.ControlWait:
		return againState
	default:
		return fallthroughState
	}
}

func (l *Loop) markStarted(cur percpu.CurrentPp) {
	if err := l.Dispatcher.Ext.MarkStarted(l.Ext); err != nil {
		return
	}
	if wp, ok := l.Dispatcher.Wait.(*WaitPool); ok {
		wp.Open(l.Ext)
	}
}

// fault routes a callback error to the fail callback. Consecutive fail-from-fail re-entries are bounded by
// maxFailReentry.
func (l *Loop) fault(cur percpu.CurrentPp, intent Intent, cause error, reentries *int) (State, error) {
	if l.Callbacks.Fail == nil {
		return StateHalt, fmt.Errorf("%w: %v", ErrNoFailCallback, cause)
	}
	if *reentries > maxFailReentry {
		return StateHalt, fmt.Errorf("execloop: exceeded max fail re-entry (%d): %w", maxFailReentry, cause)
	}
	*reentries++
	err := l.Callbacks.Fail(cur, intent, cause)
	if err != nil {
		// The fail callback itself faulted: re-enter it with the new
		// cause, bounded by reentries.
		return l.fault(cur, intent, err, reentries)
	}
	switch l.Dispatcher.TakeControlSignal(cur) {
	case syscall.ControlAgain:
		if intent == IntentBootstrap {
			return StateBootstrapExt, nil
		}
		return StateVmexitExt, nil
	default:
		return StateHalt, nil
	}
}

// statusOrFault converts a non-success status returned by a syscall a
// callback issued on cur's behalf into a Go error, the shape a
// Callback closure should use to report a policy violation to fault().
func statusOrFault(s status.Status) error {
	if s.IsSuccess() {
		return nil
	}
	return fmt.Errorf("execloop: syscall failed: %s", s)
}
