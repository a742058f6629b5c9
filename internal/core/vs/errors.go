package vs

import (
	"errors"

	"github.com/microvisor/core/internal/core/status"
)

// Sentinel errors for the VS engine.
var (
	ErrInvalidField       = errors.New("vs: invalid field")
	ErrWrongPp            = errors.New("vs: operation must run on vs.assigned_pp")
	ErrAssignmentMismatch = errors.New("vs: vp/vm assignment mismatch")
	ErrActive             = errors.New("vs: vs is active on a pp")
	ErrNotRootVs          = errors.New("vs: not a root vs on this pp")
	ErrNoActiveTriple     = errors.New("vs: no active triple on this pp")
	ErrVpHasVs            = errors.New("vs: vp already has a vs assigned")
)

func init() {
	status.Register(ErrInvalidField, status.InvalidInputReg(2))
	status.Register(ErrWrongPp, status.FailureUnknown)
	status.Register(ErrAssignmentMismatch, status.FailureUnknown)
	status.Register(ErrActive, status.FailureUnknown)
	status.Register(ErrNotRootVs, status.FailureUnknown)
	status.Register(ErrNoActiveTriple, status.FailureUnknown)
	status.Register(ErrVpHasVs, status.InvalidInputReg(1))
}
