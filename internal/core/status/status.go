// Package status defines bf_status_t, the 64-bit status taxonomy the
// syscall dispatcher returns to the extension. It is the
// single translation point between component error kinds and the
// extension-visible ABI.
package status

import (
	"errors"
	"fmt"
)

// Status is bf_status_t: the value every syscall returns to the
// extension through ext_reg0 on the way out.
type Status uint64

const (
	// Success indicates the operation completed.
	Success Status = iota
	// FailureUnknown is a generic, unclassified failure.
	FailureUnknown
	// FailureInvalidHandle indicates the presented handle does not
	// authorise the calling extension for this syscall.
	FailureInvalidHandle
	// FailureUnsupported indicates an unknown family/index or an
	// unimplemented feature (e.g. unmap_direct_broadcast).
	FailureUnsupported
	// InvalidPermDenied indicates the caller is not the vmexit
	// extension but the syscall requires it (all of vm_op).
	InvalidPermDenied
	// InvalidInputReg1 through InvalidInputReg5 indicate the specific
	// input register that failed validation.
	InvalidInputReg1
	InvalidInputReg2
	InvalidInputReg3
	InvalidInputReg4
	InvalidInputReg5
)

var names = map[Status]string{
	Success:              "SUCCESS",
	FailureUnknown:       "FAILURE_UNKNOWN",
	FailureInvalidHandle: "FAILURE_INVALID_HANDLE",
	FailureUnsupported:   "FAILURE_UNSUPPORTED",
	InvalidPermDenied:    "INVALID_PERM_DENIED",
	InvalidInputReg1:     "INVALID_INPUT_REG1",
	InvalidInputReg2:     "INVALID_INPUT_REG2",
	InvalidInputReg3:     "INVALID_INPUT_REG3",
	InvalidInputReg4:     "INVALID_INPUT_REG4",
	InvalidInputReg5:     "INVALID_INPUT_REG5",
}

func (s Status) String() string {
	if name, ok := names[s]; ok {
		return name
	}
	return fmt.Sprintf("Status(0x%X)", uint64(s))
}

// IsSuccess reports whether s is Success.
func (s Status) IsSuccess() bool { return s == Success }

// InvalidInputReg returns the INVALID_INPUT_REG{n} status for a
// 1-indexed register number (1..5), or FailureUnknown if n is out of
// range.
func InvalidInputReg(n int) Status {
	switch n {
	case 1:
		return InvalidInputReg1
	case 2:
		return InvalidInputReg2
	case 3:
		return InvalidInputReg3
	case 4:
		return InvalidInputReg4
	case 5:
		return InvalidInputReg5
	default:
		return FailureUnknown
	}
}

// FromComponentError maps a component-level error kind (captable,
// bfelf, vs, ...) to the bf_status_t the dispatcher returns. Unknown
// errors map to FailureUnknown, never panic: a dispatcher must always
// produce a status.
func FromComponentError(err error) Status {
	if err == nil {
		return Success
	}
	if s, ok := componentStatus[err]; ok {
		return s
	}
	for sentinel, s := range componentStatus {
		if sentinel != nil && errors.Is(err, sentinel) {
			return s
		}
	}
	return FailureUnknown
}

// componentStatus is populated by each component package's init via
// Register, so status stays the single place new component errors get
// a taxonomy entry without status importing every component.
var componentStatus = map[error]Status{}

// Register associates a component sentinel error with the bf_status_t
// it should translate to. Called from component package init()s.
func Register(err error, s Status) {
	componentStatus[err] = s
}
