// Package ext implements the extension runtime: per-extension code
// image metadata, the per-PP direct-map window, the three validated
// callback entry points, and the single open handle that authorises an
// extension's syscalls. Each callback is registered once, validated at
// registration, and invoked later through a narrow interface.
package ext

import (
	"errors"

	"github.com/microvisor/core/internal/core/status"
)

// Sentinel errors for the extension runtime.
var (
	// ErrHandleNotOpen is returned when a syscall presents a handle
	// that does not match the extension's currently open one (or no
	// handle is open at all).
	ErrHandleNotOpen = errors.New("ext: handle not open")
	// ErrHandleAlreadyOpen has a status mapping but is not returned by
	// OpenHandle: a second open while a handle is outstanding returns
	// that same cookie.
	ErrHandleAlreadyOpen = errors.New("ext: handle already open")
	// ErrCallbackOutOfRange is returned when a registered callback IP
	// does not lie inside the extension's code window.
	ErrCallbackOutOfRange = errors.New("ext: callback ip outside code window")
	// ErrCallbackAlreadyRegistered is returned on a second registration
	// of the same callback kind.
	ErrCallbackAlreadyRegistered = errors.New("ext: callback already registered")
	// ErrDirectMapOutOfRange is returned by VirtToPhys/PhysToVirt when
	// the address falls outside [0, EXT_DIRECT_MAP_SIZE).
	ErrDirectMapOutOfRange = errors.New("ext: address outside direct-map window")
)

func init() {
	status.Register(ErrHandleNotOpen, status.FailureInvalidHandle)
	status.Register(ErrHandleAlreadyOpen, status.FailureUnknown)
	status.Register(ErrCallbackOutOfRange, status.InvalidInputReg(1))
	status.Register(ErrCallbackAlreadyRegistered, status.FailureUnknown)
	status.Register(ErrDirectMapOutOfRange, status.InvalidInputReg(1))
}
