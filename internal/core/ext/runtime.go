package ext

import (
	"github.com/microvisor/core/internal/core/captable"
	"github.com/microvisor/core/internal/core/ids"
)

// CallbackKind names one of the three validated extension entry
// points.
type CallbackKind int

const (
	CallbackBootstrap CallbackKind = iota
	CallbackVmexit
	CallbackFail
)

// Object is one extension's runtime state: its code window, its
// single open handle, its three callback IPs, and whether it has
// been started.
type Object struct {
	CodeBase uint64
	CodeSize uint64

	// Handle is the cookie currently authorising this extension's
	// syscalls, or 0 if none is open.
	Handle uint64

	BootstrapIp  uint64
	HasBootstrap bool
	VmexitIp     uint64
	HasVmexit    bool
	FailIp       uint64
	HasFail      bool

	Started bool
}

func (o Object) inCodeWindow(ip uint64) bool {
	return ip >= o.CodeBase && ip < o.CodeBase+o.CodeSize
}

// Runtime owns the extension table plus the direct-map window bounds
// shared by every extension: phys = virt − EXT_DIRECT_MAP_ADDR, the
// same well-known constants for every extension on every PP.
type Runtime struct {
	table         *captable.Table[ids.ExtId, Object]
	directMapAddr uint64
	directMapSize uint64
	nextCookie    uint64
}

// NewRuntime constructs an extension table of the given capacity
// (MAX_EXTENSIONS) with the given direct-map window bounds.
func NewRuntime(capacity int, directMapAddr, directMapSize uint64) *Runtime {
	return &Runtime{
		table:         captable.New[ids.ExtId, Object](capacity, nil, nil),
		directMapAddr: directMapAddr,
		directMapSize: directMapSize,
		nextCookie:    1,
	}
}

// Create allocates a new extension with the given code window.
// Returns ErrOutOfIds (via captable) if the table is full.
func (r *Runtime) Create(codeBase, codeSize uint64) (ids.ExtId, error) {
	return r.table.Allocate(Object{CodeBase: codeBase, CodeSize: codeSize})
}

// Destroy frees id's slot. Extensions carry no "still referenced"
// predicate; any allocated extension can be destroyed.
func (r *Runtime) Destroy(id ids.ExtId) error {
	return r.table.Destroy(id)
}

// Get returns a copy of id's current state.
func (r *Runtime) Get(id ids.ExtId) (Object, error) {
	return r.table.Get(id)
}

// OpenHandle opens id's handle, or returns the already-open cookie
// unchanged (two opens without an
// intervening close produce the same cookie).
func (r *Runtime) OpenHandle(id ids.ExtId) (uint64, error) {
	var cookie uint64
	err := r.table.Mutate(id, func(o Object) (Object, error) {
		if o.Handle != 0 {
			cookie = o.Handle
			return o, nil
		}
		cookie = r.allocCookie()
		o.Handle = cookie
		return o, nil
	})
	return cookie, err
}

// CloseHandle revokes id's open handle, provided handle matches it.
func (r *Runtime) CloseHandle(id ids.ExtId, handle uint64) error {
	return r.table.Mutate(id, func(o Object) (Object, error) {
		if o.Handle == 0 || o.Handle != handle {
			return o, ErrHandleNotOpen
		}
		o.Handle = 0
		return o, nil
	})
}

// Authorize validates that handle is the cookie currently open for id,
// the check every syscall except open_handle performs first.
func (r *Runtime) Authorize(id ids.ExtId, handle uint64) error {
	obj, err := r.table.Get(id)
	if err != nil {
		return err
	}
	if obj.Handle == 0 || obj.Handle != handle {
		return ErrHandleNotOpen
	}
	return nil
}

// RegisterCallback binds ip as id's callback of the given kind, after
// validating the presented handle and that ip lies within id's code
// window. Refuses a second registration of the same kind.
func (r *Runtime) RegisterCallback(id ids.ExtId, handle uint64, kind CallbackKind, ip uint64) error {
	return r.table.Mutate(id, func(o Object) (Object, error) {
		if o.Handle == 0 || o.Handle != handle {
			return o, ErrHandleNotOpen
		}
		if !o.inCodeWindow(ip) {
			return o, ErrCallbackOutOfRange
		}
		switch kind {
		case CallbackBootstrap:
			if o.HasBootstrap {
				return o, ErrCallbackAlreadyRegistered
			}
			o.BootstrapIp, o.HasBootstrap = ip, true
		case CallbackVmexit:
			if o.HasVmexit {
				return o, ErrCallbackAlreadyRegistered
			}
			o.VmexitIp, o.HasVmexit = ip, true
		case CallbackFail:
			if o.HasFail {
				return o, ErrCallbackAlreadyRegistered
			}
			o.FailIp, o.HasFail = ip, true
		}
		return o, nil
	})
}

// CallbackIp returns the registered IP for kind, or ok=false if
// nothing has been registered yet.
func (r *Runtime) CallbackIp(id ids.ExtId, kind CallbackKind) (ip uint64, ok bool, err error) {
	obj, err := r.table.Get(id)
	if err != nil {
		return 0, false, err
	}
	switch kind {
	case CallbackBootstrap:
		return obj.BootstrapIp, obj.HasBootstrap, nil
	case CallbackVmexit:
		return obj.VmexitIp, obj.HasVmexit, nil
	case CallbackFail:
		return obj.FailIp, obj.HasFail, nil
	default:
		return 0, false, nil
	}
}

// MarkStarted flips id's started flag. An extension is started once
// its bootstrap callback has been entered on any PP.
func (r *Runtime) MarkStarted(id ids.ExtId) error {
	return r.table.Mutate(id, func(o Object) (Object, error) {
		o.Started = true
		return o, nil
	})
}

// Started reports whether id's bootstrap callback has ever been
// entered.
func (r *Runtime) Started(id ids.ExtId) (bool, error) {
	obj, err := r.table.Get(id)
	if err != nil {
		return false, err
	}
	return obj.Started, nil
}

// IsVmexitExtension reports whether id is the extension that
// registered the vmexit callback — the identity vm_op's permission
// check requires.
func (r *Runtime) IsVmexitExtension(id ids.ExtId) (bool, error) {
	obj, err := r.table.Get(id)
	if err != nil {
		return false, err
	}
	return obj.HasVmexit, nil
}

// Each iterates every allocated extension, in id order (used by
// debug_op.dump_ext).
func (r *Runtime) Each(fn func(ids.ExtId, Object)) {
	r.table.Each(fn)
}

func (r *Runtime) allocCookie() uint64 {
	c := r.nextCookie
	r.nextCookie++
	return c
}
