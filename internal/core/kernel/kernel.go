// Package kernel wires the core's components into one running whole:
// capability tables with their destroy-ordering predicates, the VS
// engine bound to the architecture the CPU actually implements, the
// per-PP TLS bank, and the syscall dispatcher in front of all of it.
// It is the embedding caller's single construction point — the core
// itself has no CLI or entry point: one constructor builds every
// collaborator, probes the architecture once, and hands back a ready
// object graph.
package kernel

import (
	"fmt"

	"github.com/microvisor/core/internal/core/arch"
	"github.com/microvisor/core/internal/core/ext"
	"github.com/microvisor/core/internal/core/ids"
	"github.com/microvisor/core/internal/core/percpu"
	"github.com/microvisor/core/internal/core/pool"
	"github.com/microvisor/core/internal/core/syscall"
	"github.com/microvisor/core/internal/core/vm"
	"github.com/microvisor/core/internal/core/vp"
	"github.com/microvisor/core/internal/core/vs"
)

// Default table capacities: the MAX_* well-known constants, sized for the machines the core targets rather than a
// theoretical maximum.
const (
	DefaultMaxPps        = 64
	DefaultMaxVms        = 16
	DefaultMaxVps        = 128
	DefaultMaxVss        = 128
	DefaultMaxExtensions = 2
)

// DefaultDirectMapAddr and DefaultDirectMapSize are the
// EXT_DIRECT_MAP_ADDR/EXT_DIRECT_MAP_SIZE well-known constants
//: a high canonical half window through which physical
// memory appears linearly to the extension.
const (
	DefaultDirectMapAddr uint64 = 0xffff_8000_0000_0000
	DefaultDirectMapSize uint64 = 1 << 40
)

// Config names everything the embedding caller can override. Zero
// values take the defaults above; Intrinsics is the only mandatory
// field, since the architecture probe cannot be defaulted.
type Config struct {
	MaxPps        int
	MaxVms        int
	MaxVps        int
	MaxVss        int
	MaxExtensions int

	DirectMapAddr uint64
	DirectMapSize uint64

	Intrinsics arch.Intrinsics

	// Pages/Huge back mem_op; both optional (a nil pool makes the
	// corresponding mem_op indices report Unsupported).
	Pages pool.PagePool
	Huge  pool.HugePool

	// Wait is the control_op.wait gate, typically execloop.NewWaitPool.
	// Optional; nil makes wait a no-op.
	Wait syscall.WaitPool

	// Console receives debug_op text output. Optional.
	Console syscall.Console
}

func (c *Config) normalize() {
	if c.MaxPps == 0 {
		c.MaxPps = DefaultMaxPps
	}
	if c.MaxVms == 0 {
		c.MaxVms = DefaultMaxVms
	}
	if c.MaxVps == 0 {
		c.MaxVps = DefaultMaxVps
	}
	if c.MaxVss == 0 {
		c.MaxVss = DefaultMaxVss
	}
	if c.MaxExtensions == 0 {
		c.MaxExtensions = DefaultMaxExtensions
	}
	if c.DirectMapAddr == 0 {
		c.DirectMapAddr = DefaultDirectMapAddr
	}
	if c.DirectMapSize == 0 {
		c.DirectMapSize = DefaultDirectMapSize
	}
}

// Kernel is the fully wired core. Fields are exported so the embedding
// caller (and the per-PP execution loops it starts) can reach each
// component directly.
type Kernel struct {
	Ext        *ext.Runtime
	Vms        *vm.Table
	Vps        *vp.Table
	Vs         *vs.Engine
	Cpus       *percpu.Bank
	Dispatcher *syscall.Dispatcher
	Arch       vs.Arch
}

// New probes the CPU's virtualization vendor through cfg.Intrinsics,
// selects the VS architecture once at construction, and
// wires every table with its destroy-ordering predicate. The root VM (id 0) exists the
// moment New returns.
func New(cfg Config) (*Kernel, error) {
	cfg.normalize()
	if cfg.Intrinsics == nil {
		return nil, fmt.Errorf("kernel: Config.Intrinsics is required")
	}

	vendor, err := cfg.Intrinsics.Vendor()
	if err != nil {
		return nil, fmt.Errorf("kernel: probe vendor: %w", err)
	}
	var vsArch vs.Arch
	switch vendor {
	case arch.VendorIntelVmx:
		vsArch = vs.ArchIntelVmx
	case arch.VendorAmdSvm:
		vsArch = vs.ArchAmdSvm
	default:
		return nil, fmt.Errorf("kernel: %w", arch.ErrUnsupportedVendor)
	}

	k := &Kernel{Arch: vsArch}

	// The predicates capture k and read the dependent table at call
	// time: vm's check needs the vp table constructed after it, and
	// vp's check needs the vs engine constructed after that.
	vms, err := vm.NewTable(cfg.MaxVms, cfg.MaxPps, func(id ids.VmId) bool {
		return k.Vps != nil && k.Vps.AnyAssignedTo(id)
	})
	if err != nil {
		return nil, fmt.Errorf("kernel: vm table: %w", err)
	}
	k.Vms = vms

	k.Vps = vp.NewTable(cfg.MaxVps, vms, func(id ids.VpId) bool {
		return k.Vs != nil && k.Vs.AnyAssignedTo(id)
	})

	k.Cpus = percpu.NewBank(cfg.MaxPps)
	k.Ext = ext.NewRuntime(cfg.MaxExtensions, cfg.DirectMapAddr, cfg.DirectMapSize)
	k.Vs = vs.NewEngine(cfg.MaxVss, cfg.MaxPps, k.Vps, vms, k.Cpus, cfg.Intrinsics, vsArch)

	k.Dispatcher = syscall.NewDispatcher(syscall.Config{
		Ext:        k.Ext,
		Vms:        vms,
		Vps:        k.Vps,
		Vs:         k.Vs,
		Cpus:       k.Cpus,
		Pages:      cfg.Pages,
		Huge:       cfg.Huge,
		Wait:       cfg.Wait,
		Console:    cfg.Console,
		Intrinsics: cfg.Intrinsics,
	})
	return k, nil
}
