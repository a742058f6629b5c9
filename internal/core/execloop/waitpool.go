// Package execloop implements the per-PP execution loop: bootstrap,
// VM-exit delivery to the extension's vmexit callback, and the
// fail-callback fault trampoline. One goroutine per PP, started once,
// looping on a run/exit cycle.
package execloop

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/microvisor/core/internal/core/ids"
)

// WaitPool implements syscall.WaitPool: control_op.wait blocks the
// caller until the target extension's started flag flips. Modeled as
// one semaphore.Weighted gate per extension, initially acquired
// closed; Open releases it so every current and future waiter passes
// — a semaphore acquire/release rather than a busy spin. This is
// bring-up infrastructure, not a general-purpose
// broadcast primitive: the loop calls Open each time an extension's
// bootstrap callback is entered, and every call after the first is a
// no-op.
type WaitPool struct {
	mu    sync.Mutex
	gates map[ids.ExtId]*semaphore.Weighted
	open  map[ids.ExtId]bool
}

// NewWaitPool constructs an empty wait pool.
func NewWaitPool() *WaitPool {
	return &WaitPool{
		gates: make(map[ids.ExtId]*semaphore.Weighted),
		open:  make(map[ids.ExtId]bool),
	}
}

// gateLocked returns id's gate, creating it already-closed if id has
// not been opened yet or already-open if it has. Must be called with
// p.mu held, so the open check and gate creation are atomic.
func (p *WaitPool) gateLocked(id ids.ExtId) *semaphore.Weighted {
	g, ok := p.gates[id]
	if ok {
		return g
	}
	g = semaphore.NewWeighted(1)
	if !p.open[id] {
		g.Acquire(context.Background(), 1) // closed until Open
	}
	p.gates[id] = g
	return g
}

// Wait blocks the calling PP until id's extension has started. Returns
// immediately if Open(id) already ran.
func (p *WaitPool) Wait(id ids.ExtId) error {
	p.mu.Lock()
	g := p.gateLocked(id)
	p.mu.Unlock()

	if err := g.Acquire(context.Background(), 1); err != nil {
		return fmt.Errorf("execloop: wait pool: %w", err)
	}
	g.Release(1) // let any other waiter on the same gate pass too
	return nil
}

// Open releases every PP currently (or later) waiting on id.
func (p *WaitPool) Open(id ids.ExtId) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.open[id] {
		return
	}
	p.open[id] = true
	if g, ok := p.gates[id]; ok {
		g.Release(1)
	}
}
