// Package pool defines the page_pool/huge_pool contracts — the
// physical/virtual address allocator the core never implements for
// production, only stages against. It also ships a golang.org/x/sys/unix-backed default
// implementation good enough for bring-up and for this package's own
// tests, plus the yaml-driven Config that overrides
// the well-known layout constants.
package pool

import (
	"errors"

	"github.com/microvisor/core/internal/core/status"
)

// Sentinel errors for both the PagePool and HugePool contracts.
var (
	// ErrPoolExhausted is returned when no more pages/huge-regions are
	// available from the pool's backing arena.
	ErrPoolExhausted = errors.New("pool: exhausted")
	// ErrNotAllocated is returned by Free when the given address was
	// never handed out by Alloc, or was already freed.
	ErrNotAllocated = errors.New("pool: address not allocated")
	// ErrInvalidSize is returned for a huge-page request whose page
	// count is zero or exceeds the pool's configured maximum.
	ErrInvalidSize = errors.New("pool: invalid size")
)

func init() {
	status.Register(ErrPoolExhausted, status.FailureUnknown)
	status.Register(ErrNotAllocated, status.InvalidInputReg(1))
	status.Register(ErrInvalidSize, status.InvalidInputReg(1))
}
