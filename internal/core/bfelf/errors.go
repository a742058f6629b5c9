// Package bfelf implements the ELF loader: it parses a
// statically-linked ELF64 executable or dynamic image into an ordered
// list of load instructions, walks the dynamic section, resolves
// symbols across a small set of loaded modules, and applies x86_64
// relocations. It does not allocate memory itself — callers stage the
// load instructions into pages obtained from internal/core/pool.
package bfelf

import (
	"errors"

	"github.com/microvisor/core/internal/core/status"
)

// Sentinel errors for the loader
var (
	ErrInvalidSignature      = errors.New("bfelf: invalid elf signature")
	ErrUnsupportedFile       = errors.New("bfelf: unsupported elf file")
	ErrInvalidFile           = errors.New("bfelf: invalid elf file")
	ErrInvalidIndex          = errors.New("bfelf: invalid index")
	ErrLoaderFull            = errors.New("bfelf: loader full")
	ErrNoSuchSymbol          = errors.New("bfelf: no such symbol")
	ErrUnsupportedRelocation = errors.New("bfelf: unsupported relocation")
	ErrOutOfMemory           = errors.New("bfelf: out of memory")
)

func init() {
	status.Register(ErrInvalidSignature, status.InvalidInputReg(1))
	status.Register(ErrUnsupportedFile, status.FailureUnsupported)
	status.Register(ErrInvalidFile, status.InvalidInputReg(1))
	status.Register(ErrInvalidIndex, status.InvalidInputReg(2))
	status.Register(ErrLoaderFull, status.FailureUnknown)
	status.Register(ErrNoSuchSymbol, status.FailureUnknown)
	status.Register(ErrUnsupportedRelocation, status.FailureUnsupported)
	status.Register(ErrOutOfMemory, status.FailureUnknown)
}
