package bfelf

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// MaxSegments bounds the number of PT_LOAD entries a single module may
// contribute (BFELF_MAX_SEGMENTS).
const MaxSegments = 4

// MaxNeeded bounds the number of DT_NEEDED entries a module may carry
// (BFELF_MAX_NEEDED).
const MaxNeeded = 4

// Perm mirrors the segment's ELF program-header flags, carried through
// so the caller's page_pool mapping can apply the right protection.
type Perm uint8

const (
	PermRead Perm = 1 << iota
	PermWrite
	PermExec
)

// LoadInstruction is one PT_LOAD segment's placement instruction
//: the loader never allocates memory itself, it only
// reports where bytes must go.
type LoadInstruction struct {
	Perm       Perm
	MemOffset  uint64 // offset from the module's base load address
	FileOffset uint64 // offset into the source image
	MemSize    uint64
	FileSize   uint64
	PhysAddr   uint64 // as recorded in the program header, informational
}

// Module is one parsed ELF image: its load instructions plus whatever
// dynamic-section state the loader needs to resolve symbols and apply
// relocations later, once all modules in a load set are known.
type Module struct {
	Segments []LoadInstruction
	MemSize  uint64
	Entry    uint64
	PIE      bool

	// EhFrameAddr/EhFrameSize locate .eh_frame when the image carries a
	// section header table; zero if absent or stripped.
	EhFrameAddr uint64
	EhFrameSize uint64

	needed []string

	src            io.ReaderAt
	raw            []byte
	f              *elf.File
	loadProgsCache []*elf.Prog
	dyn            dynamicInfo
	hash           hashTable
	hasHash        bool
}

// reader returns the underlying ELF image reader, used by the
// dynamic-section and symbol-table readers to pull bytes at arbitrary
// vaddr-derived file offsets.
func (m *Module) reader() io.ReaderAt { return m.src }

// Needed returns the module's DT_NEEDED library names; the caller's
// module set must be able to satisfy every one of them.
func (m *Module) Needed() []string {
	return append([]string(nil), m.needed...)
}

// Load parses an ELF64 little-endian executable or dynamic image from
// r. It validates the image flavour (static PIE or static non-PIE,
// System V ABI, class 64, little-endian, x86_64, zero e_flags) and
// extracts the dynamic-section pointers the rest of the package needs,
// but performs no relocation or cross-module resolution — callers do
// that via Resolve and Relocate once the full module set is known.
func Load(r io.ReaderAt, raw []byte) (*Module, error) {
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	if f.Class != elf.ELFCLASS64 {
		return nil, fmt.Errorf("%w: class %v, want ELFCLASS64", ErrUnsupportedFile, f.Class)
	}
	if f.Data != elf.ELFDATA2LSB {
		return nil, fmt.Errorf("%w: data encoding %v, want little-endian", ErrUnsupportedFile, f.Data)
	}
	if f.OSABI != elf.ELFOSABI_NONE && f.OSABI != elf.ELFOSABI_LINUX {
		return nil, fmt.Errorf("%w: osabi %v", ErrUnsupportedFile, f.OSABI)
	}
	if f.Machine != elf.EM_X86_64 {
		return nil, fmt.Errorf("%w: machine %v, want x86_64", ErrUnsupportedFile, f.Machine)
	}
	// debug/elf does not expose e_flags; read it from the ELF64 header.
	var flags [4]byte
	if _, err := r.ReadAt(flags[:], 48); err != nil {
		return nil, fmt.Errorf("%w: read e_flags: %v", ErrInvalidFile, err)
	}
	if v := binary.LittleEndian.Uint32(flags[:]); v != 0 {
		return nil, fmt.Errorf("%w: e_flags %#x, want 0", ErrUnsupportedFile, v)
	}
	if f.Type != elf.ET_EXEC && f.Type != elf.ET_DYN {
		return nil, fmt.Errorf("%w: type %v, want ET_EXEC or ET_DYN", ErrUnsupportedFile, f.Type)
	}

	m := &Module{f: f, src: r, raw: raw, PIE: f.Type == elf.ET_DYN, Entry: f.Entry}

	var loadProgs []*elf.Prog
	var dynProg *elf.Prog
	for _, p := range f.Progs {
		switch p.Type {
		case elf.PT_LOAD:
			loadProgs = append(loadProgs, p)
		case elf.PT_DYNAMIC:
			dynProg = p
		}
	}
	if len(loadProgs) == 0 {
		return nil, fmt.Errorf("%w: no PT_LOAD segments", ErrInvalidFile)
	}
	m.loadProgsCache = loadProgs
	if len(loadProgs) > MaxSegments {
		return nil, fmt.Errorf("%w: %d segments exceeds MAX_SEGMENTS=%d", ErrLoaderFull, len(loadProgs), MaxSegments)
	}

	minVaddr := loadProgs[0].Vaddr
	var maxEnd uint64
	for _, p := range loadProgs {
		if p.Vaddr < minVaddr {
			minVaddr = p.Vaddr
		}
		if end := p.Vaddr + p.Memsz; end > maxEnd {
			maxEnd = end
		}
	}

	for _, p := range loadProgs {
		if p.Filesz > p.Memsz {
			return nil, fmt.Errorf("%w: segment filesz %#x exceeds memsz %#x", ErrInvalidFile, p.Filesz, p.Memsz)
		}
		if p.Filesz > uint64(math.MaxInt) || p.Memsz > uint64(math.MaxInt) {
			return nil, fmt.Errorf("%w: segment size exceeds host limits", ErrInvalidFile)
		}
		m.Segments = append(m.Segments, LoadInstruction{
			Perm:       permFromFlags(p.Flags),
			MemOffset:  p.Vaddr - minVaddr,
			FileOffset: p.Off,
			MemSize:    p.Memsz,
			FileSize:   p.Filesz,
			PhysAddr:   p.Paddr,
		})
	}
	m.MemSize = maxEnd - minVaddr
	m.Entry -= minVaddr

	if dynProg != nil {
		dyn, err := parseDynamic(dynProg, r, loadProgs, minVaddr)
		if err != nil {
			return nil, err
		}
		m.dyn = dyn
		m.needed = dyn.needed
		if len(m.needed) > MaxNeeded {
			return nil, fmt.Errorf("%w: %d DT_NEEDED entries exceeds BFELF_MAX_NEEDED=%d", ErrLoaderFull, len(m.needed), MaxNeeded)
		}
		if dyn.hashAddr != 0 {
			ht, err := readHashTable(r, loadProgs, minVaddr, dyn.hashAddr)
			if err != nil {
				return nil, err
			}
			m.hash = ht
			m.hasHash = true
		}
	}

	foldLegacySections(f, m)

	return m, nil
}

func permFromFlags(f elf.ProgFlag) Perm {
	var p Perm
	if f&elf.PF_R != 0 {
		p |= PermRead
	}
	if f&elf.PF_W != 0 {
		p |= PermWrite
	}
	if f&elf.PF_X != 0 {
		p |= PermExec
	}
	return p
}

// vaddrToFileOffset maps a virtual address (relative to the module's
// link-time base, i.e. as it appears in program/dynamic-section
// fields) to an offset into the module's raw file bytes, by locating
// the PT_LOAD segment that covers it. Used throughout the dynamic
// section and hash/symbol table readers, since those structures are
// addressed by vaddr, not file offset, and this loader has no target
// address space mapped yet ("the loader does not
// allocate").
func vaddrToFileOffset(progs []*elf.Prog, vaddr uint64) (int64, bool) {
	for _, p := range progs {
		if vaddr >= p.Vaddr && vaddr < p.Vaddr+p.Filesz {
			return int64(p.Off + (vaddr - p.Vaddr)), true
		}
	}
	return 0, false
}
