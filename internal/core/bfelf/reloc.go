package bfelf

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
)

// relaEntrySize is sizeof(Elf64_Rela): r_offset, r_info, r_addend.
const relaEntrySize = 24

// x86_64 relocation types the loader understands.
// These are the handful a statically-linked, position-independent
// extension image actually emits: absolute/relative fixups for
// DT_RELA entries and the lazy-binding entries under DT_JMPREL.
const (
	rX8664Relative = 8  // R_X86_64_RELATIVE: *target = base + addend
	rX8664_64      = 1  // R_X86_64_64: *target = symbol_value + addend
	rX8664GlobDat  = 6  // R_X86_64_GLOB_DAT: *target = symbol_value
	rX8664JmpSlot  = 7  // R_X86_64_JUMP_SLOT: *target = symbol_value
	rX8664None     = 0  // R_X86_64_NONE
)

// relaEntry mirrors one Elf64_Rela.
type relaEntry struct {
	Offset uint64
	Info   uint64
	Addend int64
}

func (r relaEntry) symIndex() uint32 { return uint32(r.Info >> 32) }
func (r relaEntry) relType() uint32  { return uint32(r.Info) }

// Relocate applies every relocation entry under DT_RELA and DT_JMPREL
// (when DT_PLTREL names RELA, the only format x86_64 uses) found in
// m, writing fixed-up 64-bit values into image, a byte buffer holding
// m's segments laid out starting at base.
// symResolve resolves a symbol-table index to its final runtime value;
// callers typically back it with Resolve plus this module's own local
// symbol table for non-external references.
func Relocate(m *Module, image []byte, base uint64, symResolve func(symIndex uint32) (uint64, error)) error {
	if m.dyn.relaAddr != 0 {
		if err := relocateTable(m, image, base, m.dyn.relaAddr, m.dyn.relaSize, symResolve); err != nil {
			return err
		}
	}
	if m.dyn.jmpRelAddr != 0 {
		if m.dyn.pltRelType != 0 && m.dyn.pltRelType != elf.DT_RELA {
			return fmt.Errorf("%w: DT_PLTREL %v, only DT_RELA supported on x86_64", ErrUnsupportedRelocation, m.dyn.pltRelType)
		}
		if err := relocateTable(m, image, base, m.dyn.jmpRelAddr, m.dyn.jmpRelSize, symResolve); err != nil {
			return err
		}
	}
	return nil
}

func relocateTable(m *Module, image []byte, base uint64, tableVaddr, tableSize uint64, symResolve func(uint32) (uint64, error)) error {
	off, ok := vaddrToFileOffset(m.loadProgsCache, tableVaddr)
	if !ok {
		return fmt.Errorf("%w: relocation table vaddr %#x not covered by any PT_LOAD", ErrInvalidFile, tableVaddr)
	}
	if tableSize%relaEntrySize != 0 {
		return fmt.Errorf("%w: relocation table size %#x not a multiple of %d", ErrInvalidFile, tableSize, relaEntrySize)
	}

	buf := make([]byte, tableSize)
	if _, err := m.reader().ReadAt(buf, off); err != nil {
		return fmt.Errorf("%w: read relocation table: %v", ErrInvalidFile, err)
	}

	for o := 0; o < len(buf); o += relaEntrySize {
		rel := relaEntry{
			Offset: binary.LittleEndian.Uint64(buf[o:]),
			Info:   binary.LittleEndian.Uint64(buf[o+8:]),
			Addend: int64(binary.LittleEndian.Uint64(buf[o+16:])),
		}
		if err := applyRelocation(rel, image, base, symResolve); err != nil {
			return err
		}
	}
	return nil
}

func applyRelocation(rel relaEntry, image []byte, base uint64, symResolve func(uint32) (uint64, error)) error {
	if int(rel.Offset)+8 > len(image) {
		return fmt.Errorf("%w: relocation offset %#x outside image (len %#x)", ErrInvalidFile, rel.Offset, len(image))
	}

	var value uint64
	switch rel.relType() {
	case rX8664None:
		return nil
	case rX8664Relative:
		value = base + uint64(rel.Addend)
	case rX8664_64, rX8664GlobDat, rX8664JmpSlot:
		symValue, err := symResolve(rel.symIndex())
		if err != nil {
			return err
		}
		value = symValue
		if rel.relType() == rX8664_64 {
			value += uint64(rel.Addend)
		}
	default:
		return fmt.Errorf("%w: relocation type %d", ErrUnsupportedRelocation, rel.relType())
	}

	binary.LittleEndian.PutUint64(image[rel.Offset:], value)
	return nil
}
