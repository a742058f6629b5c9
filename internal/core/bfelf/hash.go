package bfelf

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"
)

// hashTable is a parsed SysV-style ELF hash section (DT_HASH): two
// uint32 counts followed by a bucket array and a chain array, each
// nbucket/nchain entries of uint32.
type hashTable struct {
	buckets []uint32
	chains  []uint32
}

// symtabEntry mirrors Elf64_Sym (24 bytes): name offset into strtab,
// info (type|binding nibbles), other (visibility), section index,
// value, size.
type symtabEntry struct {
	Name  uint32
	Info  uint8
	Other uint8
	Shndx uint16
	Value uint64
	Size  uint64
}

const symEntrySize = 24

func readHashTable(r io.ReaderAt, progs []*elf.Prog, minVaddr, hashVaddr uint64) (hashTable, error) {
	off, ok := vaddrToFileOffset(progs, hashVaddr)
	if !ok {
		return hashTable{}, fmt.Errorf("%w: DT_HASH vaddr %#x not covered by any PT_LOAD", ErrInvalidFile, hashVaddr)
	}
	var header [8]byte
	if _, err := r.ReadAt(header[:], off); err != nil {
		return hashTable{}, fmt.Errorf("%w: read hash header: %v", ErrInvalidFile, err)
	}
	nbucket := binary.LittleEndian.Uint32(header[0:])
	nchain := binary.LittleEndian.Uint32(header[4:])

	buckets := make([]uint32, nbucket)
	chains := make([]uint32, nchain)
	body := make([]byte, (int(nbucket)+int(nchain))*4)
	if _, err := r.ReadAt(body, off+8); err != nil {
		return hashTable{}, fmt.Errorf("%w: read hash table body: %v", ErrInvalidFile, err)
	}
	for i := range buckets {
		buckets[i] = binary.LittleEndian.Uint32(body[i*4:])
	}
	for i := range chains {
		chains[i] = binary.LittleEndian.Uint32(body[(int(nbucket)+i)*4:])
	}
	return hashTable{buckets: buckets, chains: chains}, nil
}

// pjwHash is the ELF "PJW" hash: a rolling 4-bit shift
// with high-nibble fold, the standard SysV ELF hash function.
func pjwHash(name string) uint32 {
	var h uint32
	for i := 0; i < len(name); i++ {
		h = (h << 4) + uint32(name[i])
		if g := h & 0xf0000000; g != 0 {
			h ^= g >> 24
			h &^= g
		}
	}
	return h
}

func readSymbol(r io.ReaderAt, progs []*elf.Prog, symtabVaddr uint64, index uint32) (symtabEntry, error) {
	off, ok := vaddrToFileOffset(progs, symtabVaddr)
	if !ok {
		return symtabEntry{}, fmt.Errorf("%w: DT_SYMTAB vaddr %#x not covered by any PT_LOAD", ErrInvalidFile, symtabVaddr)
	}
	buf := make([]byte, symEntrySize)
	if _, err := r.ReadAt(buf, off+int64(index)*symEntrySize); err != nil {
		return symtabEntry{}, fmt.Errorf("%w: read symtab[%d]: %v", ErrInvalidIndex, index, err)
	}
	return symtabEntry{
		Name:  binary.LittleEndian.Uint32(buf[0:]),
		Info:  buf[4],
		Other: buf[5],
		Shndx: binary.LittleEndian.Uint16(buf[6:]),
		Value: binary.LittleEndian.Uint64(buf[8:]),
		Size:  binary.LittleEndian.Uint64(buf[16:]),
	}, nil
}

func (s symtabEntry) bind() elf.SymBind { return elf.SymBind(s.Info >> 4) }

const maxLinearSymbols = 4096

// lookupSymbol resolves name within this single module only: a hash
// probe when a hash table is present, otherwise a bounded linear scan
// of the symbol table.
func (m *Module) lookupSymbol(name string) (symtabEntry, string, bool, error) {
	r := m.reader()
	if m.hasHash {
		nbucket := uint32(len(m.hash.buckets))
		if nbucket == 0 {
			return symtabEntry{}, "", false, nil
		}
		idx := m.hash.buckets[pjwHash(name)%nbucket]
		for idx != 0 {
			if int(idx) >= len(m.hash.chains)+1 {
				return symtabEntry{}, "", false, fmt.Errorf("%w: hash chain index %d out of range", ErrInvalidIndex, idx)
			}
			sym, err := readSymbol(r, m.loadProgsCache, m.dyn.symtabAddr, idx)
			if err != nil {
				return symtabEntry{}, "", false, err
			}
			symName, err := m.stringAt(sym.Name)
			if err != nil {
				return symtabEntry{}, "", false, err
			}
			if symName == name {
				return sym, symName, true, nil
			}
			if int(idx) >= len(m.hash.chains) {
				break
			}
			idx = m.hash.chains[idx]
		}
		return symtabEntry{}, "", false, nil
	}

	for i := uint32(1); i < maxLinearSymbols; i++ {
		sym, err := readSymbol(r, m.loadProgsCache, m.dyn.symtabAddr, i)
		if err != nil {
			break
		}
		symName, err := m.stringAt(sym.Name)
		if err != nil || symName == "" {
			continue
		}
		if symName == name {
			return sym, symName, true, nil
		}
	}
	return symtabEntry{}, "", false, nil
}

// stringAt reads the NUL-terminated string at nameOff within this
// module's string table.
func (m *Module) stringAt(nameOff uint32) (string, error) {
	off, ok := vaddrToFileOffset(m.loadProgsCache, m.dyn.strtabAddr)
	if !ok {
		return "", fmt.Errorf("%w: DT_STRTAB not covered by any PT_LOAD", ErrInvalidFile)
	}
	return readCString(m.reader(), off+int64(nameOff))
}
