package bfelf

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
)

// testSym describes one symbol to bake into a synthetic test image.
type testSym struct {
	name  string
	bind  elf.SymBind
	value uint64
	size  uint64
}

func symInfo(bind elf.SymBind, typ elf.SymType) uint8 {
	return uint8(bind)<<4 | uint8(typ)&0xf
}

// buildTestELF assembles a minimal, valid little-endian ELF64 ET_DYN
// x86_64 image with a single PT_LOAD segment (base 0, so vaddr ==
// file offset throughout, keeping the builder simple) and a
// PT_DYNAMIC segment carrying a SysV hash table, symbol table, string
// table, DT_NEEDED entries, and optionally a DT_RELA relocation table.
// Used by loader/hash/resolve/reloc tests in this package, which need
// real bytes to feed debug/elf rather than hand-built in-memory
// structs.
func buildTestELF(entry uint64, syms []testSym, needed []string, relocs []relaEntry) []byte {
	const ehSize = 64
	const phSize = 56
	const phCount = 2

	strtab := []byte{0}
	nameOff := make(map[string]uint32, len(syms)+len(needed))
	for _, s := range syms {
		nameOff[s.name] = uint32(len(strtab))
		strtab = append(strtab, []byte(s.name)...)
		strtab = append(strtab, 0)
	}
	for _, n := range needed {
		if _, ok := nameOff[n]; ok {
			continue
		}
		nameOff[n] = uint32(len(strtab))
		strtab = append(strtab, []byte(n)...)
		strtab = append(strtab, 0)
	}

	symtab := make([]byte, 24) // index 0: the mandatory null symbol
	for _, s := range syms {
		buf := make([]byte, 24)
		binary.LittleEndian.PutUint32(buf[0:], nameOff[s.name])
		buf[4] = symInfo(s.bind, elf.STT_FUNC)
		binary.LittleEndian.PutUint16(buf[6:], 1) // shndx: anything != SHN_UNDEF
		binary.LittleEndian.PutUint64(buf[8:], s.value)
		binary.LittleEndian.PutUint64(buf[16:], s.size)
		symtab = append(symtab, buf...)
	}
	nsyms := len(syms) + 1

	// SysV hash table with a single bucket: every symbol chains off
	// bucket[0] in definition order, terminated by a zero link.
	hash := make([]byte, 8+4+4*nsyms)
	binary.LittleEndian.PutUint32(hash[0:], 1)
	binary.LittleEndian.PutUint32(hash[4:], uint32(nsyms))
	if len(syms) > 0 {
		binary.LittleEndian.PutUint32(hash[8:], 1)
	}
	chainsOff := 8 + 4
	for i := 1; i <= len(syms); i++ {
		var next uint32
		if i < len(syms) {
			next = uint32(i + 1)
		}
		binary.LittleEndian.PutUint32(hash[chainsOff+i*4:], next)
	}

	relaBuf := make([]byte, 0, len(relocs)*relaEntrySize)
	for _, r := range relocs {
		buf := make([]byte, relaEntrySize)
		binary.LittleEndian.PutUint64(buf[0:], r.Offset)
		binary.LittleEndian.PutUint64(buf[8:], r.Info)
		binary.LittleEndian.PutUint64(buf[16:], uint64(r.Addend))
		relaBuf = append(relaBuf, buf...)
	}

	dynOff := uint64(ehSize + phCount*phSize)

	type dynEnt struct {
		tag elf.DynTag
		val uint64
	}
	// Offsets are filled in below, once every section's position is
	// known; placeholders keep entry count (and therefore dynSize)
	// stable across both passes.
	var entries []dynEnt
	entries = append(entries, dynEnt{elf.DT_HASH, 0})
	entries = append(entries, dynEnt{elf.DT_STRTAB, 0})
	entries = append(entries, dynEnt{elf.DT_SYMTAB, 0})
	entries = append(entries, dynEnt{elf.DT_STRSZ, uint64(len(strtab))})
	for _, n := range needed {
		entries = append(entries, dynEnt{elf.DT_NEEDED, uint64(nameOff[n])})
	}
	if len(relocs) > 0 {
		entries = append(entries, dynEnt{elf.DT_RELA, 0})
		entries = append(entries, dynEnt{elf.DT_RELASZ, uint64(len(relaBuf))})
		entries = append(entries, dynEnt{elf.DT_RELAENT, relaEntrySize})
	}
	entries = append(entries, dynEnt{elf.DT_NULL, 0})

	dynSize := uint64(len(entries) * dynEntrySize)
	hashOff := dynOff + dynSize
	symtabOff := hashOff + uint64(len(hash))
	strtabOff := symtabOff + uint64(len(symtab))
	relaOff := strtabOff + uint64(len(strtab))

	for i := range entries {
		switch entries[i].tag {
		case elf.DT_HASH:
			entries[i].val = hashOff
		case elf.DT_STRTAB:
			entries[i].val = strtabOff
		case elf.DT_SYMTAB:
			entries[i].val = symtabOff
		case elf.DT_RELA:
			entries[i].val = relaOff
		}
	}

	dynBuf := make([]byte, 0, dynSize)
	for _, e := range entries {
		buf := make([]byte, dynEntrySize)
		binary.LittleEndian.PutUint64(buf[0:], uint64(e.tag))
		binary.LittleEndian.PutUint64(buf[8:], e.val)
		dynBuf = append(dynBuf, buf...)
	}

	total := relaOff + uint64(len(relaBuf))

	var out bytes.Buffer
	out.Grow(int(total))

	ehdr := make([]byte, ehSize)
	ehdr[0], ehdr[1], ehdr[2], ehdr[3] = 0x7f, 'E', 'L', 'F'
	ehdr[4] = 2 // ELFCLASS64
	ehdr[5] = 1 // ELFDATA2LSB
	ehdr[6] = 1 // EV_CURRENT
	binary.LittleEndian.PutUint16(ehdr[16:], uint16(elf.ET_DYN))
	binary.LittleEndian.PutUint16(ehdr[18:], uint16(elf.EM_X86_64))
	binary.LittleEndian.PutUint32(ehdr[20:], uint32(elf.EV_CURRENT))
	binary.LittleEndian.PutUint64(ehdr[24:], entry)
	binary.LittleEndian.PutUint64(ehdr[32:], uint64(ehSize)) // e_phoff
	binary.LittleEndian.PutUint16(ehdr[52:], uint16(ehSize))
	binary.LittleEndian.PutUint16(ehdr[54:], uint16(phSize))
	binary.LittleEndian.PutUint16(ehdr[56:], uint16(phCount))
	out.Write(ehdr)

	loadPhdr := make([]byte, phSize)
	binary.LittleEndian.PutUint32(loadPhdr[0:], uint32(elf.PT_LOAD))
	binary.LittleEndian.PutUint32(loadPhdr[4:], uint32(elf.PF_R|elf.PF_W|elf.PF_X))
	binary.LittleEndian.PutUint64(loadPhdr[8:], 0)
	binary.LittleEndian.PutUint64(loadPhdr[16:], 0)
	binary.LittleEndian.PutUint64(loadPhdr[24:], 0)
	binary.LittleEndian.PutUint64(loadPhdr[32:], total)
	binary.LittleEndian.PutUint64(loadPhdr[40:], total)
	binary.LittleEndian.PutUint64(loadPhdr[48:], 0x1000)
	out.Write(loadPhdr)

	dynPhdr := make([]byte, phSize)
	binary.LittleEndian.PutUint32(dynPhdr[0:], uint32(elf.PT_DYNAMIC))
	binary.LittleEndian.PutUint32(dynPhdr[4:], uint32(elf.PF_R|elf.PF_W))
	binary.LittleEndian.PutUint64(dynPhdr[8:], dynOff)
	binary.LittleEndian.PutUint64(dynPhdr[16:], dynOff)
	binary.LittleEndian.PutUint64(dynPhdr[24:], dynOff)
	binary.LittleEndian.PutUint64(dynPhdr[32:], dynSize)
	binary.LittleEndian.PutUint64(dynPhdr[40:], dynSize)
	binary.LittleEndian.PutUint64(dynPhdr[48:], 8)
	out.Write(dynPhdr)

	out.Write(dynBuf)
	out.Write(hash)
	out.Write(symtab)
	out.Write(strtab)
	out.Write(relaBuf)

	return out.Bytes()
}
