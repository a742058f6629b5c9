package bfelf

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"
)

// Elf64_Dyn is 16 bytes: int64 d_tag, uint64 d_val/d_ptr.
const dynEntrySize = 16

// dynamicInfo holds the handful of DT_* pointers and sizes the loader
// needs.
type dynamicInfo struct {
	hashAddr      uint64
	strtabAddr    uint64
	strtabSize    uint64
	symtabAddr    uint64
	relaAddr      uint64
	relaSize      uint64
	relaEntSize   uint64
	pltRelType    elf.DynTag // DT_RELA or DT_REL, names the JMPREL entry format
	jmpRelAddr    uint64
	jmpRelSize    uint64
	initAddr      uint64
	finiAddr      uint64
	initArrayAddr uint64
	initArraySize uint64
	finiArrayAddr uint64
	finiArraySize uint64

	needed []string
}

// parseDynamic walks the PT_DYNAMIC segment's Elf64_Dyn array. debug/elf
// has no public API for this without section headers (symbol/string
// tables here are addressed by vaddr from PT_DYNAMIC, not by section,
// since a statically-linked extension image may carry no section
// header table at all), so the entries are decoded directly from the
// dynamic program header's own bytes.
func parseDynamic(dynProg *elf.Prog, r io.ReaderAt, loadProgs []*elf.Prog, minVaddr uint64) (dynamicInfo, error) {
	var info dynamicInfo

	if dynProg.Filesz%dynEntrySize != 0 {
		return info, fmt.Errorf("%w: PT_DYNAMIC size %#x not a multiple of %d", ErrInvalidFile, dynProg.Filesz, dynEntrySize)
	}
	buf := make([]byte, dynProg.Filesz)
	if _, err := dynProg.ReadAt(buf, 0); err != nil {
		return info, fmt.Errorf("%w: read PT_DYNAMIC: %v", ErrInvalidFile, err)
	}

	var strtabOff int64
	var haveStrtab bool
	var neededOffsets []uint64

	for off := 0; off < len(buf); off += dynEntrySize {
		tag := elf.DynTag(binary.LittleEndian.Uint64(buf[off:]))
		val := binary.LittleEndian.Uint64(buf[off+8:])
		switch tag {
		case elf.DT_NULL:
			off = len(buf) // terminate
		case elf.DT_HASH:
			info.hashAddr = val
		case elf.DT_STRTAB:
			info.strtabAddr = val
		case elf.DT_STRSZ:
			info.strtabSize = val
		case elf.DT_SYMTAB:
			info.symtabAddr = val
		case elf.DT_RELA:
			info.relaAddr = val
		case elf.DT_RELASZ:
			info.relaSize = val
		case elf.DT_RELAENT:
			info.relaEntSize = val
		case elf.DT_PLTREL:
			info.pltRelType = elf.DynTag(val)
		case elf.DT_JMPREL:
			info.jmpRelAddr = val
		case elf.DT_PLTRELSZ:
			info.jmpRelSize = val
		case elf.DT_INIT:
			info.initAddr = val
		case elf.DT_FINI:
			info.finiAddr = val
		case elf.DT_INIT_ARRAY:
			info.initArrayAddr = val
		case elf.DT_INIT_ARRAYSZ:
			info.initArraySize = val
		case elf.DT_FINI_ARRAY:
			info.finiArrayAddr = val
		case elf.DT_FINI_ARRAYSZ:
			info.finiArraySize = val
		case elf.DT_NEEDED:
			neededOffsets = append(neededOffsets, val)
		}
	}

	if info.strtabAddr != 0 {
		if o, ok := vaddrToFileOffset(loadProgs, info.strtabAddr); ok {
			strtabOff = o
			haveStrtab = true
		}
	}
	if haveStrtab {
		for _, nameOff := range neededOffsets {
			name, err := readCString(r, strtabOff+int64(nameOff))
			if err != nil {
				return info, err
			}
			info.needed = append(info.needed, name)
		}
	}

	return info, nil
}

// readCString reads a NUL-terminated string starting at absolute file
// offset off.
func readCString(r io.ReaderAt, off int64) (string, error) {
	const maxLen = 256
	buf := make([]byte, maxLen)
	n, err := r.ReadAt(buf, off)
	if n == 0 && err != nil {
		return "", fmt.Errorf("%w: read string at %#x: %v", ErrInvalidFile, off, err)
	}
	for i := 0; i < n; i++ {
		if buf[i] == 0 {
			return string(buf[:i]), nil
		}
	}
	return "", fmt.Errorf("%w: unterminated string at %#x", ErrInvalidFile, off)
}
