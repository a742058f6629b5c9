package bfelf

import "debug/elf"

// foldLegacySections locates .eh_frame, .ctors, and .dtors by name
// when the image still carries a section header table, records the
// .eh_frame vaddr/size on the module, and folds the legacy
// .ctors/.dtors arrays into InitArray/FiniArray when the dynamic
// section didn't already supply DT_INIT_ARRAY/DT_FINI_ARRAY — older
// static-constructor images predate those tags.
func foldLegacySections(f *elf.File, m *Module) {
	if f == nil {
		return
	}
	var ctorsAddr, ctorsSize, dtorsAddr, dtorsSize uint64
	var haveCtors, haveDtors bool

	for _, sec := range f.Sections {
		switch sec.Name {
		case ".eh_frame":
			m.EhFrameAddr, m.EhFrameSize = sec.Addr, sec.Size
		case ".ctors":
			ctorsAddr, ctorsSize, haveCtors = sec.Addr, sec.Size, true
		case ".dtors":
			dtorsAddr, dtorsSize, haveDtors = sec.Addr, sec.Size, true
		}
	}

	if m.dyn.initArrayAddr == 0 && haveCtors {
		m.dyn.initArrayAddr = ctorsAddr
		m.dyn.initArraySize = ctorsSize
	}
	if m.dyn.finiArrayAddr == 0 && haveDtors {
		m.dyn.finiArrayAddr = dtorsAddr
		m.dyn.finiArraySize = dtorsSize
	}
}
