package bfelf

import "debug/elf"

// ResolvedSymbol is a global symbol's value after cross-module
// resolution: the defining module's index in the load
// set and the symbol's value relative to that module's base.
type ResolvedSymbol struct {
	Module int
	Value  uint64
	Size   uint64
}

// Resolve looks up name across every module in modules except
// modules[self]: a STB_WEAK match keeps searching for a stronger
// definition; the first
// non-weak, non-zero-address definition wins; otherwise any weak match
// wins; otherwise ErrNoSuchSymbol.
func Resolve(modules []*Module, self int, name string) (ResolvedSymbol, error) {
	var weak *ResolvedSymbol

	for i, mod := range modules {
		if i == self {
			continue
		}
		sym, _, ok, err := mod.lookupSymbol(name)
		if err != nil {
			return ResolvedSymbol{}, err
		}
		if !ok {
			continue
		}
		if sym.bind() == elf.STB_WEAK {
			if weak == nil {
				weak = &ResolvedSymbol{Module: i, Value: sym.Value, Size: sym.Size}
			}
			continue
		}
		if sym.Value == 0 {
			continue
		}
		return ResolvedSymbol{Module: i, Value: sym.Value, Size: sym.Size}, nil
	}

	if weak != nil {
		return *weak, nil
	}
	return ResolvedSymbol{}, ErrNoSuchSymbol
}
