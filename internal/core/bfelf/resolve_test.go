package bfelf

import (
	"bytes"
	"debug/elf"
	"errors"
	"testing"
)

func TestLookupSymbolViaHash(t *testing.T) {
	img := buildTestELF(0, []testSym{
		{name: "foo", bind: elf.STB_GLOBAL, value: 0x100, size: 8},
		{name: "bar", bind: elf.STB_GLOBAL, value: 0x200, size: 4},
	}, nil, nil)
	m, err := Load(bytes.NewReader(img), img)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	sym, name, ok, err := m.lookupSymbol("bar")
	if err != nil {
		t.Fatalf("lookupSymbol: %v", err)
	}
	if !ok {
		t.Fatal("expected bar to be found")
	}
	if name != "bar" || sym.Value != 0x200 {
		t.Fatalf("got (%s, %#x), want (bar, 0x200)", name, sym.Value)
	}

	_, _, ok, err = m.lookupSymbol("nonexistent")
	if err != nil {
		t.Fatalf("lookupSymbol(nonexistent): %v", err)
	}
	if ok {
		t.Fatal("expected nonexistent symbol to not be found")
	}
}

func TestResolvePrefersStrongOverWeak(t *testing.T) {
	requester := buildTestELF(0, nil, nil, nil)
	weakProvider := buildTestELF(0, []testSym{{name: "shared", bind: elf.STB_WEAK, value: 0x200}}, nil, nil)
	strongProvider := buildTestELF(0, []testSym{{name: "shared", bind: elf.STB_GLOBAL, value: 0x300}}, nil, nil)

	mReq, _ := Load(bytes.NewReader(requester), requester)
	mWeak, _ := Load(bytes.NewReader(weakProvider), weakProvider)
	mStrong, _ := Load(bytes.NewReader(strongProvider), strongProvider)

	modules := []*Module{mReq, mWeak, mStrong}
	got, err := Resolve(modules, 0, "shared")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Value != 0x300 {
		t.Fatalf("Resolve picked value %#x, want the strong definition 0x300", got.Value)
	}
}

func TestResolveFallsBackToWeak(t *testing.T) {
	requester := buildTestELF(0, nil, nil, nil)
	weakProvider := buildTestELF(0, []testSym{{name: "shared", bind: elf.STB_WEAK, value: 0x200}}, nil, nil)

	mReq, _ := Load(bytes.NewReader(requester), requester)
	mWeak, _ := Load(bytes.NewReader(weakProvider), weakProvider)

	modules := []*Module{mReq, mWeak}
	got, err := Resolve(modules, 0, "shared")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Value != 0x200 {
		t.Fatalf("Resolve = %#x, want the weak fallback 0x200", got.Value)
	}
}

// TestResolveUnresolvedSymbol exercises the unresolved-symbol path: a
// relocation references a symbol no loaded module defines.
func TestResolveUnresolvedSymbol(t *testing.T) {
	requester := buildTestELF(0, nil, nil, nil)
	provider := buildTestELF(0, []testSym{{name: "something_else", bind: elf.STB_GLOBAL, value: 0x100}}, nil, nil)

	mReq, _ := Load(bytes.NewReader(requester), requester)
	mProvider, _ := Load(bytes.NewReader(provider), provider)

	_, err := Resolve([]*Module{mReq, mProvider}, 0, "missing")
	if !errors.Is(err, ErrNoSuchSymbol) {
		t.Fatalf("Resolve(missing) err = %v, want ErrNoSuchSymbol", err)
	}
}
