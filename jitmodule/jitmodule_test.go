package jitmodule

import (
	"testing"

	"github.com/wasmjit-go/jitimage/objloader"
)

func syntheticObject() *objloader.Object {
	return &objloader.Object{
		Sections: []objloader.Section{
			{Name: ".text", Kind: objloader.SectionCode, Data: make([]byte, 64), Align: 16},
			{Name: ".rodata", Kind: objloader.SectionReadOnly, Data: make([]byte, 16), Align: 8},
		},
		Symbols: []objloader.Symbol{
			{Name: "func0", SectionName: ".text", Offset: 0, Size: 32, Defined: true, Exported: true},
			{Name: "func1", SectionName: ".text", Offset: 32, Size: 32, Defined: true, Exported: true},
		},
	}
}

func TestLoadAndUnload(t *testing.T) {
	mod, err := Load(LoadRequest{Object: syntheticObject(), Bindings: nil})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(mod.functions) != 2 {
		t.Fatalf("expected 2 functions in the index, got %d", len(mod.functions))
	}
	if mod.functions[0].Addr == 0 {
		t.Fatal("expected a non-zero address for the first function")
	}
	if err := mod.Unload(); err != nil {
		t.Fatalf("Unload: %v", err)
	}
}

func TestFunctionByAddressWithinAndOutsideRange(t *testing.T) {
	mod, err := Load(LoadRequest{Object: syntheticObject(), Bindings: nil})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer mod.Unload()

	f0 := mod.functions[0]
	got := mod.FunctionByAddress(f0.Addr)
	if got != f0 {
		t.Fatalf("FunctionByAddress(f0.Addr) = %v, want %v", got, f0)
	}
	got = mod.FunctionByAddress(f0.Addr + uintptr(f0.Size) - 1)
	if got != f0 {
		t.Fatal("expected the last byte of f0 to still resolve to f0")
	}
	if got := mod.FunctionByAddress(mod.EndAddress()); got != nil {
		t.Fatalf("expected no function at the module's end address, got %v", got)
	}
}

func TestIndexInsertLookupRemove(t *testing.T) {
	idx := NewIndex()

	modA, err := Load(LoadRequest{Object: syntheticObject(), Bindings: nil})
	if err != nil {
		t.Fatalf("Load modA: %v", err)
	}
	defer modA.Unload()
	modB, err := Load(LoadRequest{Object: syntheticObject(), Bindings: nil})
	if err != nil {
		t.Fatalf("Load modB: %v", err)
	}
	defer modB.Unload()

	idx.Insert(modA)
	idx.Insert(modB)

	if got := idx.Lookup(modA.functions[0].Addr); got != modA {
		t.Fatalf("Lookup(modA func addr) = %v, want modA", got)
	}
	if got := idx.Lookup(modB.functions[0].Addr); got != modB {
		t.Fatalf("Lookup(modB func addr) = %v, want modB", got)
	}

	fn := idx.FunctionByAddress(modA.functions[1].Addr)
	if fn == nil || fn.Name != "func1" {
		t.Fatalf("FunctionByAddress = %v, want func1", fn)
	}

	idx.Remove(modA)
	if got := idx.Lookup(modA.functions[0].Addr); got != nil {
		t.Fatalf("expected modA to be gone from the index after Remove, got %v", got)
	}
	idx.Remove(modB)
}

func TestLoadFailsWithUnresolvedRelocation(t *testing.T) {
	obj := syntheticObject()
	obj.Relocs = []objloader.Reloc{
		{SectionName: ".text", Offset: 0, Type: objloader.RelocAbs64, Symbol: "doesNotExist"},
	}
	_, err := Load(LoadRequest{Object: obj, Bindings: nil})
	if err == nil {
		t.Fatal("expected Load to fail for an unresolved relocation symbol")
	}
}
