package objloader

import (
	"encoding/binary"
	"errors"
	"testing"
)

func TestComputeSymbolSizesSingleSection(t *testing.T) {
	symbols := []Symbol{
		{Name: "a", SectionName: ".text", Offset: 0, Defined: true},
		{Name: "b", SectionName: ".text", Offset: 16, Defined: true},
		{Name: "c", SectionName: ".text", Offset: 40, Defined: true},
	}
	computeSymbolSizes(symbols, func(name string) int {
		if name == ".text" {
			return 64
		}
		return 0
	})
	if symbols[0].Size != 16 {
		t.Fatalf("a.Size = %d, want 16", symbols[0].Size)
	}
	if symbols[1].Size != 24 {
		t.Fatalf("b.Size = %d, want 24", symbols[1].Size)
	}
	if symbols[2].Size != 24 {
		t.Fatalf("c.Size = %d, want 24 (to section end)", symbols[2].Size)
	}
}

func TestComputeSymbolSizesIgnoresUndefined(t *testing.T) {
	symbols := []Symbol{
		{Name: "extern", SectionName: "", Offset: 0, Defined: false},
		{Name: "local", SectionName: ".data", Offset: 0, Defined: true},
	}
	computeSymbolSizes(symbols, func(name string) int { return 8 })
	if symbols[1].Size != 8 {
		t.Fatalf("local.Size = %d, want 8", symbols[1].Size)
	}
	if symbols[0].Size != 0 {
		t.Fatalf("undefined symbol should be left untouched, got Size=%d", symbols[0].Size)
	}
}

type fakeResolver map[string]uintptr

func (f fakeResolver) Resolve(name string) (uintptr, error) {
	if addr, ok := f[name]; ok {
		return addr, nil
	}
	return 0, errors.New("not found")
}

func TestApplyAbs64Patch(t *testing.T) {
	obj := &Object{
		Relocs: []Reloc{
			{SectionName: ".data", Offset: 8, Type: RelocAbs64, Symbol: "target", Addend: 4},
		},
	}
	placed := map[string][]byte{".data": make([]byte, 16)}
	syms := fakeResolver{"target": 0x1000}

	if err := Apply(obj, placed, binary.LittleEndian, syms, func(string) uintptr { return 0 }); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	got := binary.LittleEndian.Uint64(placed[".data"][8:])
	if got != 0x1004 {
		t.Fatalf("patched value = %#x, want %#x", got, 0x1004)
	}
}

func TestApplyPC32Patch(t *testing.T) {
	obj := &Object{
		Relocs: []Reloc{
			{SectionName: ".text", Offset: 0, Type: RelocPC32, Symbol: "callee", Addend: 0},
		},
	}
	placed := map[string][]byte{".text": make([]byte, 4)}
	syms := fakeResolver{"callee": 0x2010}

	// Section ".text" placed at 0x2000; patch site is at offset 0, so
	// the relative field (at 0x2000+0+4=0x2004) must end up
	// 0x2010-0x2004 = 0xC.
	if err := Apply(obj, placed, binary.LittleEndian, syms, func(string) uintptr { return 0x2000 }); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	got := int32(binary.LittleEndian.Uint32(placed[".text"]))
	if got != 0xC {
		t.Fatalf("patched displacement = %#x, want %#x", got, 0xC)
	}
}

func TestApplyUnresolvedSymbolFails(t *testing.T) {
	obj := &Object{
		Relocs: []Reloc{
			{SectionName: ".data", Offset: 0, Type: RelocAbs64, Symbol: "missing"},
		},
	}
	placed := map[string][]byte{".data": make([]byte, 8)}
	err := Apply(obj, placed, binary.LittleEndian, fakeResolver{}, func(string) uintptr { return 0 })
	if err == nil {
		t.Fatal("expected an error for an unresolved relocation symbol")
	}
}

func TestApplyOutOfBoundsOffsetFails(t *testing.T) {
	obj := &Object{
		Relocs: []Reloc{
			{SectionName: ".data", Offset: 100, Type: RelocAbs32, Symbol: "target"},
		},
	}
	placed := map[string][]byte{".data": make([]byte, 8)}
	err := Apply(obj, placed, binary.LittleEndian, fakeResolver{"target": 1}, func(string) uintptr { return 0 })
	if err == nil {
		t.Fatal("expected an out-of-bounds error")
	}
}
