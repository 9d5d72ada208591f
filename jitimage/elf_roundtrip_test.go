package jitimage

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// buildMinimalELFObject hand-assembles a tiny but real ET_REL ELF64
// x86-64 relocatable object: one SectionCode function symbol ("f", 100
// bytes of RET opcodes) in .text and one SectionReadWrite data symbol
// ("data0", 8 bytes) in .data, with a real .symtab/.strtab/.shstrtab
// trio behind them, enough for objloader.ELFReader to parse it the
// same way it would parse AOT-compiler output, exercising that reader
// (and the full LoadModule/UnloadModule path behind it) for the first
// time in this module's tests rather than bypassing it with a literal
// objloader.Object.
func buildMinimalELFObject() []byte {
	const (
		textSize = 100
		dataSize = 8
	)

	text := bytes.Repeat([]byte{0xC3}, textSize)
	data := make([]byte, dataSize)

	strtab := []byte("\x00f\x00data0\x00")
	const (
		strF     = 1
		strData0 = 3
	)

	shstrtab := []byte("\x00.text\x00.data\x00.symtab\x00.strtab\x00.shstrtab\x00")
	const (
		nameText     = 1
		nameData     = 7
		nameSymtab   = 13
		nameStrtab   = 21
		nameShstrtab = 29
	)

	sym := make([]byte, 24*3)
	// sym[0] is the mandatory all-zero null symbol.
	putSym(sym[24:48], strF, (1<<4)|2 /* STB_GLOBAL, STT_FUNC */, 1, 0, textSize)
	putSym(sym[48:72], strData0, (1<<4)|1 /* STB_GLOBAL, STT_OBJECT */, 2, 0, dataSize)

	textOff := int64(64)
	dataOff := alignUp64(textOff+textSize, 8)
	symOff := alignUp64(dataOff+dataSize, 8)
	strOff := symOff + int64(len(sym))
	shstrOff := strOff + int64(len(strtab))
	shOff := shstrOff + int64(len(shstrtab))

	out := make([]byte, shOff+64*6)

	// e_ident
	out[0], out[1], out[2], out[3] = 0x7f, 'E', 'L', 'F'
	out[4] = 2 // ELFCLASS64
	out[5] = 1 // ELFDATA2LSB
	out[6] = 1 // EV_CURRENT
	le := binary.LittleEndian
	le.PutUint16(out[16:], 1)  // e_type = ET_REL
	le.PutUint16(out[18:], 62) // e_machine = EM_X86_64
	le.PutUint32(out[20:], 1)  // e_version
	le.PutUint64(out[40:], uint64(shOff))
	le.PutUint16(out[52:], 64) // e_ehsize
	le.PutUint16(out[58:], 64) // e_shentsize
	le.PutUint16(out[60:], 6)  // e_shnum
	le.PutUint16(out[62:], 5)  // e_shstrndx

	copy(out[textOff:], text)
	copy(out[dataOff:], data)
	copy(out[symOff:], sym)
	copy(out[strOff:], strtab)
	copy(out[shstrOff:], shstrtab)

	putShdr(out[shOff:shOff+64], 0, 0, 0, 0, 0, 0, 0, 0, 0)
	putShdr(out[shOff+64:shOff+128], nameText, 1, 6, textOff, textSize, 0, 0, 16, 0)
	putShdr(out[shOff+128:shOff+192], nameData, 1, 3, dataOff, dataSize, 0, 0, 8, 0)
	putShdr(out[shOff+192:shOff+256], nameSymtab, 2, 0, symOff, int64(len(sym)), 4, 1, 8, 24)
	putShdr(out[shOff+256:shOff+320], nameStrtab, 3, 0, strOff, int64(len(strtab)), 0, 0, 1, 0)
	putShdr(out[shOff+320:shOff+384], nameShstrtab, 3, 0, shstrOff, int64(len(shstrtab)), 0, 0, 1, 0)

	return out
}

func alignUp64(n, align int64) int64 {
	return (n + align - 1) &^ (align - 1)
}

func putSym(dst []byte, name uint32, info byte, shndx uint16, value, size uint64) {
	le := binary.LittleEndian
	le.PutUint32(dst[0:], name)
	dst[4] = info
	dst[5] = 0
	le.PutUint16(dst[6:], shndx)
	le.PutUint64(dst[8:], value)
	le.PutUint64(dst[16:], size)
}

func putShdr(dst []byte, name, typ uint32, flags, offset, size int64, link, info uint32, addralign, entsize int64) {
	le := binary.LittleEndian
	le.PutUint32(dst[0:], name)
	le.PutUint32(dst[4:], typ)
	le.PutUint64(dst[8:], uint64(flags))
	le.PutUint64(dst[16:], 0) // sh_addr
	le.PutUint64(dst[24:], uint64(offset))
	le.PutUint64(dst[32:], uint64(size))
	le.PutUint32(dst[40:], link)
	le.PutUint32(dst[44:], info)
	le.PutUint64(dst[48:], uint64(addralign))
	le.PutUint64(dst[56:], uint64(entsize))
}

// TestLoadModuleFromRealELFObject covers spec §8 scenarios C and F: load
// a real ET_REL object with one 100-byte function and one read-write
// data symbol, verify address lookups land exactly on the function's
// range, then unload and verify the module is gone from the global
// index.
func TestLoadModuleFromRealELFObject(t *testing.T) {
	mod, err := LoadModule(DefaultLoadConfig(buildMinimalELFObject(), BindingSpec{}))
	if err != nil {
		t.Fatalf("LoadModule: %v", err)
	}

	fns := mod.internal.Functions()
	if len(fns) != 1 {
		t.Fatalf("expected 1 function, got %d", len(fns))
	}
	f := fns[0]
	if f.Name != "f" || f.Size != 100 {
		t.Fatalf("unexpected function %+v", f)
	}

	if got, ok := GetJITFunctionByAddress(f.Addr); !ok || got != f {
		t.Fatalf("GetJITFunctionByAddress(f.Addr) = %v, %v; want f, true", got, ok)
	}
	if got, ok := GetJITFunctionByAddress(f.Addr + 99); !ok || got != f {
		t.Fatalf("GetJITFunctionByAddress(f.Addr+99) = %v, %v; want f, true", got, ok)
	}
	if _, ok := GetJITFunctionByAddress(f.Addr + 100); ok {
		t.Fatal("GetJITFunctionByAddress(f.Addr+100) should miss, one byte past the function")
	}

	if err := UnloadModule(mod); err != nil {
		t.Fatalf("UnloadModule: %v", err)
	}
	if _, ok := GetJITFunctionByAddress(f.Addr); ok {
		t.Fatal("expected no function at f.Addr after unload")
	}
}

// TestLoadTwoRealELFObjectsNonOverlapping covers spec §8 scenario D:
// two independently loaded real objects never answer for each other's
// addresses.
func TestLoadTwoRealELFObjectsNonOverlapping(t *testing.T) {
	modA, err := LoadModule(DefaultLoadConfig(buildMinimalELFObject(), BindingSpec{}))
	if err != nil {
		t.Fatalf("LoadModule modA: %v", err)
	}
	defer UnloadModule(modA)
	modB, err := LoadModule(DefaultLoadConfig(buildMinimalELFObject(), BindingSpec{}))
	if err != nil {
		t.Fatalf("LoadModule modB: %v", err)
	}
	defer UnloadModule(modB)

	fA := modA.internal.Functions()[0]
	fB := modB.internal.Functions()[0]

	if got, ok := GetJITFunctionByAddress(fA.Addr); !ok || got != fA {
		t.Fatalf("lookup for modA's function returned %v, %v", got, ok)
	}
	if got, ok := GetJITFunctionByAddress(fB.Addr); !ok || got != fB {
		t.Fatalf("lookup for modB's function returned %v, %v", got, ok)
	}
	if got, _ := GetJITFunctionByAddress(fA.Addr); got == fB {
		t.Fatal("modA's address resolved to modB's function")
	}
}
