package objloader

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"fmt"
	"sort"
)

// COFFReader parses a COFF relocatable object file (a Windows .obj, not
// a linked .exe/.dll), the container format an AOT WebAssembly compiler
// emits for SEH-based targets. Built on the standard library's debug/pe
// per the package doc comment's justification; the symbol-table walk
// below follows the teacher's own obj/pe_relocs.1.19.go (readPESym and
// its "section symbol" special case), which can't be imported directly
// here because it's built on the Go-internal cmd/objfile/archive
// reader rather than debug/pe.
type COFFReader struct{}

const (
	imageSymClassExternal = 2
	imageSymClassStatic   = 3

	imageRelAMD64Addr64   = 0x0001
	imageRelAMD64Addr32   = 0x0002
	imageRelAMD64Addr32NB = 0x0003
	imageRelAMD64Rel32    = 0x0004
)

func (COFFReader) Read(data []byte) (*Object, error) {
	f, err := pe.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}

	obj := &Object{}
	sectionIndexByName := make(map[string]int)
	externalSymbols := coffExternalSymbolNames(f)

	for _, sec := range f.Sections {
		secData, err := coffSectionData(sec)
		if err != nil {
			return nil, fmt.Errorf("objloader: reading section %s: %w", sec.Name, err)
		}

		relocs, err := coffSectionRelocs(f, sec, secData)
		if err != nil {
			return nil, fmt.Errorf("objloader: reading relocations in %s: %w", sec.Name, err)
		}

		switch sec.Name {
		case ".pdata":
			obj.Pdata = secData
			obj.PdataRelocs = relocs
			continue
		case ".xdata":
			obj.Xdata = secData
			obj.XdataRelocs = relocs
			for _, r := range relocs {
				if externalSymbols[r.Symbol] {
					obj.PersonalitySymbol = r.Symbol
					break
				}
			}
			continue
		}

		align := int(sec.Characteristics&0x00F00000) >> 20
		if align <= 0 {
			align = 1
		} else {
			align = 1 << (align - 1)
		}
		obj.Sections = append(obj.Sections, Section{
			Name:  sec.Name,
			Kind:  classifyCOFFSection(sec),
			Data:  secData,
			Align: align,
		})
		sectionIndexByName[sec.Name] = len(obj.Sections) - 1
		obj.Relocs = append(obj.Relocs, relocs...)
	}

	for i := range f.COFFSymbols {
		sym := &f.COFFSymbols[i]
		if isCOFFSectionSymbol(sym) {
			continue
		}
		name, err := sym.FullName(f.StringTable)
		if err != nil {
			return nil, fmt.Errorf("objloader: reading COFF symbol name: %w", err)
		}
		var secName string
		if int(sym.SectionNumber) > 0 && int(sym.SectionNumber) <= len(f.Sections) {
			secName = f.Sections[sym.SectionNumber-1].Name
		}
		obj.Symbols = append(obj.Symbols, Symbol{
			Name:        name,
			SectionName: secName,
			Offset:      int(sym.Value),
			Defined:     sym.SectionNumber > 0,
			Exported:    sym.StorageClass == imageSymClassExternal,
		})
	}

	sort.Slice(obj.Symbols, func(i, j int) bool {
		if obj.Symbols[i].SectionName != obj.Symbols[j].SectionName {
			return obj.Symbols[i].SectionName < obj.Symbols[j].SectionName
		}
		return obj.Symbols[i].Offset < obj.Symbols[j].Offset
	})
	computeSymbolSizes(obj.Symbols, func(name string) int {
		if idx, ok := sectionIndexByName[name]; ok {
			return len(obj.Sections[idx].Data)
		}
		return 0
	})

	return obj, nil
}

// coffSectionData reads a section's raw bytes, zero-filling sections
// (e.g. .bss) that carry no file data of their own.
func coffSectionData(sec *pe.Section) ([]byte, error) {
	data, err := sec.Data()
	if err != nil {
		data = nil
	}
	if len(data) >= int(sec.Size) {
		return data[:sec.Size], nil
	}
	padded := make([]byte, sec.Size)
	copy(padded, data)
	return padded, nil
}

func classifyCOFFSection(sec *pe.Section) SectionKind {
	const (
		imageSCNCntCode  = 0x00000020
		imageSCNMemWrite = 0x80000000
	)
	switch {
	case sec.Characteristics&imageSCNCntCode != 0:
		return SectionCode
	case sec.Characteristics&imageSCNMemWrite != 0:
		return SectionReadWrite
	default:
		return SectionReadOnly
	}
}

// isCOFFSectionSymbol reports whether sym is a reference to an entire
// section rather than a named symbol, per the teacher's "symIsSect"
// convention: static storage class, type 0, and a name starting with a
// dot (".text", ".xdata", and so on).
func isCOFFSectionSymbol(sym *pe.COFFSymbol) bool {
	return sym.StorageClass == imageSymClassStatic && sym.Type == 0 && sym.Name[0] == '.'
}

// coffSymbolName resolves a relocation's target symbol to the name it
// should carry in a Reloc: the referenced section's own name for a
// section symbol, the symbol's own name otherwise.
func coffSymbolName(f *pe.File, sym *pe.COFFSymbol) (string, error) {
	if isCOFFSectionSymbol(sym) && int(sym.SectionNumber) > 0 && int(sym.SectionNumber) <= len(f.Sections) {
		return f.Sections[sym.SectionNumber-1].Name, nil
	}
	return sym.FullName(f.StringTable)
}

// coffSectionRelocs converts a section's COFF relocations into Relocs.
// COFF relocations are REL-style, not RELA: the addend a relocation
// needs is whatever value the compiler already wrote in place at the
// target offset, not a separate field in the relocation entry, so it's
// read out of data before the caller overwrites it.
func coffSectionRelocs(f *pe.File, sec *pe.Section, data []byte) ([]Reloc, error) {
	var relocs []Reloc
	for _, r := range sec.Relocs {
		if int(r.SymbolTableIndex) >= len(f.COFFSymbols) {
			return nil, fmt.Errorf("relocation references out-of-range symbol %d", r.SymbolTableIndex)
		}
		sym := &f.COFFSymbols[r.SymbolTableIndex]
		name, err := coffSymbolName(f, sym)
		if err != nil {
			return nil, fmt.Errorf("reading symbol name: %w", err)
		}
		typ, err := classifyCOFFRelocType(r.Type)
		if err != nil {
			return nil, err
		}
		offset := int(r.VirtualAddress)
		var addend int64
		if offset >= 0 && offset+4 <= len(data) {
			addend = int64(int32(binary.LittleEndian.Uint32(data[offset:])))
		}
		relocs = append(relocs, Reloc{
			SectionName: sec.Name,
			Offset:      offset,
			Type:        typ,
			Symbol:      name,
			Addend:      addend,
		})
	}
	return relocs, nil
}

func classifyCOFFRelocType(t uint16) (RelocType, error) {
	switch t {
	case imageRelAMD64Addr64:
		return RelocAbs64, nil
	case imageRelAMD64Addr32:
		return RelocAbs32, nil
	case imageRelAMD64Addr32NB:
		return RelocImageRel32, nil
	case imageRelAMD64Rel32:
		return RelocPC32, nil
	default:
		return 0, fmt.Errorf("unsupported COFF relocation type %#x", t)
	}
}

// coffExternalSymbolNames collects the names of every undefined,
// externally-resolved symbol in the object's symbol table, used to
// recognize which .xdata relocation targets the personality routine
// rather than a local section.
func coffExternalSymbolNames(f *pe.File) map[string]bool {
	out := make(map[string]bool)
	for i := range f.COFFSymbols {
		sym := &f.COFFSymbols[i]
		if sym.SectionNumber != 0 || sym.StorageClass != imageSymClassExternal {
			continue
		}
		if name, err := sym.FullName(f.StringTable); err == nil {
			out[name] = true
		}
	}
	return out
}
