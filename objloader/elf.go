package objloader

import (
	"debug/elf"
	"fmt"
	"sort"
)

// ELFReader parses a relocatable (ET_REL) ELF object file, the
// container format an AOT WebAssembly compiler emits on Linux/BSD
// targets. Built on the standard library's debug/elf per the package
// doc comment's justification.
type ELFReader struct{}

func (ELFReader) Read(data []byte) (*Object, error) {
	f, err := elf.NewFile(sliceReaderAt(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	if f.Type != elf.ET_REL {
		return nil, fmt.Errorf("objloader: expected a relocatable (ET_REL) object, got %v", f.Type)
	}

	obj := &Object{}
	sectionIndexByName := make(map[string]int)
	for _, sec := range f.Sections {
		if sec.Type != elf.SHT_PROGBITS && sec.Type != elf.SHT_NOBITS {
			continue
		}
		bytes, err := sec.Data()
		if err != nil {
			return nil, fmt.Errorf("objloader: reading section %s: %w", sec.Name, err)
		}
		kind := classifySection(sec)
		align := int(sec.Addralign)
		if align == 0 {
			align = 1
		}
		obj.Sections = append(obj.Sections, Section{
			Name:  sec.Name,
			Kind:  kind,
			Data:  bytes,
			Align: align,
		})
		sectionIndexByName[sec.Name] = len(obj.Sections) - 1

		switch sec.Name {
		case ".eh_frame":
			obj.EHFrame = bytes
		}
	}

	syms, err := f.Symbols()
	if err != nil && err != elf.ErrNoSymbols {
		return nil, fmt.Errorf("objloader: reading symbols: %w", err)
	}
	for _, s := range syms {
		kind := elf.ST_TYPE(s.Info)
		if kind != elf.STT_FUNC && kind != elf.STT_OBJECT && kind != elf.STT_NOTYPE {
			continue
		}
		var secName string
		if int(s.Section) < len(f.Sections) {
			secName = f.Sections[s.Section].Name
		}
		obj.Symbols = append(obj.Symbols, Symbol{
			Name:        s.Name,
			SectionName: secName,
			Offset:      int(s.Value),
			Defined:     s.Section != elf.SHN_UNDEF,
			Exported:    elf.ST_BIND(s.Info) != elf.STB_LOCAL,
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

	for _, sec := range f.Sections {
		if sec.Type != elf.SHT_RELA && sec.Type != elf.SHT_REL {
			continue
		}
		targetName := sec.Name
		const relaPrefix, relPrefix = ".rela", ".rel"
		if len(targetName) > len(relaPrefix) && targetName[:len(relaPrefix)] == relaPrefix {
			targetName = targetName[len(relaPrefix):]
		} else if len(targetName) > len(relPrefix) && targetName[:len(relPrefix)] == relPrefix {
			targetName = targetName[len(relPrefix):]
		}
		relocs, err := readRelocs(f, sec, syms)
		if err != nil {
			return nil, fmt.Errorf("objloader: reading relocations in %s: %w", sec.Name, err)
		}
		for i := range relocs {
			relocs[i].SectionName = targetName
		}
		obj.Relocs = append(obj.Relocs, relocs...)
	}

	return obj, nil
}

func classifySection(sec *elf.Section) SectionKind {
	switch {
	case sec.Flags&elf.SHF_EXECINSTR != 0:
		return SectionCode
	case sec.Flags&elf.SHF_WRITE != 0:
		return SectionReadWrite
	default:
		return SectionReadOnly
	}
}
