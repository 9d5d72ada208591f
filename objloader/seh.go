package objloader

import (
	"encoding/binary"
	"fmt"
)

// ApplyImageRelative patches the relocations belonging to a COFF
// object's .pdata or .xdata section, re-based onto an image whose
// sections have already been placed. Unlike Apply, every target here
// is expressed as an RVA (target address minus the image's base
// address, not minus the point of use) per the PE/COFF unwind-metadata
// convention, and one symbol name, personalitySymbol, resolves not to
// a section but to a trampoline the caller built ahead of time, so the
// personality routine can be reached through a field that only has
// room for a 32-bit displacement no matter how far away the routine
// actually loaded.
//
// Kept as a separate entry point from Apply, rather than folded into
// it, because .pdata/.xdata are deliberately excluded from the generic
// section/relocation pass; see Object.Pdata's doc comment.
func ApplyImageRelative(dst []byte, relocs []Reloc, sectionBase func(name string) uintptr, personalitySymbol string, personalityAddr, imageBase uintptr, order binary.ByteOrder) error {
	for _, reloc := range relocs {
		if reloc.Type != RelocImageRel32 {
			return fmt.Errorf("objloader: unexpected relocation type %d in SEH metadata", reloc.Type)
		}
		if reloc.Offset < 0 || reloc.Offset+4 > len(dst) {
			return fmt.Errorf("objloader: SEH relocation offset %d out of bounds (len %d)", reloc.Offset, len(dst))
		}

		var target uintptr
		if personalitySymbol != "" && reloc.Symbol == personalitySymbol {
			target = personalityAddr
		} else {
			target = sectionBase(reloc.Symbol)
			if target == 0 {
				return fmt.Errorf("objloader: SEH relocation references unknown section %q", reloc.Symbol)
			}
		}

		rva := int64(target) + reloc.Addend - int64(imageBase)
		if rva < 0 || rva > 0xFFFFFFFF {
			return fmt.Errorf("objloader: image-relative RVA %#x does not fit in 32 bits", rva)
		}
		order.PutUint32(dst[reloc.Offset:], uint32(rva))
	}
	return nil
}
