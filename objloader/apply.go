package objloader

import (
	"encoding/binary"
	"fmt"
)

// SymbolAddress resolves a relocation's target symbol name to its
// final runtime address. Satisfied by *resolver.Table in practice; kept
// as a narrow interface here so objloader has no import-time
// dependency on the resolver package.
type SymbolAddress interface {
	Resolve(name string) (uintptr, error)
}

// Apply patches every relocation in obj into the already-copied
// section bytes in placed, using order for multi-byte fields and
// sectionAddr to find each target section's final runtime base
// address (needed to compute PC-relative displacements).
//
// Grounded on the teacher's link/relocate.go, which performs the same
// "resolve symbol address, compute displacement, binary.PutUint32/64
// into the relocated byte slice" sequence per relocation, trimmed to
// the handful of relocation kinds an ELF AOT WebAssembly object
// actually emits (RelocAbs64/32, RelocPC32/64) instead of the teacher's
// full architecture-specific instruction-patching set.
func Apply(obj *Object, placed map[string][]byte, order binary.ByteOrder, symbols SymbolAddress, sectionAddr func(name string) uintptr) error {
	for _, reloc := range obj.Relocs {
		target, ok := placed[reloc.SectionName]
		if !ok {
			return fmt.Errorf("objloader: relocation targets unknown section %q", reloc.SectionName)
		}
		if reloc.Offset < 0 || reloc.Offset >= len(target) {
			return fmt.Errorf("objloader: relocation offset %d out of bounds for section %q (len %d)", reloc.Offset, reloc.SectionName, len(target))
		}

		symAddr, err := symbols.Resolve(reloc.Symbol)
		if err != nil {
			return fmt.Errorf("objloader: relocation %q in section %q: %w", reloc.Symbol, reloc.SectionName, err)
		}
		value := int64(symAddr) + reloc.Addend

		switch reloc.Type {
		case RelocAbs64:
			if reloc.Offset+8 > len(target) {
				return fmt.Errorf("objloader: RelocAbs64 at %d overruns section %q", reloc.Offset, reloc.SectionName)
			}
			order.PutUint64(target[reloc.Offset:], uint64(value))
		case RelocAbs32:
			if reloc.Offset+4 > len(target) {
				return fmt.Errorf("objloader: RelocAbs32 at %d overruns section %q", reloc.Offset, reloc.SectionName)
			}
			if value < 0 || value > 0xFFFFFFFF {
				return fmt.Errorf("objloader: RelocAbs32 value %#x does not fit in 32 bits", value)
			}
			order.PutUint32(target[reloc.Offset:], uint32(value))
		case RelocPC32, RelocPC64:
			pcAddr := int64(sectionAddr(reloc.SectionName)) + int64(reloc.Offset) + 4
			disp := value - pcAddr
			if reloc.Type == RelocPC64 {
				if reloc.Offset+8 > len(target) {
					return fmt.Errorf("objloader: RelocPC64 at %d overruns section %q", reloc.Offset, reloc.SectionName)
				}
				order.PutUint64(target[reloc.Offset:], uint64(disp))
				continue
			}
			if disp < -(1<<31) || disp >= (1<<31) {
				return fmt.Errorf("objloader: PC-relative displacement %d out of 32-bit range", disp)
			}
			if reloc.Offset+4 > len(target) {
				return fmt.Errorf("objloader: RelocPC32 at %d overruns section %q", reloc.Offset, reloc.SectionName)
			}
			order.PutUint32(target[reloc.Offset:], uint32(int32(disp)))
		default:
			return fmt.Errorf("objloader: unhandled relocation type %d", reloc.Type)
		}
	}
	return nil
}
