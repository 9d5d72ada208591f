package unwind

import "encoding/binary"

// TrampolineSize is the number of bytes BuildTrampoline writes,
// rounded up from 14 (a 6-byte instruction plus an 8-byte address) to
// a 16-byte allocation.
const TrampolineSize = 16

// BuildTrampoline writes a canonical x86-64 indirect jump to target
// into dst, which must be at least TrampolineSize bytes. .xdata's
// personality-routine field only has room for a 32-bit image-relative
// displacement; this trampoline is how that field reaches a routine
// that may have loaded anywhere in the address space.
//
// Grounded on the teacher's asm_bytes.go x86amd64JMPLcode ({0xFF, 0x25,
// 0, 0, 0, 0}, a RIP-relative "jmp [rip+0]") and its use in
// relocate.go, which writes that opcode followed by the absolute
// target address into allocated code for the same reason.
func BuildTrampoline(dst []byte, target uintptr) {
	copy(dst, []byte{0xFF, 0x25, 0x00, 0x00, 0x00, 0x00})
	binary.LittleEndian.PutUint64(dst[6:], uint64(target))
}
