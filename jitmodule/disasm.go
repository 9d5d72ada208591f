package jitmodule

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

// DisassembleFunction walks code one instruction at a time and returns
// a human-readable listing, for the optional disassembly-on-load
// diagnostic (spec §9's supplemented debugging aids). mode is 32 or 64.
//
// Grounded on the teacher's obj/instruction.x86.go DumpCode/MarkReloc,
// which decode the exact same way per instruction in a loop advancing
// by inst.Len, except where the teacher reaches the x86asm decoder
// through a //go:linkname into cmd/vendor's private copy (because
// obj/readobj.go already lives inside a module built with
// GOFLAGS=-mod=vendor against the toolchain's own vendored copy), this
// package imports golang.org/x/arch/x86/x86asm directly, the normal way
// for any code outside the standard library's own build.
func DisassembleFunction(code []byte, mode int) ([]string, error) {
	var out []string
	pc := 0
	for pc < len(code) {
		inst, err := x86asm.Decode(code[pc:], mode)
		if err != nil || inst.Len == 0 {
			out = append(out, fmt.Sprintf("%#04x: <decode error: %v>", pc, err))
			pc++
			continue
		}
		out = append(out, fmt.Sprintf("%#04x: %s", pc, x86asm.GNUSyntax(inst, uint64(pc), nil)))
		pc += inst.Len
	}
	return out, nil
}
