//go:build linux && arm64

package image

/*
void goloader_clear_instruction_cache(void *start, void *end) {
	__builtin___clear_cache(start, end);
}
*/
import "C"
import "unsafe"

// invalidateInstructionCache flushes the instruction cache for
// [base, base+length) after Finalize makes the code section
// executable. arm64 cores may hold stale fetched instructions from
// this range in their I-cache from before the page became executable,
// and mprotect alone does not invalidate that state.
//
// Grounded on the teacher's mmap/mmap_linux_arm64.go, which walks the
// range by cache-line size (read out of CTR_EL0) and issues DC/IC
// instructions with barriers between them by hand; this reaches the
// same effect through the compiler's portable cache-flush builtin
// instead of hand-written cache-line assembly, the same kind of cgo
// shim icache_darwin_arm64.go already uses for its platform's
// equivalent call.
func invalidateInstructionCache(base uintptr, length int) {
	if length == 0 {
		return
	}
	start := unsafe.Pointer(base)
	end := unsafe.Pointer(base + uintptr(length))
	C.goloader_clear_instruction_cache(start, end)
}
