//go:build darwin && arm64

package image

/*
#include <libkern/OSCacheControl.h>
*/
import "C"
import "unsafe"

// invalidateInstructionCache flushes the instruction cache for
// [base, base+length) after Finalize makes the code section executable.
// Grounded on the teacher's mmap/darwin_arm64/mmap_darwin_arm64.go, which
// calls the same libkern routine from a cgo shim.
func invalidateInstructionCache(base uintptr, length int) {
	if length == 0 {
		return
	}
	C.sys_icache_invalidate(unsafe.Pointer(base), C.size_t(length))
}
