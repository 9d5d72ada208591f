//go:build !(darwin && arm64) && !(linux && arm64)

package image

// invalidateInstructionCache is a no-op on platforms where the
// instruction cache stays coherent with ordinary memory writes without
// any help from this package, e.g. Linux/amd64, where hardware keeps
// the two caches in sync for same-core execution and the kernel's own
// page-protection bookkeeping handles the cross-core case. The arm64
// targets in this corpus need an explicit flush regardless of OS; see
// icache_darwin_arm64.go and icache_linux_arm64.go.
func invalidateInstructionCache(base uintptr, length int) {}
