package resolver

import "unsafe"

// emptyInterface mirrors the Go runtime's own interface layout so
// getFunctionPtr can pull a code address out of a func value without
// reflect.Value's extra indirection. Grounded on the teacher's
// type.go/register.go's identical emptyInterface + getFunctionPtr pair.
type emptyInterface struct {
	typ  unsafe.Pointer
	word unsafe.Pointer
}

func getFunctionPtr(function interface{}) uintptr {
	return *(*uintptr)((*emptyInterface)(unsafe.Pointer(&function)).word)
}

// globalIntrinsics is the process-wide set of built-in helpers offered
// to every loaded module in addition to caller-supplied bindings. It is
// seeded once at package init and may be extended via RegisterIntrinsic
// before the first module is loaded.
var globalIntrinsics = map[string]uintptr{
	"memcpy":    getFunctionPtr(intrinsicMemcpy),
	"memmove":   getFunctionPtr(intrinsicMemmove),
	"memset":    getFunctionPtr(intrinsicMemset),
	"trap":      getFunctionPtr(intrinsicTrap),
	"__stack_chk_fail": getFunctionPtr(intrinsicTrap),
}

// intrinsicMemcpy and intrinsicMemmove are intentionally identical:
// WebAssembly linear memory is one flat Go-managed byte slice, so there
// is never an aliasing hazard a Go copy() can't already handle safely
// in either direction.
func intrinsicMemcpy(dst, src unsafe.Pointer, n uintptr) {
	copy(unsafe.Slice((*byte)(dst), n), unsafe.Slice((*byte)(src), n))
}

func intrinsicMemmove(dst, src unsafe.Pointer, n uintptr) {
	copy(unsafe.Slice((*byte)(dst), n), unsafe.Slice((*byte)(src), n))
}

func intrinsicMemset(dst unsafe.Pointer, c byte, n uintptr) {
	b := unsafe.Slice((*byte)(dst), n)
	for i := range b {
		b[i] = c
	}
}

// intrinsicTrap is the landing pad for an unresolvable runtime
// condition signaled from inside a loaded module (e.g. an unreachable
// instruction, or a failed stack-protector check translated from the
// object loader). It panics rather than returning, matching spec §7's
// treatment of such conditions as fatal.
func intrinsicTrap() {
	panic("jitimage: trap instruction executed inside a loaded module")
}
