// Package resolver implements the Symbol Resolver Adapter: it turns a
// WebAssembly module's imported-symbol names into addresses, consulting
// caller-supplied bindings first and a small built-in intrinsics table
// second.
//
// Grounded on the teacher's symPtr map[string]uintptr binding table
// (github.com/pkujhd/goloader's register.go / RegSymbol), generalized
// from "resolve Go runtime/package symbols" to "resolve WebAssembly
// import/export binding names."
package resolver

import "fmt"

// Kind distinguishes the categories of binding names a loaded module can
// reference, mirroring the original's functionImport<N>/tableOffset<N>/
// memoryOffset<N>/global<N>/exceptionType<N>/functionDef<N> scheme.
type Kind int

const (
	KindFunctionImport Kind = iota
	KindTableOffset
	KindMemoryOffset
	KindGlobal
	KindExceptionType
	KindFunctionDef
)

func (k Kind) prefix() string {
	switch k {
	case KindFunctionImport:
		return "functionImport"
	case KindTableOffset:
		return "tableOffset"
	case KindMemoryOffset:
		return "memoryOffset"
	case KindGlobal:
		return "global"
	case KindExceptionType:
		return "exceptionType"
	case KindFunctionDef:
		return "functionDef"
	default:
		return "unknown"
	}
}

// BindingName constructs the canonical binding-table key for the nth
// symbol of the given kind, e.g. BindingName(KindFunctionImport, 3) ==
// "functionImport3".
func BindingName(kind Kind, index int) string {
	return fmt.Sprintf("%s%d", kind.prefix(), index)
}

// ErrSymbolNotFound is returned when neither the caller-supplied
// bindings nor the built-in intrinsics table has an entry for a name.
type ErrSymbolNotFound struct {
	Name string
}

func (e *ErrSymbolNotFound) Error() string {
	return fmt.Sprintf("resolver: symbol not found: %s", e.Name)
}

// Table resolves binding names to addresses. Lookup order is: exact
// caller-supplied binding, then built-in intrinsic, then not-found.
// A Table is read-only after construction and safe for concurrent use.
type Table struct {
	bindings   map[string]uintptr
	intrinsics map[string]uintptr
}

// New builds a Table from caller-supplied bindings plus the standard set
// of built-in intrinsics. bindings is copied; the caller's map may be
// reused or mutated afterwards.
func New(bindings map[string]uintptr) *Table {
	t := &Table{
		bindings:   make(map[string]uintptr, len(bindings)),
		intrinsics: defaultIntrinsics(),
	}
	for k, v := range bindings {
		t.bindings[k] = v
	}
	return t
}

// Resolve looks up name, preferring an explicit binding over a built-in
// intrinsic of the same name.
func (t *Table) Resolve(name string) (uintptr, error) {
	if addr, ok := t.bindings[name]; ok {
		return addr, nil
	}
	if addr, ok := t.intrinsics[name]; ok {
		return addr, nil
	}
	return 0, &ErrSymbolNotFound{Name: name}
}

// MustResolve is Resolve without the error return, for call sites that
// have already validated every import is bound (e.g. a second pass
// over a module whose first pass already checked completeness).
func (t *Table) MustResolve(name string) uintptr {
	addr, err := t.Resolve(name)
	if err != nil {
		panic(err)
	}
	return addr
}

// RegisterIntrinsic adds or overrides a single built-in intrinsic. Used
// at process startup to wire in platform-specific helpers (e.g. a
// different memcpy implementation per architecture) before any module
// is loaded.
func RegisterIntrinsic(name string, addr uintptr) {
	globalIntrinsics[name] = addr
}

func defaultIntrinsics() map[string]uintptr {
	out := make(map[string]uintptr, len(globalIntrinsics))
	for k, v := range globalIntrinsics {
		out[k] = v
	}
	return out
}
