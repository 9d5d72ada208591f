// Package jitmodule ties the image, resolver, objloader, unwind and
// dwarfline packages together into the Load/Unload lifecycle of one
// WebAssembly AOT object, and maintains the process-wide address index
// used for trap and backtrace lookups.
//
// Grounded on github.com/pkujhd/goloader's ld.go Load/CodeModule.Unload
// (reserve memory, relocate, build the module's metadata, flip the
// code section executable, initialize, with symmetric teardown on
// error) and its package-level modulesLock sync.Mutex guarding the
// global module bookkeeping in dymcode.go/ld.go/itab.go.
package jitmodule

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/wasmjit-go/jitimage/dwarfline"
	"github.com/wasmjit-go/jitimage/image"
	"github.com/wasmjit-go/jitimage/objloader"
	"github.com/wasmjit-go/jitimage/resolver"
	"github.com/wasmjit-go/jitimage/unwind"
)

// JITFunction describes one function inside a loaded module, enough to
// answer "what WebAssembly function and operator does this native
// address correspond to."
type JITFunction struct {
	Name        string
	Addr        uintptr
	Size        int
	LineTable   *dwarfline.FunctionTable
}

// Contains reports whether addr falls inside this function's code
// range.
func (f *JITFunction) Contains(addr uintptr) bool {
	return addr >= f.Addr && addr < f.Addr+uintptr(f.Size)
}

// LoadedModule is one successfully loaded object's runtime state: its
// virtual-memory image, its functions sorted by address, and whatever
// unwind registration it holds.
type LoadedModule struct {
	img        *image.Image
	mgr        *image.Manager
	functions  []*JITFunction          // sorted by Addr
	byName     map[string]*JITFunction // name -> function, same entries as functions
	unwindReg  *unwind.Registration
	resolver   *resolver.Table
}

// FunctionByAddress returns the function containing addr, or nil. The
// caller must already hold whatever lock protects concurrent Unload of
// this specific module (see Index.Lookup for the process-wide case).
func (m *LoadedModule) FunctionByAddress(addr uintptr) *JITFunction {
	fns := m.functions
	i := sort.Search(len(fns), func(i int) bool { return fns[i].Addr > addr })
	if i == 0 {
		return nil
	}
	f := fns[i-1]
	if !f.Contains(addr) {
		return nil
	}
	return f
}

// FunctionByName returns the function registered under name, or nil.
// Mirrors FunctionByAddress's name-map counterpart in the data model:
// every function appears exactly once in the vector, in this name map,
// and in the address map FunctionByAddress searches.
func (m *LoadedModule) FunctionByName(name string) *JITFunction {
	return m.byName[name]
}

// Functions returns this module's functions, sorted by address.
func (m *LoadedModule) Functions() []*JITFunction {
	return m.functions
}

// ReadCode returns a read-only view of n bytes of this module's
// already-finalized (executable) code at addr, for diagnostics such as
// DisassembleFunction. Callers must not retain or write through it.
func (m *LoadedModule) ReadCode(addr uintptr, n int) []byte {
	return rawBytesAt(addr, n)
}

// EndAddress returns the address one past this module's reserved
// virtual memory range, the key the process-wide Index orders on.
func (m *LoadedModule) EndAddress() uintptr {
	return m.img.EndAddress()
}

// BaseAddress returns this module's base virtual address.
func (m *LoadedModule) BaseAddress() uintptr {
	return m.img.BaseAddress
}

// LoadRequest bundles everything Load needs to turn one parsed object
// into a running LoadedModule.
type LoadRequest struct {
	Object     *objloader.Object
	Bindings   map[string]uintptr
	NeedsSEHPadding bool

	// FunctionRanges maps each defined function symbol's name to its
	// [start, end) offset within its section, in object-file-relative
	// terms, for DWARF line-table consumption. May be nil if the
	// object carries no debug info.
	DWARF          dwarfDataSource
	FunctionRanges map[string][2]uint64
}

// dwarfDataSource is a narrow seam so jitmodule doesn't have to import
// debug/dwarf directly in this file; see load.go for the concrete
// wiring against *dwarf.Data.
type dwarfDataSource interface {
	BuildLineTables(functionRanges map[string][2]uint64) (map[string]*dwarfline.FunctionTable, error)
}

// ErrKind classifies why a Load failed, so a caller can decide whether
// retrying with different bindings, a different object, or not at all
// is the right response.
type ErrKind int

const (
	KindObjectParse ErrKind = iota
	KindUnresolvedSymbol
	KindRelocation
	KindSerialization
	KindSequencing
)

// ErrLoad wraps any failure during Load with enough context to log
// usefully; see spec §7's ambient error-handling story.
type ErrLoad struct {
	Stage string
	Kind  ErrKind
	Err   error
}

func (e *ErrLoad) Error() string {
	return fmt.Sprintf("jitmodule: load failed at stage %q: %v", e.Stage, e.Err)
}

func (e *ErrLoad) Unwrap() error { return e.Err }

// byteOrderFor returns the byte order relocations in this object
// should be patched with. WebAssembly AOT objects in this corpus only
// ever target little-endian hosts (x86-64, arm64), so this is fixed
// rather than sniffed from the object.
func byteOrderFor(*objloader.Object) binary.ByteOrder {
	return binary.LittleEndian
}
