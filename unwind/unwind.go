// Package unwind implements the Relocation/Unwind Post-Processor: once
// an object's code has been relocated into its final virtual-memory
// location, this package patches and registers the platform's stack
// unwind metadata so that panics and trap backtraces can walk through
// JIT-compiled frames.
//
// On unix-like platforms this registers a .eh_frame range with the
// process's unwinder; on Windows it registers an already re-relocated
// .pdata RUNTIME_FUNCTION table, and BuildTrampoline supplies the small
// jump stub to the personality routine that .xdata refers to. The
// .pdata/.xdata copy and RVA rewrite themselves happen outside this
// package (jitmodule's registerSEH, using objloader.ApplyImageRelative).
//
// Grounded on two sources: the shape of the registration API (a matched
// register/deregister pair run once per load and once per unload, with
// no table or lock of its own in this package) mirrors the
// teacher's own global moduledata bookkeeping in
// github.com/pkujhd/goloader (module.go's activeModules/
// moduledataverify1 pattern); the exact byte-level work for each
// platform's unwind format follows the original LLVM JIT loader this
// system is modeled on (ModuleMemoryManager::registerEHFrames /
// deregisterEHFrames and the SEH .pdata/.xdata trampoline rewrite).
package unwind

import "fmt"

// Registration records one loaded module's unwind info so it can be
// torn down again at unload. The concrete fields are platform-specific
// and populated by Register.
type Registration struct {
	platformData interface{}
}

// Section describes one already-relocated, already-copied range of
// unwind metadata belonging to a loaded object: either a .eh_frame
// section (unix) or the .pdata RUNTIME_FUNCTION table (Windows).
type Section struct {
	// Addr is where this section now lives inside the image's
	// read-only section, after the object loader copied it there.
	Addr uintptr
	// Len is a byte length for .eh_frame and an entry count for the
	// Windows .pdata table.
	Len uintptr

	// LoadBase is the base address the owning image was placed at
	// (its code section comes first, so the two coincide). On Windows
	// it is the base the .pdata entries' RVAs are relative to.
	LoadBase uintptr

	// PersonalityRoutine is the address of the C++/runtime exception
	// personality function the unwinder should invoke for frames in
	// this module. May be 0 if the object defines none (no code in it
	// can throw or trap).
	PersonalityRoutine uintptr
}

// ErrNoUnwindInfo is returned by Register when a Section is empty; it
// is not a fatal condition; some objects have no code capable of
// unwinding (e.g. pure data objects) and load without unwind info.
var ErrNoUnwindInfo = fmt.Errorf("unwind: section is empty")

// Register installs the given unwind section with the process unwinder
// and returns a handle to reverse the operation at unload. Safe to call
// concurrently with lookups/backtraces from unrelated threads; not safe
// to call concurrently with another Register or Deregister.
func Register(sec Section) (*Registration, error) {
	if sec.Len == 0 {
		return nil, ErrNoUnwindInfo
	}
	return platformRegister(sec)
}

// Deregister reverses a prior Register call. It must run before the
// owning image's pages are decommitted; once decommitted, the bytes
// Deregister may still need to read are gone.
func Deregister(r *Registration) error {
	if r == nil {
		return nil
	}
	return platformDeregister(r)
}
