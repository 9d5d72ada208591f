package jitmodule

import (
	"sort"
	"sync"
)

// Index is the process-wide map from address range to LoadedModule,
// used to answer "which module, if any, owns this address" for trap
// and backtrace reporting (spec §4.6). Entries are kept sorted by
// EndAddress so lookup is a single binary search for the first entry
// whose EndAddress exceeds the queried address, the "strict upper
// bound keyed by end address" scheme the original LLVM JIT loader uses
// for its global addressToModuleMap.
//
// Grounded on the teacher's own global module bookkeeping pattern: a
// package-level sync.Mutex (modulesLock in dymcode.go/ld.go) guarding
// insertion and removal, with lookups designed not to hold the lock
// while dereferencing a module's own data: here that means Lookup
// copies the matching *LoadedModule pointer out while holding the lock,
// then releases it before the caller dereferences the module.
type Index struct {
	mu      sync.Mutex
	entries []*LoadedModule // sorted by EndAddress
}

// NewIndex returns an empty process-wide index. Callers typically keep
// exactly one of these for the life of the process.
func NewIndex() *Index {
	return &Index{}
}

// Insert adds mod to the index. O(n) in the number of currently loaded
// modules; loads are rare enough relative to lookups that this is the
// right tradeoff, matching the teacher's own linear module list.
func (idx *Index) Insert(mod *LoadedModule) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	i := sort.Search(len(idx.entries), func(i int) bool { return idx.entries[i].EndAddress() >= mod.EndAddress() })
	idx.entries = append(idx.entries, nil)
	copy(idx.entries[i+1:], idx.entries[i:])
	idx.entries[i] = mod
}

// Remove drops mod from the index. A no-op if mod is not present
// (e.g. Unload called twice).
func (idx *Index) Remove(mod *LoadedModule) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for i, m := range idx.entries {
		if m == mod {
			idx.entries = append(idx.entries[:i], idx.entries[i+1:]...)
			return
		}
	}
}

// Lookup returns the module owning addr, or nil if no loaded module's
// [BaseAddress, EndAddress) range contains it.
func (idx *Index) Lookup(addr uintptr) *LoadedModule {
	idx.mu.Lock()
	i := sort.Search(len(idx.entries), func(i int) bool { return idx.entries[i].EndAddress() > addr })
	var found *LoadedModule
	if i < len(idx.entries) {
		candidate := idx.entries[i]
		if addr >= candidate.BaseAddress() {
			found = candidate
		}
	}
	idx.mu.Unlock()
	return found
}

// FunctionByAddress is the end-to-end lookup a trap handler or
// backtrace unwinder calls: module, then function within it.
func (idx *Index) FunctionByAddress(addr uintptr) *JITFunction {
	mod := idx.Lookup(addr)
	if mod == nil {
		return nil
	}
	return mod.FunctionByAddress(addr)
}
