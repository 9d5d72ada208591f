// Package image implements the Image Memory Manager: it reserves one
// contiguous virtual-memory range for a loaded object, hands out aligned
// sub-allocations into code / read-only / read-write sections, and at
// finalization flips each section's page permissions.
//
// Grounded on the teacher's own virtual-memory handling in
// github.com/pkujhd/goloader (mmap + mprotect packages, and the
// single-reservation-then-sub-allocate pattern in dymcode.go's
// segment type), generalized from "load one Go object" to "load one
// image with three logical sections."
package image

import "fmt"

// sehTrampolineBytes is the fixed padding added to the code section on
// platforms that need room for an indirect jump to the personality
// routine (see the unwind package's Windows SEH strategy).
const sehTrampolineBytes = 32

// Image is the finalized record of one loaded object's virtual memory.
// The three sections are contiguous in the order code, ro, rw.
type Image struct {
	BaseAddress uintptr
	TotalPages  int
	Code        Section
	RO          Section
	RW          Section

	finalized bool

	// EH/unwind bookkeeping, recorded by jitmodule after it registers
	// .eh_frame. Destroy does not read these fields or deregister
	// anything; LoadedModule.Unload deregisters before calling Destroy.
	EHRegistered bool
	EHFrameAddr  uintptr
	EHFrameLen   uintptr
}

// EndAddress returns the address one past the last reserved byte of the
// image, the key used by the global address index (spec §4.6).
func (img *Image) EndAddress() uintptr {
	return img.BaseAddress + uintptr(img.TotalPages*pageSize())
}

// Finalized reports whether Finalize has already run.
func (img *Image) Finalized() bool {
	return img.finalized
}

// Manager owns one Image for the duration of one object load. It is not
// safe for concurrent use; a single load is single-writer per §5.
type Manager struct {
	img             Image
	needsSEHPadding bool
}

// NewManager returns a Manager. needsSEHPadding should be true on
// platforms whose unwind strategy requires a personality-routine
// trampoline inside the code section (Windows SEH); see spec §4.1.
func NewManager(needsSEHPadding bool) *Manager {
	return &Manager{needsSEHPadding: needsSEHPadding}
}

func roundUpToPages(bytes int) int {
	ps := pageSize()
	return (bytes + ps - 1) / ps
}

// Reserve computes page counts for the three sections and reserves one
// contiguous, page-aligned, initially read-write range large enough for
// all of them. It must be called exactly once, before any allocation.
func (m *Manager) Reserve(codeBytes, codeAlign, roBytes, roAlign, rwBytes, rwAlign int) error {
	if m.img.TotalPages != 0 {
		return fmt.Errorf("image: Reserve called more than once")
	}
	if !isPowerOfTwo(codeAlign) || !isPowerOfTwo(roAlign) || !isPowerOfTwo(rwAlign) {
		return fmt.Errorf("image: alignment must be a power of two")
	}

	if m.needsSEHPadding {
		codeBytes += sehTrampolineBytes
	}

	codePages := roundUpToPages(codeBytes)
	roPages := roundUpToPages(roBytes)
	rwPages := roundUpToPages(rwBytes)
	total := codePages + roPages + rwPages

	if total == 0 {
		return nil
	}

	base, err := allocateVirtualPages(total)
	if err != nil {
		fatalf("virtual memory allocation for JIT image failed: %v", err)
	}
	if err := commitVirtualPages(base, total); err != nil {
		fatalf("virtual memory commit for JIT image failed: %v", err)
	}

	m.img.BaseAddress = base
	m.img.TotalPages = total
	m.img.Code = Section{BaseAddress: base, ReservedPages: codePages}
	m.img.RO = Section{BaseAddress: base + uintptr(codePages*pageSize()), ReservedPages: roPages}
	m.img.RW = Section{BaseAddress: m.img.RO.BaseAddress + uintptr(roPages*pageSize()), ReservedPages: rwPages}
	return nil
}

func (m *Manager) allocate(section *Section, n, align int) (uintptr, error) {
	if !isPowerOfTwo(align) {
		return 0, fmt.Errorf("image: alignment %d is not a power of two", align)
	}
	if m.img.finalized {
		return 0, fmt.Errorf("image: cannot allocate from a finalized image")
	}
	start := alignUp(section.CommittedBytes, align)
	newCommitted := start + alignUp(n, align)
	if newCommitted > section.reservedBytes(pageSize()) {
		fatalf("didn't reserve enough space in section (wanted %d, have %d)", newCommitted, section.reservedBytes(pageSize()))
	}
	section.CommittedBytes = newCommitted
	return section.BaseAddress + uintptr(start), nil
}

// AllocateCode returns a pointer within the code section.
func (m *Manager) AllocateCode(n, align int) (uintptr, error) {
	return m.allocate(&m.img.Code, n, align)
}

// AllocateData returns a pointer within the read-only or read-write
// section, as selected by readOnly.
func (m *Manager) AllocateData(n, align int, readOnly bool) (uintptr, error) {
	if readOnly {
		return m.allocate(&m.img.RO, n, align)
	}
	return m.allocate(&m.img.RW, n, align)
}

// Finalize flips page permissions to execute / read-only / read-write
// for the code, ro, and rw sections respectively. It is idempotent-safe
// and must run exactly once before any code in the image executes.
func (m *Manager) Finalize() error {
	if m.img.finalized {
		return nil
	}
	m.img.finalized = true
	if m.img.Code.ReservedPages > 0 {
		if err := setVirtualPageAccess(m.img.Code.BaseAddress, m.img.Code.ReservedPages, AccessExecute); err != nil {
			fatalf("failed to make code section executable: %v", err)
		}
	}
	if m.img.RO.ReservedPages > 0 {
		if err := setVirtualPageAccess(m.img.RO.BaseAddress, m.img.RO.ReservedPages, AccessReadOnly); err != nil {
			fatalf("failed to make read-only section read-only: %v", err)
		}
	}
	if m.img.RW.ReservedPages > 0 {
		if err := setVirtualPageAccess(m.img.RW.BaseAddress, m.img.RW.ReservedPages, AccessReadWrite); err != nil {
			fatalf("failed to make read-write section read-write: %v", err)
		}
	}
	invalidateInstructionCache(m.img.Code.BaseAddress, m.img.Code.ReservedPages*pageSize())
	return nil
}

// Image returns the underlying Image record. Valid to call at any point
// after Reserve.
func (m *Manager) Image() *Image {
	return &m.img
}

// Destroy decommits all reserved pages (without releasing the
// reservation) so dangling addresses fault on access rather than
// silently aliasing a future allocation. Callers must deregister any
// unwind info before calling Destroy.
func (m *Manager) Destroy() {
	if m.img.TotalPages == 0 {
		return
	}
	if err := decommitVirtualPages(m.img.BaseAddress, m.img.TotalPages); err != nil {
		fatalf("failed to decommit JIT image pages: %v", err)
	}
}

// fatalf reports a non-recoverable invariant violation. Per spec §7,
// fatal runtime errors are not meant to be caught and retried; they
// signal a broken invariant, not a bad input. Mirrors the teacher's use
// of bare panic() for invariant violations (e.g. register.go's
// "Unexpected invalid kind during registration!").
func fatalf(format string, args ...interface{}) {
	panic(fmt.Sprintf(format, args...))
}
