package image

import (
	"runtime/debug"
	"testing"
	"unsafe"
)

func TestReserveLayoutIsContiguousAndAligned(t *testing.T) {
	m := NewManager(false)
	if err := m.Reserve(100, 16, 8, 8, 8, 8); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	defer m.Destroy()

	img := m.Image()
	ps := pageSize()

	if img.Code.BaseAddress%uintptr(ps) != 0 {
		t.Fatalf("code base not page-aligned: %#x", img.Code.BaseAddress)
	}
	if img.RO.BaseAddress != img.Code.BaseAddress+uintptr(img.Code.ReservedPages*ps) {
		t.Fatalf("ro section is not immediately after code section")
	}
	if img.RW.BaseAddress != img.RO.BaseAddress+uintptr(img.RO.ReservedPages*ps) {
		t.Fatalf("rw section is not immediately after ro section")
	}
	if img.Code.ReservedPages*ps < 100 {
		t.Fatalf("code section too small: %d bytes reserved for 100 requested", img.Code.ReservedPages*ps)
	}
}

func TestAllocateWithinSection(t *testing.T) {
	m := NewManager(false)
	if err := m.Reserve(256, 16, 256, 8, 256, 8); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	defer m.Destroy()

	a, err := m.AllocateCode(40, 16)
	if err != nil {
		t.Fatalf("AllocateCode: %v", err)
	}
	if a%16 != 0 {
		t.Fatalf("code allocation not aligned: %#x", a)
	}
	b, err := m.AllocateCode(8, 16)
	if err != nil {
		t.Fatalf("AllocateCode: %v", err)
	}
	if b < a+40 {
		t.Fatalf("second allocation overlaps the first: a=%#x b=%#x", a, b)
	}

	ro, err := m.AllocateData(16, 8, true)
	if err != nil {
		t.Fatalf("AllocateData(readOnly): %v", err)
	}
	if ro < m.Image().RO.BaseAddress {
		t.Fatalf("read-only allocation outside ro section")
	}

	rw, err := m.AllocateData(16, 8, false)
	if err != nil {
		t.Fatalf("AllocateData(readWrite): %v", err)
	}
	if rw < m.Image().RW.BaseAddress {
		t.Fatalf("read-write allocation outside rw section")
	}
}

func TestAllocateBeyondReservationIsFatal(t *testing.T) {
	m := NewManager(false)
	if err := m.Reserve(16, 16, 0, 8, 0, 8); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	defer m.Destroy()

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected a panic allocating beyond the reserved section")
		}
	}()
	_, _ = m.AllocateCode(1<<20, 16)
}

func TestFinalizeIsIdempotent(t *testing.T) {
	m := NewManager(false)
	if err := m.Reserve(64, 16, 64, 8, 64, 8); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	defer m.Destroy()

	if err := m.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if err := m.Finalize(); err != nil {
		t.Fatalf("second Finalize should be a no-op, got: %v", err)
	}
	if !m.Image().Finalized() {
		t.Fatal("expected image to be marked finalized")
	}
}

func TestAllocateAfterFinalizeFails(t *testing.T) {
	m := NewManager(false)
	if err := m.Reserve(64, 16, 64, 8, 64, 8); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	defer m.Destroy()
	if err := m.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if _, err := m.AllocateCode(8, 8); err == nil {
		t.Fatal("expected an error allocating from a finalized image")
	}
}

// TestFinalizedReadOnlyPageFaultsOnWrite exercises spec property 6: a
// write to a read-only page after finalization must fault, not silently
// succeed. debug.SetPanicOnFault converts the resulting SIGSEGV into a
// recoverable Go panic for the duration of the test.
func TestFinalizedReadOnlyPageFaultsOnWrite(t *testing.T) {
	m := NewManager(false)
	if err := m.Reserve(64, 16, 64, 8, 64, 8); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	defer m.Destroy()

	roAddr, err := m.AllocateData(8, 8, true)
	if err != nil {
		t.Fatalf("AllocateData: %v", err)
	}
	if err := m.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	old := debug.SetPanicOnFault(true)
	defer debug.SetPanicOnFault(old)

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected a fault writing to a read-only page")
		}
	}()
	*(*byte)(unsafe.Pointer(roAddr)) = 0xFF
}

// TestZeroSizedSectionIsSkipped covers the zero-size-section case
// (e.g. a load with no read-only data at all).
func TestZeroSizedSectionIsSkipped(t *testing.T) {
	m := NewManager(false)
	if err := m.Reserve(32, 16, 0, 8, 16, 8); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	defer m.Destroy()

	if m.Image().RO.ReservedPages != 0 {
		t.Fatalf("expected 0 reserved pages for an empty ro section, got %d", m.Image().RO.ReservedPages)
	}
	if err := m.Finalize(); err != nil {
		t.Fatalf("Finalize with an empty section: %v", err)
	}
}
