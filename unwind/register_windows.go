//go:build windows

package unwind

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

type windowsRegistration struct {
	table *windows.RUNTIME_FUNCTION
}

// platformRegister treats sec.Addr as the start of an already-copied,
// already-rewritten array of windows.RUNTIME_FUNCTION and sec.Len as
// the entry count (not a byte length) on this platform.
func platformRegister(sec Section) (*Registration, error) {
	table := (*windows.RUNTIME_FUNCTION)(unsafe.Pointer(sec.Addr))
	ok := windows.RtlAddFunctionTable(table, uint32(sec.Len), sec.LoadBase)
	if !ok {
		return nil, fmt.Errorf("unwind: RtlAddFunctionTable failed")
	}
	return &Registration{platformData: &windowsRegistration{table: table}}, nil
}

func platformDeregister(r *Registration) error {
	w, ok := r.platformData.(*windowsRegistration)
	if !ok {
		return nil
	}
	if !windows.RtlDeleteFunctionTable(w.table) {
		return fmt.Errorf("unwind: RtlDeleteFunctionTable failed")
	}
	return nil
}
