//go:build windows

package image

import (
	"fmt"

	"golang.org/x/sys/windows"
)

var pageSizeLog2Value = computePageSizeLog2()

func computePageSizeLog2() uint {
	var info windows.SystemInfo
	windows.GetSystemInfo(&info)
	size := info.PageSize
	shift := uint(0)
	for (uint32(1) << shift) < size {
		shift++
	}
	return shift
}

func pageSizeLog2() uint {
	return pageSizeLog2Value
}

func pageSize() int {
	return 1 << pageSizeLog2()
}

// allocateVirtualPages reserves and commits n pages as read-write.
// Grounded on the teacher's mprotect/mprotect_windows.go
// (syscall.NewLazyDLL("kernel32.dll")), generalized to the ecosystem's
// golang.org/x/sys/windows wrapper.
func allocateVirtualPages(n int) (uintptr, error) {
	if n == 0 {
		return 0, nil
	}
	length := uintptr(n * pageSize())
	addr, err := windows.VirtualAlloc(0, length, windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_READWRITE)
	if err != nil {
		return 0, fmt.Errorf("VirtualAlloc %d pages: %w", n, err)
	}
	return addr, nil
}

func commitVirtualPages(base uintptr, n int) error {
	return nil
}

func decommitVirtualPages(base uintptr, n int) error {
	if n == 0 {
		return nil
	}
	length := uintptr(n * pageSize())
	if err := windows.VirtualFree(base, length, windows.MEM_DECOMMIT); err != nil {
		return fmt.Errorf("VirtualFree decommit: %w", err)
	}
	return nil
}

func setVirtualPageAccess(base uintptr, n int, access Access) error {
	if n == 0 {
		return nil
	}
	length := uintptr(n * pageSize())
	var newProtect uint32
	switch access {
	case AccessExecute:
		newProtect = windows.PAGE_EXECUTE_READ
	case AccessReadOnly:
		newProtect = windows.PAGE_READONLY
	case AccessReadWrite:
		newProtect = windows.PAGE_READWRITE
	default:
		return fmt.Errorf("unknown access kind %d", access)
	}
	var oldProtect uint32
	if err := windows.VirtualProtect(base, length, newProtect, &oldProtect); err != nil {
		return fmt.Errorf("VirtualProtect: %w", err)
	}
	return nil
}
