//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package image

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

var pageSizeLog2Value = computePageSizeLog2()

func computePageSizeLog2() uint {
	size := unix.Getpagesize()
	shift := uint(0)
	for (1 << shift) < size {
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

// allocateVirtualPages reserves n pages of address space, committed
// read-write, and returns the base address. Grounded on the teacher's
// mmap package (github.com/pkujhd/goloader/mmap), generalized from its
// hand-rolled syscalls to golang.org/x/sys/unix.
func allocateVirtualPages(n int) (uintptr, error) {
	if n == 0 {
		return 0, nil
	}
	length := n * pageSize()
	data, err := unix.Mmap(-1, 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return 0, fmt.Errorf("mmap %d pages: %w", n, err)
	}
	return uintptr(unsafe.Pointer(&data[0])), nil
}

func commitVirtualPages(base uintptr, n int) error {
	// On POSIX, anonymous mmap commits on reservation; nothing further
	// is required here. Kept as a distinct step to match the platform
	// memory collaborator's contract (allocate then commit).
	return nil
}

func decommitVirtualPages(base uintptr, n int) error {
	if n == 0 {
		return nil
	}
	length := n * pageSize()
	addr := unsafe.Slice((*byte)(unsafe.Pointer(base)), length)
	if err := unix.Madvise(addr, unix.MADV_DONTNEED); err != nil {
		return fmt.Errorf("madvise dontneed: %w", err)
	}
	// Remove all access so stale references fault rather than alias a
	// future mapping at the same address.
	if err := unix.Mprotect(addr, unix.PROT_NONE); err != nil {
		return fmt.Errorf("mprotect none: %w", err)
	}
	return nil
}

func setVirtualPageAccess(base uintptr, n int, access Access) error {
	if n == 0 {
		return nil
	}
	length := n * pageSize()
	addr := unsafe.Slice((*byte)(unsafe.Pointer(base)), length)
	var prot int
	switch access {
	case AccessExecute:
		prot = unix.PROT_READ | unix.PROT_EXEC
	case AccessReadOnly:
		prot = unix.PROT_READ
	case AccessReadWrite:
		prot = unix.PROT_READ | unix.PROT_WRITE
	default:
		return fmt.Errorf("unknown access kind %d", access)
	}
	if err := unix.Mprotect(addr, prot); err != nil {
		return fmt.Errorf("mprotect: %w", err)
	}
	return nil
}
