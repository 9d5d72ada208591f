//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package unwind

/*
extern void __register_frame(const void *);
extern void __deregister_frame(const void *);

static void register_frame(void *p) {
	__register_frame(p);
}

static void deregister_frame(void *p) {
	__deregister_frame(p);
}
*/
import "C"
import "unsafe"

// unix unwind registration hands the already-relocated .eh_frame bytes
// directly to the process's libgcc/compiler-rt unwinder via
// __register_frame, the same entry point the system C++ runtime uses
// for its own dynamically loaded shared objects. Grounded on the
// teacher's cgo-shim style for calling into libc (libc/libc_cgo's
// inline-C dlopen/dlsym wrapper); the specific call is the one the
// original LLVM JIT loader this system is modeled on uses in
// registerEHFrames.
type unixRegistration struct {
	frameAddr uintptr
}

func platformRegister(sec Section) (*Registration, error) {
	C.register_frame(unsafe.Pointer(sec.Addr))
	return &Registration{platformData: &unixRegistration{frameAddr: sec.Addr}}, nil
}

func platformDeregister(r *Registration) error {
	u, ok := r.platformData.(*unixRegistration)
	if !ok {
		return nil
	}
	C.deregister_frame(unsafe.Pointer(u.frameAddr))
	return nil
}
