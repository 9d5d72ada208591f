package jitmodule

import (
	"errors"
	"fmt"
	"sort"

	"github.com/wasmjit-go/jitimage/image"
	"github.com/wasmjit-go/jitimage/objloader"
	"github.com/wasmjit-go/jitimage/resolver"
	"github.com/wasmjit-go/jitimage/unwind"
)

// Load performs the full sequence described in spec §4.5: reserve a
// virtual-memory image sized for the object's sections, copy section
// bytes in, resolve and apply relocations, register unwind info,
// finalize page permissions, build the function index, and return a
// LoadedModule ready to be inserted into the process-wide Index.
//
// On any failure after Reserve, the partially-built image is destroyed
// before returning, mirroring the teacher's ld.go Load: it munmaps both
// the code and data regions it allocated as soon as any later stage
// fails, rather than leaving a half-initialized module for the caller
// to clean up.
func Load(req LoadRequest) (*LoadedModule, error) {
	obj := req.Object

	var codeBytes, roBytes, rwBytes int
	for _, sec := range obj.Sections {
		switch sec.Kind {
		case objloader.SectionCode:
			codeBytes += len(sec.Data)
		case objloader.SectionReadOnly, objloader.SectionUnwind:
			roBytes += len(sec.Data)
		case objloader.SectionReadWrite:
			rwBytes += len(sec.Data)
		}
	}
	// .pdata/.xdata are kept out of obj.Sections; registerSEH copies them
	// into the read-only section, so reserve room for them there too.
	roBytes += len(obj.Pdata) + len(obj.Xdata)

	mgr := image.NewManager(req.NeedsSEHPadding)
	if err := mgr.Reserve(codeBytes, 16, roBytes, 8, rwBytes, 8); err != nil {
		return nil, &ErrLoad{Stage: "reserve", Kind: KindSequencing, Err: err}
	}

	mod := &LoadedModule{mgr: mgr, img: mgr.Image()}

	placed, sectionBase, err := placeSections(mgr, obj)
	if err != nil {
		mgr.Destroy()
		return nil, &ErrLoad{Stage: "place-sections", Kind: KindObjectParse, Err: err}
	}

	mod.resolver = resolver.New(req.Bindings)
	if err := objloader.Apply(obj, placed, byteOrderFor(obj), mod.resolver, func(name string) uintptr {
		return sectionBase[name]
	}); err != nil {
		mgr.Destroy()
		kind := KindRelocation
		var notFound *resolver.ErrSymbolNotFound
		if errors.As(err, &notFound) {
			kind = KindUnresolvedSymbol
		}
		return nil, &ErrLoad{Stage: "relocate", Kind: kind, Err: err}
	}

	if err := registerUnwindInfo(mod, obj, placed, sectionBase); err != nil {
		mgr.Destroy()
		return nil, &ErrLoad{Stage: "unwind-register", Kind: KindRelocation, Err: err}
	}

	if err := mgr.Finalize(); err != nil {
		unwind.Deregister(mod.unwindReg)
		mgr.Destroy()
		return nil, &ErrLoad{Stage: "finalize", Kind: KindSequencing, Err: err}
	}

	functions, byName, err := buildFunctionIndex(req, obj, sectionBase)
	if err != nil {
		unwind.Deregister(mod.unwindReg)
		mgr.Destroy()
		return nil, &ErrLoad{Stage: "build-function-index", Kind: KindSerialization, Err: err}
	}
	mod.functions = functions
	mod.byName = byName

	return mod, nil
}

// placeSections copies every object section's bytes into the image,
// keyed by section name, and records each section's final runtime base
// address for later use by relocation and unwind registration.
func placeSections(mgr *image.Manager, obj *objloader.Object) (map[string][]byte, map[string]uintptr, error) {
	placed := make(map[string][]byte, len(obj.Sections))
	bases := make(map[string]uintptr, len(obj.Sections))

	for _, sec := range obj.Sections {
		var addr uintptr
		var err error
		switch sec.Kind {
		case objloader.SectionCode:
			addr, err = mgr.AllocateCode(len(sec.Data), sec.Align)
		case objloader.SectionReadOnly, objloader.SectionUnwind:
			addr, err = mgr.AllocateData(len(sec.Data), sec.Align, true)
		case objloader.SectionReadWrite:
			addr, err = mgr.AllocateData(len(sec.Data), sec.Align, false)
		default:
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("allocating section %q: %w", sec.Name, err)
		}
		dst := rawBytesAt(addr, len(sec.Data))
		copy(dst, sec.Data)
		placed[sec.Name] = dst
		bases[sec.Name] = addr
	}
	return placed, bases, nil
}

// registerUnwindInfo dispatches to the eh_frame or SEH post-processing
// sequence depending on what the object's reader actually populated,
// per the unix/Windows split spec §4.3 describes.
func registerUnwindInfo(mod *LoadedModule, obj *objloader.Object, placed map[string][]byte, bases map[string]uintptr) error {
	if len(obj.EHFrame) > 0 {
		return registerEHFrame(mod, placed, bases)
	}
	if len(obj.Xdata) > 0 || len(obj.Pdata) > 0 {
		return registerSEH(mod, obj, bases)
	}
	return nil
}

func registerEHFrame(mod *LoadedModule, placed map[string][]byte, bases map[string]uintptr) error {
	ehBytes, ok := placed[".eh_frame"]
	if !ok {
		return nil
	}
	reg, err := unwind.Register(unwind.Section{
		Addr:     uintptr(addrOf(ehBytes)),
		Len:      uintptr(len(ehBytes)),
		LoadBase: mod.img.Code.BaseAddress,
	})
	if err != nil {
		if err == unwind.ErrNoUnwindInfo {
			return nil
		}
		return err
	}
	mod.unwindReg = reg
	mod.img.EHRegistered = true
	mod.img.EHFrameAddr = bases[".eh_frame"]
	mod.img.EHFrameLen = uintptr(len(ehBytes))
	return nil
}

// runtimeFunctionEntrySize is the size in bytes of one x64
// IMAGE_RUNTIME_FUNCTION_ENTRY: three 32-bit RVAs (BeginAddress,
// EndAddress, UnwindInfoAddress).
const runtimeFunctionEntrySize = 12

// registerSEH implements spec §4.3's Windows post-processing sequence:
// copy .pdata/.xdata into the image, resolve the personality routine
// and reach it through a trampoline allocated in the code section
// (consuming the padding image.Manager.Reserve already set aside),
// re-apply the saved relocations now that every piece has a final
// address, and hand the result to the platform unwinder.
func registerSEH(mod *LoadedModule, obj *objloader.Object, bases map[string]uintptr) error {
	xdataAddr, err := mod.mgr.AllocateData(len(obj.Xdata), 8, true)
	if err != nil {
		return fmt.Errorf("allocating .xdata: %w", err)
	}
	xdataDst := rawBytesAt(xdataAddr, len(obj.Xdata))
	copy(xdataDst, obj.Xdata)

	pdataAddr, err := mod.mgr.AllocateData(len(obj.Pdata), 4, true)
	if err != nil {
		return fmt.Errorf("allocating .pdata: %w", err)
	}
	pdataDst := rawBytesAt(pdataAddr, len(obj.Pdata))
	copy(pdataDst, obj.Pdata)

	var trampolineAddr uintptr
	if obj.PersonalitySymbol != "" {
		personalityAddr, err := mod.resolver.Resolve(obj.PersonalitySymbol)
		if err != nil {
			return fmt.Errorf("resolving personality routine %q: %w", obj.PersonalitySymbol, err)
		}
		trampolineAddr, err = mod.mgr.AllocateCode(unwind.TrampolineSize, unwind.TrampolineSize)
		if err != nil {
			return fmt.Errorf("allocating personality trampoline: %w", err)
		}
		unwind.BuildTrampoline(rawBytesAt(trampolineAddr, unwind.TrampolineSize), personalityAddr)
	}

	sectionBase := func(name string) uintptr {
		switch name {
		case ".xdata":
			return xdataAddr
		case ".pdata":
			return pdataAddr
		default:
			return bases[name]
		}
	}

	order := byteOrderFor(obj)
	if err := objloader.ApplyImageRelative(xdataDst, obj.XdataRelocs, sectionBase, obj.PersonalitySymbol, trampolineAddr, mod.img.BaseAddress, order); err != nil {
		return fmt.Errorf("re-relocating .xdata: %w", err)
	}
	if err := objloader.ApplyImageRelative(pdataDst, obj.PdataRelocs, sectionBase, "", 0, mod.img.BaseAddress, order); err != nil {
		return fmt.Errorf("re-relocating .pdata: %w", err)
	}

	reg, err := unwind.Register(unwind.Section{
		Addr:               pdataAddr,
		Len:                uintptr(len(obj.Pdata) / runtimeFunctionEntrySize),
		LoadBase:           mod.img.BaseAddress,
		PersonalityRoutine: trampolineAddr,
	})
	if err != nil {
		if err == unwind.ErrNoUnwindInfo {
			return nil
		}
		return fmt.Errorf("registering SEH unwind table: %w", err)
	}
	mod.unwindReg = reg
	return nil
}

// buildFunctionIndex enumerates every defined code symbol into the
// vector and name map spec §3's data model requires for a loaded
// module, keeping both in sync with the single set of *JITFunction
// values constructed here. Per that invariant, each function appears
// exactly once in each; an object whose symbol table defines the same
// name twice is malformed, and the later definition wins in the name
// map, matching the teacher's own last-write-wins symbol table merges
// in register.go's RegSymbol.
func buildFunctionIndex(req LoadRequest, obj *objloader.Object, bases map[string]uintptr) ([]*JITFunction, map[string]*JITFunction, error) {
	var fns []*JITFunction
	byName := make(map[string]*JITFunction)
	for _, sym := range obj.Symbols {
		if !sym.Defined || sym.Size == 0 {
			continue
		}
		secBase, ok := bases[sym.SectionName]
		if !ok {
			continue
		}
		sec := obj.Section(sym.SectionName)
		if sec == nil || sec.Kind != objloader.SectionCode {
			continue
		}
		f := &JITFunction{
			Name: sym.Name,
			Addr: secBase + uintptr(sym.Offset),
			Size: sym.Size,
		}
		fns = append(fns, f)
		byName[f.Name] = f
	}

	if req.DWARF != nil && req.FunctionRanges != nil {
		tables, err := req.DWARF.BuildLineTables(req.FunctionRanges)
		if err != nil {
			return nil, nil, fmt.Errorf("building DWARF line tables: %w", err)
		}
		for _, f := range fns {
			if lt, ok := tables[f.Name]; ok {
				f.LineTable = lt
			}
		}
	}

	sort.Slice(fns, func(i, j int) bool { return fns[i].Addr < fns[j].Addr })
	return fns, byName, nil
}

// Unload reverses Load: deregister unwind info, then decommit the
// image's pages. Grounded on the teacher's CodeModule.Unload, which
// likewise tears down bookkeeping (removeitabs/removeModule) before
// releasing the underlying mapping (Munmap).
func (m *LoadedModule) Unload() error {
	if err := unwind.Deregister(m.unwindReg); err != nil {
		return fmt.Errorf("jitmodule: deregistering unwind info: %w", err)
	}
	m.mgr.Destroy()
	return nil
}
