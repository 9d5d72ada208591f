// Package jitimage is the root façade of this module: it exposes
// LoadModule, UnloadModule and GetJITFunctionByAddress, the three
// operations an embedding WebAssembly engine actually calls, and wires
// together the image, resolver, objloader, unwind, dwarfline and
// jitmodule packages behind them.
//
// Grounded on github.com/pkujhd/goloader's own top-level package,
// which exposes exactly this shape (Load/Unload plus a handful of
// symbol-registration helpers) as the public surface over its internal
// obj/link machinery.
package jitimage

import (
	"debug/dwarf"
	"time"

	"go.uber.org/zap"

	"github.com/wasmjit-go/jitimage/jitmodule"
	"github.com/wasmjit-go/jitimage/objloader"
	"github.com/wasmjit-go/jitimage/resolver"
)

// JITFunction is re-exported from jitmodule so callers of this façade
// never need to import that package directly.
type JITFunction = jitmodule.JITFunction

// LoadError is returned by LoadModule on any failure; it carries the
// stage that failed for logging, and unwraps to the underlying cause.
type LoadError = jitmodule.ErrLoad

// BindingKind mirrors resolver.Kind at the façade boundary so callers
// building a BindingSpec don't need to import the resolver package.
type BindingKind = resolver.Kind

const (
	BindingFunctionImport = resolver.KindFunctionImport
	BindingTableOffset    = resolver.KindTableOffset
	BindingMemoryOffset   = resolver.KindMemoryOffset
	BindingGlobal         = resolver.KindGlobal
	BindingExceptionType  = resolver.KindExceptionType
	BindingFunctionDef    = resolver.KindFunctionDef
)

// BindingSpec is the caller-facing way to supply a loaded module's
// imports: one address slice per kind, in declaration order, expanded
// into the functionImport<N>/tableOffset<N>/memoryOffset<N>/global<N>/
// exceptionType<N>/functionDef<N> binding-table keys objloader.Apply
// resolves relocations against.
type BindingSpec struct {
	FunctionImports []uintptr
	TableOffsets    []uintptr
	MemoryOffsets   []uintptr
	Globals         []uintptr
	ExceptionTypes  []uintptr
	FunctionDefs    []uintptr

	// Extra holds any additional name->address bindings that don't fit
	// the numbered schemes above (e.g. a runtime-provided intrinsic the
	// caller wants to override).
	Extra map[string]uintptr
}

// Build expands the spec into the flat binding table objloader.Apply
// and resolver.Table consume.
func (s BindingSpec) Build() map[string]uintptr {
	out := make(map[string]uintptr, len(s.Extra)+
		len(s.FunctionImports)+len(s.TableOffsets)+len(s.MemoryOffsets)+
		len(s.Globals)+len(s.ExceptionTypes)+len(s.FunctionDefs))

	add := func(kind resolver.Kind, addrs []uintptr) {
		for i, a := range addrs {
			out[resolver.BindingName(kind, i)] = a
		}
	}
	add(resolver.KindFunctionImport, s.FunctionImports)
	add(resolver.KindTableOffset, s.TableOffsets)
	add(resolver.KindMemoryOffset, s.MemoryOffsets)
	add(resolver.KindGlobal, s.Globals)
	add(resolver.KindExceptionType, s.ExceptionTypes)
	add(resolver.KindFunctionDef, s.FunctionDefs)
	for k, v := range s.Extra {
		out[k] = v
	}
	return out
}

// LoadConfig bundles everything LoadModule needs: the raw object
// bytes, the reader that understands its container format, the
// caller's import bindings, and optional debug-info wiring.
type LoadConfig struct {
	// ObjectData is the raw bytes of one relocatable object produced by
	// an ahead-of-time WebAssembly compiler.
	ObjectData []byte

	// Reader parses ObjectData. Defaults to objloader.ELFReader{} when
	// nil, on every platform; COFF objects need objloader.COFFReader{}
	// set here explicitly.
	Reader objloader.Reader

	Bindings BindingSpec

	// NeedsSEHPadding should be true on Windows targets whose unwind
	// strategy requires a personality-routine trampoline inside the
	// code section; false elsewhere. Callers normally leave this at
	// its platform default via DefaultLoadConfig.
	NeedsSEHPadding bool

	// DWARFData, if non-nil, is consulted to build per-function
	// offset-to-operator-index tables for trap/backtrace reporting.
	DWARFData *dwarf.Data

	// FunctionRanges maps each defined function symbol's name to its
	// [low, high) address range as seen in the object's own DWARF
	// address space, required when DWARFData is set.
	FunctionRanges map[string][2]uint64

	// DisassembleOnLoad logs a per-instruction disassembly of every
	// loaded function at debug level, on x86 (amd64 and 386) hosts only. Expensive;
	// intended for diagnosing a bad relocation, not production use.
	DisassembleOnLoad bool

	// LogMetrics logs one info-level line per load with the object size
	// and load duration, the Go analogue of the original loader's
	// Timing::logRatePerSecond.
	LogMetrics bool

	// Registrar, if non-nil, is notified once a module has finished
	// loading, the Go analogue of the original's GDB JIT event listener
	// registration. A no-op default is used when nil.
	Registrar DebugRegistrar

	// Logger overrides the package-level logger (see SetLogger) for the
	// duration of this one call. Most callers leave this nil and
	// configure logging once via SetLogger; this field exists for
	// callers that want per-load logger overrides, e.g. a request-scoped
	// logger carrying a trace ID. DisassembleOnLoad output does not use
	// this field; it always goes to the package-level logger.
	Logger *zap.Logger
}

func (cfg LoadConfig) logger() *zap.Logger {
	if cfg.Logger != nil {
		return cfg.Logger
	}
	return Logger()
}

// DebugRegistrar is notified once per successful load and once per
// unload, so an external debugger or profiler can track JIT frames
// without polling GetJITFunctionByAddress itself.
type DebugRegistrar interface {
	ModuleLoaded(base, end uintptr, functions []*JITFunction)
	ModuleUnloaded(base, end uintptr)
}

type noopRegistrar struct{}

func (noopRegistrar) ModuleLoaded(uintptr, uintptr, []*JITFunction) {}
func (noopRegistrar) ModuleUnloaded(uintptr, uintptr)                {}

// Module is an opaque handle to one loaded object, returned by
// LoadModule and accepted by UnloadModule.
type Module struct {
	internal  *jitmodule.LoadedModule
	registrar DebugRegistrar
}

// Functions returns the module's functions, sorted by address, or nil
// once the module has been unloaded.
func (m *Module) Functions() []*JITFunction {
	if m == nil || m.internal == nil {
		return nil
	}
	return m.internal.Functions()
}

var globalIndex = jitmodule.NewIndex()

// LoadModule parses cfg.ObjectData, loads it into a freshly reserved
// image, resolves and applies its relocations against cfg.Bindings,
// registers unwind info, and inserts the result into the process-wide
// address index used by GetJITFunctionByAddress.
func LoadModule(cfg LoadConfig) (*Module, error) {
	reader := cfg.Reader
	if reader == nil {
		reader = objloader.ELFReader{}
	}

	obj, err := reader.Read(cfg.ObjectData)
	if err != nil {
		return nil, &LoadError{Stage: "parse-object", Kind: jitmodule.KindObjectParse, Err: err}
	}

	req := jitmodule.LoadRequest{
		Object:          obj,
		Bindings:        cfg.Bindings.Build(),
		NeedsSEHPadding: cfg.NeedsSEHPadding,
		FunctionRanges:  cfg.FunctionRanges,
	}
	if cfg.DWARFData != nil {
		req.DWARF = &jitmodule.DWARFSource{Data: cfg.DWARFData}
	}

	cfg.logger().Debug("loading wasm jit module", zap.Int("object_bytes", len(cfg.ObjectData)))

	start := time.Now()
	mod, err := jitmodule.Load(req)
	if err != nil {
		cfg.logger().Error("wasm jit module load failed", zap.Error(err))
		return nil, err
	}
	elapsed := time.Since(start)

	globalIndex.Insert(mod)
	cfg.logger().Info("wasm jit module loaded",
		zap.Uint64("base_address", uint64(mod.BaseAddress())),
		zap.Uint64("end_address", uint64(mod.EndAddress())))

	if cfg.LogMetrics && elapsed > 0 {
		bytesPerSecond := float64(len(cfg.ObjectData)) / elapsed.Seconds()
		cfg.logger().Info("wasm jit module load rate",
			zap.Duration("elapsed", elapsed),
			zap.Float64("bytes_per_second", bytesPerSecond))
	}

	if cfg.DisassembleOnLoad {
		logDisassembly(mod)
	}

	registrar := cfg.Registrar
	if registrar == nil {
		registrar = noopRegistrar{}
	}
	registrar.ModuleLoaded(mod.BaseAddress(), mod.EndAddress(), mod.Functions())

	return &Module{internal: mod, registrar: registrar}, nil
}

// UnloadModule deregisters m's unwind info, decommits its virtual
// memory, and removes it from the process-wide address index.
// Dereferencing any address that was inside m after this call is
// undefined: the backing pages are gone.
func UnloadModule(m *Module) error {
	if m == nil || m.internal == nil {
		return nil
	}
	base, end := m.internal.BaseAddress(), m.internal.EndAddress()
	globalIndex.Remove(m.internal)
	if err := m.internal.Unload(); err != nil {
		Logger().Error("wasm jit module unload failed", zap.Error(err))
		return err
	}
	registrar := m.registrar
	if registrar == nil {
		registrar = noopRegistrar{}
	}
	registrar.ModuleUnloaded(base, end)
	m.internal = nil
	return nil
}

// GetJITFunctionByAddress answers "which loaded function, if any, owns
// this native address", the lookup a trap handler or backtrace
// unwinder performs per frame.
func GetJITFunctionByAddress(addr uintptr) (*JITFunction, bool) {
	fn := globalIndex.FunctionByAddress(addr)
	return fn, fn != nil
}
