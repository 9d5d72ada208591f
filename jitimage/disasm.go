package jitimage

import (
	"runtime"

	"go.uber.org/zap"

	"github.com/wasmjit-go/jitimage/jitmodule"
)

// logDisassembly implements LoadConfig.DisassembleOnLoad: one debug-
// level log line per decoded instruction, per function. Skipped
// outside amd64 and 386 since x86asm only understands the x86
// instruction set.
func logDisassembly(mod *jitmodule.LoadedModule) {
	if runtime.GOARCH != "amd64" && runtime.GOARCH != "386" {
		Logger().Debug("skipping disassemble-on-load: unsupported architecture", zap.String("goarch", runtime.GOARCH))
		return
	}
	mode := 64
	if runtime.GOARCH == "386" {
		mode = 32
	}
	for _, fn := range mod.Functions() {
		code := mod.ReadCode(fn.Addr, fn.Size)
		lines, err := jitmodule.DisassembleFunction(code, mode)
		if err != nil {
			Logger().Debug("disassemble-on-load failed", zap.String("function", fn.Name), zap.Error(err))
			continue
		}
		for _, line := range lines {
			Logger().Debug(line, zap.String("function", fn.Name))
		}
	}
}
