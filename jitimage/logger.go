package jitimage

import (
	"sync"

	"go.uber.org/zap"
)

// Grounded on wippyai-wasm-runtime's linker/logger.go: a package-level
// *zap.Logger defaulting to a no-op so embedding a WebAssembly AOT
// loader into a larger program never forces that program's chosen
// logging setup, with SetLogger as the one hook to opt in.
var (
	logger     *zap.Logger
	loggerOnce sync.Once
)

// Logger returns this package's logger, a no-op until SetLogger is
// called.
func Logger() *zap.Logger {
	loggerOnce.Do(func() {
		if logger == nil {
			logger = zap.NewNop()
		}
	})
	return logger
}

// SetLogger configures this package's logger. Call it once, before the
// first LoadModule, for the setting to apply to every load.
func SetLogger(l *zap.Logger) {
	logger = l
}
