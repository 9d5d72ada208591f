package jitimage

import "runtime"

// DefaultLoadConfig returns a LoadConfig for objectData with every
// platform-dependent field set to this process's natural default:
// NeedsSEHPadding true only on windows, Reader left nil, which
// LoadModule resolves to objloader.ELFReader{} on every platform.
func DefaultLoadConfig(objectData []byte, bindings BindingSpec) LoadConfig {
	return LoadConfig{
		ObjectData:      objectData,
		Bindings:        bindings,
		NeedsSEHPadding: runtime.GOOS == "windows",
	}
}
