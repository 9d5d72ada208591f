package jitimage

import (
	"runtime"
	"testing"
)

func TestBindingSpecBuild(t *testing.T) {
	spec := BindingSpec{
		FunctionImports: []uintptr{0x1000, 0x1010},
		Globals:         []uintptr{0x2000},
		Extra:           map[string]uintptr{"memcpy": 0x3000},
	}
	bindings := spec.Build()

	want := map[string]uintptr{
		"functionImport0": 0x1000,
		"functionImport1": 0x1010,
		"global0":         0x2000,
		"memcpy":          0x3000,
	}
	if len(bindings) != len(want) {
		t.Fatalf("Build() produced %d bindings, want %d: %v", len(bindings), len(want), bindings)
	}
	for k, v := range want {
		if bindings[k] != v {
			t.Fatalf("bindings[%q] = %#x, want %#x", k, bindings[k], v)
		}
	}
}

func TestDefaultLoadConfigMatchesPlatform(t *testing.T) {
	cfg := DefaultLoadConfig([]byte{0x7f, 'E', 'L', 'F'}, BindingSpec{})
	want := runtime.GOOS == "windows"
	if cfg.NeedsSEHPadding != want {
		t.Fatalf("NeedsSEHPadding = %v, want %v", cfg.NeedsSEHPadding, want)
	}
	if cfg.Reader != nil {
		t.Fatal("DefaultLoadConfig should leave Reader nil to pick the ELF default")
	}
}

func TestUnloadModuleNilIsNoOp(t *testing.T) {
	if err := UnloadModule(nil); err != nil {
		t.Fatalf("UnloadModule(nil) should be a no-op, got %v", err)
	}
	if err := UnloadModule(&Module{}); err != nil {
		t.Fatalf("UnloadModule of a zero-value Module should be a no-op, got %v", err)
	}
}

func TestGetJITFunctionByAddressMiss(t *testing.T) {
	_, ok := GetJITFunctionByAddress(0xdeadbeef)
	if ok {
		t.Fatal("expected no function at an address nothing loaded owns")
	}
}
