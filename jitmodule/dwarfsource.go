package jitmodule

import (
	"debug/dwarf"

	"github.com/wasmjit-go/jitimage/dwarfline"
)

// DWARFSource adapts a parsed *dwarf.Data to the dwarfDataSource seam
// LoadRequest uses, keeping debug/dwarf out of jitmodule.go's import
// list so that file reads cleanly as "the composition," not "the
// DWARF wiring."
type DWARFSource struct {
	Data *dwarf.Data
}

func (d *DWARFSource) BuildLineTables(functionRanges map[string][2]uint64) (map[string]*dwarfline.FunctionTable, error) {
	return dwarfline.BuildFromDWARF(d.Data, functionRanges)
}
