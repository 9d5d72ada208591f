// Package dwarfline implements the DWARF Line Mapping Consumer: it
// reads a loaded object's DWARF line-number program and builds, per
// function, a mapping from code offset to WebAssembly operator index,
// so a trap or backtrace frame can be reported in terms of the
// original WebAssembly instruction rather than a raw native code
// address.
//
// Built on the standard library's debug/dwarf for the same reason
// objloader uses debug/elf: no repo in this corpus parses DWARF debug
// info, and debug/dwarf's LineReader is the canonical, actively
// maintained way to walk a line-number program in Go.
package dwarfline

import (
	"debug/dwarf"
	"fmt"
	"io"
	"sort"
)

// Row is one entry of a function's offset-to-operator-index table:
// native code bytes [CodeOffset, next row's CodeOffset) correspond to
// WebAssembly operator OpIndex.
type Row struct {
	CodeOffset int
	OpIndex    int
}

// FunctionTable maps a code offset within one function to the
// WebAssembly operator index that produced the instructions there.
// Rows are sorted by CodeOffset; Lookup does a binary search for the
// row with the greatest CodeOffset <= the queried offset.
type FunctionTable struct {
	Rows []Row
}

// Lookup returns the operator index active at codeOffset, or -1 if
// codeOffset precedes the first row (which should not happen for a
// valid function table, but callers doing trap/backtrace lookups must
// not panic on malformed input).
func (ft *FunctionTable) Lookup(codeOffset int) int {
	rows := ft.Rows
	i := sort.Search(len(rows), func(i int) bool { return rows[i].CodeOffset > codeOffset })
	if i == 0 {
		return -1
	}
	return rows[i-1].OpIndex
}

// BuildFromDWARF walks the line-number program for every compilation
// unit in d and groups rows by the function address range [lowPC,
// highPC) the caller supplies (functionRanges maps a function name to
// its [low, high) native address range inside the object, before
// relocation to final load address: DWARF addresses in an
// unlinked/relocatable object are section-relative, matching that
// space). The DWARF line table's Line field is repurposed as the
// WebAssembly operator index: the AOT compiler that produced this
// object is expected to emit one line-table row per WebAssembly
// operator, with Line set to that operator's index in the function
// body, mirroring how a conventional compiler emits one row per source
// line.
func BuildFromDWARF(d *dwarf.Data, functionRanges map[string][2]uint64) (map[string]*FunctionTable, error) {
	out := make(map[string]*FunctionTable, len(functionRanges))

	reader := d.Reader()
	for {
		entry, err := reader.Next()
		if err != nil {
			return nil, fmt.Errorf("dwarfline: reading DWARF entries: %w", err)
		}
		if entry == nil {
			break
		}
		if entry.Tag != dwarf.TagCompileUnit {
			continue
		}
		lr, err := d.LineReader(entry)
		if err != nil {
			return nil, fmt.Errorf("dwarfline: opening line reader: %w", err)
		}
		if lr == nil {
			continue
		}
		if err := collectRows(lr, functionRanges, out); err != nil {
			return nil, err
		}
	}

	for name, ft := range out {
		sort.Slice(ft.Rows, func(i, j int) bool { return ft.Rows[i].CodeOffset < ft.Rows[j].CodeOffset })
		out[name] = ft
	}
	return out, nil
}

func collectRows(lr *dwarf.LineReader, functionRanges map[string][2]uint64, out map[string]*FunctionTable) error {
	var entry dwarf.LineEntry
	for {
		err := lr.Next(&entry)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("dwarfline: reading line entry: %w", err)
		}
		if entry.EndSequence {
			continue
		}
		for name, r := range functionRanges {
			low, high := r[0], r[1]
			if entry.Address < low || entry.Address >= high {
				continue
			}
			ft := out[name]
			if ft == nil {
				ft = &FunctionTable{}
				out[name] = ft
			}
			ft.Rows = append(ft.Rows, Row{
				CodeOffset: int(entry.Address - low),
				OpIndex:    entry.Line,
			})
		}
	}
}
