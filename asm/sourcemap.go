// Copyright 2014-2018 Brett Vickers. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package asm

import (
	"cmp"
	"slices"
)

// A SourceMap describes the mapping between source code line numbers and
// assembly code addresses.
//
// This module has no execution or debugger surface (spec §1 Non-goals),
// so unlike the teacher's original SourceMap there is no on-disk
// serialization here: Engine accumulates Lines and Exports directly
// (see Engine.Map and Engine.Export) and nothing reads the result back
// in, so Find/Merge/ReadFrom/WriteTo and their varint codec are not
// carried over.
type SourceMap struct {
	Origin  uint16
	Size    uint32
	CRC     uint32
	Files   []string
	Lines   []SourceLine
	Exports []Export
}

// A SourceLine represents a mapping between a machine code address and
// the source code file and line number used to generate it.
type SourceLine struct {
	Address   int // Machine code address
	FileIndex int // Source code file index
	Line      int // Source code line number
}

func sortExports(exports []Export) []Export {
	cmp := func(a, b Export) int {
		return cmp.Compare(a.Address, b.Address)
	}
	slices.SortFunc(exports, cmp)
	return exports
}
