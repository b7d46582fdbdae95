// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package clrmd

// codedIndex describes one of ECMA-335's coded index families: a set of
// tables that share an index slot, disambiguated by a small tag packed
// into the index's low bits. Only TypeDefOrRef is needed by this plug-in
// (TypeDef -> 0, TypeRef -> 1, TypeSpec -> 2), but the shape mirrors the
// teacher's own codedidx table in dotnet_helper.go so a new family can be
// added the same way.
type codedIndex struct {
	tagBits uint8
	tables  []int
}

// TypeDefOrRef is the coded index family used by TypeDef.Extends and by
// the Assembly type reference's coded-index operand in the LoadFrom
// signature blob (spec.md §4.4).
var TypeDefOrRef = codedIndex{tagBits: 2, tables: []int{TypeDef, TypeRef, TypeSpec}}

// tag returns the small integer tag a table is assigned within this coded
// index family, or -1 if the table does not belong to the family.
func (c codedIndex) tag(table int) int {
	for i, t := range c.tables {
		if t == table {
			return i
		}
	}
	return -1
}

// table recovers the table index from a tag within this coded index family.
func (c codedIndex) table(tag int) (int, bool) {
	if tag < 0 || tag >= len(c.tables) {
		return 0, false
	}
	return c.tables[tag], true
}

// CompressToken packs a metadata token into the variable-length coded
// TypeDefOrRef index used by the LoadFrom member-ref signature: the row
// id is shifted left by the family's tag-bit width and OR'd with the
// table's tag, then encoded 1, 2, or 4 bytes wide depending on magnitude.
//
// Grounded byte-for-byte on CompressToken() in
// original_source/tools/uprooted_profiler_linux.c.
func CompressToken(tok Token) []byte {
	tag := TypeDefOrRef.tag(tok.Table())
	if tag < 0 {
		// Signatures emitted by this plug-in only ever reference TypeDef,
		// TypeRef or TypeSpec rows; anything else is a caller bug.
		tag = 2
	}

	coded := (tok.RID() << 2) | uint32(tag)

	switch {
	case coded < 0x80:
		return []byte{byte(coded)}
	case coded < 0x4000:
		return []byte{
			byte(0x80 | (coded >> 8)),
			byte(coded & 0xFF),
		}
	default:
		return []byte{
			byte(0xC0 | ((coded >> 24) & 0x1F)),
			byte((coded >> 16) & 0xFF),
			byte((coded >> 8) & 0xFF),
			byte(coded & 0xFF),
		}
	}
}

// DecompressToken is the inverse of CompressToken: given the encoded
// bytes, it returns the decoded token and the number of bytes consumed.
// It exists primarily to let tests and the fuzzer assert the round-trip
// property (spec.md §8 P6).
func DecompressToken(buf []byte) (Token, int, bool) {
	if len(buf) == 0 {
		return 0, 0, false
	}

	var coded uint32
	var n int
	switch {
	case buf[0]&0x80 == 0:
		coded = uint32(buf[0])
		n = 1
	case buf[0]&0xC0 == 0x80:
		if len(buf) < 2 {
			return 0, 0, false
		}
		coded = uint32(buf[0]&0x3F)<<8 | uint32(buf[1])
		n = 2
	default:
		if len(buf) < 4 {
			return 0, 0, false
		}
		coded = uint32(buf[0]&0x1F)<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])
		n = 4
	}

	tag := int(coded & 0x3)
	rid := coded >> 2
	table, ok := TypeDefOrRef.table(tag)
	if !ok {
		return 0, 0, false
	}
	return NewToken(table, rid), n, true
}
