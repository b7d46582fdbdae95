// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package clrmd

import (
	"encoding/binary"
	"errors"
)

// CorILMethod_* name the low bits of a fat header's Flags word.
//
// ECMA-335 II.25.4.
const (
	CorILMethodTinyFormat = 0x02
	CorILMethodFatFormat  = 0x03
	CorILMethodMoreSects  = 0x08
	CorILMethodInitLocals = 0x10

	// corILMethodFormatMask isolates the 2-bit format selector that lives
	// in both the tiny header's only byte and the fat header's Flags word.
	corILMethodFormatMask = 0x03
)

// CorILMethodSect_* name the low bits of an exception-section header byte.
//
// ECMA-335 II.25.4.5.
const (
	CorILMethodSectEHTable   = 0x01
	CorILMethodSectFatFormat = 0x40
)

// fatHeaderSize is the size in bytes of a fat method-body header.
const fatHeaderSize = 12

// ehSectionSize is the size in bytes of a single-clause fat exception
// section: a 4-byte section header plus one 24-byte fat clause.
const ehSectionSize = 4 + 24

// injectionPrologueSize is the size in bytes of the IL prologue the
// rewriter prefixes to the original method body (spec.md §4.6).
const injectionPrologueSize = 26

// ErrHasExceptionSections is returned when a method body already carries
// a MoreSects trailer; rewriting such a body is out of scope (spec.md §1).
var ErrHasExceptionSections = errors.New("clrmd: method body already has exception-handling sections")

// ErrBodyTooShort is returned when a method body's declared header does
// not fit in the bytes actually supplied.
var ErrBodyTooShort = errors.New("clrmd: method body shorter than its header declares")

// MethodHeader is the parsed form of a tiny or fat method-body header
// (spec.md §3 "Method body (original)").
type MethodHeader struct {
	Tiny            bool
	MaxStack        uint16
	CodeSize        uint32
	LocalsSignature uint32
	// InitLocals is only meaningful when !Tiny; tiny bodies never set it.
	InitLocals bool
	// headerLen is the number of bytes the header itself occupies
	// (1 for tiny, 12 for fat); code starts immediately after.
	headerLen uint32
}

// ParseMethodHeader reads a method body's header, tiny or fat, the way
// DoInjectIL in original_source/tools/uprooted_profiler_linux.c does.
//
// It returns ErrHasExceptionSections for a fat header carrying MoreSects,
// since the rewriter never targets a method that already has
// exception-handling regions (spec.md §1 Non-goals).
func ParseMethodHeader(body []byte) (MethodHeader, []byte, error) {
	if len(body) < 1 {
		return MethodHeader{}, nil, ErrBodyTooShort
	}

	if body[0]&corILMethodFormatMask == CorILMethodTinyFormat {
		codeSize := uint32(body[0] >> 2)
		if uint32(len(body)) < 1+codeSize {
			return MethodHeader{}, nil, ErrBodyTooShort
		}
		h := MethodHeader{
			Tiny:      true,
			MaxStack:  8,
			CodeSize:  codeSize,
			headerLen: 1,
		}
		return h, body[1 : 1+codeSize], nil
	}

	if len(body) < fatHeaderSize {
		return MethodHeader{}, nil, ErrBodyTooShort
	}

	flags := binary.LittleEndian.Uint16(body[0:2])
	maxStack := binary.LittleEndian.Uint16(body[2:4])
	codeSize := binary.LittleEndian.Uint32(body[4:8])
	localsSig := binary.LittleEndian.Uint32(body[8:12])

	if flags&CorILMethodMoreSects != 0 {
		return MethodHeader{}, nil, ErrHasExceptionSections
	}

	if uint32(len(body)) < fatHeaderSize+codeSize {
		return MethodHeader{}, nil, ErrBodyTooShort
	}

	h := MethodHeader{
		Tiny:            false,
		MaxStack:        maxStack,
		CodeSize:        codeSize,
		LocalsSignature: localsSig,
		InitLocals:      flags&CorILMethodInitLocals != 0,
		headerLen:       fatHeaderSize,
	}
	return h, body[fatHeaderSize : fatHeaderSize+codeSize], nil
}

// IL opcodes the prologue emits (spec.md §4.6 table).
const (
	ilLdstr    = 0x72
	ilCall     = 0x28
	ilCallvirt = 0x6F
	ilPop      = 0x26
	ilLeaveS   = 0xDE
)

// buildPrologue lays out the 26-byte exception-guarded prologue described
// in spec.md §4.6: load the payload path, call LoadFrom, load the entry
// type name, call CreateInstance, pop the result, and leave into the
// original code; the catch handler just pops the exception and leaves
// into the same place.
func buildPrologue(pathString, loadFrom, typeString, createInstance Token) []byte {
	p := make([]byte, injectionPrologueSize)
	off := 0

	writeOp := func(op byte, tok Token) {
		p[off] = op
		binary.LittleEndian.PutUint32(p[off+1:off+5], uint32(tok))
		off += 5
	}

	writeOp(ilLdstr, pathString)
	writeOp(ilCall, loadFrom)
	writeOp(ilLdstr, typeString)
	writeOp(ilCallvirt, createInstance)

	p[off] = ilPop
	off++

	p[off] = ilLeaveS
	p[off+1] = 3
	off += 2

	p[off] = ilPop
	off++

	p[off] = ilLeaveS
	p[off+1] = 0
	off += 2

	return p
}

// TokenSet is the five tokens the surgeon prepares and the rewriter
// consumes (spec.md §3 "Prepared token set").
type TokenSet struct {
	LoadFrom       Token
	CreateInstance Token
	Exception      Token
	PathString     Token
	TypeString     Token
}

// Empty reports whether the token set has not been populated. Per spec.md
// §3's session invariant, a non-empty token set implies a chosen target
// module, and vice versa.
func (t TokenSet) Empty() bool {
	return t == TokenSet{}
}

// Rewrite synthesizes the new fat-format method body described in
// spec.md §4.6: a 12-byte fat header, the 26-byte prologue, the original
// code bytes, 0-3 padding bytes, and a single-clause fat exception
// section, in that order.
//
// Grounded byte-for-byte on DoInjectIL() in
// original_source/tools/uprooted_profiler_linux.c.
func Rewrite(orig []byte, tokens TokenSet) ([]byte, error) {
	hdr, code, err := ParseMethodHeader(orig)
	if err != nil {
		return nil, err
	}

	prologue := buildPrologue(tokens.PathString, tokens.LoadFrom, tokens.TypeString, tokens.CreateInstance)

	newCodeSize := uint32(injectionPrologueSize) + hdr.CodeSize
	newMaxStack := hdr.MaxStack
	if newMaxStack < 2 {
		newMaxStack = 2
	}

	codeEnd := uint32(fatHeaderSize) + newCodeSize
	ehPadding := (4 - codeEnd%4) % 4
	totalSize := codeEnd + ehPadding + ehSectionSize

	buf := make([]byte, totalSize)

	fatFlags := uint16(3<<12) | CorILMethodFatFormat | CorILMethodMoreSects
	if hdr.InitLocals {
		fatFlags |= CorILMethodInitLocals
	}

	binary.LittleEndian.PutUint16(buf[0:2], fatFlags)
	binary.LittleEndian.PutUint16(buf[2:4], newMaxStack)
	binary.LittleEndian.PutUint32(buf[4:8], newCodeSize)
	binary.LittleEndian.PutUint32(buf[8:12], hdr.LocalsSignature)

	copy(buf[fatHeaderSize:], prologue)
	copy(buf[fatHeaderSize+injectionPrologueSize:], code)

	ehOffset := codeEnd + ehPadding
	buf[ehOffset] = CorILMethodSectEHTable | CorILMethodSectFatFormat
	putUint24LE(buf[ehOffset+1:ehOffset+4], ehSectionSize)

	clause := buf[ehOffset+4:]
	binary.LittleEndian.PutUint32(clause[0:4], 0) // catch clause by class
	binary.LittleEndian.PutUint32(clause[4:8], 0) // tryOffset
	binary.LittleEndian.PutUint32(clause[8:12], 23)
	binary.LittleEndian.PutUint32(clause[12:16], 23) // handlerOffset
	binary.LittleEndian.PutUint32(clause[16:20], 3)
	binary.LittleEndian.PutUint32(clause[20:24], uint32(tokens.Exception))

	return buf, nil
}

func putUint24LE(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
}
