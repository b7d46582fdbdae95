// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package clrmd

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tinyBody(code []byte) []byte {
	body := make([]byte, 1+len(code))
	body[0] = byte(len(code)<<2) | CorILMethodTinyFormat
	copy(body[1:], code)
	return body
}

func fatBody(flags uint16, maxStack uint16, localsSig uint32, code []byte) []byte {
	body := make([]byte, fatHeaderSize+len(code))
	binary.LittleEndian.PutUint16(body[0:2], flags)
	binary.LittleEndian.PutUint16(body[2:4], maxStack)
	binary.LittleEndian.PutUint32(body[4:8], uint32(len(code)))
	binary.LittleEndian.PutUint32(body[8:12], localsSig)
	copy(body[fatHeaderSize:], code)
	return body
}

func TestParseMethodHeaderTiny(t *testing.T) {
	code := []byte{0x00, 0x2A, 0x00}
	hdr, got, err := ParseMethodHeader(tinyBody(code))
	require.NoError(t, err)
	assert.True(t, hdr.Tiny)
	assert.EqualValues(t, 8, hdr.MaxStack)
	assert.EqualValues(t, len(code), hdr.CodeSize)
	assert.Equal(t, code, got)
}

func TestParseMethodHeaderFatNoInitLocals(t *testing.T) {
	code := []byte{0x00, 0x00, 0x00, 0x00, 0x2A}
	flags := uint16(3<<12) | CorILMethodFatFormat
	hdr, got, err := ParseMethodHeader(fatBody(flags, 8, 0, code))
	require.NoError(t, err)
	assert.False(t, hdr.Tiny)
	assert.False(t, hdr.InitLocals)
	assert.EqualValues(t, 8, hdr.MaxStack)
	assert.Equal(t, code, got)
}

func TestParseMethodHeaderFatInitLocals(t *testing.T) {
	flags := uint16(3<<12) | CorILMethodFatFormat | CorILMethodInitLocals
	hdr, _, err := ParseMethodHeader(fatBody(flags, 2, 0x1100000B, []byte{0x2A}))
	require.NoError(t, err)
	assert.True(t, hdr.InitLocals)
	assert.EqualValues(t, 0x1100000B, hdr.LocalsSignature)
}

func TestParseMethodHeaderRejectsMoreSects(t *testing.T) {
	flags := uint16(3<<12) | CorILMethodFatFormat | CorILMethodMoreSects
	_, _, err := ParseMethodHeader(fatBody(flags, 8, 0, []byte{0x2A}))
	assert.ErrorIs(t, err, ErrHasExceptionSections)
}

func TestParseMethodHeaderTooShort(t *testing.T) {
	_, _, err := ParseMethodHeader(nil)
	assert.ErrorIs(t, err, ErrBodyTooShort)

	_, _, err = ParseMethodHeader(tinyBody([]byte{0x2A, 0x2A})[:2])
	assert.ErrorIs(t, err, ErrBodyTooShort)
}

func testTokens() TokenSet {
	return TokenSet{
		LoadFrom:       NewToken(MemberRef, 1),
		CreateInstance: NewToken(MemberRef, 2),
		Exception:      NewToken(TypeRef, 3),
		PathString:     Token(0x70000001),
		TypeString:     Token(0x70000002),
	}
}

func TestRewriteTinyBody(t *testing.T) {
	orig := tinyBody([]byte{0x00, 0x2A}) // nop, ret
	out, err := Rewrite(orig, testTokens())
	require.NoError(t, err)

	// The rewritten body carries MoreSects, which ParseMethodHeader
	// rejects, so its fat header is read field by field here.
	_, _, err = ParseMethodHeader(out)
	require.ErrorIs(t, err, ErrHasExceptionSections)
	flags := binary.LittleEndian.Uint16(out[0:2])
	maxStack := binary.LittleEndian.Uint16(out[2:4])
	codeSize := binary.LittleEndian.Uint32(out[4:8])
	assert.EqualValues(t, CorILMethodFatFormat, flags&corILMethodFormatMask)
	assert.EqualValues(t, injectionPrologueSize+2, codeSize)
	assert.GreaterOrEqual(t, maxStack, uint16(2))
	assert.Zero(t, flags&CorILMethodInitLocals)

	code := out[fatHeaderSize : fatHeaderSize+codeSize]
	assert.Equal(t, byte(ilLdstr), code[0])
	assert.Equal(t, code[injectionPrologueSize:], []byte{0x00, 0x2A})

	assert.NotZero(t, flags&CorILMethodMoreSects)

	total := len(out)
	ehSection := out[total-ehSectionSize:]
	assert.Equal(t, byte(CorILMethodSectEHTable|CorILMethodSectFatFormat), ehSection[0])
}

func TestRewritePreservesInitLocals(t *testing.T) {
	flags := uint16(3<<12) | CorILMethodFatFormat | CorILMethodInitLocals
	orig := fatBody(flags, 1, 0x1100000B, []byte{0x2A})

	out, err := Rewrite(orig, testTokens())
	require.NoError(t, err)

	newFlags := binary.LittleEndian.Uint16(out[0:2])
	assert.NotZero(t, newFlags&CorILMethodInitLocals)

	localsSig := binary.LittleEndian.Uint32(out[8:12])
	assert.EqualValues(t, 0x1100000B, localsSig)
}

func TestRewriteRejectsExistingEHSections(t *testing.T) {
	flags := uint16(3<<12) | CorILMethodFatFormat | CorILMethodMoreSects
	orig := fatBody(flags, 8, 0, []byte{0x2A})

	_, err := Rewrite(orig, testTokens())
	assert.ErrorIs(t, err, ErrHasExceptionSections)
}

func TestTokenSetEmpty(t *testing.T) {
	var empty TokenSet
	assert.True(t, empty.Empty())
	assert.False(t, testTokens().Empty())
}
