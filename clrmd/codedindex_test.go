// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package clrmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompressTokenOneByte(t *testing.T) {
	got := CompressToken(NewToken(TypeRef, 0x1F))
	assert.Equal(t, []byte{0x7D}, got)
}

func TestCompressTokenTwoByte(t *testing.T) {
	got := CompressToken(NewToken(TypeRef, 0x20))
	assert.Equal(t, []byte{0x80, 0x81}, got)
}

func TestCompressTokenFourByte(t *testing.T) {
	got := CompressToken(NewToken(TypeSpec, 0x1000))
	assert.Equal(t, []byte{0xC0, 0x00, 0x40, 0x02}, got)
}

func TestTokenRoundTrip(t *testing.T) {
	cases := []Token{
		NewToken(TypeDef, 1),
		NewToken(TypeRef, 0x20),
		NewToken(TypeSpec, 0x1000),
		NewToken(TypeRef, 0x3FFF>>2 + 1),
	}

	for _, want := range cases {
		buf := CompressToken(want)
		got, n, ok := DecompressToken(buf)
		assert.True(t, ok)
		assert.Equal(t, len(buf), n)
		assert.Equal(t, want.Table(), got.Table())
		assert.Equal(t, want.RID(), got.RID())
	}
}

func TestDecompressTokenEmptyBuffer(t *testing.T) {
	_, _, ok := DecompressToken(nil)
	assert.False(t, ok)
}

func TestTableNameKnownAndUnknown(t *testing.T) {
	assert.Equal(t, "TypeRef", TableName(TypeRef))
	assert.Equal(t, "", TableName(0x7F))
}
