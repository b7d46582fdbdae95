// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package clrmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeUTF16NulTerminated(t *testing.T) {
	got := EncodeUTF16("Hi")
	assert.Equal(t, []uint16{'H', 'i', 0}, got)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []string{"", "System.Object", "Uprooted.Hook.Entry"}
	for _, s := range cases {
		got := DecodeUTF16(EncodeUTF16(s))
		assert.Equal(t, s, got)
	}
}

func TestDecodeUTF16StopsAtNul(t *testing.T) {
	buf := []uint16{'a', 'b', 0, 'c'}
	assert.Equal(t, "ab", DecodeUTF16(buf))
}

func TestDecodeUTF16EmptyBuffer(t *testing.T) {
	assert.Equal(t, "", DecodeUTF16(nil))
}
