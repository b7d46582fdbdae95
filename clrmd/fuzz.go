// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// +build gofuzz

package clrmd

// Fuzz is the go-fuzz entry point for the method-body header parser and
// the token round-trip through CompressToken/DecompressToken. It mirrors
// the teacher's own single-function fuzz.go shape: feed the whole input
// to the header parser and, separately, to the coded-index decoder, and
// return 1 whenever either path produced
// something a later corpus generation should keep exploring from.
func Fuzz(data []byte) int {
	interesting := 0

	if len(data) > 0 {
		if hdr, code, err := ParseMethodHeader(data); err == nil {
			_ = hdr
			_ = code
			interesting = 1
		}
	}

	if tok, n, ok := DecompressToken(data); ok {
		if out := CompressToken(tok); len(out) == n {
			interesting = 1
		}
	}

	return interesting
}
