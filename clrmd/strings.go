// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package clrmd

import "golang.org/x/text/encoding/unicode"

// utf16Codec is shared by EncodeUTF16/DecodeUTF16: every metadata API
// name and user string is UTF-16LE on the wire, regardless of the host
// platform's native wide-char width (spec.md §9).
var utf16Codec = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// EncodeUTF16 returns a NUL-terminated UTF-16LE encoding of s, the
// layout every WCHAR* metadata parameter expects.
func EncodeUTF16(s string) []uint16 {
	b, err := utf16Codec.NewEncoder().Bytes([]byte(s))
	if err != nil {
		b = nil
	}
	out := make([]uint16, len(b)/2+1)
	for i := 0; i+1 < len(b); i += 2 {
		out[i/2] = uint16(b[i]) | uint16(b[i+1])<<8
	}
	return out
}

// DecodeUTF16 decodes a NUL-terminated UTF-16LE buffer, as returned by
// GetTypeRefProps/GetModuleInfo and similar host calls, into a UTF-8 Go
// string.
func DecodeUTF16(buf []uint16) string {
	n := 0
	for n < len(buf) && buf[n] != 0 {
		n++
	}

	b := make([]byte, 2*n)
	for i := 0; i < n; i++ {
		b[2*i] = byte(buf[i])
		b[2*i+1] = byte(buf[i] >> 8)
	}

	out, err := utf16Codec.NewDecoder().Bytes(b)
	if err != nil {
		return string(out)
	}
	return string(out)
}
