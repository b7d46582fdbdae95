// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package hostabi

import "fmt"

// GUID is the 16-byte COM identifier layout CoreCLR uses for CLSIDs and
// IIDs: a little-endian Data1/Data2/Data3 triple followed by 8 raw bytes.
type GUID struct {
	Data1 uint32
	Data2 uint16
	Data3 uint16
	Data4 [8]byte
}

// Equal reports whether two GUIDs name the same identifier.
func (g GUID) Equal(other GUID) bool {
	return g == other
}

func (g GUID) String() string {
	return fmt.Sprintf("{%08X-%04X-%04X-%02X%02X-%02X%02X%02X%02X%02X%02X}",
		g.Data1, g.Data2, g.Data3,
		g.Data4[0], g.Data4[1], g.Data4[2], g.Data4[3],
		g.Data4[4], g.Data4[5], g.Data4[6], g.Data4[7])
}

// CLSIDUprootedProfiler and the IID_* identifiers are the COM interface
// identities the host queries for. Values are grounded on the MYGUID
// constants in original_source/tools/uprooted_profiler_linux.c.
var (
	CLSIDUprootedProfiler = GUID{0x4A2B8C1D, 0x3E5F, 0x4A7B, [8]byte{0x9C, 0x1D, 0x2E, 0x3F, 0x4A, 0x5B, 0x6C, 0x7D}}

	IIDIUnknown      = GUID{0x00000000, 0x0000, 0x0000, [8]byte{0xC0, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x46}}
	IIDIClassFactory = GUID{0x00000001, 0x0000, 0x0000, [8]byte{0xC0, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x46}}

	IIDICorProfilerCallback = GUID{0x176FBED1, 0xA55C, 0x4796, [8]byte{0x98, 0xCA, 0xA9, 0xDA, 0x0E, 0xF8, 0x83, 0xE7}}
	IIDICorProfilerInfo     = GUID{0x28B5557D, 0x3F3F, 0x48B4, [8]byte{0x90, 0xB4, 0x24, 0xE1, 0x3F, 0xD1, 0x80, 0xB7}}
	IIDIMetaDataImport      = GUID{0x7DAC8207, 0xD3AE, 0x4C75, [8]byte{0x9B, 0x67, 0x92, 0x80, 0x1A, 0x49, 0x7D, 0x44}}
	IIDIMetaDataEmit        = GUID{0xBA3FEE4C, 0xECB9, 0x4E41, [8]byte{0x83, 0xB7, 0x18, 0x3F, 0xA4, 0x1C, 0xD8, 0x59}}
)

// isCorProfilerCallbackFamily reports whether riid names any version of
// ICorProfilerCallback this plug-in answers to. original_source accepts
// ICorProfilerCallback through ICorProfilerCallback11; this module only
// implements the callback1-level surface, but QueryInterface still needs
// to recognize every version the host might probe for so version
// negotiation does not fail outright.
func isCorProfilerCallbackFamily(riid GUID) bool {
	return riid.Equal(IIDICorProfilerCallback)
}

// SupportsInterface reports whether the class this plug-in implements
// answers to riid: IUnknown or any ICorProfilerCallback version.
func SupportsInterface(riid GUID) bool {
	return riid.Equal(IIDIUnknown) || isCorProfilerCallbackFamily(riid)
}
