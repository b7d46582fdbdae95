// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	mmap "github.com/edsrzf/mmap-go"
)

// peFile is a thin, read-only view over an assembly's PE container: just
// enough header and section-table parsing to locate the COM+ 2.0 (CLR)
// data directory and its COR20 header. It does not parse resources,
// imports, relocations or any other directory a profiling plug-in never
// touches.
type peFile struct {
	data mmap.MMap
	f    *os.File

	is64         bool
	sectionTable []peSection
	clrDirRVA    uint32
	clrDirSize   uint32
}

type peSection struct {
	virtualAddress uint32
	virtualSize    uint32
	rawOffset      uint32
	rawSize        uint32
}

var (
	errNotPE       = errors.New("uprootedctl: not a PE image")
	errNoCLRHeader = errors.New("uprootedctl: image has no CLR (COM+ 2.0) data directory")
	errOutOfBounds = errors.New("uprootedctl: offset outside file bounds")
)

const imageDirCLREntry = 14 // IMAGE_DIRECTORY_ENTRY_COMHEADER

func openPEFile(path string) (*peFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, err
	}

	pf := &peFile{data: data, f: f}
	if err := pf.parseHeaders(); err != nil {
		pf.Close()
		return nil, err
	}
	return pf, nil
}

func (pf *peFile) Close() error {
	if pf.data != nil {
		_ = pf.data.Unmap()
	}
	if pf.f != nil {
		return pf.f.Close()
	}
	return nil
}

func (pf *peFile) readAt(off, size uint32) ([]byte, error) {
	if uint64(off)+uint64(size) > uint64(len(pf.data)) {
		return nil, errOutOfBounds
	}
	return pf.data[off : off+size], nil
}

// parseHeaders walks just enough of the DOS/NT/section headers to find the
// CLR data directory's RVA and size, and to build an RVA-to-file-offset
// section table.
func (pf *peFile) parseHeaders() error {
	if len(pf.data) < 0x40 {
		return errNotPE
	}
	if pf.data[0] != 'M' || pf.data[1] != 'Z' {
		return errNotPE
	}

	lfanew := binary.LittleEndian.Uint32(pf.data[0x3C:0x40])
	if uint64(lfanew)+24 > uint64(len(pf.data)) {
		return errNotPE
	}

	ntSig, err := pf.readAt(lfanew, 4)
	if err != nil {
		return err
	}
	if string(ntSig) != "PE\x00\x00" {
		return errNotPE
	}

	fileHeaderOff := lfanew + 4
	numberOfSections := binary.LittleEndian.Uint16(pf.data[fileHeaderOff+2 : fileHeaderOff+4])
	sizeOfOptionalHeader := binary.LittleEndian.Uint16(pf.data[fileHeaderOff+16 : fileHeaderOff+18])

	optHeaderOff := fileHeaderOff + 20
	if optHeaderOff+2 > uint32(len(pf.data)) {
		return errNotPE
	}
	magic := binary.LittleEndian.Uint16(pf.data[optHeaderOff : optHeaderOff+2])
	pf.is64 = magic == 0x20b // PE32+

	// The data directory count and array sit at a fixed offset from the
	// optional header start that differs between PE32 and PE32+.
	var dataDirOff uint32
	if pf.is64 {
		dataDirOff = optHeaderOff + 112
	} else {
		dataDirOff = optHeaderOff + 96
	}

	clrEntryOff := dataDirOff + uint32(imageDirCLREntry)*8
	if clrEntryOff+8 > uint32(len(pf.data)) {
		return errNotPE
	}
	pf.clrDirRVA = binary.LittleEndian.Uint32(pf.data[clrEntryOff : clrEntryOff+4])
	pf.clrDirSize = binary.LittleEndian.Uint32(pf.data[clrEntryOff+4 : clrEntryOff+8])

	sectionTableOff := optHeaderOff + uint32(sizeOfOptionalHeader)
	pf.sectionTable = make([]peSection, 0, numberOfSections)
	const sectionHeaderSize = 40
	for i := uint16(0); i < numberOfSections; i++ {
		off := sectionTableOff + uint32(i)*sectionHeaderSize
		row, err := pf.readAt(off, sectionHeaderSize)
		if err != nil {
			break
		}
		pf.sectionTable = append(pf.sectionTable, peSection{
			virtualSize:    binary.LittleEndian.Uint32(row[8:12]),
			virtualAddress: binary.LittleEndian.Uint32(row[12:16]),
			rawSize:        binary.LittleEndian.Uint32(row[16:20]),
			rawOffset:      binary.LittleEndian.Uint32(row[20:24]),
		})
	}

	return nil
}

// rvaToOffset translates a relative virtual address to a file offset using
// the section table, the way a loader would.
func (pf *peFile) rvaToOffset(rva uint32) (uint32, error) {
	for _, s := range pf.sectionTable {
		if rva >= s.virtualAddress && rva < s.virtualAddress+s.virtualSize {
			return s.rawOffset + (rva - s.virtualAddress), nil
		}
	}
	return 0, fmt.Errorf("uprootedctl: rva 0x%x not covered by any section", rva)
}

// cor20Header is the CLR 2.0 header (ECMA-335 II.25.3.3), trimmed to the
// fields inspect actually reports.
type cor20Header struct {
	Cb                   uint32
	MajorRuntimeVersion  uint16
	MinorRuntimeVersion  uint16
	MetaDataRVA          uint32
	MetaDataSize         uint32
	Flags                uint32
	EntryPointRVAorToken uint32
}

func (pf *peFile) readCOR20Header() (cor20Header, error) {
	if pf.clrDirRVA == 0 {
		return cor20Header{}, errNoCLRHeader
	}
	off, err := pf.rvaToOffset(pf.clrDirRVA)
	if err != nil {
		return cor20Header{}, err
	}
	raw, err := pf.readAt(off, 72)
	if err != nil {
		return cor20Header{}, err
	}
	return cor20Header{
		Cb:                   binary.LittleEndian.Uint32(raw[0:4]),
		MajorRuntimeVersion:  binary.LittleEndian.Uint16(raw[4:6]),
		MinorRuntimeVersion:  binary.LittleEndian.Uint16(raw[6:8]),
		MetaDataRVA:          binary.LittleEndian.Uint32(raw[8:12]),
		MetaDataSize:         binary.LittleEndian.Uint32(raw[12:16]),
		Flags:                binary.LittleEndian.Uint32(raw[16:20]),
		EntryPointRVAorToken: binary.LittleEndian.Uint32(raw[20:24]),
	}, nil
}

// metadataRootSignature reads the BSJB magic at the start of the metadata
// root, confirming the CLR directory actually points at a metadata stream.
func (pf *peFile) metadataRootSignature() (uint32, error) {
	off, err := pf.rvaToOffset(pf.clrDirRVA)
	if err != nil {
		return 0, err
	}
	cor20, err := pf.readCOR20Header()
	if err != nil {
		return 0, err
	}
	mdOff, err := pf.rvaToOffset(cor20.MetaDataRVA)
	if err != nil {
		return 0, err
	}
	_ = off
	raw, err := pf.readAt(mdOff, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(raw), nil
}
