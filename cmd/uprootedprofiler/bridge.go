// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

/*
#include <stdint.h>
#include <stdlib.h>
#include <string.h>

typedef int32_t  HRESULT;
typedef uint32_t DWORD;
typedef uint32_t ULONG;
typedef uint16_t WCHAR;
typedef uint8_t  BYTE;
typedef uintptr_t UINT_PTR;

typedef struct { uint32_t a; uint16_t b; uint16_t c; uint8_t d[8]; } MYGUID;

// Every COM-style object this module hands out is a vtable pointer
// followed by an opaque Go handle, matching the "vtable pointer is the
// object's first field" layout original_source relies on throughout.
typedef struct {
	void**   vtbl;
	uintptr_t handle;
} ComObject;

static uintptr_t comobj_handle(void* self) {
	return ((ComObject*)self)->handle;
}

// --- ICorProfilerInfo call shims -------------------------------------------
//
// cgo cannot invoke a raw C function pointer from Go directly; each slot
// call needs a small typed shim, the same role original_source's local
// typedef+cast pattern plays in C.

typedef HRESULT (*SetEventMaskFn)(void*, DWORD);
static HRESULT call_SetEventMask(void** vt, void* self, DWORD mask) {
	return ((SetEventMaskFn)vt[16])(self, mask);
}

typedef HRESULT (*GetModuleInfoFn)(void*, UINT_PTR, BYTE**, ULONG, ULONG*, WCHAR*, UINT_PTR*);
static HRESULT call_GetModuleInfo(void** vt, void* self, UINT_PTR moduleID,
		ULONG cchName, ULONG* pcchName, WCHAR* szName, UINT_PTR* pAssemblyID) {
	return ((GetModuleInfoFn)vt[20])(self, moduleID, NULL, cchName, pcchName, szName, pAssemblyID);
}

typedef HRESULT (*GetModuleMetaDataFn)(void*, UINT_PTR, DWORD, const MYGUID*, void**);
static HRESULT call_GetModuleMetaData(void** vt, void* self, UINT_PTR moduleID,
		DWORD openFlags, const MYGUID* riid, void** ppOut) {
	return ((GetModuleMetaDataFn)vt[21])(self, moduleID, openFlags, riid, ppOut);
}

typedef HRESULT (*GetILFunctionBodyFn)(void*, UINT_PTR, unsigned int, BYTE**, ULONG*);
static HRESULT call_GetILFunctionBody(void** vt, void* self, UINT_PTR moduleID,
		unsigned int methodDef, BYTE** ppBody, ULONG* pcbSize) {
	return ((GetILFunctionBodyFn)vt[22])(self, moduleID, methodDef, ppBody, pcbSize);
}

typedef HRESULT (*GetILFunctionBodyAllocatorFn)(void*, UINT_PTR, void**);
static HRESULT call_GetILFunctionBodyAllocator(void** vt, void* self, UINT_PTR moduleID, void** ppMalloc) {
	return ((GetILFunctionBodyAllocatorFn)vt[23])(self, moduleID, ppMalloc);
}

typedef BYTE* (*AllocFn)(void*, ULONG);
static BYTE* call_Alloc(void* pMalloc, ULONG cb) {
	void** mallocVt = *(void***)pMalloc;
	return ((AllocFn)mallocVt[3])(pMalloc, cb);
}

typedef HRESULT (*SetILFunctionBodyFn)(void*, UINT_PTR, unsigned int, BYTE*);
static HRESULT call_SetILFunctionBody(void** vt, void* self, UINT_PTR moduleID,
		unsigned int methodDef, BYTE* pbNewBody) {
	return ((SetILFunctionBodyFn)vt[24])(self, moduleID, methodDef, pbNewBody);
}

typedef HRESULT (*GetFunctionInfoFn)(void*, UINT_PTR, UINT_PTR*, UINT_PTR*, unsigned int*);
static HRESULT call_GetFunctionInfo(void** vt, void* self, UINT_PTR functionID,
		UINT_PTR* pClassID, UINT_PTR* pModuleID, unsigned int* pToken) {
	return ((GetFunctionInfoFn)vt[15])(self, functionID, pClassID, pModuleID, pToken);
}

// call_QueryInterface is the generic IUnknown::QueryInterface shim, used
// once up front in Prof_Initialize to turn the IUnknown the host hands
// in into an ICorProfilerInfo pointer, the same cast original_source
// performs through unkVtable[0].
typedef HRESULT (*QIFn)(void*, const MYGUID*, void**);
static HRESULT call_QueryInterface(void* unk, const MYGUID* riid, void** ppv) {
	void** vt = *(void***)unk;
	return ((QIFn)vt[0])(unk, riid, ppv);
}

// --- IMetaDataImport call shims ---------------------------------------------

typedef void (*CloseEnumFn)(void*, void*);
static void call_CloseEnum(void** vt, void* self, void* hEnum) {
	((CloseEnumFn)vt[3])(self, hEnum);
}

typedef HRESULT (*EnumTypeRefsFn)(void*, void**, unsigned int*, ULONG, ULONG*);
static HRESULT call_EnumTypeRefs(void** vt, void* self, void** phEnum,
		unsigned int* rTypeRefs, ULONG cMax, ULONG* pcTypeRefs) {
	return ((EnumTypeRefsFn)vt[8])(self, phEnum, rTypeRefs, cMax, pcTypeRefs);
}

typedef HRESULT (*GetTypeRefPropsFn)(void*, unsigned int, unsigned int*, WCHAR*, ULONG, ULONG*);
static HRESULT call_GetTypeRefProps(void** vt, void* self, unsigned int tr,
		unsigned int* ptkResolutionScope, WCHAR* szName, ULONG cchName, ULONG* pchName) {
	return ((GetTypeRefPropsFn)vt[14])(self, tr, ptkResolutionScope, szName, cchName, pchName);
}

typedef HRESULT (*EnumTypeDefsFn)(void*, void**, unsigned int*, ULONG, ULONG*);
static HRESULT call_EnumTypeDefs(void** vt, void* self, void** phEnum,
		unsigned int* rTypeDefs, ULONG cMax, ULONG* pcTypeDefs) {
	return ((EnumTypeDefsFn)vt[6])(self, phEnum, rTypeDefs, cMax, pcTypeDefs);
}

typedef HRESULT (*EnumMethodsFn)(void*, void**, unsigned int, unsigned int*, ULONG, ULONG*);
static HRESULT call_EnumMethods(void** vt, void* self, void** phEnum, unsigned int cl,
		unsigned int* rMethods, ULONG cMax, ULONG* pcTokens) {
	return ((EnumMethodsFn)vt[18])(self, phEnum, cl, rMethods, cMax, pcTokens);
}

typedef HRESULT (*GetMethodPropsFn)(void*, unsigned int, unsigned int*, WCHAR*, ULONG, ULONG*,
		DWORD*, void**, ULONG*, ULONG*, DWORD*);
static HRESULT call_GetMethodProps(void** vt, void* self, unsigned int mb, unsigned int* pClass,
		DWORD* pdwAttr, ULONG* pulCodeRVA, DWORD* pdwImplFlags) {
	return ((GetMethodPropsFn)vt[30])(self, mb, pClass, NULL, 0, NULL,
		pdwAttr, NULL, NULL, pulCodeRVA, pdwImplFlags);
}

typedef HRESULT (*FindTypeRefFn)(void*, unsigned int, const WCHAR*, unsigned int*);
static HRESULT call_FindTypeRef(void** vt, void* self, unsigned int tkResolutionScope,
		const WCHAR* szName, unsigned int* ptr) {
	return ((FindTypeRefFn)vt[55])(self, tkResolutionScope, szName, ptr);
}

// --- IMetaDataEmit call shims -----------------------------------------------

typedef HRESULT (*DefineTypeRefByNameFn)(void*, unsigned int, const WCHAR*, unsigned int*);
static HRESULT call_DefineTypeRefByName(void** vt, void* self, unsigned int tkResolutionScope,
		const WCHAR* szName, unsigned int* ptr) {
	return ((DefineTypeRefByNameFn)vt[12])(self, tkResolutionScope, szName, ptr);
}

typedef HRESULT (*DefineMemberRefFn)(void*, unsigned int, const WCHAR*, const BYTE*, ULONG, unsigned int*);
static HRESULT call_DefineMemberRef(void** vt, void* self, unsigned int tkImport,
		const WCHAR* szName, const BYTE* pvSigBlob, ULONG cbSigBlob, unsigned int* pmr) {
	return ((DefineMemberRefFn)vt[14])(self, tkImport, szName, pvSigBlob, cbSigBlob, pmr);
}

typedef HRESULT (*DefineUserStringFn)(void*, const WCHAR*, ULONG, unsigned int*);
static HRESULT call_DefineUserString(void** vt, void* self, const WCHAR* szString,
		ULONG cchString, unsigned int* pstk) {
	return ((DefineUserStringFn)vt[28])(self, szString, cchString, pstk);
}
*/
import "C"

import (
	"errors"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/umbraprior/uprooted/clrmd"
	"github.com/umbraprior/uprooted/hostabi"
)

var errHostCall = errors.New("uprootedprofiler: host call returned a failing HRESULT")

func hrOK(hr C.HRESULT) bool { return hr == 0 }

// utf16From and utf16ToString delegate to clrmd's UTF-16LE codec, the
// single place this module converts between the metadata APIs' 16-bit
// code units and the UTF-8 strings the rest of the codebase uses.
func utf16From(s string) []uint16       { return clrmd.EncodeUTF16(s) }
func utf16ToString(buf []uint16) string { return clrmd.DecodeUTF16(buf) }

// comProfilerInfo wraps the host's ICorProfilerInfo pointer, implementing
// hostabi.ProfilerInfo by calling through its vtable.
type comProfilerInfo struct {
	ptr unsafe.Pointer
}

func newComProfilerInfo(ptr unsafe.Pointer) *comProfilerInfo {
	return &comProfilerInfo{ptr: ptr}
}

func (p *comProfilerInfo) vtable() **C.void {
	return (**C.void)(unsafe.Pointer(*(*uintptr)(p.ptr)))
}

func (p *comProfilerInfo) SetEventMask(mask uint32) error {
	hr := C.call_SetEventMask((*unsafe.Pointer)(unsafe.Pointer(p.vtable())), p.ptr, C.DWORD(mask))
	if !hrOK(hr) {
		return errHostCall
	}
	return nil
}

func (p *comProfilerInfo) GetModuleInfo(module hostabi.ModuleID) (hostabi.ModuleInfo, error) {
	const bufLen = 512
	name := make([]C.WCHAR, bufLen)
	var nameLen C.ULONG
	var asmID C.UINT_PTR

	hr := C.call_GetModuleInfo((*unsafe.Pointer)(unsafe.Pointer(p.vtable())), p.ptr,
		C.UINT_PTR(module), bufLen, &nameLen, &name[0], &asmID)
	if !hrOK(hr) {
		return hostabi.ModuleInfo{}, errHostCall
	}

	u16 := make([]uint16, bufLen)
	for i, c := range name {
		u16[i] = uint16(c)
	}
	return hostabi.ModuleInfo{ModuleID: module, Name: utf16ToString(u16)}, nil
}

func (p *comProfilerInfo) getMetaData(module hostabi.ModuleID, openFlags uint32, riid hostabi.GUID) (unsafe.Pointer, error) {
	cguid := guidToC(riid)
	var out unsafe.Pointer
	hr := C.call_GetModuleMetaData((*unsafe.Pointer)(unsafe.Pointer(p.vtable())), p.ptr,
		C.UINT_PTR(module), C.DWORD(openFlags), &cguid, &out)
	if !hrOK(hr) || out == nil {
		return nil, errHostCall
	}
	return out, nil
}

// guidToC converts a hostabi.GUID into the layout call_* shims expect.
func guidToC(g hostabi.GUID) C.MYGUID {
	cguid := C.MYGUID{a: C.uint32_t(g.Data1), b: C.uint16_t(g.Data2), c: C.uint16_t(g.Data3)}
	for i, b := range g.Data4 {
		cguid.d[i] = C.uint8_t(b)
	}
	return cguid
}

// guidFromPtr decodes a raw 16-byte MYGUID the host passed as const
// MYGUID* into a hostabi.GUID, without needing the Go/C struct layouts
// to share a named type across translation units.
func guidFromPtr(p unsafe.Pointer) hostabi.GUID {
	b := (*[16]byte)(p)
	return hostabi.GUID{
		Data1: uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24,
		Data2: uint16(b[4]) | uint16(b[5])<<8,
		Data3: uint16(b[6]) | uint16(b[7])<<8,
		Data4: [8]byte{b[8], b[9], b[10], b[11], b[12], b[13], b[14], b[15]},
	}
}

// queryInterfaceRaw calls IUnknown::QueryInterface through unk's own
// vtable slot 0, the step Prof_Initialize uses to exchange the IUnknown
// the host hands in for the real ICorProfilerInfo pointer.
func queryInterfaceRaw(unk unsafe.Pointer, riid hostabi.GUID) (unsafe.Pointer, error) {
	cguid := guidToC(riid)
	var out unsafe.Pointer
	hr := C.call_QueryInterface(unk, &cguid, &out)
	if !hrOK(hr) || out == nil {
		return nil, errHostCall
	}
	return out, nil
}

func (p *comProfilerInfo) GetModuleMetaDataImport(module hostabi.ModuleID) (hostabi.MetadataImport, error) {
	const ofRead = 0x00000000
	ptr, err := p.getMetaData(module, ofRead, hostabi.IIDIMetaDataImport)
	if err != nil {
		return nil, err
	}
	return &comMetadataImport{ptr: ptr}, nil
}

func (p *comProfilerInfo) GetModuleMetaDataEmit(module hostabi.ModuleID) (hostabi.MetadataEmit, error) {
	const ofReadWrite = 0x00000001 | 0x00000002
	ptr, err := p.getMetaData(module, ofReadWrite, hostabi.IIDIMetaDataEmit)
	if err != nil {
		return nil, err
	}
	return &comMetadataEmit{ptr: ptr}, nil
}

func (p *comProfilerInfo) GetFunctionInfo(function hostabi.FunctionID) (hostabi.ModuleID, clrmd.Token, error) {
	var classID, moduleID C.UINT_PTR
	var token C.uint

	hr := C.call_GetFunctionInfo((*unsafe.Pointer)(unsafe.Pointer(p.vtable())), p.ptr,
		C.UINT_PTR(function), &classID, &moduleID, &token)
	if !hrOK(hr) {
		return 0, 0, errHostCall
	}
	return hostabi.ModuleID(moduleID), clrmd.Token(token), nil
}

func (p *comProfilerInfo) GetILFunctionBody(module hostabi.ModuleID, method clrmd.Token) ([]byte, error) {
	var body *C.BYTE
	var size C.ULONG

	hr := C.call_GetILFunctionBody((*unsafe.Pointer)(unsafe.Pointer(p.vtable())), p.ptr,
		C.UINT_PTR(module), C.uint(method), &body, &size)
	if !hrOK(hr) || body == nil || size == 0 {
		return nil, errHostCall
	}
	return C.GoBytes(unsafe.Pointer(body), C.int(size)), nil
}

func (p *comProfilerInfo) AllocateILFunctionBody(module hostabi.ModuleID, size uint32) ([]byte, error) {
	var pMalloc unsafe.Pointer
	hr := C.call_GetILFunctionBodyAllocator((*unsafe.Pointer)(unsafe.Pointer(p.vtable())), p.ptr,
		C.UINT_PTR(module), &pMalloc)
	if !hrOK(hr) || pMalloc == nil {
		return nil, errHostCall
	}

	mem := C.call_Alloc(pMalloc, C.ULONG(size))
	if mem == nil {
		return nil, errHostCall
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(mem)), int(size)), nil
}

func (p *comProfilerInfo) SetILFunctionBody(module hostabi.ModuleID, method clrmd.Token, body []byte) error {
	hr := C.call_SetILFunctionBody((*unsafe.Pointer)(unsafe.Pointer(p.vtable())), p.ptr,
		C.UINT_PTR(module), C.uint(method), (*C.BYTE)(unsafe.Pointer(&body[0])))
	if !hrOK(hr) {
		return errHostCall
	}
	return nil
}

// enumHandles maps the opaque TypeRefEnum/MethodEnum cursor values the
// hostabi interfaces use to the real host hEnum pointers behind them,
// since a Go value type can't carry a raw C pointer across the interface
// boundary. Entries are removed by CloseEnum.
var (
	enumHandles   sync.Map // uint64 -> unsafe.Pointer
	nextEnumToken uint64
)

func newEnumToken() uint64 {
	return atomic.AddUint64(&nextEnumToken, 1)
}

// comMetadataImport implements hostabi.MetadataImport over a host
// IMetaDataImport pointer.
type comMetadataImport struct {
	ptr unsafe.Pointer
}

func (m *comMetadataImport) vtable() **C.void {
	return (**C.void)(unsafe.Pointer(*(*uintptr)(m.ptr)))
}

func (m *comMetadataImport) FindTypeRef(scope clrmd.Token, name string) (clrmd.Token, bool, error) {
	wname := utf16From(name)
	var tr C.uint
	hr := C.call_FindTypeRef((*unsafe.Pointer)(unsafe.Pointer(m.vtable())), m.ptr,
		C.uint(scope), (*C.WCHAR)(unsafe.Pointer(&wname[0])), &tr)
	if !hrOK(hr) || tr == 0 {
		return 0, false, nil
	}
	return clrmd.Token(tr), true, nil
}

func (m *comMetadataImport) GetTypeRefProps(tr clrmd.Token) (clrmd.Token, string, error) {
	const bufLen = 512
	buf := make([]C.WCHAR, bufLen)
	var cScope C.uint
	var nameLen C.ULONG

	hr := C.call_GetTypeRefProps((*unsafe.Pointer)(unsafe.Pointer(m.vtable())), m.ptr,
		C.uint(tr), &cScope, &buf[0], bufLen, &nameLen)
	if !hrOK(hr) {
		return 0, "", errHostCall
	}

	u16 := make([]uint16, bufLen)
	for i, c := range buf {
		u16[i] = uint16(c)
	}
	return clrmd.Token(cScope), utf16ToString(u16), nil
}

// cursorHandle loads the host hEnum pointer behind a cursor token,
// minting a fresh token for a zero (not-yet-started) cursor.
func cursorHandle(token *uint64) (unsafe.Pointer, func(unsafe.Pointer)) {
	if *token == 0 {
		*token = newEnumToken()
	}
	var hEnum unsafe.Pointer
	if v, ok := enumHandles.Load(*token); ok {
		hEnum = v.(unsafe.Pointer)
	}
	store := func(p unsafe.Pointer) { enumHandles.Store(*token, p) }
	return hEnum, store
}

func (m *comMetadataImport) EnumTypeRefs(cursor *hostabi.TypeRefEnum, max int) ([]clrmd.Token, error) {
	tok := (*uint64)(cursor)
	hEnum, store := cursorHandle(tok)
	toks := make([]C.uint, max)
	var count C.ULONG

	hr := C.call_EnumTypeRefs((*unsafe.Pointer)(unsafe.Pointer(m.vtable())), m.ptr, &hEnum, &toks[0], C.ULONG(max), &count)
	store(hEnum)
	if !hrOK(hr) || count == 0 {
		return nil, nil
	}
	return tokensFrom(toks, int(count)), nil
}

func (m *comMetadataImport) EnumTypeDefs(cursor *hostabi.MethodEnum, max int) ([]clrmd.Token, error) {
	tok := (*uint64)(cursor)
	hEnum, store := cursorHandle(tok)
	toks := make([]C.uint, max)
	var count C.ULONG

	hr := C.call_EnumTypeDefs((*unsafe.Pointer)(unsafe.Pointer(m.vtable())), m.ptr, &hEnum, &toks[0], C.ULONG(max), &count)
	store(hEnum)
	if !hrOK(hr) || count == 0 {
		return nil, nil
	}
	return tokensFrom(toks, int(count)), nil
}

func (m *comMetadataImport) EnumMethods(cursor *hostabi.MethodEnum, typeDef clrmd.Token, max int) ([]clrmd.Token, error) {
	tok := (*uint64)(cursor)
	hEnum, store := cursorHandle(tok)
	toks := make([]C.uint, max)
	var count C.ULONG

	hr := C.call_EnumMethods((*unsafe.Pointer)(unsafe.Pointer(m.vtable())), m.ptr, &hEnum, C.uint(typeDef), &toks[0], C.ULONG(max), &count)
	store(hEnum)
	if !hrOK(hr) || count == 0 {
		return nil, nil
	}
	return tokensFrom(toks, int(count)), nil
}

func tokensFrom(toks []C.uint, count int) []clrmd.Token {
	out := make([]clrmd.Token, count)
	for i := 0; i < count; i++ {
		out[i] = clrmd.Token(toks[i])
	}
	return out
}

func (m *comMetadataImport) GetMethodProps(method clrmd.Token) (clrmd.MethodDefTableRow, error) {
	var class C.uint
	var attrs, implFlags C.DWORD
	var codeRVA C.ULONG

	hr := C.call_GetMethodProps((*unsafe.Pointer)(unsafe.Pointer(m.vtable())), m.ptr,
		C.uint(method), &class, &attrs, &codeRVA, &implFlags)
	if !hrOK(hr) {
		return clrmd.MethodDefTableRow{}, errHostCall
	}
	return clrmd.MethodDefTableRow{
		RVA:       uint32(codeRVA),
		Flags:     uint16(attrs),
		ImplFlags: uint16(implFlags),
	}, nil
}

// CloseEnum accepts either a hostabi.TypeRefEnum or hostabi.MethodEnum
// cursor, releases the host-side enumerator behind it, and forgets the
// token-to-pointer mapping.
func (m *comMetadataImport) CloseEnum(cursor interface{}) error {
	var tok uint64
	switch c := cursor.(type) {
	case hostabi.TypeRefEnum:
		tok = uint64(c)
	case hostabi.MethodEnum:
		tok = uint64(c)
	default:
		return nil
	}
	if tok == 0 {
		return nil
	}
	v, ok := enumHandles.LoadAndDelete(tok)
	if !ok {
		return nil
	}
	C.call_CloseEnum((*unsafe.Pointer)(unsafe.Pointer(m.vtable())), m.ptr, v.(unsafe.Pointer))
	return nil
}

// comMetadataEmit implements hostabi.MetadataEmit over a host
// IMetaDataEmit pointer.
type comMetadataEmit struct {
	ptr unsafe.Pointer
}

func (e *comMetadataEmit) vtable() **C.void {
	return (**C.void)(unsafe.Pointer(*(*uintptr)(e.ptr)))
}

func (e *comMetadataEmit) DefineTypeRefByName(scope clrmd.Token, name string) (clrmd.Token, error) {
	wname := utf16From(name)
	var tr C.uint
	hr := C.call_DefineTypeRefByName((*unsafe.Pointer)(unsafe.Pointer(e.vtable())), e.ptr,
		C.uint(scope), (*C.WCHAR)(unsafe.Pointer(&wname[0])), &tr)
	if !hrOK(hr) {
		return 0, errHostCall
	}
	return clrmd.Token(tr), nil
}

func (e *comMetadataEmit) DefineMemberRef(parent clrmd.Token, name string, signature []byte) (clrmd.Token, error) {
	wname := utf16From(name)
	var mr C.uint
	hr := C.call_DefineMemberRef((*unsafe.Pointer)(unsafe.Pointer(e.vtable())), e.ptr,
		C.uint(parent), (*C.WCHAR)(unsafe.Pointer(&wname[0])),
		(*C.BYTE)(unsafe.Pointer(&signature[0])), C.ULONG(len(signature)), &mr)
	if !hrOK(hr) {
		return 0, errHostCall
	}
	return clrmd.Token(mr), nil
}

func (e *comMetadataEmit) DefineUserString(s string) (clrmd.Token, error) {
	wstr := utf16From(s)
	var tok C.uint
	hr := C.call_DefineUserString((*unsafe.Pointer)(unsafe.Pointer(e.vtable())), e.ptr,
		(*C.WCHAR)(unsafe.Pointer(&wstr[0])), C.ULONG(len(wstr)-1), &tok)
	if !hrOK(hr) {
		return 0, errHostCall
	}
	return clrmd.Token(tok), nil
}
