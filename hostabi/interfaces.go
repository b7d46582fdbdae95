// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package hostabi

import "github.com/umbraprior/uprooted/clrmd"

// ModuleID identifies a loaded module the way the host does: an opaque
// handle, not a token.
type ModuleID uint64

// FunctionID identifies a JIT-compiled function the way the host does.
type FunctionID uint64

// ModuleInfo is what GetModuleInfo (slot 20 of ICorProfilerInfo) reports.
type ModuleInfo struct {
	ModuleID ModuleID
	Name     string
}

// ProfilerInfo is the Go-shaped stand-in for the handful of
// ICorProfilerInfo vtable slots this plug-in calls: GetModuleInfo,
// GetModuleMetaData, GetFunctionInfo, GetILFunctionBody,
// GetILFunctionBodyAllocator, SetILFunctionBody, SetEventMask. The host
// hands back a raw vtable pointer (spec.md §1's "out of scope" list);
// this interface is the contract a cgo-backed implementation and an
// in-memory test fake both satisfy.
type ProfilerInfo interface {
	SetEventMask(mask uint32) error
	GetModuleInfo(module ModuleID) (ModuleInfo, error)
	GetModuleMetaDataImport(module ModuleID) (MetadataImport, error)
	GetModuleMetaDataEmit(module ModuleID) (MetadataEmit, error)
	GetFunctionInfo(function FunctionID) (module ModuleID, token clrmd.Token, err error)
	GetILFunctionBody(module ModuleID, method clrmd.Token) ([]byte, error)
	AllocateILFunctionBody(module ModuleID, size uint32) ([]byte, error)
	SetILFunctionBody(module ModuleID, method clrmd.Token, body []byte) error
}

// TypeRefEnum and MethodEnum are opaque cursor handles returned by
// EnumTypeRefs/EnumTypeDefs/EnumMethods, closed via CloseEnum (spec.md
// §4.4/§4.5's "paged enumeration" pattern).
type TypeRefEnum uint64
type MethodEnum uint64

// MetadataImport is the Go-shaped stand-in for the IMetaDataImport slots
// the surgeon and method selector call: FindTypeRef, GetTypeRefProps,
// EnumTypeRefs, EnumTypeDefs, EnumMethods, GetMethodProps, CloseEnum.
type MetadataImport interface {
	FindTypeRef(resolutionScope clrmd.Token, name string) (clrmd.Token, bool, error)
	GetTypeRefProps(tr clrmd.Token) (resolutionScope clrmd.Token, name string, err error)

	EnumTypeRefs(cursor *TypeRefEnum, max int) ([]clrmd.Token, error)
	EnumTypeDefs(cursor *MethodEnum, max int) ([]clrmd.Token, error)
	EnumMethods(cursor *MethodEnum, typeDef clrmd.Token, max int) ([]clrmd.Token, error)
	GetMethodProps(method clrmd.Token) (clrmd.MethodDefTableRow, error)
	CloseEnum(cursor interface{}) error
}

// MetadataEmit is the Go-shaped stand-in for the IMetaDataEmit slots the
// surgeon calls: DefineTypeRefByName, DefineMemberRef, DefineUserString.
type MetadataEmit interface {
	DefineTypeRefByName(resolutionScope clrmd.Token, name string) (clrmd.Token, error)
	DefineMemberRef(parent clrmd.Token, name string, signature []byte) (clrmd.Token, error)
	DefineUserString(s string) (clrmd.Token, error)
}
