// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package hostabi models the boundary object spec.md §4.1 calls C1: the
// COM-style vtables CoreCLR calls into (ICorProfilerCallback and friends)
// and the ones it hands back out (ICorProfilerInfo, IMetaDataImport,
// IMetaDataEmit). The slot layout is a wire contract, not a design
// choice, so it stays expressed the way the host expects it: a flat
// array of function pointers indexed by fixed integer position.
package hostabi

// TotalVTableSize is the number of slots g_vtable allocates. Unused
// ICorProfilerCallback slots are filled with a stub that returns S_OK,
// matching CreateProfiler()'s fill loop in original_source.
const TotalVTableSize = 128

// ICorProfilerCallback vtable slots this plug-in actually implements;
// every other slot in [0, TotalVTableSize) is a no-op returning StubHR.
const (
	SlotQueryInterface        = 0
	SlotAddRef                = 1
	SlotRelease               = 2
	SlotInitialize            = 3
	SlotShutdown              = 4
	SlotModuleLoadFinished    = 14
	SlotJITCompilationStarted = 23
)

// ICorProfilerInfo vtable slots this plug-in calls through.
const (
	SlotInfoGetFunctionInfo            = 15
	SlotInfoSetEventMask               = 16
	SlotInfoGetModuleInfo              = 20
	SlotInfoGetModuleMetaData          = 21
	SlotInfoGetILFunctionBody          = 22
	SlotInfoGetILFunctionBodyAllocator = 23
	SlotInfoSetILFunctionBody          = 24
)

// IMetaDataImport vtable slots this plug-in calls through.
const (
	SlotImportCloseEnum         = 3
	SlotImportEnumTypeDefs      = 6
	SlotImportEnumTypeRefs      = 8
	SlotImportFindTypeDefByName = 9
	SlotImportGetTypeRefProps   = 14
	SlotImportEnumMethods       = 18
	SlotImportFindMethod        = 27
	SlotImportGetMethodProps    = 30
	SlotImportFindTypeRef       = 55
)

// IMetaDataEmit vtable slots this plug-in calls through.
const (
	SlotEmitDefineTypeRefByName = 12
	SlotEmitDefineMemberRef     = 14
	SlotEmitDefineUserString    = 28
)

// COR_PRF_MONITOR_* event-mask bits requested from SetEventMask.
//
// The 0x00080000 bit (COR_PRF_DISABLE_ALL_NGEN_IMAGES) forces CoreCLR to
// JIT everything rather than load precompiled images, so
// JITCompilationStarted fires for every method including ones that would
// otherwise be served from an R2R image.
const (
	MonitorModuleLoads       = 0x00000004
	MonitorJITCompilation    = 0x00000020
	DisablePrecompiledImages = 0x00080000

	DefaultEventMask = MonitorJITCompilation | MonitorModuleLoads | DisablePrecompiledImages
)

// StubHR is the HRESULT every unimplemented ICorProfilerCallback slot
// returns: S_OK, so the host never treats an unhandled callback as
// fatal.
const StubHR = 0
