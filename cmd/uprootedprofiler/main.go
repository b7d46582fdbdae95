// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Command uprootedprofiler is the CoreCLR profiling plug-in itself: a
// c-shared object the CLR host loads via COM activation and drives
// through DllGetClassObject, never invoked as a normal executable. main
// only exists because cmd/-style packages require it; the real entry
// points are the //export functions below, called by the small C
// trampolines in entrypoints.c that give this package's Go methods a
// vtable slot the host can call through.
//
// Grounded on the g_vtable/g_cfVtable construction, CF_CreateInstance,
// DllGetClassObject and DllCanUnloadNow in
// original_source/tools/uprooted_profiler_linux.c.
package main

/*
#include <stdint.h>
*/
import "C"

import (
	"os"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/umbraprior/uprooted/hostabi"
	"github.com/umbraprior/uprooted/internal/log"
	"github.com/umbraprior/uprooted/profiler"
)

func main() {}

// hrEFail is the failing HRESULT original_source returns from
// Prof_Initialize when the identity guard or the ICorProfilerInfo
// exchange fails.
const hrEFail = int32(uint32(0x80004005))

var (
	cf = hostabi.NewClassFactory(func() hostabi.Instantiator {
		cfg, err := profiler.LoadConfig()
		if err != nil {
			cfg = profiler.Config{}
		}
		logger := log.NewFilter(log.NewStdLogger(os.Stderr), log.FilterLevel(log.LevelInfo))
		return profiler.New(cfg, nil, log.NewHelper(logger))
	})

	sessionMu    sync.Mutex
	curSession   *profiler.Session
	profRefCount int32
)

// goPrepareSession runs the class factory's CreateInstance: it builds a
// fresh session and asks it for riid, installing it as the active
// session only if the interface is one the session answers to.
//
//export goPrepareSession
func goPrepareSession(riidPtr unsafe.Pointer) C.int32_t {
	obj, err := cf.CreateInstance(hostabi.CLSIDUprootedProfiler, guidFromPtr(riidPtr))
	if err != nil {
		return 0
	}
	s, ok := obj.(*profiler.Session)
	if !ok {
		return 0
	}

	sessionMu.Lock()
	curSession = s
	sessionMu.Unlock()
	return 1
}

func activeSession() *profiler.Session {
	sessionMu.Lock()
	defer sessionMu.Unlock()
	return curSession
}

//export goCFQueryInterface
func goCFQueryInterface(riidPtr unsafe.Pointer) C.int32_t {
	if _, err := cf.QueryInterface(guidFromPtr(riidPtr)); err != nil {
		return 0
	}
	return 1
}

//export goCFLockServer
func goCFLockServer(lock C.int32_t) C.int32_t {
	return C.int32_t(cf.LockServer(lock != 0))
}

// goDllCanUnloadNow always answers S_FALSE (1), "still in use": the
// plug-in is never unloaded by the host.
//
//export goDllCanUnloadNow
func goDllCanUnloadNow() C.int32_t {
	return 1
}

//export goIsUprootedProfilerClass
func goIsUprootedProfilerClass(rclsidPtr unsafe.Pointer) C.int32_t {
	if guidFromPtr(rclsidPtr).Equal(hostabi.CLSIDUprootedProfiler) {
		return 1
	}
	return 0
}

//export goProfQueryInterface
func goProfQueryInterface(riidPtr unsafe.Pointer) C.int32_t {
	s := activeSession()
	if s == nil {
		return 0
	}
	if _, err := s.QueryInterface(guidFromPtr(riidPtr)); err != nil {
		return 0
	}
	return 1
}

//export goProfAddRef
func goProfAddRef() C.uint32_t {
	return C.uint32_t(atomic.AddInt32(&profRefCount, 1))
}

//export goProfRelease
func goProfRelease() C.uint32_t {
	return C.uint32_t(atomic.AddInt32(&profRefCount, -1))
}

// goProfInitialize exchanges the IUnknown the host hands in for an
// ICorProfilerInfo pointer, wraps it, and runs the session's identity
// guard and event-mask registration.
//
//export goProfInitialize
func goProfInitialize(pUnk unsafe.Pointer) C.int32_t {
	s := activeSession()
	if s == nil {
		return C.int32_t(hrEFail)
	}

	infoPtr, err := queryInterfaceRaw(pUnk, hostabi.IIDICorProfilerInfo)
	if err != nil {
		s.Log.Warnw("msg", "could not obtain ICorProfilerInfo", "err", err)
		return C.int32_t(hrEFail)
	}

	s.Info = newComProfilerInfo(infoPtr)
	if err := s.Initialize(); err != nil {
		return C.int32_t(hrEFail)
	}
	return 0
}

//export goProfShutdown
func goProfShutdown() C.int32_t {
	if s := activeSession(); s != nil {
		s.Shutdown()
	}
	return 0
}

//export goProfModuleLoadFinished
func goProfModuleLoadFinished(moduleID C.uintptr_t) C.int32_t {
	s := activeSession()
	if s == nil {
		return 0
	}
	if err := s.OnModuleLoadFinished(hostabi.ModuleID(moduleID)); err != nil {
		s.Log.Warnw("msg", "module load handling failed", "err", err)
	}
	return 0
}

//export goProfJITCompilationStarted
func goProfJITCompilationStarted(functionID C.uintptr_t) C.int32_t {
	s := activeSession()
	if s == nil {
		return 0
	}
	if err := s.OnJITCompilationStarted(hostabi.FunctionID(functionID)); err != nil {
		s.Log.Warnw("msg", "jit compilation handling failed", "err", err)
	}
	return 0
}
