// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package hostabi

import (
	"errors"
	"sync/atomic"
)

// ErrNoInterface is returned when QueryInterface is asked for an
// identifier this class does not implement.
var ErrNoInterface = errors.New("hostabi: no such interface")

// ErrWrongClass is returned when CreateInstance is asked to construct a
// class other than CLSIDUprootedProfiler.
var ErrWrongClass = errors.New("hostabi: unsupported class id")

// Instantiator builds the single profiler-callback object this module's
// class factory ever creates. It exists so ClassFactory stays agnostic
// of the concrete callback type (profiler.Session implements it).
type Instantiator interface {
	QueryInterface(riid GUID) (interface{}, error)
}

// ClassFactory is the Go-side logic behind IClassFactory: CreateInstance
// and LockServer. It mirrors CF_QueryInterface/CF_CreateInstance/
// CF_LockServer in original_source, minus the raw vtable plumbing, which
// lives in the cgo-facing cmd/uprootedprofiler package.
type ClassFactory struct {
	newInstance func() Instantiator
	lockCount   int32
}

// NewClassFactory returns a class factory that constructs a fresh
// instance via newInstance on every CreateInstance call.
func NewClassFactory(newInstance func() Instantiator) *ClassFactory {
	return &ClassFactory{newInstance: newInstance}
}

// QueryInterface answers IUnknown and IClassFactory only; the factory
// itself is never asked for ICorProfilerCallback.
func (f *ClassFactory) QueryInterface(riid GUID) (*ClassFactory, error) {
	if riid.Equal(IIDIUnknown) || riid.Equal(IIDIClassFactory) {
		return f, nil
	}
	return nil, ErrNoInterface
}

// CreateInstance builds the profiler callback object if rclsid names
// CLSIDUprootedProfiler and riid is an interface the new instance
// supports.
func (f *ClassFactory) CreateInstance(rclsid, riid GUID) (interface{}, error) {
	if !rclsid.Equal(CLSIDUprootedProfiler) {
		return nil, ErrWrongClass
	}
	inst := f.newInstance()
	obj, err := inst.QueryInterface(riid)
	if err != nil {
		return nil, err
	}
	return obj, nil
}

// LockServer increments or decrements the module's lock count, the way
// CF_LockServer does; it never actually pins anything since the Go
// runtime has no notion of an unloadable DLL registration count.
func (f *ClassFactory) LockServer(lock bool) int32 {
	if lock {
		return atomic.AddInt32(&f.lockCount, 1)
	}
	return atomic.AddInt32(&f.lockCount, -1)
}

// LockCount reports the current outstanding lock count.
func (f *ClassFactory) LockCount() int32 {
	return atomic.LoadInt32(&f.lockCount)
}
