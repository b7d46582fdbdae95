// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package hostabitest

import (
	"fmt"

	"github.com/umbraprior/uprooted/clrmd"
	"github.com/umbraprior/uprooted/hostabi"
)

// methodInfo is what ProfilerInfo needs to answer GetFunctionInfo and
// GetILFunctionBody for one registered function.
type methodInfo struct {
	module hostabi.ModuleID
	token  clrmd.Token
	body   []byte
}

// ProfilerInfo is an in-memory ICorProfilerInfo fake: it tracks
// registered modules/functions and the event mask the session asked for,
// and hands back growable byte slices in place of the host's IL
// allocator.
type ProfilerInfo struct {
	Modules   map[hostabi.ModuleID]hostabi.ModuleInfo
	Imports   map[hostabi.ModuleID]hostabi.MetadataImport
	Emits     map[hostabi.ModuleID]hostabi.MetadataEmit
	Functions map[hostabi.FunctionID]methodInfo

	EventMask     uint32
	LastSetBody   []byte
	SetBodyModule hostabi.ModuleID
	SetBodyMethod clrmd.Token
	FailSetILBody bool
}

// NewProfilerInfo returns an empty fake.
func NewProfilerInfo() *ProfilerInfo {
	return &ProfilerInfo{
		Modules:   make(map[hostabi.ModuleID]hostabi.ModuleInfo),
		Imports:   make(map[hostabi.ModuleID]hostabi.MetadataImport),
		Emits:     make(map[hostabi.ModuleID]hostabi.MetadataEmit),
		Functions: make(map[hostabi.FunctionID]methodInfo),
	}
}

// AddModule registers a module's name and its import/emit fakes.
func (p *ProfilerInfo) AddModule(id hostabi.ModuleID, name string, imp hostabi.MetadataImport, emit hostabi.MetadataEmit) {
	p.Modules[id] = hostabi.ModuleInfo{ModuleID: id, Name: name}
	p.Imports[id] = imp
	p.Emits[id] = emit
}

// AddFunction registers a function's owning module, method token, and
// original IL body.
func (p *ProfilerInfo) AddFunction(id hostabi.FunctionID, module hostabi.ModuleID, token clrmd.Token, body []byte) {
	p.Functions[id] = methodInfo{module: module, token: token, body: body}
}

func (p *ProfilerInfo) SetEventMask(mask uint32) error {
	p.EventMask = mask
	return nil
}

func (p *ProfilerInfo) GetModuleInfo(module hostabi.ModuleID) (hostabi.ModuleInfo, error) {
	info, ok := p.Modules[module]
	if !ok {
		return hostabi.ModuleInfo{}, fmt.Errorf("hostabitest: %w: module %v", ErrNotFound, module)
	}
	return info, nil
}

func (p *ProfilerInfo) GetModuleMetaDataImport(module hostabi.ModuleID) (hostabi.MetadataImport, error) {
	imp, ok := p.Imports[module]
	if !ok {
		return nil, fmt.Errorf("hostabitest: %w: module %v", ErrNotFound, module)
	}
	return imp, nil
}

func (p *ProfilerInfo) GetModuleMetaDataEmit(module hostabi.ModuleID) (hostabi.MetadataEmit, error) {
	emit, ok := p.Emits[module]
	if !ok {
		return nil, fmt.Errorf("hostabitest: %w: module %v", ErrNotFound, module)
	}
	return emit, nil
}

func (p *ProfilerInfo) GetFunctionInfo(function hostabi.FunctionID) (hostabi.ModuleID, clrmd.Token, error) {
	info, ok := p.Functions[function]
	if !ok {
		return 0, 0, fmt.Errorf("hostabitest: %w: function %v", ErrNotFound, function)
	}
	return info.module, info.token, nil
}

func (p *ProfilerInfo) GetILFunctionBody(module hostabi.ModuleID, method clrmd.Token) ([]byte, error) {
	for _, info := range p.Functions {
		if info.module == module && info.token == method {
			return info.body, nil
		}
	}
	return nil, fmt.Errorf("hostabitest: %w: method %v", ErrNotFound, method)
}

// AllocateILFunctionBody returns a fresh zeroed buffer, standing in for
// GetILFunctionBodyAllocator + Alloc (vtable slot 3).
func (p *ProfilerInfo) AllocateILFunctionBody(module hostabi.ModuleID, size uint32) ([]byte, error) {
	return make([]byte, size), nil
}

func (p *ProfilerInfo) SetILFunctionBody(module hostabi.ModuleID, method clrmd.Token, body []byte) error {
	if p.FailSetILBody {
		return fmt.Errorf("hostabitest: forced SetILFunctionBody failure")
	}
	p.LastSetBody = body
	p.SetBodyModule = module
	p.SetBodyMethod = method
	for id, info := range p.Functions {
		if info.module == module && info.token == method {
			info.body = body
			p.Functions[id] = info
		}
	}
	return nil
}
