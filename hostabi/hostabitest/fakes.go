// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package hostabitest provides in-memory fakes of the hostabi interfaces
// so surgeon, rewriter and profiler can be exercised without a real
// CoreCLR host to attach to. The fakes hold just enough metadata-table
// state to answer the calls the surgeon and method selector actually
// make; they are not a general-purpose metadata engine.
package hostabitest

import (
	"errors"
	"fmt"

	"github.com/umbraprior/uprooted/clrmd"
	"github.com/umbraprior/uprooted/hostabi"
)

// ErrNotFound is returned by lookups that find no matching row.
var ErrNotFound = errors.New("hostabitest: not found")

// TypeRefRow is a recorded TypeRef row: its resolution scope and name.
type TypeRefRow struct {
	ResolutionScope clrmd.Token
	Name            string
}

// Import is an in-memory IMetaDataImport fake. Construct it with
// preloaded TypeRef/TypeDef/MethodDef rows, then let the surgeon and
// method selector drive it exactly like a real host would.
type Import struct {
	TypeRefs   []TypeRefRow
	TypeDefs   []clrmd.Token
	Methods    map[clrmd.Token][]clrmd.Token
	MethodRows map[clrmd.Token]clrmd.MethodDefTableRow
}

// NewImport returns an empty fake ready to be populated via AddTypeRef/
// AddTypeDef/AddMethod.
func NewImport() *Import {
	return &Import{
		Methods:    make(map[clrmd.Token][]clrmd.Token),
		MethodRows: make(map[clrmd.Token]clrmd.MethodDefTableRow),
	}
}

// AddTypeRef registers a TypeRef row and returns its token.
func (m *Import) AddTypeRef(resolutionScope clrmd.Token, name string) clrmd.Token {
	tok := clrmd.NewToken(clrmd.TypeRef, uint32(len(m.TypeRefs)+1))
	m.TypeRefs = append(m.TypeRefs, TypeRefRow{ResolutionScope: resolutionScope, Name: name})
	return tok
}

// AddTypeDef registers a TypeDef token the EnumTypeDefs cursor will walk.
func (m *Import) AddTypeDef(tok clrmd.Token) {
	m.TypeDefs = append(m.TypeDefs, tok)
}

// AddMethod registers a method under a TypeDef, with its MethodDef row.
func (m *Import) AddMethod(typeDef, method clrmd.Token, row clrmd.MethodDefTableRow) {
	m.Methods[typeDef] = append(m.Methods[typeDef], method)
	m.MethodRows[method] = row
}

func (m *Import) FindTypeRef(resolutionScope clrmd.Token, name string) (clrmd.Token, bool, error) {
	for i, row := range m.TypeRefs {
		if row.ResolutionScope == resolutionScope && row.Name == name {
			return clrmd.NewToken(clrmd.TypeRef, uint32(i+1)), true, nil
		}
	}
	return 0, false, nil
}

func (m *Import) GetTypeRefProps(tr clrmd.Token) (clrmd.Token, string, error) {
	idx := int(tr.RID()) - 1
	if idx < 0 || idx >= len(m.TypeRefs) {
		return 0, "", fmt.Errorf("hostabitest: %w: typeref %v", ErrNotFound, tr)
	}
	row := m.TypeRefs[idx]
	return row.ResolutionScope, row.Name, nil
}

func (m *Import) EnumTypeRefs(cursor *hostabi.TypeRefEnum, max int) ([]clrmd.Token, error) {
	// The cursor value is the next row offset, so a zero cursor starts a
	// fresh enumeration from the first row.
	start := int(*cursor)
	end := start + max
	if end > len(m.TypeRefs) {
		end = len(m.TypeRefs)
	}
	var out []clrmd.Token
	for i := start; i < end; i++ {
		out = append(out, clrmd.NewToken(clrmd.TypeRef, uint32(i+1)))
	}
	*cursor = hostabi.TypeRefEnum(end)
	return out, nil
}

func (m *Import) EnumTypeDefs(cursor *hostabi.MethodEnum, max int) ([]clrmd.Token, error) {
	start := int(*cursor)
	end := start + max
	if end > len(m.TypeDefs) {
		end = len(m.TypeDefs)
	}
	out := append([]clrmd.Token(nil), m.TypeDefs[start:end]...)
	*cursor = hostabi.MethodEnum(end)
	return out, nil
}

func (m *Import) EnumMethods(cursor *hostabi.MethodEnum, typeDef clrmd.Token, max int) ([]clrmd.Token, error) {
	all := m.Methods[typeDef]
	start := int(*cursor)
	end := start + max
	if end > len(all) {
		end = len(all)
	}
	out := append([]clrmd.Token(nil), all[start:end]...)
	*cursor = hostabi.MethodEnum(end)
	return out, nil
}

func (m *Import) GetMethodProps(method clrmd.Token) (clrmd.MethodDefTableRow, error) {
	row, ok := m.MethodRows[method]
	if !ok {
		return clrmd.MethodDefTableRow{}, fmt.Errorf("hostabitest: %w: method %v", ErrNotFound, method)
	}
	return row, nil
}

func (m *Import) CloseEnum(cursor interface{}) error {
	return nil
}

// Emit is an in-memory IMetaDataEmit fake. Every Define* call appends a
// new row and returns its freshly minted token, the way a real emitter
// would for a module the plug-in has never touched before.
type Emit struct {
	TypeRefs    []TypeRefRow
	MemberRefs  []MemberRefRow
	UserStrings []string
}

// MemberRefRow is a recorded MemberRef row.
type MemberRefRow struct {
	Parent    clrmd.Token
	Name      string
	Signature []byte
}

// NewEmit returns an empty fake emitter.
func NewEmit() *Emit {
	return &Emit{}
}

func (e *Emit) DefineTypeRefByName(resolutionScope clrmd.Token, name string) (clrmd.Token, error) {
	e.TypeRefs = append(e.TypeRefs, TypeRefRow{ResolutionScope: resolutionScope, Name: name})
	return clrmd.NewToken(clrmd.TypeRef, uint32(len(e.TypeRefs))), nil
}

func (e *Emit) DefineMemberRef(parent clrmd.Token, name string, signature []byte) (clrmd.Token, error) {
	e.MemberRefs = append(e.MemberRefs, MemberRefRow{Parent: parent, Name: name, Signature: append([]byte(nil), signature...)})
	return clrmd.NewToken(clrmd.MemberRef, uint32(len(e.MemberRefs))), nil
}

func (e *Emit) DefineUserString(s string) (clrmd.Token, error) {
	e.UserStrings = append(e.UserStrings, s)
	return clrmd.Token(0x70000000 | uint32(len(e.UserStrings))), nil
}
