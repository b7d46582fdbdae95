// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package clrmd models the slice of the ECMA-335 metadata token space that
// the injection plug-in touches: the table indices, the coded-index
// compression scheme, and the row shapes for TypeRef, TypeDef, MethodDef
// and MemberRef. It does not parse a PE file; it gives the rest of the
// module a shared vocabulary for tokens the host's metadata interfaces
// hand over.
package clrmd

// Metadata table indices. Only the tables the surgeon and the method
// selector actually walk are given row types; the rest are named here so
// that a coded index can always be decoded to a table name for logging.
const (
	Module                 = 0x00
	TypeRef                = 0x01
	TypeDef                = 0x02
	FieldPtr               = 0x03
	Field                  = 0x04
	MethodPtr              = 0x05
	MethodDef              = 0x06
	ParamPtr               = 0x07
	Param                  = 0x08
	InterfaceImpl          = 0x09
	MemberRef              = 0x0A
	Constant               = 0x0B
	CustomAttribute        = 0x0C
	FieldMarshal           = 0x0D
	DeclSecurity           = 0x0E
	ClassLayout            = 0x0F
	FieldLayout            = 0x10
	StandAloneSig          = 0x11
	EventMap               = 0x12
	EventPtr               = 0x13
	Event                  = 0x14
	PropertyMap            = 0x15
	PropertyPtr            = 0x16
	Property               = 0x17
	MethodSemantics        = 0x18
	MethodImpl             = 0x19
	ModuleRef              = 0x1A
	TypeSpec               = 0x1B
	ImplMap                = 0x1C
	FieldRVA               = 0x1D
	ENCLog                 = 0x1E
	ENCMap                 = 0x1F
	Assembly               = 0x20
	AssemblyRef            = 0x23
	FileMD                 = 0x26
	ExportedType           = 0x27
	ManifestResource       = 0x28
	NestedClass            = 0x29
	GenericParam           = 0x2A
	MethodSpec             = 0x2B
	GenericParamConstraint = 0x2C
)

// tableNames maps a table index to its ECMA-335 name, for logging.
var tableNames = map[int]string{
	Module:                 "Module",
	TypeRef:                "TypeRef",
	TypeDef:                "TypeDef",
	Field:                  "Field",
	MethodDef:              "MethodDef",
	Param:                  "Param",
	InterfaceImpl:          "InterfaceImpl",
	MemberRef:              "MemberRef",
	Constant:               "Constant",
	CustomAttribute:        "CustomAttribute",
	DeclSecurity:           "DeclSecurity",
	StandAloneSig:          "StandAloneSig",
	Event:                  "Event",
	Property:               "Property",
	MethodSemantics:        "MethodSemantics",
	MethodImpl:             "MethodImpl",
	ModuleRef:              "ModuleRef",
	TypeSpec:               "TypeSpec",
	ImplMap:                "ImplMap",
	FieldRVA:               "FieldRVA",
	Assembly:                "Assembly",
	AssemblyRef:             "AssemblyRef",
	FileMD:                  "File",
	ExportedType:            "ExportedType",
	ManifestResource:        "ManifestResource",
	NestedClass:             "NestedClass",
	GenericParam:            "GenericParam",
	MethodSpec:              "MethodSpec",
	GenericParamConstraint:  "GenericParamConstraint",
}

// TableName returns the ECMA-335 name of a metadata table index, or "" if
// the index names no table this package knows about.
func TableName(table int) string {
	return tableNames[table]
}

// Token is a 32-bit metadata token: the top byte names the table, the low
// 24 bits are a one-based row index.
type Token uint32

// Table returns the table index encoded in the token's top byte.
func (t Token) Table() int {
	return int(t >> 24)
}

// RID returns the token's row index (the low 24 bits).
func (t Token) RID() uint32 {
	return uint32(t) & 0x00FFFFFF
}

// NewToken packs a table index and row id into a token.
func NewToken(table int, rid uint32) Token {
	return Token(uint32(table)<<24 | (rid & 0x00FFFFFF))
}

// TypeRefTableRow is a row of the TypeRef (0x01) table.
//
// ECMA-335 II.22.38.
type TypeRefTableRow struct {
	// ResolutionScope is a coded TypeDefOrRef-shaped index, but over
	// Module/ModuleRef/AssemblyRef/TypeRef (a ResolutionScope coded index).
	ResolutionScope uint32
	// TypeName indexes the #Strings heap.
	TypeName uint32
	// TypeNamespace indexes the #Strings heap.
	TypeNamespace uint32
}

// TypeDefTableRow is a row of the TypeDef (0x02) table.
//
// ECMA-335 II.22.37.
type TypeDefTableRow struct {
	Flags         uint32
	TypeName      uint32
	TypeNamespace uint32
	// Extends is a TypeDefOrRef coded index.
	Extends   uint32
	FieldList uint32
	// MethodList is the first of a contiguous run of MethodDef rows owned
	// by this type.
	MethodList uint32
}

// MethodDefTableRow is a row of the MethodDef (0x06) table.
//
// ECMA-335 II.22.26.
type MethodDefTableRow struct {
	RVA uint32
	// ImplFlags bit 0x0004 marks a foreign-function (P/Invoke) stub
	// (MethodImplAttributes.InternalCall / native).
	ImplFlags uint16
	// Flags bit 0x0400 marks an abstract method (MethodAttributes.Abstract).
	Flags     uint16
	Name      uint32
	Signature uint32
	ParamList uint32
}

// HasBody reports whether a MethodDef row describes a method the rewriter
// can target: non-zero code RVA, not abstract, not a foreign-function stub.
func (r MethodDefTableRow) HasBody() bool {
	const attrAbstract = 0x0400
	const implForwardPInvoke = 0x0004
	return r.RVA != 0 && r.Flags&attrAbstract == 0 && r.ImplFlags&implForwardPInvoke == 0
}

// MemberRefTableRow is a row of the MemberRef (0x0A) table.
//
// ECMA-335 II.22.25.
type MemberRefTableRow struct {
	// Class is a MemberRefParent coded index (TypeDef, TypeRef, ModuleRef,
	// MethodDef, or TypeSpec).
	Class     uint32
	Name      uint32
	Signature uint32
}
