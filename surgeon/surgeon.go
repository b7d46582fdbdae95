// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package surgeon implements the metadata surgeon (spec.md §4.4, C4): it
// prepares a target module for injection by resolving or defining the
// handful of TypeRef/MemberRef/UserString tokens the IL prologue needs,
// then selects the first eligible method to rewrite.
//
// Grounded byte-for-byte on PrepareTargetModule(), SearchTypeRef() and
// LogTypeRefCount() in original_source/tools/uprooted_profiler_linux.c.
package surgeon

import (
	"errors"
	"fmt"

	"github.com/umbraprior/uprooted/clrmd"
	"github.com/umbraprior/uprooted/hostabi"
	"github.com/umbraprior/uprooted/internal/log"
)

// well-known names the surgeon resolves or defines (original_source's
// W_System_Object etc. wide-string constants).
const (
	nameSystemObject             = "System.Object"
	nameSystemReflectionAssembly = "System.Reflection.Assembly"
	nameSystemException          = "System.Exception"
	nameLoadFrom                 = "LoadFrom"
	nameCreateInstance           = "CreateInstance"
)

// ErrNotEligible is returned when a module carries no System.Object
// TypeRef at all, meaning it is not a normal managed assembly this
// plug-in can instrument (e.g. a reflection-emit-only or metadata-only
// module).
var ErrNotEligible = errors.New("surgeon: module has no System.Object TypeRef")

// Prepared is the outcome of Prepare: the five tokens the rewriter's
// prologue references, plus the first eligible method found while
// walking the module's TypeDefs (0 if none was found).
type Prepared struct {
	Tokens   clrmd.TokenSet
	Target   clrmd.Token
	TypeRefs int
}

// Prepare resolves or defines the LoadFrom/CreateInstance member refs,
// the Exception type ref, and the path/type user strings against a
// single module's metadata, then walks its TypeDefs/MethodDefs looking
// for the first method the rewriter could safely target.
//
// Any failure after tokens start being defined rolls back to a zero
// TokenSet, matching the "fail:" label's reset of all five token globals
// in original_source.
func Prepare(imp hostabi.MetadataImport, emit hostabi.MetadataEmit, payloadPath, entryTypeName string, helper *log.Helper) (Prepared, error) {
	typeRefCount := logTypeRefSample(imp, helper)

	_, runtimeScope, err := searchTypeRef(imp, nameSystemObject)
	if err != nil {
		return Prepared{}, fmt.Errorf("surgeon: search System.Object: %w", err)
	}
	if runtimeScope == 0 {
		return Prepared{TypeRefs: typeRefCount}, ErrNotEligible
	}

	assemblyTR, _, err := searchTypeRef(imp, nameSystemReflectionAssembly)
	if err != nil {
		return Prepared{}, err
	}
	if assemblyTR == 0 {
		assemblyTR, err = emit.DefineTypeRefByName(runtimeScope, nameSystemReflectionAssembly)
		if err != nil {
			return Prepared{TypeRefs: typeRefCount}, fmt.Errorf("surgeon: define Assembly typeref: %w", err)
		}
	}

	loadFromSig := loadFromSignature(assemblyTR)
	loadFromMR, err := emit.DefineMemberRef(assemblyTR, nameLoadFrom, loadFromSig)
	if err != nil {
		return Prepared{TypeRefs: typeRefCount}, fmt.Errorf("surgeon: define LoadFrom memberref: %w", err)
	}

	createInstMR, err := emit.DefineMemberRef(assemblyTR, nameCreateInstance, createInstanceSignature())
	if err != nil {
		return Prepared{TypeRefs: typeRefCount}, fmt.Errorf("surgeon: define CreateInstance memberref: %w", err)
	}

	exceptionTR, _, err := searchTypeRef(imp, nameSystemException)
	if err != nil {
		return Prepared{TypeRefs: typeRefCount}, err
	}
	if exceptionTR == 0 {
		exceptionTR, err = emit.DefineTypeRefByName(runtimeScope, nameSystemException)
		if err != nil {
			return Prepared{TypeRefs: typeRefCount}, fmt.Errorf("surgeon: define Exception typeref: %w", err)
		}
	}

	pathTok, err := emit.DefineUserString(payloadPath)
	if err != nil {
		return Prepared{TypeRefs: typeRefCount}, fmt.Errorf("surgeon: define path user string: %w", err)
	}
	typeTok, err := emit.DefineUserString(entryTypeName)
	if err != nil {
		return Prepared{TypeRefs: typeRefCount}, fmt.Errorf("surgeon: define type user string: %w", err)
	}

	tokens := clrmd.TokenSet{
		LoadFrom:       loadFromMR,
		CreateInstance: createInstMR,
		Exception:      exceptionTR,
		PathString:     pathTok,
		TypeString:     typeTok,
	}

	target, err := selectInjectionTarget(imp)
	if err != nil {
		helper.Warnw("msg", "no suitable method found for injection")
	}

	return Prepared{Tokens: tokens, Target: target, TypeRefs: typeRefCount}, nil
}

// loadFromSignature hand-builds the blob for
// "static Assembly LoadFrom(string)": HASTHIS absent, 1 param, RetType =
// CLASS <assemblyTR>, param 0 = STRING.
//
// Grounded byte-for-byte on the sig[] construction in PrepareTargetModule.
func loadFromSignature(assemblyTR clrmd.Token) []byte {
	sig := []byte{0x00, 0x01, 0x12}
	sig = append(sig, clrmd.CompressToken(assemblyTR)...)
	sig = append(sig, 0x0E)
	return sig
}

// createInstanceSignature is "instance Object CreateInstance(string)":
// HASTHIS, 1 param, RetType = OBJECT, param 0 = STRING. Fixed bytes,
// carried verbatim from original_source.
func createInstanceSignature() []byte {
	return []byte{0x20, 0x01, 0x1C, 0x0E}
}

const searchPageSize = 64

// searchTypeRef linearly scans a module's TypeRef table for a row whose
// name matches exactly, the way SearchTypeRef() does with its 64-wide
// enumeration page.
func searchTypeRef(imp hostabi.MetadataImport, name string) (clrmd.Token, clrmd.Token, error) {
	var cursor hostabi.TypeRefEnum
	defer func() { imp.CloseEnum(cursor) }()
	for {
		page, err := imp.EnumTypeRefs(&cursor, searchPageSize)
		if err != nil {
			return 0, 0, err
		}
		if len(page) == 0 {
			return 0, 0, nil
		}
		for _, tr := range page {
			scope, trName, err := imp.GetTypeRefProps(tr)
			if err != nil {
				continue
			}
			if trName == name {
				return tr, scope, nil
			}
		}
	}
}

// logSampleSize is how many TypeRef rows LogTypeRefCount prints before
// it switches to just counting the rest.
const logSampleSize = 5

// logTypeRefSample reproduces LogTypeRefCount(): print the first few
// TypeRef rows by name and scope, then keep counting the remainder, for
// diagnosing modules whose metadata the surgeon can't otherwise explain.
func logTypeRefSample(imp hostabi.MetadataImport, helper *log.Helper) int {
	var cursor hostabi.TypeRefEnum
	defer func() { imp.CloseEnum(cursor) }()
	total := 0
	first, err := imp.EnumTypeRefs(&cursor, 256)
	if err != nil {
		return 0
	}
	for i, tr := range first {
		total++
		if i >= logSampleSize {
			continue
		}
		scope, name, err := imp.GetTypeRefProps(tr)
		if err != nil {
			continue
		}
		helper.Debugw("msg", "typeref", "index", i, "token", tr, "scope", scope, "name", name)
	}
	for {
		page, err := imp.EnumTypeRefs(&cursor, 256)
		if err != nil || len(page) == 0 {
			break
		}
		total += len(page)
	}
	helper.Debugw("msg", "total typerefs", "count", total)
	return total
}

const selectorPageSize = 32

// scanMethodsForTarget walks one TypeDef's MethodDefs looking for the
// first one with a body, closing its own enumerator before returning
// regardless of outcome.
func scanMethodsForTarget(imp hostabi.MetadataImport, td clrmd.Token) (clrmd.Token, error) {
	var mdCursor hostabi.MethodEnum
	defer func() { imp.CloseEnum(mdCursor) }()
	for {
		methods, err := imp.EnumMethods(&mdCursor, td, selectorPageSize)
		if err != nil {
			return 0, err
		}
		if len(methods) == 0 {
			return 0, nil
		}
		for _, m := range methods {
			row, err := imp.GetMethodProps(m)
			if err != nil {
				continue
			}
			if row.HasBody() {
				return m, nil
			}
		}
	}
}

// selectInjectionTarget walks EnumTypeDefs/EnumMethods in 32-wide pages
// and returns the first MethodDef whose row satisfies HasBody(), exactly
// the nested-loop shape PrepareTargetModule uses before calling
// DoInjectIL. Enumeration order is host-defined and opaque; the first
// hit wins (spec.md §9 Open Question (a)).
func selectInjectionTarget(imp hostabi.MetadataImport) (clrmd.Token, error) {
	var tdCursor hostabi.MethodEnum
	defer func() { imp.CloseEnum(tdCursor) }()
	for {
		typeDefs, err := imp.EnumTypeDefs(&tdCursor, selectorPageSize)
		if err != nil {
			return 0, err
		}
		if len(typeDefs) == 0 {
			return 0, errors.New("surgeon: no eligible method found")
		}
		for _, td := range typeDefs {
			target, err := scanMethodsForTarget(imp, td)
			if err != nil {
				return 0, err
			}
			if target != 0 {
				return target, nil
			}
		}
	}
}
