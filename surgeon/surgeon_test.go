// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package surgeon

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umbraprior/uprooted/clrmd"
	"github.com/umbraprior/uprooted/hostabi/hostabitest"
	"github.com/umbraprior/uprooted/internal/log"
)

func testHelper() *log.Helper {
	return log.NewHelper(log.NewFilter(log.NewStdLogger(&bytes.Buffer{}), log.FilterLevel(log.LevelError)))
}

func TestPrepareDefinesAllTokensAndFindsMethod(t *testing.T) {
	imp := hostabitest.NewImport()
	emit := hostabitest.NewEmit()

	assemblyRefScope := clrmd.NewToken(clrmd.AssemblyRef, 1)
	imp.AddTypeRef(assemblyRefScope, nameSystemObject)

	typeDef := clrmd.NewToken(clrmd.TypeDef, 1)
	imp.AddTypeDef(typeDef)
	method := clrmd.NewToken(clrmd.MethodDef, 1)
	imp.AddMethod(typeDef, method, clrmd.MethodDefTableRow{RVA: 0x2050})

	prepared, err := Prepare(imp, emit, "/home/user/.local/share/uprooted/Hook.dll", "Uprooted.Hook.Entry", testHelper())
	require.NoError(t, err)

	assert.NotZero(t, prepared.Tokens.LoadFrom)
	assert.NotZero(t, prepared.Tokens.CreateInstance)
	assert.NotZero(t, prepared.Tokens.Exception)
	assert.NotZero(t, prepared.Tokens.PathString)
	assert.NotZero(t, prepared.Tokens.TypeString)
	assert.Equal(t, method, prepared.Target)
	assert.Equal(t, 1, prepared.TypeRefs)

	require.Len(t, emit.MemberRefs, 2)
	assert.Equal(t, nameLoadFrom, emit.MemberRefs[0].Name)
	assert.Equal(t, byte(0x12), emit.MemberRefs[0].Signature[2])
	assert.Equal(t, nameCreateInstance, emit.MemberRefs[1].Name)
	assert.Equal(t, []byte{0x20, 0x01, 0x1C, 0x0E}, emit.MemberRefs[1].Signature)
}

func TestPrepareSkipsModuleWithoutSystemObject(t *testing.T) {
	imp := hostabitest.NewImport()
	emit := hostabitest.NewEmit()

	_, err := Prepare(imp, emit, "path", "type", testHelper())
	assert.ErrorIs(t, err, ErrNotEligible)
}

func TestPrepareReusesExistingAssemblyTypeRef(t *testing.T) {
	imp := hostabitest.NewImport()
	emit := hostabitest.NewEmit()

	scope := clrmd.NewToken(clrmd.AssemblyRef, 1)
	imp.AddTypeRef(scope, nameSystemObject)
	assemblyTR := imp.AddTypeRef(scope, nameSystemReflectionAssembly)

	prepared, err := Prepare(imp, emit, "path", "type", testHelper())
	require.NoError(t, err)
	assert.NotZero(t, prepared.Tokens.LoadFrom)

	// No new TypeRef should have been defined for Assembly since it
	// already existed; DefineMemberRef's Class field should reference it.
	// The only TypeRef defined is System.Exception, which the module lacks.
	require.Len(t, emit.MemberRefs, 2)
	assert.Equal(t, assemblyTR, emit.MemberRefs[0].Parent)
	require.Len(t, emit.TypeRefs, 1)
	assert.Equal(t, nameSystemException, emit.TypeRefs[0].Name)
}

func TestPrepareSkipsMethodsWithoutBody(t *testing.T) {
	imp := hostabitest.NewImport()
	emit := hostabitest.NewEmit()

	scope := clrmd.NewToken(clrmd.AssemblyRef, 1)
	imp.AddTypeRef(scope, nameSystemObject)

	typeDef := clrmd.NewToken(clrmd.TypeDef, 1)
	imp.AddTypeDef(typeDef)

	abstractMethod := clrmd.NewToken(clrmd.MethodDef, 1)
	imp.AddMethod(typeDef, abstractMethod, clrmd.MethodDefTableRow{RVA: 0, Flags: 0x0400})

	pinvokeMethod := clrmd.NewToken(clrmd.MethodDef, 2)
	imp.AddMethod(typeDef, pinvokeMethod, clrmd.MethodDefTableRow{RVA: 0x10, ImplFlags: 0x0004})

	concreteMethod := clrmd.NewToken(clrmd.MethodDef, 3)
	imp.AddMethod(typeDef, concreteMethod, clrmd.MethodDefTableRow{RVA: 0x20})

	prepared, err := Prepare(imp, emit, "path", "type", testHelper())
	require.NoError(t, err)
	assert.Equal(t, concreteMethod, prepared.Target)
}
