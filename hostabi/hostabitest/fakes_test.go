// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package hostabitest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umbraprior/uprooted/clrmd"
	"github.com/umbraprior/uprooted/hostabi"
)

func TestImportFindAndEnumerateTypeRefs(t *testing.T) {
	imp := NewImport()
	scope := clrmd.NewToken(clrmd.AssemblyRef, 1)
	want := imp.AddTypeRef(scope, "System.Object")

	got, ok, err := imp.FindTypeRef(scope, "System.Object")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, want, got)

	var cursor hostabi.TypeRefEnum
	refs, err := imp.EnumTypeRefs(&cursor, 10)
	require.NoError(t, err)
	assert.Len(t, refs, 1)
}

func TestImportEnumMethodsPaged(t *testing.T) {
	imp := NewImport()
	typeDef := clrmd.NewToken(clrmd.TypeDef, 1)
	imp.AddTypeDef(typeDef)

	for i := 1; i <= 5; i++ {
		m := clrmd.NewToken(clrmd.MethodDef, uint32(i))
		imp.AddMethod(typeDef, m, clrmd.MethodDefTableRow{RVA: 0x100})
	}

	var cursor hostabi.MethodEnum
	page1, err := imp.EnumMethods(&cursor, typeDef, 3)
	require.NoError(t, err)
	assert.Len(t, page1, 3)

	page2, err := imp.EnumMethods(&cursor, typeDef, 3)
	require.NoError(t, err)
	assert.Len(t, page2, 2)
}

func TestEmitDefineRoundTrip(t *testing.T) {
	emit := NewEmit()

	tr, err := emit.DefineTypeRefByName(clrmd.NewToken(clrmd.AssemblyRef, 1), "System.Reflection.Assembly")
	require.NoError(t, err)
	assert.Equal(t, clrmd.TypeRef, tr.Table())

	mr, err := emit.DefineMemberRef(tr, "LoadFrom", []byte{0x00, 0x01, 0x1C})
	require.NoError(t, err)
	assert.Equal(t, clrmd.MemberRef, mr.Table())

	us, err := emit.DefineUserString("/home/user/.local/share/uprooted/Hook.dll")
	require.NoError(t, err)
	assert.NotZero(t, us)
}

func TestProfilerInfoSetILFunctionBodyFailure(t *testing.T) {
	pi := NewProfilerInfo()
	pi.FailSetILBody = true
	err := pi.SetILFunctionBody(1, clrmd.NewToken(clrmd.MethodDef, 1), []byte{0x2A})
	assert.Error(t, err)
}
