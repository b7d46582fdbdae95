// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package rewriter

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umbraprior/uprooted/clrmd"
	"github.com/umbraprior/uprooted/hostabi"
	"github.com/umbraprior/uprooted/hostabi/hostabitest"
	"github.com/umbraprior/uprooted/internal/log"
)

func testHelper() *log.Helper {
	return log.NewHelper(log.NewFilter(log.NewStdLogger(&bytes.Buffer{}), log.FilterLevel(log.LevelError)))
}

func testTokens() clrmd.TokenSet {
	return clrmd.TokenSet{
		LoadFrom:       clrmd.NewToken(clrmd.MemberRef, 1),
		CreateInstance: clrmd.NewToken(clrmd.MemberRef, 2),
		Exception:      clrmd.NewToken(clrmd.TypeRef, 3),
		PathString:     clrmd.Token(0x70000001),
		TypeString:     clrmd.Token(0x70000002),
	}
}

func tinyOrigBody() []byte {
	code := []byte{0x00, 0x2A}
	return append([]byte{byte(len(code) << 2) | clrmd.CorILMethodTinyFormat}, code...)
}

func TestInjectSubmitsRewrittenBody(t *testing.T) {
	info := hostabitest.NewProfilerInfo()
	module := hostabi.ModuleID(1)
	method := clrmd.NewToken(clrmd.MethodDef, 1)
	info.AddFunction(1, module, method, tinyOrigBody())

	err := Inject(info, module, method, testTokens(), testHelper())
	require.NoError(t, err)

	assert.Equal(t, module, info.SetBodyModule)
	assert.Equal(t, method, info.SetBodyMethod)

	// The submitted body carries MoreSects, so ParseMethodHeader rejects it
	// as already rewritten; its fat-format bits are checked directly.
	_, _, err = clrmd.ParseMethodHeader(info.LastSetBody)
	require.ErrorIs(t, err, clrmd.ErrHasExceptionSections)
	assert.EqualValues(t, clrmd.CorILMethodFatFormat, info.LastSetBody[0]&0x03)
}

func TestInjectPropagatesSetBodyFailure(t *testing.T) {
	info := hostabitest.NewProfilerInfo()
	info.FailSetILBody = true
	module := hostabi.ModuleID(1)
	method := clrmd.NewToken(clrmd.MethodDef, 1)
	info.AddFunction(1, module, method, tinyOrigBody())

	err := Inject(info, module, method, testTokens(), testHelper())
	assert.Error(t, err)
}

func TestInjectFailsOnMissingBody(t *testing.T) {
	info := hostabitest.NewProfilerInfo()
	err := Inject(info, hostabi.ModuleID(1), clrmd.NewToken(clrmd.MethodDef, 99), testTokens(), testHelper())
	assert.Error(t, err)
}
