// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package profiler

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

func tinyOrigBody() []byte {
	code := []byte{0x00, 0x2A}
	return append([]byte{byte(len(code) << 2) | clrmd.CorILMethodTinyFormat}, code...)
}

func setupTargetModule(t *testing.T, pi *hostabitest.ProfilerInfo, module hostabi.ModuleID) (clrmd.Token, hostabi.FunctionID) {
	t.Helper()
	imp := hostabitest.NewImport()
	emit := hostabitest.NewEmit()

	scope := clrmd.NewToken(clrmd.AssemblyRef, 1)
	imp.AddTypeRef(scope, "System.Object")

	typeDef := clrmd.NewToken(clrmd.TypeDef, 1)
	imp.AddTypeDef(typeDef)
	method := clrmd.NewToken(clrmd.MethodDef, 1)
	imp.AddMethod(typeDef, method, clrmd.MethodDefTableRow{RVA: 0x1000})

	functionID := hostabi.FunctionID(module)
	pi.AddModule(module, "MyApp.dll", imp, emit)
	pi.AddFunction(functionID, module, method, tinyOrigBody())

	return method, functionID
}

func TestOnModuleLoadFinishedIdentifiesCoreLib(t *testing.T) {
	pi := hostabitest.NewProfilerInfo()
	pi.AddModule(1, "System.Private.CoreLib.dll", hostabitest.NewImport(), hostabitest.NewEmit())

	s := New(Config{}, pi, testHelper())
	require.NoError(t, s.OnModuleLoadFinished(1))

	assert.EqualValues(t, 1, s.corelibKnown)
}

func TestOnModuleLoadFinishedSkipsFrameworkPrefixes(t *testing.T) {
	pi := hostabitest.NewProfilerInfo()
	pi.AddModule(1, "System.Collections.dll", hostabitest.NewImport(), hostabitest.NewEmit())
	pi.AddModule(2, "Microsoft.Extensions.dll", hostabitest.NewImport(), hostabitest.NewEmit())

	s := New(Config{}, pi, testHelper())
	require.NoError(t, s.OnModuleLoadFinished(1))
	require.NoError(t, s.OnModuleLoadFinished(2))

	assert.Equal(t, StateIdle, s.State())
}

func TestModuleLoadInjectsSynchronously(t *testing.T) {
	pi := hostabitest.NewProfilerInfo()
	method, _ := setupTargetModule(t, pi, 5)

	s := New(Config{}, pi, testHelper())
	require.NoError(t, s.OnModuleLoadFinished(5))

	assert.Equal(t, StateInjected, s.State())
	assert.Equal(t, method, pi.SetBodyMethod)
}

func TestJITCompilationInjectsFallback(t *testing.T) {
	pi := hostabitest.NewProfilerInfo()
	pi.AddModule(1, "System.Private.CoreLib.dll", hostabitest.NewImport(), hostabitest.NewEmit())

	// Build a target module whose selector finds no method (no TypeDefs),
	// so arming happens but no synchronous injection occurs.
	imp := hostabitest.NewImport()
	emit := hostabitest.NewEmit()
	imp.AddTypeRef(clrmd.NewToken(clrmd.AssemblyRef, 1), "System.Object")
	pi.AddModule(2, "MyApp.dll", imp, emit)

	method := clrmd.NewToken(clrmd.MethodDef, 7)
	functionID := hostabi.FunctionID(42)
	pi.AddFunction(functionID, 2, method, tinyOrigBody())

	s := New(Config{}, pi, testHelper())
	require.NoError(t, s.OnModuleLoadFinished(1))
	require.NoError(t, s.OnModuleLoadFinished(2))
	assert.Equal(t, StateTargetArmed, s.State())

	require.NoError(t, s.OnJITCompilationStarted(functionID))
	assert.Equal(t, StateInjected, s.State())
	assert.Equal(t, method, pi.SetBodyMethod)
}

func TestInjectionHappensAtMostOnce(t *testing.T) {
	pi := hostabitest.NewProfilerInfo()
	pi.AddModule(1, "System.Private.CoreLib.dll", hostabitest.NewImport(), hostabitest.NewEmit())
	_, functionID := setupTargetModule(t, pi, 5)

	s := New(Config{}, pi, testHelper())
	require.NoError(t, s.OnModuleLoadFinished(1))
	require.NoError(t, s.OnModuleLoadFinished(5))

	firstBody := append([]byte(nil), pi.LastSetBody...)
	assert.NotNil(t, firstBody)

	// A later JIT event for a method of the already-injected target must
	// not submit a second body.
	pi.LastSetBody = nil
	require.NoError(t, s.OnJITCompilationStarted(functionID))
	assert.Nil(t, pi.LastSetBody)
}
