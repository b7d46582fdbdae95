// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package ident

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTargetProcessEnvOverride(t *testing.T) {
	self, err := CurrentProcess()
	require.NoError(t, err)

	// The configured name differs from this binary's name, so only the
	// environment-variable path can accept it.
	t.Setenv("UPROOTED_TEST_TARGET", "/opt/wrapped/UprootedEnvTarget-launcher")

	ok, name, err := IsTargetProcess("UprootedEnvTarget", "UPROOTED_TEST_TARGET")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, self.Name, name)
}

func TestIsTargetProcessEnvOverrideCaseInsensitive(t *testing.T) {
	self, err := CurrentProcess()
	require.NoError(t, err)
	require.NotContains(t, strings.ToLower(self.Name), "uprootedenvtarget")

	t.Setenv("UPROOTED_TEST_TARGET", "UPROOTEDENVTARGET.AppImage")

	ok, _, err := IsTargetProcess("UprootedEnvTarget", "UPROOTED_TEST_TARGET")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestIsTargetProcessRejectsMismatch(t *testing.T) {
	ok, _, err := IsTargetProcess("DefinitelyNotThisBinary", "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIsTargetProcessPrefixTolerance(t *testing.T) {
	self, err := CurrentProcess()
	require.NoError(t, err)

	// A strict, upper-cased prefix of the binary's name is accepted only
	// by the case-insensitive prefix branch.
	require.Greater(t, len(self.Name), 1)
	prefix := strings.ToUpper(self.Name[:len(self.Name)-1])

	ok, _, err := IsTargetProcess(prefix, "")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPayloadDirUsesHome(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	assert.Equal(t, "/home/tester/.local/share/uprooted", PayloadDir())
}

func TestPayloadDirFallsBackToTmp(t *testing.T) {
	t.Setenv("HOME", "")
	assert.Equal(t, "/tmp/.local/share/uprooted", PayloadDir())
}

func TestPayloadAssemblyPath(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	assert.Equal(t, "/home/tester/.local/share/uprooted/UprootedHook.dll", PayloadAssemblyPath("UprootedHook.dll"))
}

func TestCurrentProcess(t *testing.T) {
	id, err := CurrentProcess()
	require.NoError(t, err)
	assert.NotEmpty(t, id.Name)
	assert.Positive(t, id.PID)
}
