// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package hostabi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInstance struct{}

func (fakeInstance) QueryInterface(riid GUID) (interface{}, error) {
	if SupportsInterface(riid) {
		return "callback", nil
	}
	return nil, ErrNoInterface
}

func TestClassFactoryCreateInstance(t *testing.T) {
	f := NewClassFactory(func() Instantiator { return fakeInstance{} })

	obj, err := f.CreateInstance(CLSIDUprootedProfiler, IIDICorProfilerCallback)
	require.NoError(t, err)
	assert.Equal(t, "callback", obj)
}

func TestClassFactoryRejectsWrongClass(t *testing.T) {
	f := NewClassFactory(func() Instantiator { return fakeInstance{} })

	_, err := f.CreateInstance(GUID{}, IIDICorProfilerCallback)
	assert.ErrorIs(t, err, ErrWrongClass)
}

func TestClassFactoryQueryInterface(t *testing.T) {
	f := NewClassFactory(func() Instantiator { return fakeInstance{} })

	got, err := f.QueryInterface(IIDIClassFactory)
	require.NoError(t, err)
	assert.Same(t, f, got)

	_, err = f.QueryInterface(IIDICorProfilerCallback)
	assert.ErrorIs(t, err, ErrNoInterface)
}

func TestClassFactoryLockServer(t *testing.T) {
	f := NewClassFactory(func() Instantiator { return fakeInstance{} })

	assert.EqualValues(t, 1, f.LockServer(true))
	assert.EqualValues(t, 2, f.LockServer(true))
	assert.EqualValues(t, 1, f.LockServer(false))
	assert.EqualValues(t, 1, f.LockCount())
}
