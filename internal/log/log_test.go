// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package log

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStdLoggerWritesKeyvals(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStdLogger(&buf)

	err := logger.Log(LevelInfo, "msg", "hello", "n", 3)
	assert.NoError(t, err)
	assert.Contains(t, buf.String(), "level=INFO")
	assert.Contains(t, buf.String(), "msg=hello")
	assert.Contains(t, buf.String(), "n=3")
}

func TestFilterDropsBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewFilter(NewStdLogger(&buf), FilterLevel(LevelError))

	require_ := func(err error) {
		if err != nil {
			t.Fatal(err)
		}
	}
	require_(logger.Log(LevelInfo, "msg", "dropped"))
	require_(logger.Log(LevelError, "msg", "kept"))

	out := buf.String()
	assert.False(t, strings.Contains(out, "dropped"))
	assert.True(t, strings.Contains(out, "kept"))
}

func TestHelperConvenienceMethods(t *testing.T) {
	var buf bytes.Buffer
	helper := NewHelper(NewFilter(NewStdLogger(&buf), FilterLevel(LevelDebug)))

	helper.Debugw("msg", "d")
	helper.Infow("msg", "i")
	helper.Warnw("msg", "w")
	helper.Errorw("msg", "e")

	out := buf.String()
	assert.Contains(t, out, "level=DEBUG")
	assert.Contains(t, out, "level=INFO")
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "level=ERROR")
}

func TestNilHelperIsSafe(t *testing.T) {
	var helper *Helper
	assert.NotPanics(t, func() { helper.Infow("msg", "noop") })
}
