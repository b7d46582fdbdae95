// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package profiler

import "errors"

// ErrNotTargetProcess is returned by Initialize when the current process
// is not the one the plug-in is configured to attach to. The caller
// should treat this as an unrecoverable detach, not retry.
var ErrNotTargetProcess = errors.New("profiler: current process is not the configured target")
