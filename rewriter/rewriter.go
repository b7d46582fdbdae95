// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package rewriter drives the IL body rewrite (spec.md §4.6, C6) end to
// end against a module: fetch the original body, synthesize the new fat
// body via clrmd.Rewrite, copy it into a host-allocated buffer, and hand
// it back through SetILFunctionBody.
//
// Grounded on DoInjectIL() in original_source/tools/uprooted_profiler_linux.c,
// which performs the identical allocate-populate-submit sequence against
// the raw ICorProfilerInfo vtable.
package rewriter

import (
	"fmt"

	"github.com/umbraprior/uprooted/clrmd"
	"github.com/umbraprior/uprooted/hostabi"
	"github.com/umbraprior/uprooted/internal/log"
)

// Inject rewrites the method identified by (module, method) in place:
// it reads the original body, builds the new fat body with clrmd.Rewrite,
// copies it into a buffer sized and owned by the host's IL allocator, and
// submits it via SetILFunctionBody.
//
// On any failure after the allocator has handed over a buffer, the
// buffer is deliberately not reused or freed — matching
// original_source's leaked newBody on a failed setBody call (spec.md §9
// Open Question (b)).
func Inject(info hostabi.ProfilerInfo, module hostabi.ModuleID, method clrmd.Token, tokens clrmd.TokenSet, helper *log.Helper) error {
	orig, err := info.GetILFunctionBody(module, method)
	if err != nil {
		return fmt.Errorf("rewriter: get original body: %w", err)
	}

	newBody, err := clrmd.Rewrite(orig, tokens)
	if err != nil {
		return fmt.Errorf("rewriter: synthesize body: %w", err)
	}

	buf, err := info.AllocateILFunctionBody(module, uint32(len(newBody)))
	if err != nil {
		return fmt.Errorf("rewriter: allocate body: %w", err)
	}
	if len(buf) < len(newBody) {
		return fmt.Errorf("rewriter: allocator returned undersized buffer: got %d want %d", len(buf), len(newBody))
	}
	copy(buf, newBody)

	if err := info.SetILFunctionBody(module, method, buf); err != nil {
		helper.Errorw("msg", "SetILFunctionBody failed", "module", module, "method", method, "err", err)
		return fmt.Errorf("rewriter: set body: %w", err)
	}

	helper.Infow("msg", "IL injection successful", "module", module, "method", method, "newSize", len(newBody))
	return nil
}
