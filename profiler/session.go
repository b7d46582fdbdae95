// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package profiler implements the session state (spec.md §3, C2), the
// module-load observer (C3), and the JIT-compilation observer (C7): the
// plug-in's single piece of mutable, concurrently-accessed state, and the
// two CoreCLR callbacks that drive it forward.
//
// Grounded on Prof_Initialize, Prof_ModuleLoadFinished and
// Prof_JITCompilationStarted in
// original_source/tools/uprooted_profiler_linux.c.
package profiler

import (
	"strings"
	"sync/atomic"

	"github.com/umbraprior/uprooted/clrmd"
	"github.com/umbraprior/uprooted/hostabi"
	"github.com/umbraprior/uprooted/internal/ident"
	"github.com/umbraprior/uprooted/internal/log"
	"github.com/umbraprior/uprooted/rewriter"
	"github.com/umbraprior/uprooted/surgeon"
)

// State names the session's position in its lifecycle (spec.md §3
// "Session state machine"). Transitions only ever move forward; there is
// no path back to an earlier state.
type State int32

const (
	StateIdle State = iota
	StateInitialized
	StateTargetArmed
	StateInjected
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitialized:
		return "initialized"
	case StateTargetArmed:
		return "target-armed"
	case StateInjected:
		return "injected"
	case StateShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

const (
	coreLibModuleName = "System.Private.CoreLib"
	systemPrefix      = "System."
	microsoftPrefix   = "Microsoft."

	// moduleLogLimit and jitLogLimit cap the chattiest diagnostic lines,
	// matching original_source's "if (n <= 20)"/"if (n <= 10)" guards.
	moduleLogLimit = 20
	jitLogLimit    = 10
)

// Session is the plug-in's entire mutable state: which module is the
// injection target, the tokens the surgeon prepared for it, and the
// one-shot flag guaranteeing exactly one method gets rewritten.
//
// All fields that cross the module-load/JIT callback boundary are
// accessed only through atomics or through the CAS-guarded helpers
// below; there are no locks (spec.md §5 "Concurrency model").
type Session struct {
	Config Config
	Info   hostabi.ProfilerInfo
	Log    *log.Helper

	state State

	corelibModule hostabi.ModuleID
	corelibKnown  int32

	targetModule hostabi.ModuleID
	arming       int32
	targetReady  int32
	tokens       atomic.Value // clrmd.TokenSet

	injected int32

	moduleCount int32
	jitCount    int32
}

// New constructs an idle session.
func New(cfg Config, info hostabi.ProfilerInfo, helper *log.Helper) *Session {
	return &Session{Config: cfg, Info: info, Log: helper, state: StateIdle}
}

// QueryInterface makes *Session a hostabi.Instantiator: the class factory
// asks for ICorProfilerCallback (or IUnknown) and gets this same session
// back, the way CF_CreateInstance hands the host its one UprootedProfiler.
func (s *Session) QueryInterface(riid hostabi.GUID) (interface{}, error) {
	if !hostabi.SupportsInterface(riid) {
		return nil, hostabi.ErrNoInterface
	}
	return s, nil
}

// State reports the session's current lifecycle position.
func (s *Session) State() State {
	return State(atomic.LoadInt32((*int32)(&s.state)))
}

func (s *Session) setState(next State) {
	atomic.StoreInt32((*int32)(&s.state), int32(next))
}

// Initialize performs the identity guard and arms event monitoring. It
// is the Go counterpart of Prof_Initialize: reject attaching to any
// process other than the configured target, then request module-load
// and JIT-compilation notifications with precompiled images disabled.
func (s *Session) Initialize() error {
	ok, name, err := ident.IsTargetProcess(s.Config.TargetProcessName, s.Config.TargetProcessEnvVar)
	if err != nil {
		return err
	}
	if !ok {
		s.Log.Infow("msg", "not the configured target process, detaching", "process", name)
		return ErrNotTargetProcess
	}

	if err := s.Info.SetEventMask(hostabi.DefaultEventMask); err != nil {
		return err
	}

	s.setState(StateInitialized)
	return nil
}

// Shutdown moves the session to its terminal state. No further
// callbacks are expected to do meaningful work after this point.
func (s *Session) Shutdown() {
	s.setState(StateShutdown)
}

// OnModuleLoadFinished is the module-load observer (C3): it identifies
// CoreLib, skips modules that are plainly framework assemblies, and for
// the first remaining candidate, prepares injection tokens and attempts
// a synchronous rewrite against whatever eligible method the surgeon
// finds first — mirroring PrepareTargetModule's own inline method
// enumeration.
func (s *Session) OnModuleLoadFinished(module hostabi.ModuleID) error {
	n := atomic.AddInt32(&s.moduleCount, 1)

	info, err := s.Info.GetModuleInfo(module)
	if err != nil {
		return err
	}
	if n <= moduleLogLimit {
		s.Log.Debugw("msg", "module load finished", "n", n, "module", module, "name", info.Name)
	}

	if strings.Contains(info.Name, coreLibModuleName) {
		s.corelibModule = module
		atomic.StoreInt32(&s.corelibKnown, 1)
		s.Log.Debugw("msg", "corelib module identified", "module", module)
		return nil
	}

	if atomic.LoadInt32(&s.targetReady) != 0 {
		return nil
	}
	if strings.HasPrefix(info.Name, systemPrefix) || strings.HasPrefix(info.Name, microsoftPrefix) {
		return nil
	}

	return s.prepareTarget(module)
}

func (s *Session) prepareTarget(module hostabi.ModuleID) error {
	imp, err := s.Info.GetModuleMetaDataImport(module)
	if err != nil {
		return err
	}
	emit, err := s.Info.GetModuleMetaDataEmit(module)
	if err != nil {
		return err
	}

	prepared, err := surgeon.Prepare(imp, emit, s.Config.PayloadPath(), s.Config.PayloadEntryType, s.Log)
	if err != nil {
		s.Log.Infow("msg", "module not eligible for injection", "module", module, "err", err)
		return nil
	}

	// Only the first module to finish preparation becomes the target.
	if !atomic.CompareAndSwapInt32(&s.arming, 0, 1) {
		return nil
	}

	s.targetModule = module
	s.tokens.Store(prepared.Tokens)
	atomic.StoreInt32(&s.targetReady, 1)
	s.setState(StateTargetArmed)

	if prepared.Target == 0 {
		s.Log.Warnw("msg", "no suitable method found for injection", "module", module)
		return nil
	}

	if s.tryInject(module, prepared.Target) {
		s.Log.Infow("msg", "IL injected from module-load callback", "module", module, "method", prepared.Target)
	}
	return nil
}

// OnJITCompilationStarted is the JIT observer (C7): once a target module
// is armed, it rewrites whichever method is JIT-compiled first within
// that module, guarded by the one-shot injected flag.
func (s *Session) OnJITCompilationStarted(function hostabi.FunctionID) error {
	n := atomic.AddInt32(&s.jitCount, 1)

	if atomic.LoadInt32(&s.corelibKnown) == 0 {
		return nil
	}

	module, token, err := s.Info.GetFunctionInfo(function)
	if err != nil {
		return nil
	}

	armed := atomic.LoadInt32(&s.targetReady) != 0 && module == s.targetModule
	if n <= jitLogLimit || armed {
		s.Log.Debugw("msg", "jit compilation started", "n", n, "module", module, "token", token, "target", armed)
	}

	if atomic.LoadInt32(&s.injected) != 0 {
		return nil
	}
	if !armed {
		return nil
	}

	s.tryInject(module, token)
	return nil
}

// tryInject is the CAS-guarded one-shot rewrite: at most one caller ever
// observes the flag flipping 0->1, so at most one method in the process
// lifetime is ever rewritten (spec.md §8 P3/P4).
func (s *Session) tryInject(module hostabi.ModuleID, method clrmd.Token) bool {
	if !atomic.CompareAndSwapInt32(&s.injected, 0, 1) {
		return false
	}

	tokens, _ := s.tokens.Load().(clrmd.TokenSet)
	if err := rewriter.Inject(s.Info, module, method, tokens, s.Log); err != nil {
		s.Log.Warnw("msg", "IL injection failed, will try next method", "err", err)
		atomic.StoreInt32(&s.injected, 0)
		return false
	}

	s.setState(StateInjected)
	return true
}
