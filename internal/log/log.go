// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package log reconstructs the small leveled-logging surface the teacher
// package calls into (github.com/saferwall/pe/log, not itself present in
// the retrieval pack): a Logger that writes key/value pairs, a Filter
// that drops anything below a configured level, and a Helper that adds
// Debugw/Infow/Warnw/Errorw convenience methods on top.
package log

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Level is a logging severity, ordered least to most severe.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Logger writes one leveled log entry of alternating key/value pairs.
type Logger interface {
	Log(level Level, keyvals ...interface{}) error
}

// stdLogger writes log entries as a single line to an io.Writer.
type stdLogger struct {
	mu sync.Mutex
	w  io.Writer
}

// NewStdLogger returns a Logger that writes plain lines to w.
func NewStdLogger(w io.Writer) Logger {
	return &stdLogger{w: w}
}

func (s *stdLogger) Log(level Level, keyvals ...interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	line := fmt.Sprintf("%s level=%s", time.Now().UTC().Format(time.RFC3339Nano), level)
	for i := 0; i+1 < len(keyvals); i += 2 {
		line += fmt.Sprintf(" %v=%v", keyvals[i], keyvals[i+1])
	}
	_, err := fmt.Fprintln(s.w, line)
	return err
}

// FilterOption configures a Filter.
type FilterOption func(*Filter)

// FilterLevel sets the minimum level a Filter lets through.
func FilterLevel(level Level) FilterOption {
	return func(f *Filter) { f.level = level }
}

// Filter wraps a Logger and drops entries below a minimum level.
type Filter struct {
	next  Logger
	level Level
}

// NewFilter wraps next with a minimum-severity gate.
func NewFilter(next Logger, opts ...FilterOption) Logger {
	f := &Filter{next: next, level: LevelDebug}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Filter) Log(level Level, keyvals ...interface{}) error {
	if level < f.level {
		return nil
	}
	return f.next.Log(level, keyvals...)
}

// Helper adds leveled convenience methods over a Logger.
type Helper struct {
	logger Logger
}

// NewHelper wraps logger with Debugw/Infow/Warnw/Errorw methods.
func NewHelper(logger Logger) *Helper {
	return &Helper{logger: logger}
}

func (h *Helper) Debugw(keyvals ...interface{}) { h.log(LevelDebug, keyvals...) }
func (h *Helper) Infow(keyvals ...interface{})  { h.log(LevelInfo, keyvals...) }
func (h *Helper) Warnw(keyvals ...interface{})  { h.log(LevelWarn, keyvals...) }
func (h *Helper) Errorw(keyvals ...interface{}) { h.log(LevelError, keyvals...) }

func (h *Helper) log(level Level, keyvals ...interface{}) {
	if h == nil || h.logger == nil {
		return
	}
	_ = h.logger.Log(level, keyvals...)
}
