// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Package ident resolves the two pieces of host-process context the
// plug-in needs before it may arm itself: whether the current process is
// the configured injection target, and where the payload assembly and
// diagnostic log live on disk.
//
// Grounded on InitPaths() and the /proc/self/exe basename check in
// Prof_Initialize() in original_source/tools/uprooted_profiler_linux.c.
package ident

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// defaultTargetProcessName is used when no configuration overrides it
// (matches original_source's hardcoded "Root" check).
const defaultTargetProcessName = "Root"

// IsTargetProcess reports whether the current process should arm the
// injection path, given a configured target process name (empty means
// use the original hardcoded default) and an optional environment
// variable name (UPROOTED_TARGET_PROCESS by convention): if that variable
// is set and the basename of its value contains the target name
// (case-insensitively), the process is accepted as well.
//
// The basename match is case-insensitive, and an AppImage-mounted or
// wrapper-renamed binary (e.g. "Root.AppImage", "Root-x86_64") is still
// accepted as long as the target name is a case-insensitive prefix of
// the basename; a strict equality check would make the plug-in inert
// under those launch methods even though the real target is running.
func IsTargetProcess(configuredName, envVar string) (bool, string, error) {
	exe, err := os.Readlink("/proc/self/exe")
	if err != nil {
		return false, "", fmt.Errorf("ident: readlink /proc/self/exe: %w", err)
	}
	name := filepath.Base(exe)
	lowerName := strings.ToLower(name)

	target := configuredName
	if target == "" {
		target = defaultTargetProcessName
	}
	lowerTarget := strings.ToLower(target)

	if lowerName == lowerTarget {
		return true, name, nil
	}

	if envVar != "" {
		if v, ok := os.LookupEnv(envVar); ok && v != "" {
			base := strings.ToLower(filepath.Base(v))
			if strings.Contains(base, lowerTarget) {
				return true, name, nil
			}
		}
	}

	if strings.HasPrefix(lowerName, lowerTarget) {
		return true, name, nil
	}

	return false, name, nil
}

// PayloadDir resolves the directory the payload assembly and the
// diagnostic log are read from and written to: $HOME/.local/share/uprooted,
// falling back to /tmp/.local/share/uprooted when HOME is unset, exactly
// as InitPaths() does.
func PayloadDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home = "/tmp"
	}
	return filepath.Join(home, ".local", "share", "uprooted")
}

// ProcessIdentity is the PID/UID/basename triple logged once at
// initialization (original_source logs "PID: %d" from Prof_Initialize).
type ProcessIdentity struct {
	PID  int
	UID  int
	Name string
}

// CurrentProcess reports the identity of the running process.
func CurrentProcess() (ProcessIdentity, error) {
	exe, err := os.Readlink("/proc/self/exe")
	if err != nil {
		return ProcessIdentity{}, fmt.Errorf("ident: readlink /proc/self/exe: %w", err)
	}
	return ProcessIdentity{
		PID:  unix.Getpid(),
		UID:  unix.Getuid(),
		Name: filepath.Base(exe),
	}, nil
}

// PayloadAssemblyPath is where the payload managed assembly is expected.
func PayloadAssemblyPath(assemblyFileName string) string {
	return filepath.Join(PayloadDir(), assemblyFileName)
}

// LogFilePath is where the plug-in's own diagnostic log is written.
func LogFilePath() string {
	return filepath.Join(PayloadDir(), "profiler.log")
}
