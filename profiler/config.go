// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package profiler

import (
	"github.com/kelseyhightower/envconfig"

	"github.com/umbraprior/uprooted/internal/ident"
)

// Config is the small set of knobs the original hardcoded: the target
// process basename, the payload assembly's expected name on disk, and
// the entry type the prologue's CreateInstance call names.
//
// Populated from the UPROOTED_* environment variables via envconfig,
// the same ambient-config idiom the rest of the pack uses.
type Config struct {
	// TargetProcessName is the /proc/self/exe basename the identity guard
	// requires (default "Root", original_source's hardcoded value).
	TargetProcessName string `envconfig:"TARGET_PROCESS_NAME" default:"Root"`

	// TargetProcessEnvVar, if set, names an environment variable whose
	// value gives the identity guard a second way to accept the process:
	// when the basename of that value contains TargetProcessName
	// (case-insensitively). TargetProcessName itself is still checked.
	TargetProcessEnvVar string `envconfig:"TARGET_PROCESS_ENV_VAR" default:"UPROOTED_TARGET_PROCESS"`

	// PayloadAssemblyName is the file name of the managed assembly
	// LoadFrom's argument resolves to, under ident.PayloadDir().
	PayloadAssemblyName string `envconfig:"PAYLOAD_ASSEMBLY_NAME" default:"UprootedHook.dll"`

	// PayloadEntryType is the fully-qualified type name CreateInstance is
	// called with (original_source's W_UprootedHook_Entry).
	PayloadEntryType string `envconfig:"PAYLOAD_ENTRY_TYPE" default:"UprootedHook.Entry"`
}

// LoadConfig reads configuration from UPROOTED_-prefixed environment
// variables, falling back to the defaults original_source hardcoded.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process("uprooted", &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// PayloadPath resolves where the payload assembly is expected on disk.
func (c Config) PayloadPath() string {
	return ident.PayloadAssemblyPath(c.PayloadAssemblyName)
}
