// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

// Command uprootedctl is a developer-facing diagnostic tool for the
// injection plug-in. It is not the plug-in's own interface: the plug-in
// has none, it is loaded by the CLR host via COM activation. uprootedctl
// exists to inspect a managed assembly's CLR directory, exercise the
// coded-index compression scheme, and simulate an IL body rewrite offline.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "uprootedctl",
		Short: "Diagnostic tool for the uprooted injection plug-in",
	}

	root.AddCommand(newInspectCmd())
	root.AddCommand(newCompressCmd())
	root.AddCommand(newSimulateCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
