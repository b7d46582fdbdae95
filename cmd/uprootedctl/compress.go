// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/umbraprior/uprooted/clrmd"
)

func newCompressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "compress <table>:<rid>",
		Short: "Compress a metadata token into its coded TypeDefOrRef index bytes",
		Long: "Compress a metadata token into its coded TypeDefOrRef index bytes.\n" +
			"Table is one of TypeDef, TypeRef or TypeSpec. Example: compress TypeRef:0x1f",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := parseTokenArg(args[0])
			if err != nil {
				return err
			}

			encoded := clrmd.CompressToken(tok)
			fmt.Printf("token: 0x%08x (%s 0x%x)\n", uint32(tok), clrmd.TableName(tok.Table()), tok.RID())
			fmt.Printf("compressed (%d bytes): % 02x\n", len(encoded), encoded)

			decoded, n, ok := clrmd.DecompressToken(encoded)
			if !ok || n != len(encoded) || decoded != tok {
				return fmt.Errorf("uprootedctl: round-trip mismatch: got 0x%08x/%d", uint32(decoded), n)
			}
			fmt.Println("round-trip: ok")
			return nil
		},
	}
}

// parseTokenArg parses a "<table>:<rid>" argument like "TypeRef:0x1f" into
// a clrmd.Token.
func parseTokenArg(arg string) (clrmd.Token, error) {
	parts := strings.SplitN(arg, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("uprootedctl: expected <table>:<rid>, got %q", arg)
	}

	var table int
	switch strings.ToLower(parts[0]) {
	case "typedef":
		table = clrmd.TypeDef
	case "typeref":
		table = clrmd.TypeRef
	case "typespec":
		table = clrmd.TypeSpec
	default:
		return 0, fmt.Errorf("uprootedctl: unsupported table %q (want TypeDef, TypeRef or TypeSpec)", parts[0])
	}

	rid, err := strconv.ParseUint(strings.TrimPrefix(parts[1], "0x"), 16, 32)
	if err != nil {
		rid, err = strconv.ParseUint(parts[1], 10, 32)
		if err != nil {
			return 0, fmt.Errorf("uprootedctl: invalid rid %q: %w", parts[1], err)
		}
	}

	return clrmd.NewToken(table, uint32(rid)), nil
}
