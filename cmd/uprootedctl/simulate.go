// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/umbraprior/uprooted/clrmd"
)

func newSimulateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "simulate <hex-code>",
		Short: "Simulate an IL body rewrite over a hex-encoded tiny method body's code bytes",
		Long: "Simulate an IL body rewrite offline, without a running CLR host.\n" +
			"hex-code is the IL instruction bytes of a tiny method body " +
			"(e.g. 002a for nop / ret). The rewritten fat body is printed as hex.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := hex.DecodeString(args[0])
			if err != nil {
				return fmt.Errorf("uprootedctl: invalid hex: %w", err)
			}
			if len(code) > 63 {
				return fmt.Errorf("uprootedctl: code too long for a tiny body simulation (%d bytes)", len(code))
			}

			orig := append([]byte{byte(len(code)<<2) | clrmd.CorILMethodTinyFormat}, code...)

			// PathString/TypeString are User String tokens (ECMA-335 table
			// 0x70); LoadFrom/CreateInstance/Exception use placeholder
			// MemberRef/TypeRef tokens since no real metadata is present.
			const userStringTable = 0x70
			tokens := clrmd.TokenSet{
				LoadFrom:       clrmd.NewToken(clrmd.MemberRef, 1),
				CreateInstance: clrmd.NewToken(clrmd.MemberRef, 2),
				Exception:      clrmd.NewToken(clrmd.TypeRef, 1),
				PathString:     clrmd.NewToken(userStringTable, 1),
				TypeString:     clrmd.NewToken(userStringTable, 2),
			}

			rewritten, err := clrmd.Rewrite(orig, tokens)
			if err != nil {
				return err
			}

			fmt.Printf("original body (%d bytes): %x\n", len(orig), orig)
			fmt.Printf("rewritten body (%d bytes): %x\n", len(rewritten), rewritten)
			return nil
		},
	}
}
