// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <assembly>",
		Short: "Print the CLR data directory and COR20 header of a managed PE image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pf, err := openPEFile(args[0])
			if err != nil {
				return err
			}
			defer pf.Close()

			fmt.Printf("PE32+: %v\n", pf.is64)
			fmt.Printf("sections: %d\n", len(pf.sectionTable))
			fmt.Printf("CLR directory RVA: 0x%08x size: 0x%x\n", pf.clrDirRVA, pf.clrDirSize)

			cor20, err := pf.readCOR20Header()
			if err != nil {
				return err
			}
			fmt.Printf("COR20 header size: %d\n", cor20.Cb)
			fmt.Printf("runtime version: %d.%d\n", cor20.MajorRuntimeVersion, cor20.MinorRuntimeVersion)
			fmt.Printf("metadata RVA: 0x%08x size: 0x%x\n", cor20.MetaDataRVA, cor20.MetaDataSize)
			fmt.Printf("flags: 0x%08x\n", cor20.Flags)
			fmt.Printf("entry point RVA/token: 0x%08x\n", cor20.EntryPointRVAorToken)

			sig, err := pf.metadataRootSignature()
			if err != nil {
				return err
			}
			const bsjb = 0x424A5342
			fmt.Printf("metadata root signature: 0x%08x (BSJB: %v)\n", sig, sig == bsjb)
			return nil
		},
	}
}
