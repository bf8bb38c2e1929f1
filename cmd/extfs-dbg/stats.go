package main

import (
	"fmt"

	"github.com/djherbis/times"
	"github.com/spf13/cobra"

	"github.com/diskfs/go-extfs"
)

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <image>",
		Short: "print filesystem statistics for an image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fs, err := extfs.Open(args[0], nil)
			if err != nil {
				return err
			}
			fmt.Printf("label:              %s\n", fs.Label())
			fmt.Printf("uuid:               %s\n", fs.UUID())
			fmt.Printf("block size:         %d\n", fs.BlockSize())
			fmt.Printf("blocks:             %d (%d free)\n", fs.BlockCount(), fs.FreeBlocks())
			fmt.Printf("inodes:             %d (%d free)\n", fs.InodeCount(), fs.FreeInodes())
			fmt.Printf("block groups:       %d\n", fs.BlockGroups())
			fmt.Printf("metadata checksums: %v\n", fs.MetadataChecksums())

			if ts, err := times.Stat(args[0]); err == nil {
				fmt.Printf("image modified:     %s\n", ts.ModTime())
				if ts.HasBirthTime() {
					fmt.Printf("image created:      %s\n", ts.BirthTime())
				}
			}
			if logical, physical, err := extfs.DeviceSectorSizes(args[0]); err == nil {
				fmt.Printf("sector sizes:       %d logical, %d physical\n", logical, physical)
			}
			return nil
		},
	}
}
