package main

import (
	"fmt"
	"strconv"

	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"

	"github.com/diskfs/go-extfs"
)

func dumpCmd() *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "dump <image> <inode>",
		Short: "print the extent mappings of an inode",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			inodeNumber, err := strconv.ParseUint(args[1], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid inode number %q: %v", args[1], err)
			}
			fs, err := extfs.Open(args[0], nil)
			if err != nil {
				return err
			}
			f, err := fs.OpenInode(uint32(inodeNumber))
			if err != nil {
				return err
			}
			extents, err := f.Extents()
			if err != nil {
				return err
			}
			if raw {
				spew.Dump(extents)
				return nil
			}

			depth, err := f.TreeDepth()
			if err != nil {
				return err
			}
			fmt.Printf("inode %d: %d extents, tree depth %d, %d bytes, %d sectors\n",
				f.InodeNumber(), len(extents), depth, f.Size(), f.Blocks())
			fmt.Printf("%-12s %-12s %-8s %s\n", "LOGICAL", "PHYSICAL", "COUNT", "STATE")
			for _, e := range extents {
				state := "written"
				if e.Unwritten {
					state = "unwritten"
				}
				fmt.Printf("%-12d %-12d %-8d %s\n", e.Logical, e.Physical, e.Count, state)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "dump the parsed extents as Go values")
	return cmd
}
