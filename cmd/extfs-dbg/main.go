// extfs-dbg inspects ext4 images: extent mappings, tree audits and
// filesystem statistics.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	var verbosity string
	root := &cobra.Command{
		Use:           "extfs-dbg",
		Short:         "inspect ext4 images and their extent trees",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := logrus.ParseLevel(verbosity)
			if err != nil {
				return fmt.Errorf("invalid verbosity %q: %v", verbosity, err)
			}
			logrus.SetLevel(level)
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&verbosity, "verbosity", "v", "warning", "log level: debug, info, warning, error")
	root.AddCommand(dumpCmd(), checkCmd(), statsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "extfs-dbg: %v\n", err)
		os.Exit(1)
	}
}
