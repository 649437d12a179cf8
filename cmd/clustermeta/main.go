// Command clustermeta runs a cluster metadata node and ships operator tools
// for working with metadata operations.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	configPath := os.Getenv("CLUSTERMETA_CONFIG")

	root := &cobra.Command{
		Use:           "clustermeta",
		Short:         "Replicated cluster metadata: collections, aliases, shard transfers and replica states",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", configPath, "Path to the YAML config file (env CLUSTERMETA_CONFIG)")

	root.AddCommand(
		newServeCmd(&configPath),
		newValidateCmd(),
		newTokenCmd(&configPath),
	)
	return root
}
