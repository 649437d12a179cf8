package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/pavandhadge/vectron/clustermeta/internal/operations"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file|->",
		Short: "Decode and validate an encoded operation and print its canonical encoding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				data []byte
				err  error
			)
			if args[0] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return err
			}

			op, err := operations.Decode(data)
			if err != nil {
				return fmt.Errorf("invalid operation: %w", err)
			}
			canonical, err := operations.Encode(op)
			if err != nil {
				return fmt.Errorf("invalid operation: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(canonical))
			return nil
		},
	}
}
