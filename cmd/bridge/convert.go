package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flowbridge/bridge/pkg/config"
)

// newConvertCmd builds the "convert" subcommand: it re-encodes a config file
// from one wire format to another, inferring both formats from file
// extension. It never changes runtime behaviour beyond writing dst.
func newConvertCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "convert <src> <dst>",
		Short: "Convert a config file between JSON, YAML, and TOML",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, dst := args[0], args[1]
			cfg, err := config.Load(src)
			if err != nil {
				return fmt.Errorf("convert: %w", err)
			}
			if err := config.Save(cfg, dst); err != nil {
				return fmt.Errorf("convert: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", dst)
			return nil
		},
	}
}
