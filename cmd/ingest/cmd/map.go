package cmd

import (
	"github.com/spf13/cobra"
)

func newMapCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "map <file>",
		Short: "Suggest a column mapping for a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := opts.parseFile(cmd, args[0])
			if err != nil {
				return err
			}
			result, err := opts.mapColumns(cmd, parsed)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
}
