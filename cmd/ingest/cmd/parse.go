package cmd

import (
	"github.com/spf13/cobra"
)

func newParseCommand(opts *options) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "parse <file>",
		Short: "Parse a file into headers and rows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := opts.parseFile(cmd, args[0])
			if err != nil {
				return err
			}
			if limit >= 0 && len(result.Rows) > limit {
				result.Rows = result.Rows[:limit]
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "rows to print (-1 for all)")
	return cmd
}
