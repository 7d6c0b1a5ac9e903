package cmd

import (
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/scalpel-pilot/internal/orchestrator"
)

func newTranscriptCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "transcript <file>",
		Short: "Print a task transcript written by run --transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := orchestrator.ReadTranscript(args[0])
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), res, output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "format: text, json or yaml")
	return cmd
}
