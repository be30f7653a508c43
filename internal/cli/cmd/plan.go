package cmd

import (
	"github.com/spf13/cobra"
)

func newPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "plan <dataset-dir>",
		Short:         "Show what run would start without starting it",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ExactArgs(1),
		PreRunE:       runPreRun,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExecute(cmd, args, runMode{DryRunOnly: true})
		},
	}
	bindRunFlags(cmd.Flags())
	_ = cmd.Flags().MarkHidden("no-ui")
	return cmd
}
