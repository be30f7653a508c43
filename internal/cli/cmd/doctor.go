package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"streamcast/internal/tracking"
	"streamcast/internal/util/deps"
)

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:           "doctor",
		Short:         "Diagnose directories, the tracking store and the optional broker client",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := appFrom(cmd)
			s := a.settings
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Data dir:     %s\n", s.DataDir)
			fmt.Fprintf(out, "Tables:       %s\n", s.TablesDir)
			fmt.Fprintf(out, "Checkpoints:  %s\n", s.CheckpointsDir)
			fmt.Fprintf(out, "Logs:         %s\n", s.LogDir)

			store, err := tracking.Open(s.TrackingDir, a.logger)
			if err != nil {
				return &ExitError{Code: ExitModelError, Err: err}
			}
			runs, err := store.ListRuns()
			if err != nil {
				return &ExitError{Code: ExitModelError, Err: err}
			}
			fmt.Fprintf(out, "Tracking:     %s (%d runs)\n", store.Root(), len(runs))
			if uri, err := store.LatestModelURI(); err == nil {
				fmt.Fprintf(out, "Latest model: %s\n", uri)
			} else {
				fmt.Fprintln(out, "Latest model: none (run `streamcast train` first)")
			}

			// A missing broker client only disables consumer sources.
			if p, err := deps.FindBroker(s.BrokerBinary); err == nil {
				fmt.Fprintf(out, "Broker:       %s\n", p)
			} else {
				fmt.Fprintf(out, "Broker:       %v\n", err)
			}
			return nil
		},
	}
}
