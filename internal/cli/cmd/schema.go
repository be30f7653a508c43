package cmd

import (
	"fmt"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"streamcast/internal/pipeline"
	"streamcast/internal/schema"
	"streamcast/internal/stream"
)

func newSchemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Work with the declared input schema",
	}
	cmd.AddCommand(newSchemaCheckCmd())
	return cmd
}

func newSchemaCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "check <dataset-dir>",
		Short:         "Compare the declared schema with the first record of the dataset",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			schemaFile, _ := cmd.Flags().GetString("schema")
			declared, err := pipeline.ResolveSchema(schemaFile)
			if err != nil {
				return &ExitError{Code: ExitCLIError, Err: err}
			}
			order, rec, err := stream.FirstRecord(args[0], "")
			if err != nil {
				return &ExitError{Code: ExitStreamError, Err: err}
			}
			observed, err := schema.Infer(order, rec)
			if err != nil {
				return &ExitError{Code: ExitStreamError, Err: err}
			}

			out := cmd.OutOrStdout()
			diff := incompatible(declared.Diff(observed))
			if len(diff) == 0 {
				fmt.Fprintf(out, "Schema matches: %d columns\n", declared.Len())
				return nil
			}
			tw := tablewriter.NewWriter(out)
			tw.Header("Column", "Declared", "Observed")
			for _, m := range diff {
				tw.Append(m.Column, orDash(m.Declared), orDash(m.Observed))
			}
			tw.Render()
			return &ExitError{Code: ExitCLIError, Err: fmt.Errorf("%d schema differences", len(diff))}
		},
	}
	cmd.Flags().String("schema", "", "TOML schema declaration (default: listings schema)")
	return cmd
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// incompatible drops double columns whose sampled value happened to be a
// whole number.
func incompatible(diff []schema.Mismatch) []schema.Mismatch {
	out := diff[:0]
	for _, m := range diff {
		if m.Declared == string(schema.Double) && m.Observed == string(schema.Integer) {
			continue
		}
		out = append(out, m)
	}
	return out
}
