package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"streamcast/internal/model"
	"streamcast/internal/pipeline"
)

func newTrainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "train <dataset-dir>",
		Short:         "Fit the linear model and log it to the tracking store",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			schemaFile, _ := cmd.Flags().GetString("schema")
			label, _ := cmd.Flags().GetString("label")
			runName, _ := cmd.Flags().GetString("run-name")
			artifact, _ := cmd.Flags().GetString("artifact-path")
			lambda, _ := cmd.Flags().GetFloat64("lambda")

			res, err := pipeline.Train(cmd.Context(), model.TrainOptions{
				DatasetDir:   args[0],
				SchemaFile:   schemaFile,
				Label:        label,
				RunName:      runName,
				ArtifactPath: artifact,
				Lambda:       lambda,
				TrackingDir:  a.settings.TrackingDir,
			}, a.logger)
			if err != nil {
				return &ExitError{Code: ExitModelError, Err: err}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Run ID:    %s\n", res.RunID)
			fmt.Fprintf(out, "Model URI: %s\n", res.ModelURI)
			fmt.Fprintf(out, "Rows:      %d (%d without a label skipped)\n", res.Rows, res.Skipped)
			fmt.Fprintf(out, "RMSE:      %.4f\n", res.Metrics.RMSE)
			fmt.Fprintf(out, "R2:        %.4f\n", res.Metrics.R2)
			return nil
		},
	}
	cmd.Flags().String("schema", "", "TOML schema declaration (default: listings schema)")
	cmd.Flags().String("label", model.DefaultLabel, "Label column to predict")
	cmd.Flags().String("run-name", "Final linear model", "Name of the tracking run")
	cmd.Flags().String("artifact-path", pipeline.DefaultArtifactPath, "Artifact path of the model inside the run")
	cmd.Flags().Float64("lambda", 0, "Ridge penalty")
	return cmd
}
