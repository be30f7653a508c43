package pipeline

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/ternarybob/arbor"

	"streamcast/internal/model"
	"streamcast/internal/regress"
	"streamcast/internal/stream"
	"streamcast/internal/tracking"
)

// DefaultArtifactPath is where train logs the model inside its run.
const DefaultArtifactPath = "linear-model"

// TrainResult is the outcome of Train.
type TrainResult struct {
	RunID    string
	ModelURI string
	Rows     int
	Skipped  int // rows without a label
	Metrics  regress.Metrics
}

// Train fits a model on every record in the dataset and logs it to the
// tracking store as a new run.
func Train(ctx context.Context, o model.TrainOptions, logger arbor.ILogger) (res TrainResult, err error) {
	if logger == nil {
		logger = arbor.NewLogger()
	}
	if err := o.Validate(); err != nil {
		return res, err
	}
	sch, err := ResolveSchema(o.SchemaFile)
	if err != nil {
		return res, err
	}
	li := sch.Index(o.Label)
	if li < 0 {
		return res, fmt.Errorf("label %q is not a column of %s", o.Label, sch)
	}
	features := sch.Drop(o.Label)

	rows, err := stream.ReadDir(o.DatasetDir, "", sch)
	if err != nil {
		return res, err
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	X := make([][]float64, 0, len(rows))
	y := make([]float64, 0, len(rows))
	for _, r := range rows {
		if math.IsNaN(r[li]) {
			res.Skipped++
			continue
		}
		x := make([]float64, 0, len(r)-1)
		x = append(x, r[:li]...)
		x = append(x, r[li+1:]...)
		X = append(X, x)
		y = append(y, r[li])
	}
	res.Rows = len(X)

	m, metrics, err := regress.Fit(features.Names(), X, y, regress.FitOptions{Lambda: o.Lambda})
	if err != nil {
		return res, fmt.Errorf("fit: %w", err)
	}
	res.Metrics = metrics

	store, err := tracking.Open(o.TrackingDir, logger)
	if err != nil {
		return res, err
	}
	run, err := store.StartRun(o.RunName)
	if err != nil {
		return res, err
	}
	defer func() {
		if endErr := run.End(err); endErr != nil && err == nil {
			err = endErr
		}
	}()
	res.RunID = run.ID()

	run.LogParam("label", o.Label)
	run.LogParam("lambda", strconv.FormatFloat(m.Lambda, 'g', -1, 64))
	run.LogParam("dataset", o.DatasetDir)
	run.LogMetric("rmse", metrics.RMSE)
	run.LogMetric("r2", metrics.R2)
	run.LogMetric("rows", float64(metrics.N))

	uri, err := run.LogModel(o.ArtifactPath, m, o.Label, features)
	if err != nil {
		return res, err
	}
	res.ModelURI = uri

	logger.Info().
		Str("run_id", res.RunID).
		Str("uri", uri).
		Int("rows", res.Rows).
		Float64("rmse", metrics.RMSE).
		Float64("r2", metrics.R2).
		Msg("Model trained")
	return res, nil
}
