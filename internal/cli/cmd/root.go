package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/ternarybob/arbor"

	"streamcast/internal/config"
	"streamcast/internal/logging"
	"streamcast/internal/pipeline"
	"streamcast/internal/readiness"
)

const (
	ExitOK          = 0
	ExitCLIError    = 1
	ExitModelError  = 2
	ExitStreamError = 3
	ExitNotReady    = 4
)

// ExitError wraps an error with a process exit code.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

type ctxKey string

const appKey ctxKey = "app"

// app is the per-invocation state set up by the root pre-run hook.
type app struct {
	settings config.Settings
	logger   arbor.ILogger
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "streamcast",
		Short: "Score a streaming dataset with a logged model",
		Long: "streamcast trains a linear model, logs it to a local tracking store, then " +
			"applies it to a micro-batch stream and waits until the stream has made enough " +
			"progress to be considered ready.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return setup(cmd)
		},
	}

	// Persistent flags available to all subcommands
	root.PersistentFlags().String("data-dir", "", "Base directory for tables and checkpoints")
	root.PersistentFlags().String("tracking-dir", "", "Model tracking store (default <data-dir>/mlruns)")
	root.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error")
	root.PersistentFlags().String("broker-binary", "", "Path to kcat/kafkacat for broker sources")

	root.AddCommand(newTrainCmd())
	root.AddCommand(newRunCmd())
	root.AddCommand(newPlanCmd())
	root.AddCommand(newTuiCmd())
	root.AddCommand(newTableCmd())
	root.AddCommand(newSchemaCmd())
	root.AddCommand(newDoctorCmd())
	root.AddCommand(newCompletionCmd())

	return root
}

// setup loads configuration and builds the logger once per invocation.
func setup(cmd *cobra.Command) error {
	if err := config.Init(cmd.Root()); err != nil {
		return &ExitError{Code: ExitCLIError, Err: err}
	}
	s := config.Current()
	if v := getPersistentString(cmd, "broker-binary", ""); v != "" {
		s.BrokerBinary = v
	}
	outputs := s.LogOutput
	if cmd.Name() == "tui" {
		outputs = []string{"file"}
	}
	logger := logging.New(logging.Config{Level: s.LogLevel, Output: outputs, Dir: s.LogDir})
	cmd.SetContext(context.WithValue(cmd.Context(), appKey, &app{settings: s, logger: logger}))
	return nil
}

func appFrom(cmd *cobra.Command) *app {
	if a, ok := cmd.Context().Value(appKey).(*app); ok {
		return a
	}
	return &app{settings: config.Current(), logger: logging.Discard()}
}

func bindRunFlags(fs *pflag.FlagSet) {
	fs.String("name", "lesson03_stream", "Query name; also keys the checkpoint")
	fs.String("schema", "", "TOML schema declaration (default: listings schema)")
	fs.String("label", "price", "Label column excluded from the model input")
	fs.String("source", "", "Consumer command whose stdout carries JSON records (default: dataset files)")
	fs.Int("max-files-per-trigger", 1, "Files admitted per micro-batch (0 = all)")
	fs.Int("max-records-per-trigger", 0, "Records admitted per micro-batch for a consumer source (0 = all)")
	fs.String("trigger", "", "Trigger: default, once, available-now, <duration>, cron:<spec>")
	fs.String("sink", "", "Sink: table path, postgres:// URL or memory (default: <data-dir>/tables/<name>)")
	fs.String("partition-by", "zipcode", "Partition column of the sink")
	fs.String("checkpoint", "", "Checkpoint location (default: <data-dir>/checkpoints/<name>)")
	fs.String("model", "", "Model URI runs:/<id>/<path> (default: latest logged model)")
	fs.Bool("display", false, "Also run an in-memory preview query and wait for it")
	fs.Int("shuffle-partitions", 0, "Concurrent scoring slices per batch (default from config)")
	fs.Int("progressions", 0, "Progress reports required before the stream is ready (default from config)")
	fs.Duration("poll-interval", 0, "Readiness poll interval (default from config)")
	fs.Duration("ready-timeout", -1, "Give up waiting after this long (default from config; 0 needs --unbounded)")
	fs.Bool("unbounded", false, "Wait without a deadline (rejects a non-zero --ready-timeout)")
	fs.Bool("keep-running", false, "Leave the query running after it is ready until interrupted")
	fs.Bool("no-ui", false, "Disable TUI; use plain textual output")
}

// Execute runs the CLI with the provided context.
func Execute(ctx context.Context) error {
	root := newRootCmd()
	return root.ExecuteContext(ctx)
}

// exitCode classifies a run failure.
func exitCode(err error) int {
	var ee *ExitError
	switch {
	case errors.As(err, &ee):
		return ee.Code
	case errors.Is(err, readiness.ErrNotReady):
		return ExitNotReady
	case errors.Is(err, pipeline.ErrModel):
		return ExitModelError
	default:
		return ExitStreamError
	}
}

// Helpers
func getPersistentString(cmd *cobra.Command, name, def string) string {
	f := cmd.Flags().Lookup(name)
	if f == nil {
		f = cmd.InheritedFlags().Lookup(name)
	}
	if f == nil || f.Value.String() == "" {
		return def
	}
	return f.Value.String()
}
