package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"streamcast/internal/model"
	"streamcast/internal/pipeline"
	"streamcast/internal/ui"
	"streamcast/internal/util"
	"streamcast/internal/util/deps"
)

type runMode struct {
	ForceTUI   bool
	DryRunOnly bool
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "run <dataset-dir>",
		Short:         "Start the scoring stream and wait until it is ready",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ExactArgs(1),
		PreRunE:       runPreRun,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExecute(cmd, args, runMode{})
		},
	}
	bindRunFlags(cmd.Flags())
	return cmd
}

const runInputsKey ctxKey = "runInputs"

type runInputs struct {
	Options model.RunOptions
	NoUI    bool
}

func runPreRun(cmd *cobra.Command, args []string) error {
	in, err := assembleRunInputs(cmd, args)
	if err != nil {
		return &ExitError{Code: ExitCLIError, Err: err}
	}
	cmd.SetContext(context.WithValue(cmd.Context(), runInputsKey, in))
	return nil
}

func assembleRunInputs(cmd *cobra.Command, args []string) (runInputs, error) {
	s := appFrom(cmd).settings
	fs := cmd.Flags()

	name, _ := fs.GetString("name")
	schemaFile, _ := fs.GetString("schema")
	label, _ := fs.GetString("label")
	source, _ := fs.GetString("source")
	maxFiles, _ := fs.GetInt("max-files-per-trigger")
	maxRecords, _ := fs.GetInt("max-records-per-trigger")
	trigger, _ := fs.GetString("trigger")
	sink, _ := fs.GetString("sink")
	partitionBy, _ := fs.GetString("partition-by")
	checkpoint, _ := fs.GetString("checkpoint")
	modelURI, _ := fs.GetString("model")
	display, _ := fs.GetBool("display")
	unbounded, _ := fs.GetBool("unbounded")
	keepRunning, _ := fs.GetBool("keep-running")
	noUI, _ := fs.GetBool("no-ui")

	// Run flags override config only when given.
	partitions := intFlag(cmd, "shuffle-partitions", s.ShufflePartitions)
	progressions := intFlag(cmd, "progressions", s.Progressions)
	pollInterval := durationFlag(cmd, "poll-interval", s.PollInterval)
	readyTimeout := durationFlag(cmd, "ready-timeout", s.ReadyTimeout)

	if source != "" {
		resolved, err := resolveBroker(source, s.BrokerBinary)
		if err != nil {
			return runInputs{}, err
		}
		source = resolved
	}

	opts := model.RunOptions{
		DatasetDir:           args[0],
		SchemaFile:           schemaFile,
		Label:                label,
		Name:                 name,
		Trigger:              trigger,
		Sink:                 sink,
		PartitionBy:          partitionBy,
		Checkpoint:           checkpoint,
		ModelURI:             modelURI,
		Display:              display,
		Source:               source,
		MaxFilesPerTrigger:   maxFiles,
		MaxRecordsPerTrigger: maxRecords,
		Partitions:           partitions,
		Progressions:         progressions,
		PollInterval:         pollInterval,
		ReadyTimeout:         readyTimeout,
		Unbounded:            unbounded,
		KeepRunning:          keepRunning,
		TrackingDir:          s.TrackingDir,
		TablesDir:            s.TablesDir,
		CheckpointsDir:       s.CheckpointsDir,
	}
	if unbounded && !cmd.Flags().Changed("ready-timeout") {
		opts.ReadyTimeout = 0
	}
	if err := opts.Validate(); err != nil {
		return runInputs{}, err
	}
	return runInputs{Options: opts, NoUI: noUI}, nil
}

// resolveBroker swaps a bare kcat/kafkacat program name for the configured
// or discovered broker client path.
func resolveBroker(source, custom string) (string, error) {
	argv, err := util.SplitCommand(source)
	if err != nil {
		return "", fmt.Errorf("invalid --source: %w", err)
	}
	if len(argv) == 0 {
		return "", errors.New("invalid --source: empty command")
	}
	if !slices.Contains(deps.BrokerClients, argv[0]) {
		return source, nil
	}
	path, err := deps.FindBroker(custom)
	if err != nil {
		return "", err
	}
	return util.ShellQuote(path, argv[1:]), nil
}

func runExecute(cmd *cobra.Command, args []string, mode runMode) error {
	var in runInputs
	if v := cmd.Context().Value(runInputsKey); v != nil {
		in = v.(runInputs)
	} else {
		var err error
		if in, err = assembleRunInputs(cmd, args); err != nil {
			return &ExitError{Code: ExitCLIError, Err: err}
		}
	}
	a := appFrom(cmd)
	out := cmd.OutOrStdout()

	opts := []pipeline.Option{
		pipeline.WithRunOptions(in.Options),
		pipeline.WithLogger(a.logger),
	}

	if mode.DryRunOnly {
		plan, err := pipeline.NewService(opts...).Plan()
		if err != nil {
			return &ExitError{Code: ExitCLIError, Err: err}
		}
		printPlan(out, plan)
		return nil
	}

	var (
		res pipeline.Result
		err error
	)
	useTUI := mode.ForceTUI || (!in.NoUI && isTerminal())
	if useTUI {
		res, err = ui.Run(cmd.Context(), out, opts...)
	} else {
		res, err = pipeline.NewService(append(opts, pipeline.WithOutput(out))...).Run(cmd.Context())
	}
	printResult(out, res)
	if err != nil {
		return &ExitError{Code: exitCode(err), Err: err}
	}
	return nil
}

func isTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func printResult(w io.Writer, res pipeline.Result) {
	if res.ModelURI != "" {
		fmt.Fprintf(w, "Model:   %s\n", res.ModelURI)
	}
	if res.QueryID != "" {
		fmt.Fprintf(w, "Query:   %s (run %s), %d progress reports\n", res.QueryID, res.RunID, res.Progress)
	}
	for _, name := range res.Stopped {
		fmt.Fprintf(w, "Stopping %s\n", name)
	}
	if res.Rows >= 0 {
		fmt.Fprintf(w, "Table rows: %d\n", res.Rows)
	}
	for i, r := range res.Preview {
		if i == 5 {
			fmt.Fprintf(w, "... %d more preview rows\n", len(res.Preview)-i)
			break
		}
		fmt.Fprintf(w, "preview batch %d: prediction %.2f\n", r.BatchID, r.Prediction)
	}
}

// printPlan outputs a dry-run plan of actions without executing them.
func printPlan(w io.Writer, p *pipeline.Plan) {
	uri := p.ModelURI
	if uri == "" {
		uri = "(latest logged model)"
	}
	wait := p.ReadyTimeout.String()
	if p.Unbounded {
		wait = "unbounded"
	}
	fmt.Fprintln(w, "Dry-run plan:")
	fmt.Fprintf(w, "- Query:          %s\n", p.Name)
	fmt.Fprintf(w, "- Dataset:        %s (%d pending files)\n", p.DatasetDir, p.PendingFiles)
	fmt.Fprintf(w, "- Source:         %s\n", p.Source)
	fmt.Fprintf(w, "- Input schema:   %s\n", p.Input)
	fmt.Fprintf(w, "- Label:          %s\n", p.Label)
	fmt.Fprintf(w, "- Model:          %s\n", uri)
	fmt.Fprintf(w, "- Trigger:        %s\n", p.Trigger)
	fmt.Fprintf(w, "- Sink:           %s %s\n", p.SinkKind, p.SinkTarget)
	fmt.Fprintf(w, "- Partition by:   %s\n", p.PartitionBy)
	fmt.Fprintf(w, "- Checkpoint:     %s\n", p.Checkpoint)
	fmt.Fprintf(w, "- Display:        %v\n", p.Display)
	fmt.Fprintf(w, "- Readiness:      %d progress reports, poll %s, wait %s\n", p.Progressions, p.PollInterval, wait)
	fmt.Fprintf(w, "- Keep running:   %v\n", p.KeepRunning)
}

func intFlag(cmd *cobra.Command, name string, def int) int {
	if !cmd.Flags().Changed(name) {
		return def
	}
	v, _ := cmd.Flags().GetInt(name)
	return v
}

func durationFlag(cmd *cobra.Command, name string, def time.Duration) time.Duration {
	if !cmd.Flags().Changed(name) {
		return def
	}
	v, _ := cmd.Flags().GetDuration(name)
	return v
}
