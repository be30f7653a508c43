// Package pipeline composes model loading, the stream source and sink, the
// checkpoint and the readiness wait into one scoring run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ternarybob/arbor"

	"streamcast/internal/checkpoint"
	"streamcast/internal/model"
	"streamcast/internal/pgsink"
	"streamcast/internal/progress"
	"streamcast/internal/readiness"
	"streamcast/internal/stream"
	"streamcast/internal/table"
	"streamcast/internal/tracking"
	"streamcast/internal/util"
)

// DisplaySuffix names the preview query started alongside the main one.
const DisplaySuffix = "_display"

// ErrModel marks failures to resolve, load or bind the scoring model.
var ErrModel = errors.New("model unavailable")

// Service runs one named scoring stream.
type Service struct {
	opts     model.RunOptions
	runner   util.CmdRunner
	reporter progress.Reporter
	logger   arbor.ILogger
	mgr      *stream.Manager
	store    *tracking.Store
	out      io.Writer
}

// Option configures a Service.
type Option func(*Service)

// WithRunOptions sets the options used for planning and execution.
func WithRunOptions(o model.RunOptions) Option {
	return func(s *Service) {
		s.opts = o
	}
}

// WithRunner injects the command runner used by a consumer source.
func WithRunner(r util.CmdRunner) Option {
	return func(s *Service) {
		s.runner = r
	}
}

// WithReporter attaches a progress reporter (used by TUI).
func WithReporter(rp progress.Reporter) Option {
	return func(s *Service) {
		s.reporter = rp
	}
}

// WithLogger sets the logger.
func WithLogger(l arbor.ILogger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// WithManager shares a query manager, e.g. with the TUI.
func WithManager(m *stream.Manager) Option {
	return func(s *Service) {
		s.mgr = m
	}
}

// WithTrackingStore overrides the store opened from RunOptions.TrackingDir.
func WithTrackingStore(st *tracking.Store) Option {
	return func(s *Service) {
		s.store = st
	}
}

// WithOutput sets where the ready message is printed. Default os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(s *Service) {
		s.out = w
	}
}

// NewService constructs a Service, filling in defaults.
func NewService(opts ...Option) *Service {
	s := &Service{out: os.Stdout}
	for _, o := range opts {
		o(s)
	}
	if s.runner == nil {
		s.runner = util.NewDefaultRunner()
	}
	if s.logger == nil {
		s.logger = arbor.NewLogger()
	}
	if s.reporter == nil {
		s.reporter = progress.Nop{}
	}
	if s.mgr == nil {
		s.mgr = stream.NewManager(s.logger)
	}
	return s
}

// Manager returns the query manager the service starts queries on.
func (s *Service) Manager() *stream.Manager { return s.mgr }

// Result is the outcome of Run.
type Result struct {
	Plan     *Plan
	ModelURI string
	QueryID  string
	RunID    string
	Progress int
	Rows     int64 // rows in the sink after the run; -1 if the sink cannot count
	Stopped  []string
	Preview  []stream.MemoryRow
}

// closers releases resources in reverse order of acquisition.
type closers []func() error

func (c closers) close() error {
	var errs []error
	for i := len(c) - 1; i >= 0; i-- {
		errs = append(errs, c[i]())
	}
	return errors.Join(errs...)
}

// Run starts the query (and its display preview), waits until each is ready,
// then stops every active query unless KeepRunning is set. A wait that ends without readiness
// returns an error wrapping readiness.ErrNotReady.
func (s *Service) Run(ctx context.Context) (res Result, err error) {
	plan, err := s.Plan()
	if err != nil {
		return res, err
	}
	res.Plan = plan
	res.Rows = -1

	var cl closers
	defer func() {
		if cerr := cl.close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	scorer, uri, err := s.loadScorer(plan)
	if err != nil {
		return res, fmt.Errorf("%w: %w", ErrModel, err)
	}
	res.ModelURI = uri

	src, err := s.openSource(plan)
	if err != nil {
		return res, err
	}
	cl = append(cl, src.Close)

	sink, count, err := s.openSink(ctx, plan)
	if err != nil {
		return res, err
	}
	cl = append(cl, sink.Close)

	ckpt, err := checkpoint.Open(plan.Checkpoint, s.logger)
	if err != nil {
		return res, err
	}
	cl = append(cl, ckpt.Close)

	rep := newReadinessReporter(s.reporter, plan.Progressions)
	q, err := stream.Start(ctx, s.mgr, src, sink,
		stream.WithName(plan.Name),
		stream.WithTrigger(plan.trigger),
		stream.WithCheckpoint(ckpt),
		stream.WithTransform(stream.Predict(scorer)),
		stream.WithPartitions(plan.Partitions),
		stream.WithReporter(rep),
		stream.WithLogger(s.logger),
	)
	if err != nil {
		return res, err
	}
	res.QueryID, res.RunID = q.ID(), q.RunID()

	var preview *stream.MemorySink
	if plan.Display {
		if preview, err = s.startDisplay(ctx, plan, scorer, rep); err != nil {
			s.mgr.StopAll()
			return res, err
		}
	}

	// A query that dies cannot become ready; stop waiting on it.
	waitCtx, stopWait := context.WithCancel(ctx)
	defer stopWait()
	go func() {
		if q.AwaitTermination(waitCtx) != nil && q.Exception() != nil {
			stopWait()
		}
	}()

	waiter := readiness.New(s.mgr, s.waitOptions(plan)...)
	waitErr := waiter.Wait(waitCtx, plan.Name)
	if waitErr == nil && preview != nil {
		waitErr = waiter.Wait(waitCtx, plan.Name+DisplaySuffix)
	}
	if waitErr == nil && plan.KeepRunning {
		s.logger.Info().Str("query", plan.Name).Msg("Keeping query running until interrupted")
		waitErr = q.AwaitTermination(waitCtx)
		if errors.Is(waitErr, context.Canceled) {
			waitErr = nil
		}
	}
	if exc := q.Exception(); exc != nil {
		switch {
		case ctx.Err() == nil && waitCtx.Err() != nil:
			waitErr = exc
		case waitErr != nil && !errors.Is(waitErr, exc):
			waitErr = fmt.Errorf("%w (%w)", waitErr, exc)
		}
	}

	res.Stopped = s.mgr.StopAll()
	res.Progress = q.ProgressCount()
	if preview != nil {
		res.Preview = preview.Rows()
	}
	if count != nil {
		if n, cerr := count(); cerr == nil {
			res.Rows = n
		} else {
			s.logger.Warn().Err(cerr).Msg("Could not count sink rows")
		}
	}
	return res, waitErr
}

func (s *Service) waitOptions(plan *Plan) []readiness.Option {
	opts := []readiness.Option{
		readiness.WithProgressions(plan.Progressions),
		readiness.WithInterval(plan.PollInterval),
		readiness.WithLogger(s.logger),
		readiness.WithOutput(s.out),
	}
	if plan.Unbounded {
		opts = append(opts, readiness.WithUnbounded())
	} else {
		opts = append(opts, readiness.WithTimeout(plan.ReadyTimeout))
	}
	return opts
}

func (s *Service) loadScorer(plan *Plan) (tracking.Scorer, string, error) {
	store := s.store
	if store == nil {
		var err error
		if store, err = tracking.Open(s.opts.TrackingDir, s.logger); err != nil {
			return nil, "", err
		}
	}
	uri := plan.ModelURI
	if uri == "" {
		var err error
		if uri, err = store.LatestModelURI(); err != nil {
			return nil, "", fmt.Errorf("no model URI given and none logged in %s (run `streamcast train` first): %w", store.Root(), err)
		}
	}
	udf, err := store.LoadUDF(uri)
	if err != nil {
		return nil, "", err
	}
	scorer, err := udf.Bind(plan.Input)
	if err != nil {
		return nil, "", err
	}
	s.logger.Info().Str("uri", uri).Msg("Loaded model")
	return scorer, uri, nil
}

func (s *Service) openSource(plan *Plan) (stream.Source, error) {
	if plan.Source == "files" {
		return stream.NewFileSource(plan.DatasetDir, plan.Schema, stream.FileSourceOptions{
			MaxFilesPerTrigger: plan.MaxFilesPerTrigger,
			Drop:               []string{plan.Label},
		})
	}
	argv, err := util.SplitCommand(plan.Source)
	if err != nil {
		return nil, err
	}
	if len(argv) == 0 {
		return nil, errors.New("empty source command")
	}
	return stream.NewExecSource(argv[0], argv[1:], plan.Schema, stream.ExecSourceOptions{
		MaxRecordsPerTrigger: plan.MaxRecordsPerTrigger,
		Drop:                 []string{plan.Label},
		Runner:               s.runner,
		Logger:               s.logger,
	})
}

// openSink returns the sink and, when it can, a row counter for the result.
func (s *Service) openSink(ctx context.Context, plan *Plan) (stream.Sink, func() (int64, error), error) {
	switch plan.SinkKind {
	case model.SinkMemory:
		m := stream.NewMemorySink(plan.Name, 0)
		return m, func() (int64, error) { return m.Total(), nil }, nil
	case model.SinkPostgres:
		pg, err := pgsink.Open(ctx, s.opts.Sink, plan.PartitionBy, s.logger)
		if err != nil {
			return nil, nil, err
		}
		return pg, nil, nil
	default:
		tbl, err := table.Open(plan.SinkTarget, s.logger)
		if err != nil {
			return nil, nil, err
		}
		count := func() (int64, error) {
			n, err := tbl.Count()
			return int64(n), err
		}
		return stream.NewTableSink(tbl, plan.PartitionBy), count, nil
	}
}

// startDisplay runs an unchecked preview query into memory, the equivalent
// of displaying the scored stream.
func (s *Service) startDisplay(ctx context.Context, plan *Plan, scorer tracking.Scorer, rep progress.Reporter) (*stream.MemorySink, error) {
	src, err := s.openSource(plan)
	if err != nil {
		return nil, err
	}
	mem := stream.NewMemorySink(plan.Name+DisplaySuffix, 0)
	_, err = stream.Start(ctx, s.mgr, src, mem,
		stream.WithName(plan.Name+DisplaySuffix),
		stream.WithTrigger(plan.trigger),
		stream.WithTransform(stream.Predict(scorer)),
		stream.WithPartitions(plan.Partitions),
		stream.WithReporter(rep),
		stream.WithLogger(s.logger),
	)
	if err != nil {
		return nil, err
	}
	return mem, nil
}
