// Package stream runs micro-batch streaming queries: a source is polled on a
// trigger, each batch is transformed and written to a sink, the offset is
// checkpointed and a progress report is appended to the query.
package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"streamcast/internal/checkpoint"
	"streamcast/internal/progress"
	"streamcast/internal/util/format"
)

const (
	// DefaultIdleProgressInterval spaces the zero-row reports of an idle query.
	DefaultIdleProgressInterval = 10 * time.Second
	// DefaultPartitions is the number of concurrent scoring slices per batch.
	DefaultPartitions = 4

	recentLimit = 100
	idlePoll    = 100 * time.Millisecond
)

// ProgressReport describes one completed micro-batch, or an idle interval.
type ProgressReport struct {
	ID                     string
	RunID                  string
	Name                   string
	BatchID                int64
	Timestamp              time.Time
	NumInputRows           int64
	ProcessedRowsPerSecond float64
	Duration               time.Duration
	Source                 string
	Sink                   string
	SinkVersion            int64
}

// Status is a snapshot of what the query is doing.
type Status struct {
	Message         string
	IsDataAvailable bool
	IsTriggerActive bool
}

// Query is a running streaming query.
type Query struct {
	id    string
	runID string
	name  string

	mgr        *Manager
	src        Source
	sink       Sink
	trigger    Trigger
	ckpt       *checkpoint.Store
	transform  Transform
	partitions int
	reporter   progress.Reporter
	logger     arbor.ILogger
	idleEvery  time.Duration

	mu         sync.Mutex
	recent     []ProgressReport
	count      int
	lastReport time.Time
	status     Status
	err        error

	cancel context.CancelFunc
	done   chan struct{}
}

// QueryOption configures a Query at Start.
type QueryOption func(*Query)

// WithName names the query. Names are unique among active queries.
func WithName(name string) QueryOption {
	return func(q *Query) { q.name = name }
}

// WithTrigger sets when micro-batches run.
func WithTrigger(t Trigger) QueryOption {
	return func(q *Query) { q.trigger = t }
}

// WithCheckpoint persists offsets so a restarted query resumes.
func WithCheckpoint(s *checkpoint.Store) QueryOption {
	return func(q *Query) { q.ckpt = s }
}

// WithTransform scores every batch before it reaches the sink.
func WithTransform(t Transform) QueryOption {
	return func(q *Query) { q.transform = t }
}

// WithPartitions sets how many slices a batch is split into for the transform.
func WithPartitions(n int) QueryOption {
	return func(q *Query) {
		if n > 0 {
			q.partitions = n
		}
	}
}

// WithReporter receives an Update for every progress report and a Result on termination.
func WithReporter(r progress.Reporter) QueryOption {
	return func(q *Query) { q.reporter = r }
}

// WithLogger sets the query logger.
func WithLogger(l arbor.ILogger) QueryOption {
	return func(q *Query) { q.logger = l }
}

// WithIdleProgressInterval sets how often an idle query appends a zero-row report.
// Zero disables idle reports.
func WithIdleProgressInterval(d time.Duration) QueryOption {
	return func(q *Query) { q.idleEvery = d }
}

// Start registers a query with mgr and runs it in the background until ctx is
// cancelled, Stop is called, a terminating trigger completes, or a batch fails.
func Start(ctx context.Context, mgr *Manager, src Source, sink Sink, opts ...QueryOption) (*Query, error) {
	if mgr == nil || src == nil || sink == nil {
		return nil, errors.New("stream: manager, source and sink are required")
	}
	q := &Query{
		runID:      uuid.NewString(),
		mgr:        mgr,
		src:        src,
		sink:       sink,
		trigger:    ProcessingTime(0),
		partitions: DefaultPartitions,
		reporter:   progress.Nop{},
		idleEvery:  DefaultIdleProgressInterval,
		done:       make(chan struct{}),
		status:     Status{Message: "Initializing sources"},
	}
	for _, o := range opts {
		o(q)
	}
	if q.logger == nil {
		q.logger = arbor.NewLogger()
	}
	if q.reporter == nil {
		q.reporter = progress.Nop{}
	}

	off := checkpoint.Offset{BatchID: -1}
	if q.ckpt != nil {
		if q.name == "" {
			return nil, errors.New("stream: a checkpointed query needs a name")
		}
		var err error
		if off, err = q.ckpt.Load(q.name); err != nil {
			return nil, err
		}
	}
	q.id = off.QueryID
	if q.id == "" {
		q.id = uuid.NewString()
	}
	off.Query = q.name
	off.QueryID = q.id

	if err := mgr.register(q); err != nil {
		return nil, err
	}

	qctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.lastReport = time.Now()

	q.logger.Info().
		Str("query", q.name).
		Str("id", q.id).
		Str("run_id", q.runID).
		Str("trigger", q.trigger.String()).
		Int64("resume_after", off.BatchID).
		Msg("Streaming query started")
	q.reporter.Update(progress.Update{JobID: q.jobID(), Stage: progress.StageInitializing, Percent: -1, Message: "Initializing sources"})

	go q.run(qctx, off)
	return q, nil
}

// ID is stable across restarts from the same checkpoint.
func (q *Query) ID() string { return q.id }

// RunID is unique to this start.
func (q *Query) RunID() string { return q.runID }

func (q *Query) Name() string { return q.name }

// ProgressCount is the number of progress reports appended since start. It never decreases.
func (q *Query) ProgressCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// RecentProgress returns a copy of the most recent progress reports, oldest first.
func (q *Query) RecentProgress() []ProgressReport {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]ProgressReport(nil), q.recent...)
}

// LastProgress returns the newest report, if any.
func (q *Query) LastProgress() (ProgressReport, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.recent) == 0 {
		return ProgressReport{}, false
	}
	return q.recent[len(q.recent)-1], true
}

func (q *Query) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.status
}

// Exception returns the error that terminated the query, if any.
func (q *Query) Exception() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.err
}

// IsActive reports whether the query is still running.
func (q *Query) IsActive() bool {
	select {
	case <-q.done:
		return false
	default:
		return true
	}
}

// Stop cancels the query and waits for it to terminate.
func (q *Query) Stop() {
	q.cancel()
	<-q.done
}

// AwaitTermination blocks until the query terminates or ctx is done, and
// returns the query's exception.
func (q *Query) AwaitTermination(ctx context.Context) error {
	select {
	case <-q.done:
		return q.Exception()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Query) jobID() string {
	if q.name != "" {
		return q.name
	}
	return q.id
}

func (q *Query) setStatus(msg string, data bool) {
	q.mu.Lock()
	q.status = Status{Message: msg, IsDataAvailable: data, IsTriggerActive: data}
	q.mu.Unlock()
}

func (q *Query) run(ctx context.Context, off checkpoint.Offset) {
	var total int64
	defer func() {
		q.mgr.deregister(q)
		err := q.Exception()
		q.setStatus("Stopped", false)
		q.reporter.Result(progress.Result{JobID: q.jobID(), OutputPath: q.sink.Describe(), Rows: total, Err: err})
		if err != nil {
			q.logger.Error().Err(err).Str("query", q.name).Msg("Streaming query failed")
		} else {
			q.logger.Info().Str("query", q.name).Int64("rows", total).Msg("Streaming query stopped")
		}
		close(q.done)
	}()

	for {
		start := time.Now()
		q.setStatus("Getting offsets from "+q.src.Describe(), true)

		b, err := q.src.Next(ctx, off)
		if err != nil {
			q.fail(ctx, err)
			return
		}

		if b.Empty() {
			q.setStatus("Waiting for data to arrive", false)
			if q.trigger.Terminates() && exhausted(q.src) {
				return
			}
			q.idle(off)
		} else {
			next, version, err := q.runBatch(ctx, off, b)
			if err != nil {
				q.fail(ctx, err)
				return
			}
			off = next
			total += int64(len(b.Rows))
			q.record(start, off, int64(len(b.Rows)), version)
			if q.trigger.kind == kindOnce {
				return
			}
		}

		wait := time.Until(q.trigger.next(start))
		if q.trigger.sched == nil {
			wait = 0
			if b.Empty() {
				wait = idlePoll
			}
		}
		if wait <= 0 {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// fail records err unless the query is being stopped.
func (q *Query) fail(ctx context.Context, err error) {
	if ctx.Err() != nil {
		return
	}
	q.mu.Lock()
	q.err = fmt.Errorf("query %s terminated with exception: %w", q.jobID(), err)
	q.mu.Unlock()
	q.reporter.Update(progress.Update{JobID: q.jobID(), Stage: progress.StageError, Percent: -1, Message: err.Error()})
}

func (q *Query) runBatch(ctx context.Context, off checkpoint.Offset, b Batch) (checkpoint.Offset, int64, error) {
	batchID := off.BatchID + 1
	q.setStatus("Processing new data", true)

	var preds []float64
	if q.transform != nil {
		var err error
		if preds, err = q.transform(ctx, b.Rows, q.partitions); err != nil {
			return off, 0, fmt.Errorf("batch %d transform: %w", batchID, err)
		}
	}

	version, err := q.sink.AddBatch(ctx, Output{
		AppID:       q.id,
		BatchID:     batchID,
		Schema:      q.src.Schema(),
		Rows:        b.Rows,
		Predictions: preds,
	})
	if err != nil {
		return off, 0, fmt.Errorf("batch %d sink: %w", batchID, err)
	}

	next := off
	next.BatchID = batchID
	next.Files = append(append([]string(nil), off.Files...), b.Files...)
	next.Records = off.Records + b.Records
	if q.ckpt != nil {
		if err := q.ckpt.Commit(next); err != nil {
			return off, 0, err
		}
	}
	return next, version, nil
}

func (q *Query) record(start time.Time, off checkpoint.Offset, rows, version int64) {
	now := time.Now()
	dur := now.Sub(start)
	rate := 0.0
	if dur > 0 {
		rate = float64(rows) / dur.Seconds()
	}
	q.append(ProgressReport{
		BatchID:                off.BatchID,
		Timestamp:              now.UTC(),
		NumInputRows:           rows,
		ProcessedRowsPerSecond: rate,
		Duration:               dur,
		SinkVersion:            version,
	})
	q.logger.Debug().
		Str("query", q.name).
		Int64("batch_id", off.BatchID).
		Int64("rows", rows).
		Int64("version", version).
		Str("duration", dur.String()).
		Msg("Micro-batch committed")
}

func (q *Query) idle(off checkpoint.Offset) {
	if q.idleEvery <= 0 {
		return
	}
	q.mu.Lock()
	due := time.Since(q.lastReport) >= q.idleEvery
	q.mu.Unlock()
	if !due {
		return
	}
	q.append(ProgressReport{BatchID: off.BatchID, Timestamp: time.Now().UTC()})
}

func (q *Query) append(r ProgressReport) {
	r.ID, r.RunID, r.Name = q.id, q.runID, q.name
	r.Source, r.Sink = q.src.Describe(), q.sink.Describe()

	q.mu.Lock()
	q.recent = append(q.recent, r)
	if len(q.recent) > recentLimit {
		q.recent = append([]ProgressReport(nil), q.recent[len(q.recent)-recentLimit:]...)
	}
	q.count++
	q.lastReport = time.Now()
	q.mu.Unlock()

	q.mgr.notify()

	batch, rows, version, dur := r.BatchID, r.NumInputRows, r.SinkVersion, r.Duration
	q.reporter.Update(progress.Update{
		JobID:   q.jobID(),
		Stage:   progress.StageActive,
		Percent: -1,
		BatchID: &batch,
		Rows:    &rows,
		Version: &version,
		Elapsed: &dur,
		Message: describeReport(r),
	})
}

func describeReport(r ProgressReport) string {
	if r.NumInputRows == 0 {
		return fmt.Sprintf("batch %d idle", r.BatchID)
	}
	parts := []string{
		fmt.Sprintf("batch %d", r.BatchID),
		fmt.Sprintf("%d rows", r.NumInputRows),
		format.HumanizeRate(r.ProcessedRowsPerSecond),
	}
	return strings.Join(parts, ", ")
}
