package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamcast/internal/checkpoint"
	"streamcast/internal/readiness"
	"streamcast/internal/table"
	"streamcast/internal/util"
)

func listingsDir(t *testing.T, files int) string {
	t.Helper()
	dir := t.TempDir()
	for i := 0; i < files; i++ {
		writeFile(t, dir, fmt.Sprintf("part-%05d.json", i),
			fmt.Sprintf(`{"zipcode":9411%d,"bedrooms":%d,"price":%d}`, i, i+1, 100*(i+1)),
			fmt.Sprintf(`{"zipcode":9410%d,"bedrooms":%d,"price":%d}`, i, i+2, 100*(i+2)),
		)
	}
	return dir
}

func newSource(t *testing.T, dir string) *FileSource {
	t.Helper()
	src, err := NewFileSource(dir, testSchema(), FileSourceOptions{MaxFilesPerTrigger: 1, Drop: []string{"price"}})
	require.NoError(t, err)
	return src
}

func bedrooms(row []float64) float64 { return 10 * row[1] }

func TestQuery_BecomesReady(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	mgr := NewManager(nil)
	sink := NewMemorySink("listings", 0)
	q, err := Start(ctx, mgr, newSource(t, listingsDir(t, 4)), sink,
		WithName("listings"),
		WithTransform(Predict(bedrooms)),
		WithPartitions(2),
	)
	require.NoError(t, err)

	var out bytes.Buffer
	err = readiness.UntilReady(ctx, mgr, "listings",
		readiness.WithProgressions(3),
		readiness.WithInterval(5*time.Millisecond),
		readiness.WithJitter(0),
		readiness.WithOutput(&out),
	)
	require.NoError(t, err)
	assert.Equal(t, "The stream listings is active and ready.\n", out.String())
	assert.GreaterOrEqual(t, q.ProgressCount(), 3)

	recent := q.RecentProgress()
	require.NotEmpty(t, recent)
	assert.EqualValues(t, 0, recent[0].BatchID)
	assert.EqualValues(t, 2, recent[0].NumInputRows)
	assert.Equal(t, q.ID(), recent[0].ID)
	assert.Equal(t, "MemorySink[listings]", recent[0].Sink)

	assert.Equal(t, []string{"listings"}, mgr.StopAll())
	assert.Empty(t, mgr.Active())
	assert.False(t, q.IsActive())
	assert.NoError(t, q.Exception())

	rows := sink.Rows()
	require.NotEmpty(t, rows)
	assert.Equal(t, 10*rows[0].Values[1], rows[0].Prediction)
}

func TestQuery_DuplicateName(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mgr := NewManager(nil)
	dir := listingsDir(t, 1)
	_, err := Start(ctx, mgr, newSource(t, dir), NewMemorySink("a", 0), WithName("listings"))
	require.NoError(t, err)

	_, err = Start(ctx, mgr, newSource(t, dir), NewMemorySink("b", 0), WithName("listings"))
	assert.ErrorIs(t, err, ErrDuplicateName)

	// Unnamed queries never collide.
	_, err = Start(ctx, mgr, newSource(t, dir), NewMemorySink("c", 0))
	require.NoError(t, err)
	_, err = Start(ctx, mgr, newSource(t, dir), NewMemorySink("d", 0))
	require.NoError(t, err)
	assert.Len(t, mgr.Queries(), 3)

	mgr.StopAll()
}

func TestQuery_ResumesFromCheckpoint(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	dir := listingsDir(t, 3)
	ckpt, err := checkpoint.Open(t.TempDir(), nil)
	require.NoError(t, err)
	defer ckpt.Close()
	tbl, err := table.Open(t.TempDir(), nil)
	require.NoError(t, err)
	defer tbl.Close()

	mgr := NewManager(nil)
	start := func() *Query {
		q, err := Start(ctx, mgr, newSource(t, dir), NewTableSink(tbl, "zipcode"),
			WithName("listings"),
			WithCheckpoint(ckpt),
			WithTrigger(AvailableNow()),
			WithTransform(Predict(bedrooms)),
		)
		require.NoError(t, err)
		require.NoError(t, q.AwaitTermination(ctx))
		return q
	}

	first := start()
	assert.Equal(t, 3, first.ProgressCount())
	n, err := tbl.Count()
	require.NoError(t, err)
	assert.EqualValues(t, 6, n)

	// Nothing new: the restart commits nothing and keeps the query ID.
	second := start()
	assert.Equal(t, 0, second.ProgressCount())
	assert.Equal(t, first.ID(), second.ID())
	assert.NotEqual(t, first.RunID(), second.RunID())

	writeFile(t, dir, "part-00009.json", `{"zipcode":94999,"bedrooms":4}`)
	third := start()
	require.Equal(t, 1, third.ProgressCount())
	last, ok := third.LastProgress()
	require.True(t, ok)
	assert.EqualValues(t, 3, last.BatchID)
	assert.EqualValues(t, 4, last.SinkVersion)

	off, err := ckpt.Load("listings")
	require.NoError(t, err)
	assert.EqualValues(t, 3, off.BatchID)
	assert.Equal(t, first.ID(), off.QueryID)
	assert.Len(t, off.Files, 4)
}

func TestQuery_OnceRunsSingleBatch(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	mgr := NewManager(nil)
	q, err := Start(ctx, mgr, newSource(t, listingsDir(t, 3)), NewMemorySink("once", 0), WithTrigger(Once()))
	require.NoError(t, err)
	require.NoError(t, q.AwaitTermination(ctx))
	assert.Equal(t, 1, q.ProgressCount())
	assert.Empty(t, mgr.Active())
}

func TestQuery_IdleProgress(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	mgr := NewManager(nil)
	q, err := Start(ctx, mgr, newSource(t, t.TempDir()), NewMemorySink("idle", 0),
		WithName("idle"),
		WithIdleProgressInterval(10*time.Millisecond),
	)
	require.NoError(t, err)

	require.NoError(t, readiness.UntilReady(ctx, mgr, "idle",
		readiness.WithProgressions(2),
		readiness.WithInterval(5*time.Millisecond),
		readiness.WithOutput(nil),
	))
	last, ok := q.LastProgress()
	require.True(t, ok)
	assert.EqualValues(t, -1, last.BatchID)
	assert.Zero(t, last.NumInputRows)
	assert.Equal(t, "Waiting for data to arrive", q.Status().Message)
	q.Stop()
}

func TestQuery_NoIdleProgressWhenDisabled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	mgr := NewManager(nil)
	_, err := Start(ctx, mgr, newSource(t, t.TempDir()), NewMemorySink("quiet", 0),
		WithName("quiet"),
		WithIdleProgressInterval(0),
	)
	require.NoError(t, err)

	err = readiness.UntilReady(ctx, mgr, "quiet",
		readiness.WithProgressions(1),
		readiness.WithInterval(5*time.Millisecond),
		readiness.WithTimeout(50*time.Millisecond),
		readiness.WithOutput(nil),
	)
	var nre *readiness.NotReadyError
	require.ErrorAs(t, err, &nre)
	assert.True(t, nre.Found)
	assert.Zero(t, nre.Observed)
	mgr.StopAll()
}

type failingSink struct{ MemorySink }

func (f *failingSink) AddBatch(context.Context, Output) (int64, error) {
	return 0, errors.New("disk full")
}

func TestQuery_SinkFailureTerminates(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	mgr := NewManager(nil)
	q, err := Start(ctx, mgr, newSource(t, listingsDir(t, 1)), &failingSink{}, WithName("broken"))
	require.NoError(t, err)

	err = q.AwaitTermination(ctx)
	assert.ErrorContains(t, err, "disk full")
	assert.Equal(t, err, q.Exception())
	assert.Nil(t, mgr.Get("broken"))

	// A failed query is no longer listed, so waiting on it reports it as absent.
	err = readiness.UntilReady(ctx, mgr, "broken",
		readiness.WithTimeout(20*time.Millisecond),
		readiness.WithInterval(time.Millisecond),
		readiness.WithOutput(nil),
	)
	var nre *readiness.NotReadyError
	require.ErrorAs(t, err, &nre)
	assert.False(t, nre.Found)
}

func TestManager_ChangedWakes(t *testing.T) {
	mgr := NewManager(nil)
	ch := mgr.Changed()
	mgr.notify()
	select {
	case <-ch:
	default:
		t.Fatal("changed channel not closed")
	}
	assert.NotEqual(t, ch, mgr.Changed())
}

func TestPredict_Partitions(t *testing.T) {
	rows := make([][]float64, 1000)
	for i := range rows {
		rows[i] = []float64{0, float64(i)}
	}
	for _, parts := range []int{0, 1, 3, 8, 2000} {
		got, err := Predict(bedrooms)(context.Background(), rows, parts)
		require.NoError(t, err)
		require.Len(t, got, len(rows))
		assert.Equal(t, 9990.0, got[999], "partitions=%d", parts)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Predict(bedrooms)(ctx, rows, 2)
	assert.ErrorIs(t, err, context.Canceled)
}

// delayedRunner waits before emitting its lines, like a consumer that is
// still connecting to the broker.
type delayedRunner struct {
	delay time.Duration
	lines []string
}

func (r delayedRunner) Run(ctx context.Context, spec util.CmdSpec) (util.CmdResult, error) {
	select {
	case <-time.After(r.delay):
	case <-ctx.Done():
		return util.CmdResult{}, ctx.Err()
	}
	for _, l := range r.lines {
		spec.StdoutLine(l)
	}
	return util.CmdResult{}, nil
}

func TestQuery_TerminatingTriggersWaitForSlowConsumer(t *testing.T) {
	records := []string{`{"zipcode":1,"bedrooms":1,"price":60}`, `{"zipcode":2,"bedrooms":2,"price":110}`}
	tests := []struct {
		name    string
		trigger Trigger
		lines   []string
		rows    int64
	}{
		{"available now drains until exit", AvailableNow(), records, 2},
		{"once takes the first batch", Once(), records[:1], 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			src, err := NewExecSource("kcat", []string{"-C", "-e"}, testSchema(), ExecSourceOptions{
				Runner: delayedRunner{delay: 20 * time.Millisecond, lines: tt.lines},
				Drop:   []string{"price"},
			})
			require.NoError(t, err)
			sink := NewMemorySink("slow", 0)

			q, err := Start(ctx, NewManager(nil), src, sink, WithTrigger(tt.trigger))
			require.NoError(t, err)
			require.NoError(t, q.AwaitTermination(ctx))
			assert.NoError(t, q.Exception())
			assert.Equal(t, tt.rows, sink.Total())
			assert.GreaterOrEqual(t, q.ProgressCount(), 1)
		})
	}
}

func TestExecSource_NextHonoursCancelBeforeFirstLine(t *testing.T) {
	src, err := NewExecSource("kcat", nil, testSchema(), ExecSourceOptions{
		Runner: delayedRunner{delay: time.Hour},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = src.Next(ctx, checkpoint.Offset{BatchID: -1})
	assert.ErrorIs(t, err, context.Canceled)
}
