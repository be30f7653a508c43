package ui

import (
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamcast/internal/pipeline"
	"streamcast/internal/progress"
)

func int64p(v int64) *int64 { return &v }

func step(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out
}

func TestModel_TracksQueries(t *testing.T) {
	m := NewModel(nil, make(chan tea.Msg, 1), make(chan struct{}))

	m = step(t, m, jobUpdateMsg{U: progress.Update{JobID: "lesson03_stream", Stage: progress.StageInitializing, Percent: -1}})
	m = step(t, m, jobUpdateMsg{U: progress.Update{
		JobID: "lesson03_stream", Stage: progress.StageActive, Percent: 50,
		BatchID: int64p(0), Rows: int64p(2), Version: int64p(1), Message: "batch 0, 2 rows",
	}})
	m = step(t, m, jobUpdateMsg{U: progress.Update{
		JobID: "lesson03_stream", Stage: progress.StageReady, Percent: 100,
		BatchID: int64p(1), Rows: int64p(3), Version: int64p(2),
	}})
	m = step(t, m, jobUpdateMsg{U: progress.Update{JobID: "lesson03_stream_display", Stage: progress.StageInitializing, Percent: -1}})

	require.Equal(t, []string{"lesson03_stream", "lesson03_stream_display"}, m.jobOrder)
	js := m.jobs["lesson03_stream"]
	assert.Equal(t, progress.StageReady, js.stage)
	assert.EqualValues(t, 100, js.percent)
	assert.EqualValues(t, 5, js.rows)
	assert.EqualValues(t, 2, js.version)
	assert.Equal(t, "batch 0, 2 rows", js.status)

	assert.Contains(t, m.View(), "Queries: 1/2 ready")
	assert.Contains(t, m.View(), "table v2")
}

func TestModel_ResultsAndDone(t *testing.T) {
	m := NewModel(nil, make(chan tea.Msg, 1), make(chan struct{}))

	m = step(t, m, jobResultMsg{R: progress.Result{JobID: "ok", OutputPath: "TableSink[/tmp/t]"}})
	m = step(t, m, jobResultMsg{R: progress.Result{JobID: "bad", Err: errors.New("sink refused batch")}})
	m = step(t, m, noticeMsg{Line: "The stream ok is active and ready."})

	assert.Equal(t, progress.StageStopped, m.jobs["ok"].stage)
	assert.Equal(t, progress.StageError, m.jobs["bad"].stage)
	assert.Contains(t, m.View(), "sink refused batch")
	assert.Contains(t, m.View(), "active and ready")

	next, cmd := m.Update(runDoneMsg{Res: pipeline.Result{Stopped: []string{"ok"}}})
	require.NotNil(t, cmd)
	fm := next.(Model)
	assert.True(t, fm.finished)
	assert.Equal(t, []string{"ok"}, fm.result.Stopped)
}

func TestModel_QuitCancels(t *testing.T) {
	canceled := false
	m := NewModel(func() { canceled = true }, make(chan tea.Msg, 1), make(chan struct{}))
	m = step(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	assert.True(t, canceled)
	assert.True(t, m.quitting)
	assert.Contains(t, m.View(), "stopping queries")
}

func TestTeaReporter_DropsWhenStopped(t *testing.T) {
	stop := make(chan struct{})
	close(stop)
	r := teaReporter{ch: make(chan tea.Msg), stop: stop}

	r.Result(progress.Result{JobID: "x"})
	r.Update(progress.Update{JobID: "x", Stage: progress.StageActive})

	n, err := noticeWriter{r: r}.Write([]byte("line one\nline two\n"))
	require.NoError(t, err)
	assert.Equal(t, 18, n)
}
