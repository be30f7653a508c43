package ui

import (
	bubblesprogress "github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"

	"streamcast/internal/progress"
)

type jobState struct {
	id     string
	stage  progress.Stage
	status string
	err    error
	done   bool

	sink    string
	rows    int64
	version int64
	batch   int64
	percent float64 // -1 means unknown

	spinner spinner.Model
	bar     bubblesprogress.Model

	logsRing []string
}

func newJobState(id string, styles Styles) *jobState {
	sp := spinner.New()
	sp.Style = styles.Spinner
	bar := bubblesprogress.New(
		bubblesprogress.WithDefaultGradient(),
		bubblesprogress.WithWidth(40),
	)
	return &jobState{
		id:      id,
		stage:   progress.StageInitializing,
		status:  "Initializing sources",
		percent: -1,
		batch:   -1,
		version: -1,
		spinner: sp,
		bar:     bar,
	}
}

func (js *jobState) apply(u progress.Update) {
	js.stage = u.Stage
	if u.Message != "" {
		js.status = u.Message
	}
	// Percent stays at its last known value once readiness progress is reported.
	if u.Percent >= 0 || js.percent < 0 {
		js.percent = u.Percent
	}
	if u.Rows != nil {
		js.rows += *u.Rows
	}
	if u.BatchID != nil {
		js.batch = *u.BatchID
	}
	if u.Version != nil && *u.Version >= 0 {
		js.version = *u.Version
	}
}
