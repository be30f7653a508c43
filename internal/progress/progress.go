package progress

import "time"

// Stage identifies where a streaming query is in its lifecycle.
type Stage string

const (
	StageInitializing Stage = "initializing"
	StageActive       Stage = "active"
	StageReady        Stage = "ready"
	StageStopped      Stage = "stopped"
	StageError        Stage = "error"
)

// LogStream indicates which stream produced a log line.
type LogStream int

const (
	StreamStdout LogStream = iota
	StreamStderr
)

// Update conveys progress or stage changes for a query.
// Percent is progress toward readiness, 0..100, or <0 if unknown.
type Update struct {
	JobID   string
	Stage   Stage
	Percent float64

	BatchID *int64         // optional, last completed micro-batch
	Rows    *int64         // optional input rows of the batch
	Version *int64         // optional committed table version
	Elapsed *time.Duration // optional batch duration
	Message string         // short human-friendly status line
}

// Log is a structured log line associated with a query.
type Log struct {
	JobID  string
	Stream LogStream
	Line   string
}

// Result is emitted once per query when it stops or fails.
type Result struct {
	JobID      string
	OutputPath string
	Rows       int64
	Err        error // nil on success
}

// Reporter is implemented by the TUI or any observer interested in query events.
type Reporter interface {
	Update(u Update)
	Log(l Log)
	Result(r Result)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Update(Update) {}
func (Nop) Log(Log)       {}
func (Nop) Result(Result) {}
