package ui

import (
	"streamcast/internal/pipeline"
	"streamcast/internal/progress"
)

type jobUpdateMsg struct {
	U progress.Update
}

type jobLogMsg struct {
	L progress.Log
}

type jobResultMsg struct {
	R progress.Result
}

// noticeMsg carries a line the run printed, such as the ready message.
type noticeMsg struct {
	Line string
}

type runDoneMsg struct {
	Res pipeline.Result
	Err error
}
