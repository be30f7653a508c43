package ui

import (
	"context"
	"fmt"
	"io"

	tea "github.com/charmbracelet/bubbletea"

	"streamcast/internal/pipeline"
)

// Run drives a pipeline.Service under the TUI. The service is built from
// opts plus a reporter and output that feed the screen. Lines the run
// printed are replayed to out once the screen closes.
func Run(parent context.Context, out io.Writer, opts ...pipeline.Option) (pipeline.Result, error) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	eventCh := make(chan tea.Msg, 256)
	stop := make(chan struct{})
	rep := teaReporter{ch: eventCh, stop: stop}

	svc := pipeline.NewService(append(opts,
		pipeline.WithReporter(rep),
		pipeline.WithOutput(noticeWriter{r: rep}),
	)...)

	m := NewModel(cancel, eventCh, stop)
	prog := tea.NewProgram(m, tea.WithContext(parent))

	done := make(chan runDoneMsg, 1)
	go func() {
		res, err := svc.Run(ctx)
		msg := runDoneMsg{Res: res, Err: err}
		done <- msg
		prog.Send(msg)
	}()

	final, perr := prog.Run()
	close(stop)
	cancel()
	outcome := <-done

	if fm, ok := final.(Model); ok && out != nil {
		for _, line := range fm.notices {
			fmt.Fprintln(out, line)
		}
	}
	if perr != nil && outcome.Err == nil {
		return outcome.Res, perr
	}
	return outcome.Res, outcome.Err
}
