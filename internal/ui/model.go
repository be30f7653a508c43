package ui

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"streamcast/internal/pipeline"
	"streamcast/internal/progress"
)

// Model renders one line per streaming query as reporter events arrive.
type Model struct {
	cancel func()

	jobOrder []string
	jobs     map[string]*jobState
	notices  []string

	finished bool
	quitting bool
	result   pipeline.Result
	runErr   error

	width, height int
	styles        Styles

	// Internal event channel used by reporter to feed tea messages
	eventCh chan tea.Msg
	stop    <-chan struct{}
}

func NewModel(cancel func(), eventCh chan tea.Msg, stop <-chan struct{}) Model {
	return Model{
		cancel:  cancel,
		jobs:    map[string]*jobState{},
		styles:  defaultStyles(),
		eventCh: eventCh,
		stop:    stop,
	}
}

func (m Model) Init() tea.Cmd {
	return m.listenEventsCmd()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			// Queries are stopped by the run; quit once it reports back.
			m.quitting = true
			if m.cancel != nil {
				m.cancel()
			}
		}
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height

	case jobUpdateMsg:
		js, fresh := m.job(msg.U.JobID)
		js.apply(msg.U)
		if fresh {
			cmds = append(cmds, js.spinner.Tick)
		}
	case jobLogMsg:
		js, _ := m.job(msg.L.JobID)
		line := strings.TrimRight(msg.L.Line, "\r\n")
		if len(js.logsRing) > 100 {
			js.logsRing = js.logsRing[1:]
		}
		js.logsRing = append(js.logsRing, line)
	case jobResultMsg:
		r := msg.R
		js, _ := m.job(r.JobID)
		js.done = true
		js.err = r.Err
		js.sink = r.OutputPath
		if r.Err == nil {
			js.stage = progress.StageStopped
			js.status = "Stopped"
		} else {
			js.stage = progress.StageError
			js.status = r.Err.Error()
			js.percent = -1
		}
	case noticeMsg:
		m.notices = append(m.notices, msg.Line)
	case runDoneMsg:
		m.finished = true
		m.result, m.runErr = msg.Res, msg.Err
		return m, tea.Quit
	}

	for _, id := range m.jobOrder {
		js := m.jobs[id]
		var c tea.Cmd
		js.spinner, c = js.spinner.Update(msg)
		if c != nil {
			cmds = append(cmds, c)
		}
	}
	switch msg.(type) {
	case jobUpdateMsg, jobLogMsg, jobResultMsg, noticeMsg:
		cmds = append(cmds, m.listenEventsCmd())
	}
	return m, tea.Batch(cmds...)
}

func (m Model) View() string {
	summary := m.viewSummary()
	if summary != "" {
		return m.viewHeader() + "\n\n" + m.viewJobs() + "\n" + summary
	}
	return m.viewHeader() + "\n\n" + m.viewJobs()
}

func (m *Model) job(id string) (*jobState, bool) {
	if js, ok := m.jobs[id]; ok {
		return js, false
	}
	js := newJobState(id, m.styles)
	m.jobs[id] = js
	m.jobOrder = append(m.jobOrder, id)
	return js, true
}

func (m Model) listenEventsCmd() tea.Cmd {
	return func() tea.Msg {
		select {
		case <-m.stop:
			return nil
		case msg := <-m.eventCh:
			return msg
		}
	}
}

// teaReporter forwards progress events to the program. Sends that matter for
// the final screen block; the rest are dropped when the buffer is full.
type teaReporter struct {
	ch   chan tea.Msg
	stop <-chan struct{}
}

func (r teaReporter) send(msg tea.Msg, block bool) {
	if !block {
		select {
		case r.ch <- msg:
		default:
		}
		return
	}
	select {
	case r.ch <- msg:
	case <-r.stop:
	}
}

func (r teaReporter) Update(u progress.Update) {
	block := u.Stage == progress.StageReady || u.Stage == progress.StageError || u.Stage == progress.StageInitializing
	r.send(jobUpdateMsg{U: u}, block)
}

func (r teaReporter) Log(l progress.Log) {
	r.send(jobLogMsg{L: l}, false)
}

func (r teaReporter) Result(res progress.Result) {
	r.send(jobResultMsg{R: res}, true)
}

// noticeWriter turns printed lines into notices on the screen.
type noticeWriter struct {
	r teaReporter
}

func (w noticeWriter) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if line != "" {
			w.r.send(noticeMsg{Line: line}, true)
		}
	}
	return len(p), nil
}
