package ui

import (
	"fmt"
	"strings"

	"streamcast/internal/progress"
)

func (m Model) viewHeader() string {
	ready, total := 0, len(m.jobOrder)
	for _, id := range m.jobOrder {
		if m.jobs[id].percent >= 100 {
			ready++
		}
	}
	title := m.styles.Title.Render("streamcast · live scoring")
	hint := "q: stop"
	if m.quitting {
		hint = "stopping queries"
	}
	sub := m.styles.Subtitle.Render(fmt.Sprintf("Queries: %d/%d ready • %s", ready, total, hint))
	return title + "\n" + sub
}

func (m Model) viewJobs() string {
	var b strings.Builder
	for _, id := range m.jobOrder {
		b.WriteString(m.viewJob(m.jobs[id]))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) viewJob(js *jobState) string {
	stageStyle := m.styles.JobInfo
	switch js.stage {
	case progress.StageInitializing:
		stageStyle = m.styles.StageInit
	case progress.StageActive:
		stageStyle = m.styles.StageActive
	case progress.StageReady:
		stageStyle = m.styles.StageReady
	case progress.StageStopped:
		stageStyle = m.styles.Success
	case progress.StageError:
		stageStyle = m.styles.Error
	}

	left := m.styles.JobTitle.Render(truncate(js.id, 48))
	stage := stageStyle.Render(string(js.stage))

	var right string
	if js.err != nil {
		right = m.styles.Error.Render("✗ error")
	} else if js.percent >= 0 && js.percent <= 100 {
		right = fmt.Sprintf("%s %5.1f%%", js.bar.ViewAs(js.percent/100.0), js.percent)
	} else if js.done {
		right = m.styles.Success.Render("✓ stopped")
	} else {
		right = m.styles.Spinner.Render(js.spinner.View()) + " " + m.styles.Faint.Render("waiting for data")
	}

	info := js.status
	if js.batch >= 0 {
		info = fmt.Sprintf("%s • %d rows total", info, js.rows)
	}
	if js.version >= 0 {
		info = fmt.Sprintf("%s • table v%d", info, js.version)
	}
	line1 := fmt.Sprintf("%s  %s", left, stage)
	line2 := m.styles.JobInfo.Render(info)
	return m.styles.Box.Render(line1 + "\n" + right + "\n" + line2)
}

func (m Model) viewSummary() string {
	if len(m.notices) == 0 {
		return ""
	}
	var b strings.Builder
	for _, n := range m.notices {
		b.WriteString(m.styles.Success.Render("✓ " + n))
		b.WriteString("\n")
	}
	return b.String()
}

func truncate(s string, n int) string {
	rs := []rune(s)
	if n <= 0 || len(rs) <= n {
		return s
	}
	return string(rs[:n-1]) + "…"
}
