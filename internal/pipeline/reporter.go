package pipeline

import (
	"sync"

	"streamcast/internal/progress"
)

// readinessReporter turns per-report Updates into progress toward the
// readiness threshold before forwarding them.
type readinessReporter struct {
	inner progress.Reporter
	want  int

	mu     sync.Mutex
	counts map[string]int
}

func newReadinessReporter(inner progress.Reporter, want int) *readinessReporter {
	if want < 1 {
		want = 1
	}
	return &readinessReporter{inner: inner, want: want, counts: map[string]int{}}
}

func (r *readinessReporter) Update(u progress.Update) {
	if u.Stage == progress.StageActive {
		r.mu.Lock()
		r.counts[u.JobID]++
		n := r.counts[u.JobID]
		r.mu.Unlock()

		u.Percent = 100 * float64(min(n, r.want)) / float64(r.want)
		if n >= r.want {
			u.Stage = progress.StageReady
		}
	}
	r.inner.Update(u)
}

func (r *readinessReporter) Log(l progress.Log) { r.inner.Log(l) }

func (r *readinessReporter) Result(res progress.Result) { r.inner.Result(res) }
