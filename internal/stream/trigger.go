package stream

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

type triggerKind int

const (
	kindProcessingTime triggerKind = iota
	kindCron
	kindOnce
	kindAvailableNow
)

// Trigger decides when the next micro-batch starts.
type Trigger struct {
	kind  triggerKind
	every time.Duration
	spec  string
	sched cron.Schedule
}

// intervalSchedule is a cron.Schedule for sub-second intervals, which
// cron.Every rounds up to a full second.
type intervalSchedule struct {
	d time.Duration
}

func (s intervalSchedule) Next(t time.Time) time.Time { return t.Add(s.d) }

// ProcessingTime starts a batch every d. Zero runs batches back to back.
func ProcessingTime(d time.Duration) Trigger {
	t := Trigger{kind: kindProcessingTime, every: d}
	switch {
	case d <= 0:
		t.every = 0
	case d >= time.Second:
		t.sched = cron.Every(d)
	default:
		t.sched = intervalSchedule{d: d}
	}
	return t
}

// Cron starts batches on a standard five-field cron spec or a descriptor
// such as "@every 30s".
func Cron(spec string) (Trigger, error) {
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return Trigger{}, fmt.Errorf("invalid cron trigger %q: %w", spec, err)
	}
	return Trigger{kind: kindCron, spec: spec, sched: sched}, nil
}

// Once processes a single batch of whatever is available and stops.
func Once() Trigger { return Trigger{kind: kindOnce} }

// AvailableNow drains all currently available data, possibly over several
// batches, and stops. A consumer source is drained until its command exits.
func AvailableNow() Trigger { return Trigger{kind: kindAvailableNow} }

// ParseTrigger accepts "", "once", "available-now", a Go duration ("5s") or
// "cron:<spec>".
func ParseTrigger(s string) (Trigger, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "default", "continuous-batches":
		return ProcessingTime(0), nil
	case "once":
		return Once(), nil
	case "available-now", "availablenow":
		return AvailableNow(), nil
	}
	if spec, ok := strings.CutPrefix(s, "cron:"); ok {
		return Cron(strings.TrimSpace(spec))
	}
	if strings.HasPrefix(s, "@") {
		return Cron(s)
	}
	d, err := time.ParseDuration(strings.TrimPrefix(s, "processing-time="))
	if err != nil {
		return Trigger{}, fmt.Errorf("unknown trigger %q (want once, available-now, a duration or cron:<spec>)", s)
	}
	if d < 0 {
		return Trigger{}, fmt.Errorf("trigger interval must not be negative: %s", d)
	}
	return ProcessingTime(d), nil
}

func (t Trigger) String() string {
	switch t.kind {
	case kindOnce:
		return "Once"
	case kindAvailableNow:
		return "AvailableNow"
	case kindCron:
		return "Cron(" + t.spec + ")"
	}
	if t.every == 0 {
		return "ProcessingTime(0)"
	}
	return "ProcessingTime(" + t.every.String() + ")"
}

// Terminates reports whether the query stops once the source runs dry.
func (t Trigger) Terminates() bool {
	return t.kind == kindOnce || t.kind == kindAvailableNow
}

// next returns when the batch after one started at start may begin.
// A zero time means immediately.
func (t Trigger) next(start time.Time) time.Time {
	if t.sched == nil {
		return time.Time{}
	}
	return t.sched.Next(start)
}
