package stream

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"

	"streamcast/internal/readiness"
)

// ErrDuplicateName is returned when a query name is already active.
var ErrDuplicateName = errors.New("a query with this name is already active")

// Manager tracks the active queries of a session.
type Manager struct {
	logger arbor.ILogger

	mu      sync.Mutex
	queries []*Query
	changed chan struct{}
}

// NewManager returns an empty Manager.
func NewManager(logger arbor.ILogger) *Manager {
	if logger == nil {
		logger = arbor.NewLogger()
	}
	return &Manager{logger: logger, changed: make(chan struct{})}
}

// Queries returns the active queries in start order.
func (m *Manager) Queries() []*Query {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Query(nil), m.queries...)
}

// Active returns the active queries as readiness jobs.
func (m *Manager) Active() []readiness.Job {
	qs := m.Queries()
	out := make([]readiness.Job, len(qs))
	for i, q := range qs {
		out[i] = q
	}
	return out
}

// Get returns the first active query named name, or nil.
func (m *Manager) Get(name string) *Query {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, q := range m.queries {
		if q.Name() == name {
			return q
		}
	}
	return nil
}

// Changed returns a channel closed at the next registration, termination or
// progress event. Callers fetch a fresh channel after each wake-up.
func (m *Manager) Changed() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.changed
}

// StopAll stops every active query and returns their names.
func (m *Manager) StopAll() []string {
	var names []string
	for _, q := range m.Queries() {
		m.logger.Info().Str("query", q.Name()).Str("id", q.ID()).Msg(fmt.Sprintf("Stopping %s", q.Name()))
		q.Stop()
		names = append(names, q.Name())
	}
	return names
}

func (m *Manager) notify() {
	m.mu.Lock()
	defer m.mu.Unlock()
	close(m.changed)
	m.changed = make(chan struct{})
}

func (m *Manager) register(q *Query) error {
	m.mu.Lock()
	if q.Name() != "" {
		for _, other := range m.queries {
			if other.Name() == q.Name() {
				m.mu.Unlock()
				return fmt.Errorf("%w: %s", ErrDuplicateName, q.Name())
			}
		}
	}
	m.queries = append(m.queries, q)
	m.mu.Unlock()

	m.notify()
	return nil
}

func (m *Manager) deregister(q *Query) {
	m.mu.Lock()
	for i, other := range m.queries {
		if other == q {
			m.queries = append(m.queries[:i:i], m.queries[i+1:]...)
			break
		}
	}
	m.mu.Unlock()

	m.notify()
}
