// Package checkpoint persists per-query stream offsets so a restarted query
// resumes after its last committed micro-batch.
package checkpoint

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"
)

// Offset is the committed position of one query.
type Offset struct {
	Query       string
	QueryID     string   // stable across restarts; assigned on first start
	BatchID     int64    // last committed batch; -1 before the first commit
	Files       []string // source files fully consumed
	Records     int64    // records consumed from line-oriented sources
	CommittedAt time.Time
}

// Store is a badgerhold-backed offset log.
type Store struct {
	path   string
	store  *badgerhold.Store
	logger arbor.ILogger
	mu     sync.Mutex
}

// Open opens (or creates) the checkpoint location.
func Open(path string, logger arbor.ILogger) (*Store, error) {
	if path == "" {
		return nil, errors.New("checkpoint location is required")
	}
	if logger == nil {
		logger = arbor.NewLogger()
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = path
	options.ValueDir = path
	options.Logger = nil

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint %s: %w", path, err)
	}
	logger.Debug().Str("path", path).Msg("Checkpoint opened")
	return &Store{path: path, store: store, logger: logger}, nil
}

// Path returns the checkpoint location.
func (s *Store) Path() string { return s.path }

// Close releases the underlying database.
func (s *Store) Close() error {
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// Load returns the committed offset for query, or a fresh offset with BatchID -1.
func (s *Store) Load(query string) (Offset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var o Offset
	if err := s.store.Get(query, &o); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return Offset{Query: query, BatchID: -1}, nil
		}
		return Offset{}, fmt.Errorf("load checkpoint for %s: %w", query, err)
	}
	return o, nil
}

// Commit records o as the latest offset. Batch IDs must increase.
func (s *Store) Commit(o Offset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var prev Offset
	err := s.store.Get(o.Query, &prev)
	switch {
	case err == nil:
		if o.BatchID <= prev.BatchID {
			return fmt.Errorf("checkpoint for %s: batch %d already committed (last %d)", o.Query, o.BatchID, prev.BatchID)
		}
	case !errors.Is(err, badgerhold.ErrNotFound):
		return fmt.Errorf("read checkpoint for %s: %w", o.Query, err)
	}

	o.CommittedAt = time.Now().UTC()
	if err := s.store.Upsert(o.Query, &o); err != nil {
		return fmt.Errorf("commit checkpoint for %s: %w", o.Query, err)
	}
	s.logger.Trace().Str("query", o.Query).Int64("batch_id", o.BatchID).Msg("Checkpoint committed")
	return nil
}
