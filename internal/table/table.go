// Package table is a versioned, partitioned prediction table stored in Badger.
//
// Every commit is written in one Badger transaction and gets the next version
// number. Commits are keyed by (app ID, batch ID) so a replayed micro-batch
// resolves to the version it already produced.
package table

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"
)

const OperationStreamingUpdate = "STREAMING UPDATE"

var ErrColumnMismatch = errors.New("row width does not match columns")

// Row is one stored prediction.
type Row struct {
	Version    int64
	BatchID    int64
	Partition  string
	Values     []float64
	Prediction float64
}

// CommitInfo is one entry of the table history.
type CommitInfo struct {
	Version     int64
	AppID       string
	BatchID     int64
	Timestamp   time.Time
	Operation   string
	Columns     []string
	PartitionBy string
	NumRows     int64
	Partitions  []string
}

// Batch is the input to Commit.
type Batch struct {
	AppID       string
	BatchID     int64
	Columns     []string
	PartitionBy string
	Values      [][]float64
	Predictions []float64
}

// Table is an open versioned table.
type Table struct {
	path   string
	store  *badgerhold.Store
	logger arbor.ILogger
	mu     sync.Mutex
}

// Open opens (or creates) the table stored at path.
func Open(path string, logger arbor.ILogger) (*Table, error) {
	if path == "" {
		return nil, errors.New("table path is required")
	}
	if logger == nil {
		logger = arbor.NewLogger()
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create table directory: %w", err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = path
	options.ValueDir = path
	options.Logger = nil

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open table %s: %w", path, err)
	}
	logger.Debug().Str("path", path).Msg("Table opened")
	return &Table{path: path, store: store, logger: logger}, nil
}

// Path returns the table location.
func (t *Table) Path() string { return t.path }

// Close releases the underlying database.
func (t *Table) Close() error {
	if t.store != nil {
		return t.store.Close()
	}
	return nil
}

// Commit appends a batch as a new version. When (AppID, BatchID) was committed
// before, the existing version is returned with replayed=true and nothing is written.
func (t *Table) Commit(ctx context.Context, b Batch) (version int64, replayed bool, err error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	if len(b.Values) != len(b.Predictions) {
		return 0, false, fmt.Errorf("%d rows but %d predictions", len(b.Values), len(b.Predictions))
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if b.AppID != "" {
		var prior []CommitInfo
		q := badgerhold.Where("AppID").Eq(b.AppID).And("BatchID").Eq(b.BatchID)
		if err := t.store.Find(&prior, q); err != nil {
			return 0, false, fmt.Errorf("look up prior commit: %w", err)
		}
		if len(prior) > 0 {
			t.logger.Debug().Str("app_id", b.AppID).Int64("batch_id", b.BatchID).Int64("version", prior[0].Version).Msg("Batch already committed")
			return prior[0].Version, true, nil
		}
	}

	latest, err := t.latest()
	if err != nil {
		return 0, false, err
	}
	version = latest + 1

	pidx := -1
	for i, c := range b.Columns {
		if c == b.PartitionBy {
			pidx = i
		}
	}

	seen := map[string]bool{}
	info := CommitInfo{
		Version:     version,
		AppID:       b.AppID,
		BatchID:     b.BatchID,
		Timestamp:   time.Now().UTC(),
		Operation:   OperationStreamingUpdate,
		Columns:     append([]string(nil), b.Columns...),
		PartitionBy: b.PartitionBy,
		NumRows:     int64(len(b.Values)),
	}

	err = t.store.Badger().Update(func(tx *badger.Txn) error {
		for i, vals := range b.Values {
			if len(vals) != len(b.Columns) {
				return fmt.Errorf("row %d: %w", i, ErrColumnMismatch)
			}
			part := ""
			if pidx >= 0 {
				part = PartitionValue(b.PartitionBy, vals[pidx])
			}
			if !seen[part] {
				seen[part] = true
				info.Partitions = append(info.Partitions, part)
			}
			row := Row{
				Version:    version,
				BatchID:    b.BatchID,
				Partition:  part,
				Values:     vals,
				Prediction: b.Predictions[i],
			}
			if err := t.store.TxInsert(tx, rowKey(version, i), &row); err != nil {
				return err
			}
		}
		return t.store.TxInsert(tx, version, &info)
	})
	if err != nil {
		return 0, false, fmt.Errorf("commit version %d: %w", version, err)
	}

	t.logger.Debug().Int64("version", version).Int64("batch_id", b.BatchID).Int("rows", len(b.Values)).Msg("Committed table version")
	return version, false, nil
}

// Latest returns the newest version, or 0 for an empty table.
func (t *Table) Latest() (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.latest()
}

func (t *Table) latest() (int64, error) {
	var last []CommitInfo
	q := (&badgerhold.Query{}).SortBy("Version").Reverse().Limit(1)
	if err := t.store.Find(&last, q); err != nil {
		return 0, fmt.Errorf("read latest version: %w", err)
	}
	if len(last) == 0 {
		return 0, nil
	}
	return last[0].Version, nil
}

// Count returns the number of rows in the latest version.
func (t *Table) Count() (uint64, error) {
	return t.store.Count(&Row{}, nil)
}

// CountAsOf returns the number of rows visible at version.
func (t *Table) CountAsOf(version int64) (uint64, error) {
	return t.store.Count(&Row{}, badgerhold.Where("Version").Le(version))
}

// History lists commits, newest first.
func (t *Table) History() ([]CommitInfo, error) {
	var out []CommitInfo
	if err := t.store.Find(&out, (&badgerhold.Query{}).SortBy("Version").Reverse()); err != nil {
		return nil, err
	}
	return out, nil
}

// PartitionCount is the row count of one partition.
type PartitionCount struct {
	Partition string
	Rows      uint64
}

// Partitions returns row counts grouped by partition value.
func (t *Table) Partitions() ([]PartitionCount, error) {
	groups, err := t.store.FindAggregate(&Row{}, nil, "Partition")
	if err != nil {
		return nil, err
	}
	out := make([]PartitionCount, 0, len(groups))
	for _, g := range groups {
		var p string
		g.Group(&p)
		out = append(out, PartitionCount{Partition: p, Rows: g.Count()})
	}
	return out, nil
}

// Rows returns up to limit rows ordered by version. limit <= 0 returns all.
func (t *Table) Rows(limit int) ([]Row, error) {
	q := (&badgerhold.Query{}).SortBy("Version", "BatchID")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []Row
	if err := t.store.Find(&out, q); err != nil {
		return nil, err
	}
	return out, nil
}

// PartitionValue renders a hive-style partition directory name such as zipcode=94110.
func PartitionValue(column string, v float64) string {
	return column + "=" + strconv.FormatFloat(v, 'f', -1, 64)
}

func rowKey(version int64, i int) string {
	return fmt.Sprintf("%020d-%08d", version, i)
}
