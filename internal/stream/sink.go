package stream

import (
	"context"
	"math"
	"sync"

	"streamcast/internal/schema"
	"streamcast/internal/table"
)

// Output is one transformed micro-batch handed to a sink.
type Output struct {
	AppID       string
	BatchID     int64
	Schema      schema.Schema
	Rows        [][]float64
	Predictions []float64 // nil when the query has no transform
}

// Sink receives micro-batches. AddBatch returns the version the batch
// produced; sinks without versions return a running batch count.
// A sink must treat a repeated (AppID, BatchID) as already written.
type Sink interface {
	AddBatch(ctx context.Context, out Output) (int64, error)
	Describe() string
	Close() error
}

// MemoryRow is one row kept by a MemorySink.
type MemoryRow struct {
	BatchID    int64
	Values     []float64
	Prediction float64
}

// MemorySink keeps the most recent rows in memory for display.
type MemorySink struct {
	name  string
	limit int

	mu      sync.Mutex
	schema  schema.Schema
	rows    []MemoryRow
	total   int64
	batches int64
	last    int64
}

// NewMemorySink keeps at most limit rows; limit <= 0 keeps 1000.
func NewMemorySink(name string, limit int) *MemorySink {
	if limit <= 0 {
		limit = 1000
	}
	return &MemorySink{name: name, limit: limit, last: -1}
}

func (m *MemorySink) AddBatch(ctx context.Context, out Output) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if out.BatchID <= m.last {
		return m.batches, nil
	}
	m.last = out.BatchID
	m.schema = out.Schema
	for i, vals := range out.Rows {
		r := MemoryRow{BatchID: out.BatchID, Values: vals, Prediction: math.NaN()}
		if i < len(out.Predictions) {
			r.Prediction = out.Predictions[i]
		}
		m.rows = append(m.rows, r)
	}
	if over := len(m.rows) - m.limit; over > 0 {
		m.rows = append([]MemoryRow(nil), m.rows[over:]...)
	}
	m.total += int64(len(out.Rows))
	m.batches++
	return m.batches, nil
}

// Rows returns a copy of the retained rows, oldest first.
func (m *MemorySink) Rows() []MemoryRow {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MemoryRow(nil), m.rows...)
}

// Schema returns the column layout of the last batch.
func (m *MemorySink) Schema() schema.Schema {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.schema
}

// Total is the number of rows ever written.
func (m *MemorySink) Total() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}

func (m *MemorySink) Describe() string { return "MemorySink[" + m.name + "]" }

func (m *MemorySink) Close() error { return nil }

// TableSink appends batches to a versioned table.
type TableSink struct {
	tbl         *table.Table
	partitionBy string
}

// NewTableSink writes to tbl, partitioning rows by the partitionBy column.
func NewTableSink(tbl *table.Table, partitionBy string) *TableSink {
	return &TableSink{tbl: tbl, partitionBy: partitionBy}
}

func (s *TableSink) AddBatch(ctx context.Context, out Output) (int64, error) {
	preds := out.Predictions
	if preds == nil {
		preds = make([]float64, len(out.Rows))
		for i := range preds {
			preds[i] = math.NaN()
		}
	}
	version, _, err := s.tbl.Commit(ctx, table.Batch{
		AppID:       out.AppID,
		BatchID:     out.BatchID,
		Columns:     out.Schema.Names(),
		PartitionBy: s.partitionBy,
		Values:      out.Rows,
		Predictions: preds,
	})
	return version, err
}

func (s *TableSink) Table() *table.Table { return s.tbl }

func (s *TableSink) Describe() string { return "TableSink[" + s.tbl.Path() + "]" }

// Close closes the underlying table.
func (s *TableSink) Close() error { return s.tbl.Close() }
