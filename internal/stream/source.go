package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"streamcast/internal/checkpoint"
	"streamcast/internal/schema"
)

// Batch is what a source yields for one micro-batch.
type Batch struct {
	Rows    [][]float64
	Files   []string // files fully consumed by this batch
	Records int64    // records consumed by this batch, for line sources
}

// Empty reports whether the batch advanced the source at all.
func (b Batch) Empty() bool {
	return len(b.Rows) == 0 && len(b.Files) == 0 && b.Records == 0
}

// Source produces micro-batches. Next returns an empty Batch when nothing new
// is available after the committed offset.
type Source interface {
	Schema() schema.Schema
	Describe() string
	Next(ctx context.Context, from checkpoint.Offset) (Batch, error)
	Close() error
}

// Finite is implemented by sources backed by a live producer. An empty batch
// only means the source ran dry once Exhausted reports true.
type Finite interface {
	Exhausted() bool
}

func exhausted(src Source) bool {
	if f, ok := src.(Finite); ok {
		return f.Exhausted()
	}
	return true
}

// FileSourceOptions configures a FileSource.
type FileSourceOptions struct {
	MaxFilesPerTrigger int      // 0 reads every pending file in one batch
	Drop               []string // columns removed from the output, e.g. the label
	Pattern            string   // glob within the directory; default *.json
}

// FileSource reads newline-delimited JSON records from files in a directory,
// treating each new file as append-only input.
type FileSource struct {
	dir  string
	in   schema.Schema
	out  schema.Schema
	opts FileSourceOptions
}

// NewFileSource binds dir to the declared schema.
func NewFileSource(dir string, declared schema.Schema, opts FileSourceOptions) (*FileSource, error) {
	st, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("stream source: %w", err)
	}
	if !st.IsDir() {
		return nil, fmt.Errorf("stream source: %s is not a directory", dir)
	}
	if declared.Len() == 0 {
		return nil, errors.New("stream source: schema is required")
	}
	if opts.MaxFilesPerTrigger < 0 {
		return nil, fmt.Errorf("stream source: maxFilesPerTrigger must be >= 0, got %d", opts.MaxFilesPerTrigger)
	}
	if opts.Pattern == "" {
		opts.Pattern = "*.json"
	}
	return &FileSource{
		dir:  dir,
		in:   declared,
		out:  declared.Drop(opts.Drop...),
		opts: opts,
	}, nil
}

func (s *FileSource) Schema() schema.Schema { return s.out }

func (s *FileSource) Describe() string {
	return fmt.Sprintf("FileStreamSource[%s]", s.dir)
}

func (s *FileSource) Close() error { return nil }

// Pending lists files not yet recorded in from, sorted by name.
func (s *FileSource) Pending(from checkpoint.Offset) ([]string, error) {
	all, err := ListFiles(s.dir, s.opts.Pattern)
	if err != nil {
		return nil, err
	}
	done := make(map[string]struct{}, len(from.Files))
	for _, f := range from.Files {
		done[f] = struct{}{}
	}
	var pending []string
	for _, f := range all {
		if _, ok := done[filepath.Base(f)]; !ok {
			pending = append(pending, f)
		}
	}
	return pending, nil
}

func (s *FileSource) Next(ctx context.Context, from checkpoint.Offset) (Batch, error) {
	pending, err := s.Pending(from)
	if err != nil {
		return Batch{}, err
	}
	if n := s.opts.MaxFilesPerTrigger; n > 0 && len(pending) > n {
		pending = pending[:n]
	}

	var b Batch
	for _, path := range pending {
		if err := ctx.Err(); err != nil {
			return Batch{}, err
		}
		rows, err := ReadFile(path, s.out)
		if err != nil {
			return Batch{}, err
		}
		b.Rows = append(b.Rows, rows...)
		b.Files = append(b.Files, filepath.Base(path))
	}
	return b, nil
}

// ListFiles returns the files in dir matching pattern, sorted by name.
func ListFiles(dir, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = "*.json"
	}
	files, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	sort.Strings(files)
	return files, nil
}

// ReadFile decodes every JSON record in path against sch.
func ReadFile(path string, sch schema.Schema) ([][]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows, err := DecodeRecords(f, sch)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return rows, nil
}

// ReadDir decodes every matching file in dir.
func ReadDir(dir, pattern string, sch schema.Schema) ([][]float64, error) {
	files, err := ListFiles(dir, pattern)
	if err != nil {
		return nil, err
	}
	var out [][]float64
	for _, path := range files {
		rows, err := ReadFile(path, sch)
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}
	return out, nil
}

// DecodeRecords reads newline-delimited JSON objects from r. Blank lines are skipped.
func DecodeRecords(r io.Reader, sch schema.Schema) ([][]float64, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var rows [][]float64
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		row, err := DecodeRecord(raw, sch)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rows = append(rows, row)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}

// DecodeRecord parses one JSON object and coerces it to sch.
func DecodeRecord(raw []byte, sch schema.Schema) ([]float64, error) {
	rec, err := decodeObject(raw)
	if err != nil {
		return nil, err
	}
	return sch.Coerce(rec)
}

func decodeObject(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var rec map[string]any
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("invalid record: %w", err)
	}
	return rec, nil
}

// FirstRecord returns the first JSON object of the first matching file in dir,
// together with its key order. Used for schema inference.
func FirstRecord(dir, pattern string) ([]string, map[string]any, error) {
	files, err := ListFiles(dir, pattern)
	if err != nil {
		return nil, nil, err
	}
	if len(files) == 0 {
		return nil, nil, fmt.Errorf("no files matching %s in %s", pattern, dir)
	}
	f, err := os.Open(files[0])
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		rec, err := decodeObject(raw)
		if err != nil {
			return nil, nil, err
		}
		order, err := keyOrder(raw)
		if err != nil {
			return nil, nil, err
		}
		return order, rec, nil
	}
	if err := sc.Err(); err != nil {
		return nil, nil, err
	}
	return nil, nil, fmt.Errorf("%s has no records", files[0])
}

func keyOrder(raw []byte) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, _ := tok.(string)
		keys = append(keys, key)
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
	}
	return keys, nil
}
