package stream

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamcast/internal/checkpoint"
	"streamcast/internal/schema"
	"streamcast/internal/util"
)

func testSchema() schema.Schema {
	return schema.New().
		Add("zipcode", schema.Integer).
		Add("bedrooms", schema.Double).
		Add("price", schema.Double)
}

func writeFile(t *testing.T, dir, name string, lines ...string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(strings.Join(lines, "\n")+"\n"), 0o644))
}

func TestFileSource_MaxFilesPerTrigger(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "part-00000.json", `{"zipcode":94110,"bedrooms":2,"price":250}`, `{"zipcode":94103,"bedrooms":1,"price":150}`)
	writeFile(t, dir, "part-00001.json", `{"zipcode":94110,"bedrooms":3}`)
	writeFile(t, dir, "part-00002.json", ``)
	writeFile(t, dir, "notes.txt", `ignored`)

	src, err := NewFileSource(dir, testSchema(), FileSourceOptions{MaxFilesPerTrigger: 2, Drop: []string{"price"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"zipcode", "bedrooms"}, src.Schema().Names())

	ctx := context.Background()
	off := checkpoint.Offset{BatchID: -1}

	b, err := src.Next(ctx, off)
	require.NoError(t, err)
	assert.Equal(t, []string{"part-00000.json", "part-00001.json"}, b.Files)
	require.Len(t, b.Rows, 3)
	assert.Equal(t, []float64{94110, 2}, b.Rows[0])

	off.Files = append(off.Files, b.Files...)
	b, err = src.Next(ctx, off)
	require.NoError(t, err)
	assert.Equal(t, []string{"part-00002.json"}, b.Files)
	assert.Empty(t, b.Rows)
	assert.False(t, b.Empty())

	off.Files = append(off.Files, b.Files...)
	b, err = src.Next(ctx, off)
	require.NoError(t, err)
	assert.True(t, b.Empty())
}

func TestFileSource_BadRecord(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "part-00000.json", `{"zipcode":94110.5,"bedrooms":2}`)

	src, err := NewFileSource(dir, testSchema(), FileSourceOptions{})
	require.NoError(t, err)
	_, err = src.Next(context.Background(), checkpoint.Offset{BatchID: -1})
	assert.ErrorContains(t, err, "part-00000.json: line 1")
}

func TestNewFileSource_Validation(t *testing.T) {
	_, err := NewFileSource(filepath.Join(t.TempDir(), "missing"), testSchema(), FileSourceOptions{})
	assert.Error(t, err)

	_, err = NewFileSource(t.TempDir(), schema.New(), FileSourceOptions{})
	assert.Error(t, err)

	_, err = NewFileSource(t.TempDir(), testSchema(), FileSourceOptions{MaxFilesPerTrigger: -1})
	assert.Error(t, err)
}

func TestDecodeRecords_NullsBecomeNaN(t *testing.T) {
	rows, err := DecodeRecords(strings.NewReader("\n{\"zipcode\":1,\"bedrooms\":null}\n"), testSchema())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, math.IsNaN(rows[0][1]))
	assert.True(t, math.IsNaN(rows[0][2]))
}

func TestFirstRecord_KeyOrder(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.json", ``, `{"price":1.5,"zipcode":94110}`)

	order, rec, err := FirstRecord(dir, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"price", "zipcode"}, order)

	sch, err := schema.Infer(order, rec)
	require.NoError(t, err)
	assert.Equal(t, "struct<price:double,zipcode:integer>", sch.String())
}

// lineRunner emits fixed stdout lines, then exits with err.
type lineRunner struct {
	lines []string
	err   error
}

func (r lineRunner) Run(ctx context.Context, spec util.CmdSpec) (util.CmdResult, error) {
	for _, l := range r.lines {
		spec.StdoutLine(l)
	}
	return util.CmdResult{}, r.err
}

// drained runs the consumer to completion so every line is buffered.
func drained(src *ExecSource) {
	src.start(context.Background())
	<-src.done
}

func TestExecSource_SkipsCommittedRecords(t *testing.T) {
	runner := lineRunner{lines: []string{
		`{"zipcode":1,"bedrooms":1}`,
		`{"zipcode":2,"bedrooms":2}`,
		``,
		`{"zipcode":3,"bedrooms":3}`,
	}}
	src, err := NewExecSource("kcat", []string{"-C", "-t", "listings"}, testSchema(), ExecSourceOptions{
		Runner:               runner,
		MaxRecordsPerTrigger: 5,
		Drop:                 []string{"price"},
	})
	require.NoError(t, err)
	assert.Equal(t, "ExecSource[kcat -C -t listings]", src.Describe())

	drained(src)
	b, err := src.Next(context.Background(), checkpoint.Offset{BatchID: 0, Records: 1})
	require.NoError(t, err)
	assert.EqualValues(t, 2, b.Records)
	assert.Equal(t, [][]float64{{2, 2}, {3, 3}}, b.Rows)
}

func TestExecSource_ConsumerFailure(t *testing.T) {
	src, err := NewExecSource("kcat", nil, testSchema(), ExecSourceOptions{
		Runner: lineRunner{err: assert.AnError},
	})
	require.NoError(t, err)

	drained(src)
	_, err = src.Next(context.Background(), checkpoint.Offset{BatchID: -1})
	assert.ErrorIs(t, err, assert.AnError)
}
