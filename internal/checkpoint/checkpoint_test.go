package checkpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCommit(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, nil)
	require.NoError(t, err)

	o, err := s.Load("lesson03_stream")
	require.NoError(t, err)
	assert.EqualValues(t, -1, o.BatchID)
	assert.Empty(t, o.Files)

	require.NoError(t, s.Commit(Offset{Query: "lesson03_stream", BatchID: 0, Files: []string{"part-0.json"}}))
	require.NoError(t, s.Commit(Offset{Query: "lesson03_stream", BatchID: 1, Files: []string{"part-0.json", "part-1.json"}, Records: 10}))

	err = s.Commit(Offset{Query: "lesson03_stream", BatchID: 1})
	assert.ErrorContains(t, err, "already committed")

	require.NoError(t, s.Close())

	// Reopen: offsets survive.
	s, err = Open(dir, nil)
	require.NoError(t, err)
	defer s.Close()

	o, err = s.Load("lesson03_stream")
	require.NoError(t, err)
	assert.EqualValues(t, 1, o.BatchID)
	assert.Equal(t, []string{"part-0.json", "part-1.json"}, o.Files)
	assert.EqualValues(t, 10, o.Records)
	assert.False(t, o.CommittedAt.IsZero())
}
