package tracking

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamcast/internal/regress"
	"streamcast/internal/schema"
)

func fitToy(t *testing.T) (*regress.Model, schema.Schema) {
	t.Helper()
	X := [][]float64{{1, 0}, {2, 1}, {3, 0}, {4, 1}, {5, 0}}
	y := []float64{3, 4, 7, 8, 11} // 2a - b + 1
	m, _, err := regress.Fit([]string{"a", "b"}, X, y, regress.FitOptions{})
	require.NoError(t, err)
	return m, schema.New().Add("a", schema.Double).Add("b", schema.Integer)
}

func TestRunLifecycle(t *testing.T) {
	s, err := Open(t.TempDir(), nil)
	require.NoError(t, err)

	run, err := s.StartRun("Final Model")
	require.NoError(t, err)
	run.LogParam("lambda", "0.000001")
	run.LogMetric("rmse", 0.5)

	m, in := fitToy(t)
	uri, err := run.LogModel("linear-model", m, "price", in)
	require.NoError(t, err)
	assert.Equal(t, "runs:/"+run.ID()+"/linear-model", uri)
	require.NoError(t, run.End(nil))

	meta, err := s.GetRun(run.ID())
	require.NoError(t, err)
	assert.Equal(t, "Final Model", meta.Name)
	assert.Equal(t, StatusFinished, meta.Status)
	assert.NotNil(t, meta.EndTime)
	assert.Equal(t, "0.000001", meta.Params["lambda"])
	assert.Equal(t, 0.5, meta.Metrics["rmse"])
	assert.Equal(t, []string{"linear-model"}, meta.Artifacts)

	latest, err := s.LatestModelURI()
	require.NoError(t, err)
	assert.Equal(t, uri, latest)

	dir, err := s.ResolveURI(uri)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, descriptorFile))

	_, err = s.GetRun("nope")
	assert.ErrorIs(t, err, ErrRunNotFound)
	_, err = s.GetRun("..")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestLoadUDF_BindsByName(t *testing.T) {
	s, err := Open(t.TempDir(), nil)
	require.NoError(t, err)
	run, err := s.StartRun("udf")
	require.NoError(t, err)
	m, in := fitToy(t)
	uri, err := run.LogModel("model", m, "price", in)
	require.NoError(t, err)

	udf, err := s.LoadUDF(uri)
	require.NoError(t, err)
	assert.Equal(t, "price", udf.Descriptor().Label)

	// Stream columns arrive in a different order with an extra column.
	stream := schema.New().Add("b", schema.Integer).Add("extra", schema.Double).Add("a", schema.Double)
	score, err := udf.Bind(stream)
	require.NoError(t, err)
	assert.InDelta(t, 2*10-1+1, score([]float64{1, 99, 10}), 1e-3)

	_, err = udf.Bind(schema.New().Add("a", schema.Double))
	assert.ErrorContains(t, err, `no column "b"`)
}

func TestParseURI(t *testing.T) {
	tests := []struct {
		uri     string
		runID   string
		path    string
		wantErr bool
	}{
		{uri: "runs:/abc/model", runID: "abc", path: "model"},
		{uri: "runs://abc/nested/model", runID: "abc", path: "nested/model"},
		{uri: "runs:/abc", wantErr: true},
		{uri: "models:/abc/1", wantErr: true},
		{uri: "runs:/abc/../../etc", wantErr: true},
		{uri: "runs:/../x", wantErr: true},
		{uri: "runs:/./model", wantErr: true},
		{uri: `runs:/..\..\etc/model`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			runID, path, err := ParseURI(tt.uri)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidURI)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.runID, runID)
			assert.Equal(t, tt.path, path)
		})
	}
}

func TestLoadModel_Missing(t *testing.T) {
	s, err := Open(t.TempDir(), nil)
	require.NoError(t, err)
	_, err = s.LoadModel("runs:/nothing/model")
	assert.ErrorIs(t, err, ErrModelNotFound)
}
