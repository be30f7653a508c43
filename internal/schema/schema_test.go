package schema

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListings(t *testing.T) {
	s := Listings()
	require.Equal(t, 22, s.Len())
	assert.Equal(t, "host_total_listings_count", s.Fields[0].Name)
	assert.Equal(t, "price", s.Fields[s.Len()-1].Name)
	assert.Equal(t, Integer, s.Fields[s.Index("zipcode")].Type)

	features := s.Drop("price")
	assert.Equal(t, 21, features.Len())
	assert.Equal(t, -1, features.Index("price"))
	assert.Equal(t, 22, s.Len(), "Drop must not mutate the receiver")
}

func TestEqualAndDiff(t *testing.T) {
	a := New().Add("x", Double).Add("y", Integer)
	b := New().Add("x", Double).Add("y", Integer)
	assert.True(t, a.Equal(b))
	assert.Empty(t, a.Diff(b))

	c := New().Add("x", Integer).Add("z", Double)
	assert.False(t, a.Equal(c))
	diff := a.Diff(c)
	require.Len(t, diff, 3)
	assert.Equal(t, Mismatch{Column: "x", Declared: "double", Observed: "integer"}, diff[0])
	assert.Equal(t, Mismatch{Column: "y", Declared: "integer"}, diff[1])
	assert.Equal(t, Mismatch{Column: "z", Observed: "double"}, diff[2])

	swapped := New().Add("y", Integer).Add("x", Double)
	assert.False(t, a.Equal(swapped), "order matters")
}

func TestCoerce(t *testing.T) {
	s := New().Add("a", Double).Add("b", Integer).Add("c", Double)

	tests := []struct {
		name    string
		rec     map[string]any
		want    []float64
		wantErr string
	}{
		{name: "plain", rec: map[string]any{"a": 1.5, "b": 2.0, "c": 3.0}, want: []float64{1.5, 2, 3}},
		{name: "extra ignored", rec: map[string]any{"a": 1.0, "b": 2.0, "c": 3.0, "d": 9.0}, want: []float64{1, 2, 3}},
		{name: "null and missing", rec: map[string]any{"a": nil, "b": 2.0}, want: []float64{math.NaN(), 2, math.NaN()}},
		{name: "fractional integer", rec: map[string]any{"a": 1.0, "b": 2.5, "c": 3.0}, wantErr: `column "b"`},
		{name: "string value", rec: map[string]any{"a": "x", "b": 2.0, "c": 3.0}, wantErr: "unsupported value"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Coerce(tt.rec)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Len(t, got, len(tt.want))
			for i := range tt.want {
				if math.IsNaN(tt.want[i]) {
					assert.True(t, math.IsNaN(got[i]), "index %d", i)
					continue
				}
				assert.Equal(t, tt.want[i], got[i])
			}
		})
	}
}

func TestInfer(t *testing.T) {
	dec := json.NewDecoder(strings.NewReader(`{"zipcode": 94110, "bedrooms": 2.0, "price": 120.5}`))
	dec.UseNumber()
	var rec map[string]any
	require.NoError(t, dec.Decode(&rec))

	s, err := Infer([]string{"zipcode", "bedrooms", "price"}, rec)
	require.NoError(t, err)
	assert.Equal(t, "struct<zipcode:integer,bedrooms:double,price:double>", s.String())

	_, err = Infer([]string{"missing"}, rec)
	assert.ErrorIs(t, err, ErrUnknownColumn)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "schema.toml")
	require.NoError(t, os.WriteFile(good, []byte(`
[[field]]
name = "zipcode"
type = "integer"

[[field]]
name = "bedrooms"
type = "double"
`), 0o644))

	s, err := LoadFile(good)
	require.NoError(t, err)
	assert.True(t, s.Equal(New().Add("zipcode", Integer).Add("bedrooms", Double)))

	bad := filepath.Join(dir, "bad.toml")
	require.NoError(t, os.WriteFile(bad, []byte("[[field]]\nname = \"x\"\ntype = \"string\"\n"), 0o644))
	_, err = LoadFile(bad)
	assert.ErrorContains(t, err, "unsupported type")
}
