package tracking

import (
	"fmt"

	"streamcast/internal/regress"
	"streamcast/internal/schema"
)

// UDF applies a logged model to rows of a stream.
type UDF struct {
	URI   string
	desc  *Descriptor
	model *regress.Model
}

// LoadUDF resolves uri into a callable row transformation.
func (s *Store) LoadUDF(uri string) (*UDF, error) {
	d, err := s.LoadModel(uri)
	if err != nil {
		return nil, err
	}
	return &UDF{URI: uri, desc: d, model: d.Linear}, nil
}

// Descriptor returns the underlying model descriptor.
func (u *UDF) Descriptor() *Descriptor { return u.desc }

// Scorer maps a row laid out by the input schema to a prediction.
type Scorer func(row []float64) float64

// Bind matches the model's features to columns of input by name. Columns the
// model does not use are ignored; a missing feature is an error.
func (u *UDF) Bind(input schema.Schema) (Scorer, error) {
	idx := make([]int, len(u.model.Features))
	for i, name := range u.model.Features {
		j := input.Index(name)
		if j < 0 {
			return nil, fmt.Errorf("model %s: input has no column %q", u.URI, name)
		}
		idx[i] = j
	}
	m := u.model
	return func(row []float64) float64 {
		x := make([]float64, len(idx))
		for i, j := range idx {
			x[i] = row[j]
		}
		return m.Predict(x)
	}, nil
}
