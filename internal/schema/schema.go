// Package schema declares the column layout a stream is bound to.
package schema

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Type is a column type.
type Type string

const (
	Double  Type = "double"
	Integer Type = "integer"
)

// Field is a single named, typed column.
type Field struct {
	Name string `toml:"name"`
	Type Type   `toml:"type"`
}

// Schema is an ordered list of fields.
type Schema struct {
	Fields []Field `toml:"field"`
}

var ErrUnknownColumn = errors.New("unknown column")

// New returns an empty schema.
func New() Schema { return Schema{} }

// Add returns a copy of s with one more field.
func (s Schema) Add(name string, t Type) Schema {
	out := Schema{Fields: make([]Field, 0, len(s.Fields)+1)}
	out.Fields = append(out.Fields, s.Fields...)
	out.Fields = append(out.Fields, Field{Name: name, Type: t})
	return out
}

// Drop returns a copy of s without the named columns.
func (s Schema) Drop(names ...string) Schema {
	skip := make(map[string]bool, len(names))
	for _, n := range names {
		skip[n] = true
	}
	out := Schema{}
	for _, f := range s.Fields {
		if !skip[f.Name] {
			out.Fields = append(out.Fields, f)
		}
	}
	return out
}

// Names returns the column names in order.
func (s Schema) Names() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// Index returns the position of a column, or -1.
func (s Schema) Index(name string) int {
	for i, f := range s.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Len returns the number of columns.
func (s Schema) Len() int { return len(s.Fields) }

// Equal reports whether both schemas have the same fields in the same order.
func (s Schema) Equal(o Schema) bool {
	if len(s.Fields) != len(o.Fields) {
		return false
	}
	for i := range s.Fields {
		if s.Fields[i] != o.Fields[i] {
			return false
		}
	}
	return true
}

// Mismatch describes one difference between a declared and an observed schema.
type Mismatch struct {
	Column   string
	Declared string // empty when the column is not declared
	Observed string // empty when the column was not observed
}

// Diff lists the differences between s (declared) and o (observed).
func (s Schema) Diff(o Schema) []Mismatch {
	var out []Mismatch
	for _, f := range s.Fields {
		j := o.Index(f.Name)
		switch {
		case j < 0:
			out = append(out, Mismatch{Column: f.Name, Declared: string(f.Type)})
		case o.Fields[j].Type != f.Type:
			out = append(out, Mismatch{Column: f.Name, Declared: string(f.Type), Observed: string(o.Fields[j].Type)})
		}
	}
	for _, f := range o.Fields {
		if s.Index(f.Name) < 0 {
			out = append(out, Mismatch{Column: f.Name, Observed: string(f.Type)})
		}
	}
	return out
}

func (s Schema) String() string {
	parts := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		parts[i] = f.Name + ":" + string(f.Type)
	}
	return "struct<" + strings.Join(parts, ",") + ">"
}

// Coerce maps a decoded JSON record onto the schema. Unknown keys are ignored;
// missing or null values become NaN. Integer columns reject fractional values.
func (s Schema) Coerce(rec map[string]any) ([]float64, error) {
	row := make([]float64, len(s.Fields))
	for i, f := range s.Fields {
		raw, ok := rec[f.Name]
		if !ok || raw == nil {
			row[i] = math.NaN()
			continue
		}
		v, err := toFloat(raw)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", f.Name, err)
		}
		if f.Type == Integer && !math.IsNaN(v) && v != math.Trunc(v) {
			return nil, fmt.Errorf("column %q: %v is not an integer", f.Name, v)
		}
		row[i] = v
	}
	return row, nil
}

// Infer derives a schema from a single record, ordering columns as given.
// Whole-number values are typed as integer.
func Infer(order []string, rec map[string]any) (Schema, error) {
	out := Schema{}
	for _, name := range order {
		raw, ok := rec[name]
		if !ok {
			return Schema{}, fmt.Errorf("%w: %s", ErrUnknownColumn, name)
		}
		v, err := toFloat(raw)
		if err != nil {
			return Schema{}, fmt.Errorf("column %q: %w", name, err)
		}
		t := Double
		if v == math.Trunc(v) && !isFloatLiteral(raw) {
			t = Integer
		}
		out.Fields = append(out.Fields, Field{Name: name, Type: t})
	}
	return out, nil
}

// LoadFile reads a TOML schema declaration:
//
//	[[field]]
//	name = "bedrooms"
//	type = "double"
func LoadFile(path string) (Schema, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Schema{}, err
	}
	var s Schema
	if err := toml.Unmarshal(b, &s); err != nil {
		return Schema{}, fmt.Errorf("parse schema %s: %w", path, err)
	}
	for _, f := range s.Fields {
		if f.Name == "" {
			return Schema{}, fmt.Errorf("schema %s: field without name", path)
		}
		if f.Type != Double && f.Type != Integer {
			return Schema{}, fmt.Errorf("schema %s: field %q has unsupported type %q", path, f.Name, f.Type)
		}
	}
	return s, nil
}

// Listings is the schema of the cleaned short-term rental listings dataset.
// price is the label column.
func Listings() Schema {
	return New().
		Add("host_total_listings_count", Double).
		Add("neighbourhood_cleansed", Integer).
		Add("zipcode", Integer).
		Add("latitude", Double).
		Add("longitude", Double).
		Add("property_type", Integer).
		Add("room_type", Integer).
		Add("accommodates", Double).
		Add("bathrooms", Double).
		Add("bedrooms", Double).
		Add("beds", Double).
		Add("bed_type", Integer).
		Add("minimum_nights", Double).
		Add("number_of_reviews", Double).
		Add("review_scores_rating", Double).
		Add("review_scores_accuracy", Double).
		Add("review_scores_cleanliness", Double).
		Add("review_scores_checkin", Double).
		Add("review_scores_communication", Double).
		Add("review_scores_location", Double).
		Add("review_scores_value", Double).
		Add("price", Double)
}

func toFloat(raw any) (float64, error) {
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case interface{ Float64() (float64, error) }:
		return v.Float64()
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("unsupported value %v (%T)", raw, raw)
	}
}

// isFloatLiteral reports whether a json.Number was written with a fraction or exponent.
func isFloatLiteral(raw any) bool {
	if s, ok := raw.(interface{ String() string }); ok {
		return strings.ContainsAny(s.String(), ".eE")
	}
	_, isFloat := raw.(float64)
	return isFloat
}
