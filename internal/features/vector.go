// Package features turns raw transactions into the fixed-width numeric
// vectors the anomaly model expects.
package features

import (
	"fmt"
	"strings"
)

// Schema is the ordered set of feature columns the model was trained on.
type Schema struct {
	columns []string
	index   map[string]int
}

// NewSchema validates and indexes the column list.
func NewSchema(columns []string) (*Schema, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("schema has no columns")
	}

	index := make(map[string]int, len(columns))
	for i, c := range columns {
		if strings.TrimSpace(c) == "" {
			return nil, fmt.Errorf("schema column %d has an empty name", i)
		}
		if _, dup := index[c]; dup {
			return nil, fmt.Errorf("schema column %q is duplicated", c)
		}
		index[c] = i
	}

	return &Schema{
		columns: append([]string(nil), columns...),
		index:   index,
	}, nil
}

// Columns returns a copy of the ordered column names.
func (s *Schema) Columns() []string {
	return append([]string(nil), s.columns...)
}

// Len returns the number of columns.
func (s *Schema) Len() int {
	return len(s.columns)
}

// Has reports whether the schema contains the column.
func (s *Schema) Has(column string) bool {
	_, ok := s.index[column]
	return ok
}

// Vector is a feature vector bound to a schema. The zero value is not usable;
// vectors come from NewVector or Build.
type Vector struct {
	schema *Schema
	values []float64
}

// NewVector returns a vector with every schema column set to 0.0.
func NewVector(schema *Schema) *Vector {
	return &Vector{
		schema: schema,
		values: make([]float64, schema.Len()),
	}
}

// Schema returns the schema the vector is bound to.
func (v *Vector) Schema() *Schema {
	return v.schema
}

// Get returns the value of a column.
func (v *Vector) Get(column string) (float64, bool) {
	i, ok := v.schema.index[column]
	if !ok {
		return 0, false
	}
	return v.values[i], true
}

// Set writes a column and reports whether the column exists.
// Writes to unknown columns are dropped.
func (v *Vector) Set(column string, value float64) bool {
	i, ok := v.schema.index[column]
	if !ok {
		return false
	}
	v.values[i] = value
	return true
}

// Values returns a copy of the values in schema order.
func (v *Vector) Values() []float64 {
	return append([]float64(nil), v.values...)
}

// Map returns the vector as a column → value map.
func (v *Vector) Map() map[string]float64 {
	m := make(map[string]float64, len(v.values))
	for i, c := range v.schema.columns {
		m[c] = v.values[i]
	}
	return m
}

// Clone returns an independent copy bound to the same schema.
func (v *Vector) Clone() *Vector {
	return &Vector{
		schema: v.schema,
		values: v.Values(),
	}
}
