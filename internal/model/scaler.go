package model

import (
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// StandardScaler applies (x - mean) / scale per column.
type StandardScaler struct {
	FeatureNames []string  `json:"feature_names"`
	Mean         []float64 `json:"mean"`
	Scale        []float64 `json:"scale"`
}

func (s *StandardScaler) validate() error {
	if len(s.Mean) == 0 {
		return fmt.Errorf("scaler has no fitted columns")
	}
	if len(s.Scale) != len(s.Mean) {
		return fmt.Errorf("scaler has %d means but %d scales", len(s.Mean), len(s.Scale))
	}
	if len(s.FeatureNames) > 0 && len(s.FeatureNames) != len(s.Mean) {
		return fmt.Errorf("scaler has %d feature names but %d means", len(s.FeatureNames), len(s.Mean))
	}
	return nil
}

// Transform normalizes values. It rejects input whose width or column order
// differs from what the scaler was fitted on.
func (s *StandardScaler) Transform(columns []string, values []float64) ([]float64, error) {
	if len(values) != len(s.Mean) {
		return nil, fmt.Errorf("%w: scaler expects %d features, got %d", domain.ErrSchemaMismatch, len(s.Mean), len(values))
	}
	if len(s.FeatureNames) > 0 {
		if len(columns) != len(s.FeatureNames) {
			return nil, fmt.Errorf("%w: scaler fitted on %d named columns, got %d", domain.ErrSchemaMismatch, len(s.FeatureNames), len(columns))
		}
		for i, name := range s.FeatureNames {
			if columns[i] != name {
				return nil, fmt.Errorf("%w: scaler column %d is %q, got %q", domain.ErrSchemaMismatch, i, name, columns[i])
			}
		}
	}

	out := make([]float64, len(values))
	for i, x := range values {
		scale := s.Scale[i]
		if scale == 0 {
			scale = 1
		}
		out[i] = (x - s.Mean[i]) / scale
	}
	return out, nil
}

var _ domain.Scaler = (*StandardScaler)(nil)
