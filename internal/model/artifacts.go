// Package model loads the pre-trained scaler, anomaly model and feature
// schema that the scoring pipeline reads.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
)

// Artifacts is the read-only scoring context built once at startup and
// shared by every request.
type Artifacts struct {
	schema        *features.Schema
	scaledColumns []string
	scaler        domain.Scaler
	scorer        domain.AnomalyScorer
}

// New assembles an artifact context from already-loaded parts.
func New(schema *features.Schema, scaledColumns []string, scaler domain.Scaler, scorer domain.AnomalyScorer) (*Artifacts, error) {
	if schema == nil {
		return nil, fmt.Errorf("%w: feature schema", domain.ErrArtifactMissing)
	}
	if scaler == nil {
		return nil, fmt.Errorf("%w: scaler", domain.ErrArtifactMissing)
	}
	if scorer == nil {
		return nil, fmt.Errorf("%w: model", domain.ErrArtifactMissing)
	}
	return &Artifacts{
		schema:        schema,
		scaledColumns: append([]string(nil), scaledColumns...),
		scaler:        scaler,
		scorer:        scorer,
	}, nil
}

// Load reads the three artifacts from cfg.Dir. Any missing file is reported
// as domain.ErrArtifactMissing.
func Load(cfg domain.ArtifactConfig) (*Artifacts, error) {
	var columns []string
	if err := readArtifact(cfg.Dir, cfg.SchemaFile, &columns); err != nil {
		return nil, err
	}
	schema, err := features.NewSchema(columns)
	if err != nil {
		return nil, fmt.Errorf("invalid schema artifact %s: %w", cfg.SchemaFile, err)
	}

	var scaler StandardScaler
	if err := readArtifact(cfg.Dir, cfg.ScalerFile, &scaler); err != nil {
		return nil, err
	}
	if err := scaler.validate(); err != nil {
		return nil, fmt.Errorf("invalid scaler artifact %s: %w", cfg.ScalerFile, err)
	}

	var forest IsolationForest
	if err := readArtifact(cfg.Dir, cfg.ModelFile, &forest); err != nil {
		return nil, err
	}
	if err := forest.validate(); err != nil {
		return nil, fmt.Errorf("invalid model artifact %s: %w", cfg.ModelFile, err)
	}

	scaled := cfg.ScaledColumns
	if len(scaled) == 0 {
		scaled = domain.DefaultScaledColumns
	}

	a, err := New(schema, scaled, &scaler, &forest)
	if err != nil {
		return nil, err
	}

	// Shape disagreements are not fatal: each request reports them as a
	// scoring failure. Surface them once here.
	for _, c := range a.scaledColumns {
		if !schema.Has(c) {
			slog.Warn("scaled column not in feature schema", "column", c)
		}
	}
	if forest.NFeatures != schema.Len() {
		slog.Warn("model width differs from feature schema",
			"model_features", forest.NFeatures,
			"schema_columns", schema.Len(),
		)
	}

	slog.Info("artifacts loaded",
		"dir", cfg.Dir,
		"columns", schema.Len(),
		"scaled_columns", len(a.scaledColumns),
		"trees", len(forest.Trees),
	)

	return a, nil
}

func readArtifact(dir, name string, v any) error {
	path := filepath.Join(dir, name)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", domain.ErrArtifactMissing, path)
	}
	if err != nil {
		return fmt.Errorf("failed to read artifact %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse artifact %s: %w", path, err)
	}
	return nil
}

// Schema returns the feature schema.
func (a *Artifacts) Schema() *features.Schema {
	return a.schema
}

// ScaledColumns returns a copy of the scaled column order.
func (a *Artifacts) ScaledColumns() []string {
	return append([]string(nil), a.scaledColumns...)
}

// Scaler returns the fitted scaler.
func (a *Artifacts) Scaler() domain.Scaler {
	return a.scaler
}

// Scorer returns the anomaly model.
func (a *Artifacts) Scorer() domain.AnomalyScorer {
	return a.scorer
}
