package domain

import "errors"

var (
	// ErrArtifactMissing means a model, scaler or schema artifact could not be loaded.
	// It is fatal at startup.
	ErrArtifactMissing = errors.New("artifact missing")

	// ErrSchemaMismatch means the feature vector shape was rejected by the scaler or model.
	ErrSchemaMismatch = errors.New("schema mismatch")

	// ErrInvalidInput means a request value is outside the range the pipeline can score.
	ErrInvalidInput = errors.New("invalid input")

	// ErrSessionNotFound means the session does not exist or has expired.
	ErrSessionNotFound = errors.New("session not found")
)
