package ingestion

import "errors"

var (
	// ErrSaverRequired is returned when a saver is not provided.
	ErrSaverRequired = errors.New("saver required")

	// ErrInvalidMaxAttempts is returned when maxAttempts is not positive.
	ErrInvalidMaxAttempts = errors.New("maxAttempts must be greater than 0")

	// ErrNilModel is recorded for a nil entry in the models to ingest.
	ErrNilModel = errors.New("model is nil")
)
