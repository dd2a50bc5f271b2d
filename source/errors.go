package source

import "errors"

var (
	// ErrLocationRequired is returned when no data location is given.
	ErrLocationRequired = errors.New("data location is required")

	// ErrLocationNotFound is returned when a local data directory does not exist.
	ErrLocationNotFound = errors.New("data location not found")

	// ErrBucketRequired is returned when NewReader is called with a nil bucket.
	ErrBucketRequired = errors.New("bucket is required")

	// ErrSourceNotFound is returned when a named source file is absent.
	ErrSourceNotFound = errors.New("source file not found")

	// ErrInvalidBatchSize is returned for batch sizes below one.
	ErrInvalidBatchSize = errors.New("batch size must be positive")
)
