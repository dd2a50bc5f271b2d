package badger

import "errors"

var (
	// ErrBackendRequired is returned when a repository is constructed without a backend.
	ErrBackendRequired = errors.New("backend is required")
)
