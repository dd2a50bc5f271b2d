package state

import "errors"

// ErrMetadataRepositoryRequired is returned when NewManager is called without a repository.
var ErrMetadataRepositoryRequired = errors.New("metadata repository is required")
