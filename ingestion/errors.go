package ingestion

import (
	"errors"
	"fmt"
)

var (
	// ErrObjectRepositoryRequired is returned when an object repository is not provided.
	ErrObjectRepositoryRequired = errors.New("object repository required")

	// ErrStateManagerRequired is returned when a state manager is not provided.
	ErrStateManagerRequired = errors.New("state manager required")

	// ErrReaderRequired is returned when a source reader is not provided.
	ErrReaderRequired = errors.New("source reader required")

	// ErrEmbedderRequired is returned when an embedder is not provided.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrInvalidMaxAttempts is returned when maxAttempts is <= 0
	ErrInvalidMaxAttempts = errors.New("maxAttempts must be greater than 0")

	// ErrIngestionFailed is returned by WaitForCompletion when the latest run failed.
	ErrIngestionFailed = errors.New("ingestion failed")

	// ErrIngestionStale is returned by WaitForCompletion when the run being
	// waited on stopped sending heartbeats.
	ErrIngestionStale = errors.New("ingestion is stale")

	// ErrWaitTimeout is returned by WaitForCompletion when the wait timeout elapses.
	ErrWaitTimeout = errors.New("timed out waiting for ingestion")
)

// PhaseError reports a phase-level failure that aborted a run.
type PhaseError struct {
	Step       string
	StepNumber int
	Err        error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("phase %d (%s) failed: %v", e.StepNumber, e.Step, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}
