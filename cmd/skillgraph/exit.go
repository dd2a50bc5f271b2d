package main

import (
	"errors"

	"github.com/poiesic/skillgraph"
	"github.com/poiesic/skillgraph/config"
	"github.com/poiesic/skillgraph/core"
	"github.com/poiesic/skillgraph/ingestion"
	"github.com/poiesic/skillgraph/search"
	"github.com/poiesic/skillgraph/storage"
	"github.com/urfave/cli/v2"
)

// Exit codes understood by the supervisor that retries ingestion.
const (
	exitOK         = 0 // completed, or nothing to do
	exitInProgress = 1 // another run is active; retry later
	exitManual     = 2 // needs an operator: UNKNOWN state, bad configuration
	exitFailed     = 3
	exitTimeout    = 4
)

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, ingestion.ErrWaitTimeout):
		return exitTimeout
	case errors.Is(err, ingestion.ErrIngestionStale),
		errors.Is(err, search.ErrIngestionNotComplete),
		errors.Is(err, storage.ErrStoreLocked):
		return exitInProgress
	case errors.Is(err, core.ErrValidation),
		errors.Is(err, skillgraph.ErrEmbeddingsDisabled),
		errors.Is(err, config.ErrInvalidDuration),
		errors.Is(err, config.ErrInvalidLogLevel),
		errors.Is(err, config.ErrInvalidLogFormat):
		return exitManual
	default:
		return exitFailed
	}
}

// fail converts err into a cli exit error with the matching code.
func fail(err error) error {
	if err == nil {
		return nil
	}
	return cli.Exit(err.Error(), exitCode(err))
}

// exit returns nil for exitOK so urfave/cli does not print msg as an error.
func exit(msg string, code int) error {
	if code == exitOK {
		return nil
	}
	return cli.Exit(msg, code)
}

// resultCode maps a finished or skipped run onto an exit code.
func resultCode(result *core.IngestionResult) int {
	if result.Skipped {
		switch result.FinalState {
		case core.StateUnknown:
			return exitManual
		case core.StateInProgress:
			return exitInProgress
		default:
			return exitOK
		}
	}
	if result.FinalState == core.StateCompleted {
		return exitOK
	}
	return exitFailed
}
