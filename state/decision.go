package state

import (
	"context"
	"fmt"
	"strings"

	"github.com/poiesic/skillgraph/core"
)

// Decide applies the run policy to a snapshot. counts holds the number of
// stored objects per class, or is nil when the counts could not be read;
// requested lists the classes the caller wants loaded. The rules apply in
// order:
//
//  1. force always runs
//  2. completed runs only when a requested class is known to have no objects
//  3. not started, failed, or stale in progress runs
//  4. live in progress does not run
//  5. unknown requires force
func Decide(snap Snapshot, force bool, requested []core.EntityClass, counts map[core.EntityClass]int) core.IngestionDecision {
	d := core.IngestionDecision{
		CurrentState: snap.State,
		Stale:        snap.Stale,
	}
	if counts != nil {
		for _, class := range core.AllClasses() {
			if counts[class] > 0 {
				d.ExistingClasses = append(d.ExistingClasses, class)
			}
		}
		for _, class := range requested {
			if counts[class] == 0 {
				d.MissingClasses = append(d.MissingClasses, class)
			}
		}
	}

	if force {
		d.ShouldRun = true
		d.Reason = "forced re-ingestion requested"
		return d
	}

	switch snap.Effective() {
	case core.StateCompleted:
		if len(d.MissingClasses) > 0 {
			d.ShouldRun = true
			d.Reason = fmt.Sprintf("ingestion completed but classes have no objects: %s", joinClasses(d.MissingClasses))
			return d
		}
		d.Reason = "ingestion already completed"
		if counts == nil {
			d.Reason += " (object counts unavailable, partial completion not checked)"
		}
	case core.StateNotStarted:
		d.ShouldRun = true
		if snap.Stale {
			d.Reason = fmt.Sprintf("stale in-progress ingestion detected (last seen %s), resuming", formatLastSeen(snap))
		} else {
			d.Reason = "no previous ingestion found"
		}
	case core.StateFailed:
		d.ShouldRun = true
		d.Reason = "previous ingestion failed"
		if step := snap.Metadata.Step(); step != "" {
			d.Reason = fmt.Sprintf("previous ingestion failed at step %s", step)
		}
	case core.StateInProgress:
		d.Reason = fmt.Sprintf("an active ingestion is in progress (last seen %s)", formatLastSeen(snap))
	default:
		d.ForceRequired = true
		d.Reason = "ingestion state is unknown, explicit force is required"
	}
	return d
}

func joinClasses(classes []core.EntityClass) string {
	names := make([]string, len(classes))
	for i, c := range classes {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}

func formatLastSeen(snap Snapshot) string {
	if snap.LastSeen.IsZero() {
		return "never"
	}
	return core.FormatTimestamp(snap.LastSeen)
}

// StoreChecker is the part of the store client prerequisite validation needs.
type StoreChecker interface {
	IsConnected(ctx context.Context) bool
	SchemaReady(ctx context.Context) (bool, error)
}

// FileChecker reports whether a source file exists.
type FileChecker interface {
	Exists(ctx context.Context, name string) (bool, error)
}

// Validation components.
const (
	ComponentConnectivity = "connectivity"
	ComponentSchema       = "schema"
	ComponentDataFiles    = "data_files"
)

// ValidatePrerequisites runs every prerequisite check and accumulates all
// failures into one result: store connectivity, schema readiness,
// configuration, and source file presence. files may be nil when the data
// source could not be opened.
func ValidatePrerequisites(ctx context.Context, store StoreChecker, cfg core.IngestionConfig, files FileChecker, required []string) *core.ValidationResult {
	result := core.NewValidationResult()

	connected := store != nil && store.IsConnected(ctx)
	if connected {
		result.AddSuccess(ComponentConnectivity, "store is reachable")
	} else {
		result.AddError(ComponentConnectivity, "store is not reachable")
	}

	if connected {
		ready, err := store.SchemaReady(ctx)
		switch {
		case err != nil:
			result.AddError(ComponentSchema, fmt.Sprintf("schema check failed: %v", err))
		case ready:
			result.AddSuccess(ComponentSchema, "schema is ready")
		default:
			result.AddWarning(ComponentSchema, "schema not prepared yet, the first phase will create it")
		}
	}

	result.Merge(cfg.Validate())

	if files == nil {
		result.AddError(ComponentDataFiles, fmt.Sprintf("data source %q is not available", cfg.DataSource()))
		return result
	}

	found := 0
	for _, name := range required {
		ok, err := files.Exists(ctx, name)
		switch {
		case err != nil:
			result.AddError(ComponentDataFiles, fmt.Sprintf("check %s: %v", name, err))
		case ok:
			found++
		default:
			result.AddWarning(ComponentDataFiles, fmt.Sprintf("source file %s not found, its phase will load nothing", name))
		}
	}
	if len(required) > 0 && found == 0 {
		result.AddError(ComponentDataFiles, fmt.Sprintf("no source files found in %q", cfg.DataSource()))
	} else if found > 0 {
		result.AddSuccess(ComponentDataFiles, fmt.Sprintf("%d of %d source files present", found, len(required)))
	}
	return result
}
