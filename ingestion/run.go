package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/poiesic/skillgraph/core"
	"github.com/poiesic/skillgraph/metrics"
	"github.com/poiesic/skillgraph/state"
)

// maxWarningsPerKind caps per-row warnings recorded for one relation kind.
// Further rows are still counted in RunMetrics.SkippedRows.
const maxWarningsPerKind = 20

// run carries the bookkeeping of a single ingestion run across phases.
type run struct {
	id      string
	cfg     core.IngestionConfig
	state   *state.Manager
	metrics *metrics.Metrics
	logger  *slog.Logger
	result  *core.IngestionResult

	step       string
	stepNumber int

	sinceHeartbeat int
	warned         map[string]int
}

func (r *run) errorf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.result.Errors = append(r.result.Errors, msg)
	r.logger.Error(msg, "step", r.step)
}

func (r *run) warnf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.result.Warnings = append(r.result.Warnings, msg)
	r.logger.Warn(msg, "step", r.step)
}

// warnCapped records a warning unless kind has already hit the cap. The
// warning that reaches the cap says so.
func (r *run) warnCapped(kind, format string, args ...any) {
	n := r.warned[kind]
	r.warned[kind] = n + 1
	switch {
	case n < maxWarningsPerKind-1:
		r.warnf(format, args...)
	case n == maxWarningsPerKind-1:
		r.warnf(format+" (further %s warnings suppressed)", append(args, kind)...)
	}
}

func (r *run) markIncompleteClass(class core.EntityClass) {
	if !slices.Contains(r.result.Metrics.IncompleteClasses, class) {
		r.result.Metrics.IncompleteClasses = append(r.result.Metrics.IncompleteClasses, class)
	}
}

func (r *run) markIncompleteRelation(kind string) {
	if !slices.Contains(r.result.Metrics.IncompleteRelations, kind) {
		r.result.Metrics.IncompleteRelations = append(r.result.Metrics.IncompleteRelations, kind)
	}
}

// details builds the metadata details for the current step.
func (r *run) details(extra map[string]any) map[string]any {
	d := map[string]any{
		core.DetailRunID:      r.id,
		core.DetailStep:       r.step,
		core.DetailStepNumber: r.stepNumber,
		core.DetailTotalSteps: r.result.TotalSteps,
	}
	for k, v := range extra {
		d[k] = v
	}
	return d
}

// tick advances the heartbeat counter by n records and writes an
// IN_PROGRESS record every HeartbeatInterval records. A failed heartbeat is
// only a warning.
func (r *run) tick(ctx context.Context, n int, processed int) {
	interval := r.cfg.HeartbeatInterval()
	if interval <= 0 {
		return
	}
	r.sinceHeartbeat += n
	if r.sinceHeartbeat < interval {
		return
	}
	r.sinceHeartbeat = 0
	if _, err := r.state.Record(ctx, core.StateInProgress, r.details(map[string]any{core.DetailProcessed: processed})); err != nil {
		r.warnf("heartbeat failed: %v", err)
		return
	}
	r.metrics.RecordHeartbeat()
}

// retry runs op once plus MaxRetries retries, recording each retry.
func (r *run) retry(ctx context.Context, op func() error) error {
	return RetryWithBackoff(ctx, op, r.cfg.MaxRetries()+1, r.cfg.RetryDelay(), func(attempt int, err error) {
		r.metrics.RecordRetry(r.step)
		r.logger.Warn("retrying batch", "step", r.step, "attempt", attempt, "err", err)
	})
}
