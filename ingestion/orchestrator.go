// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/poiesic/skillgraph/ai"
	"github.com/poiesic/skillgraph/core"
	"github.com/poiesic/skillgraph/metrics"
	"github.com/poiesic/skillgraph/source"
	"github.com/poiesic/skillgraph/state"
	"github.com/poiesic/skillgraph/storage"
)

// TotalSteps is the number of phases in a complete run.
const TotalSteps = 12

// Reader streams source records. *source.Reader implements it.
type Reader interface {
	Exists(ctx context.Context, name string) (bool, error)
	ForEachBatch(ctx context.Context, src source.Source, batchSize int, fn func([]source.Record) error) (source.Stats, error)
}

var _ Reader = (*source.Reader)(nil)

// ProgressFunc receives a snapshot before each phase starts.
type ProgressFunc func(core.IngestionProgress)

// RunOptions controls a single run.
type RunOptions struct {
	// Force starts a run regardless of the current state. Only the Service
	// consults it; the Orchestrator always runs.
	Force bool

	// SkipRelations runs only the schema and entity phases. Relation phases
	// are still counted in the step numbering.
	SkipRelations bool

	// Classes restricts entity phases to a subset of the configured classes.
	Classes []core.EntityClass

	Progress ProgressFunc
}

func (o RunOptions) wantsClass(cfg core.IngestionConfig, class core.EntityClass) bool {
	if !cfg.HasClass(class) {
		return false
	}
	return len(o.Classes) == 0 || slices.Contains(o.Classes, class)
}

// settings collects the optional collaborators shared by the Orchestrator,
// the Service and the Reembedder.
type settings struct {
	logger   *slog.Logger
	embedder ai.Embedder
	metrics  *metrics.Metrics
	poolSize int
	progress io.Writer
}

// Option configures an Orchestrator, Service or Reembedder.
type Option func(*settings) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// WithEmbedder attaches vectors to entities as they are ingested.
// Default is no embedder: objects are stored without vectors.
func WithEmbedder(embedder ai.Embedder) Option {
	return func(s *settings) error {
		s.embedder = embedder
		return nil
	}
}

// WithMetrics records Prometheus metrics.
// Default is nil, which records nothing.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *settings) error {
		s.metrics = m
		return nil
	}
}

// WithPoolSize sets the worker pool size used for count queries.
// Default is the number of entity classes.
func WithPoolSize(size int) Option {
	return func(s *settings) error {
		if size < 1 {
			size = 1
		}
		s.poolSize = size
		return nil
	}
}

// WithProgressWriter sets where the Reembedder writes progress lines.
// Default discards them.
func WithProgressWriter(w io.Writer) Option {
	return func(s *settings) error {
		s.progress = w
		return nil
	}
}

func applyOptions(opts []Option) (settings, error) {
	s := settings{
		logger:   slog.Default(),
		poolSize: len(core.AllClasses()),
	}
	for _, opt := range opts {
		if err := opt(&s); err != nil {
			return s, err
		}
	}
	return s, nil
}

// phase is one resolved step of the pipeline.
type phase struct {
	name  string
	skip  func(opts RunOptions) string // non-empty reason skips the phase
	apply func(ctx context.Context, r *run, cache *identifierCache) (int, error)
}

// Orchestrator runs the fixed twelve-phase ingestion pipeline.
// Phases execute sequentially on the calling goroutine.
type Orchestrator struct {
	store    storage.ObjectRepository
	state    *state.Manager
	reader   Reader
	cfg      core.IngestionConfig
	embedder ai.Embedder
	metrics  *metrics.Metrics
	logger   *slog.Logger
	phases   []phase
}

// NewOrchestrator creates an orchestrator. The phase list is resolved from
// the entity and relation registries here, once.
func NewOrchestrator(
	store storage.ObjectRepository,
	states *state.Manager,
	reader Reader,
	cfg core.IngestionConfig,
	opts ...Option,
) (*Orchestrator, error) {
	if store == nil {
		return nil, ErrObjectRepositoryRequired
	}
	if states == nil {
		return nil, ErrStateManagerRequired
	}
	if reader == nil {
		return nil, ErrReaderRequired
	}
	if err := cfg.Validate().Err(); err != nil {
		return nil, err
	}

	s, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		store:    store,
		state:    states,
		reader:   reader,
		cfg:      cfg,
		embedder: s.embedder,
		metrics:  s.metrics,
		logger:   s.logger.With("component", "orchestrator"),
	}
	o.phases = o.resolvePhases()
	if len(o.phases) != TotalSteps {
		return nil, fmt.Errorf("pipeline has %d phases, want %d", len(o.phases), TotalSteps)
	}
	return o, nil
}

func (o *Orchestrator) resolvePhases() []phase {
	phases := []phase{{
		name: PhaseEnsureSchema,
		apply: func(ctx context.Context, r *run, _ *identifierCache) (int, error) {
			err := r.retry(ctx, func() error { return o.store.EnsureSchema(ctx) })
			if err != nil {
				return 0, fmt.Errorf("%w: ensure schema: %w", core.ErrConnectivity, err)
			}
			return 0, nil
		},
	}}

	for _, kind := range EntityKinds() {
		phases = append(phases, phase{
			name: kind.Phase,
			skip: func(opts RunOptions) string {
				if !opts.wantsClass(o.cfg, kind.Class) {
					return fmt.Sprintf("%s not selected", kind.Class)
				}
				return ""
			},
			apply: func(ctx context.Context, r *run, _ *identifierCache) (int, error) {
				return o.ingestEntities(ctx, r, kind)
			},
		})
	}

	for _, kind := range RelationKinds() {
		phases = append(phases, phase{
			name: kind.Phase,
			skip: func(opts RunOptions) string {
				if opts.SkipRelations {
					return "relations skipped"
				}
				return ""
			},
			apply: func(ctx context.Context, r *run, cache *identifierCache) (int, error) {
				return o.buildRelations(ctx, r, cache, kind)
			},
		})
	}
	return phases
}

// Phases returns the phase names in run order.
func (o *Orchestrator) Phases() []string {
	names := make([]string, len(o.phases))
	for i, p := range o.phases {
		names[i] = p.name
	}
	return names
}

// Run executes every phase in order. Per-batch and per-row problems are
// collected into the result. A phase-level failure writes a FAILED record
// and is returned as a *PhaseError together with the partial result.
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) (*core.IngestionResult, error) {
	result := &core.IngestionResult{
		RunID:      uuid.NewString(),
		TotalSteps: len(o.phases),
		StartTime:  o.state.Now(),
		Metrics:    core.NewRunMetrics(),
		FinalState: core.StateInProgress,
	}
	r := &run{
		id:      result.RunID,
		cfg:     o.cfg,
		state:   o.state,
		metrics: o.metrics,
		logger:  o.logger.With("run_id", result.RunID),
		result:  result,
		warned:  make(map[string]int),
	}
	cache := newIdentifierCache(o.store)

	r.logger.Info("starting ingestion", "total_steps", result.TotalSteps, "source", o.cfg.DataSource())
	if _, err := o.state.Record(ctx, core.StateInProgress, r.details(nil)); err != nil {
		result.FinalState = core.StateUnknown
		result.EndTime = o.state.Now()
		result.Errors = append(result.Errors, err.Error())
		return result, err
	}
	o.metrics.SetIngestionState(core.StateInProgress)

	for i, p := range o.phases {
		r.step = p.name
		r.stepNumber = i + 1
		r.sinceHeartbeat = 0
		o.reportProgress(opts.Progress, core.IngestionProgress{
			CurrentStep: p.name,
			StepNumber:  r.stepNumber,
			TotalSteps:  result.TotalSteps,
			StartTime:   result.StartTime,
		})

		if p.skip != nil {
			if reason := p.skip(opts); reason != "" {
				r.logger.Info("phase skipped", "step", p.name, "step_number", r.stepNumber, "reason", reason)
				if err := o.completePhase(ctx, r, 0); err != nil {
					return o.fail(ctx, r, err)
				}
				continue
			}
		}

		r.logger.Info("phase started", "step", p.name, "step_number", r.stepNumber)
		start := time.Now()
		count, err := p.apply(ctx, r, cache)
		o.metrics.RecordPhaseDuration(p.name, err == nil, time.Since(start))
		if err != nil {
			return o.fail(ctx, r, err)
		}
		r.logger.Info("phase finished",
			"step", p.name,
			"step_number", r.stepNumber,
			"count", count,
			"duration", time.Since(start).Round(time.Millisecond))

		if err := o.completePhase(ctx, r, count); err != nil {
			return o.fail(ctx, r, err)
		}
	}

	return o.finish(ctx, r)
}

// completePhase marks the current phase done and persists the boundary.
func (o *Orchestrator) completePhase(ctx context.Context, r *run, count int) error {
	r.result.StepsCompleted++
	r.result.LastCompletedStep = r.step
	_, err := o.state.Record(ctx, core.StateInProgress, r.details(map[string]any{core.DetailProcessed: count}))
	return err
}

// fail persists a FAILED record for the current phase and returns the
// phase error. The record is written even if ctx has been cancelled.
func (o *Orchestrator) fail(ctx context.Context, r *run, err error) (*core.IngestionResult, error) {
	r.errorf("%s failed: %v", r.step, err)
	phaseErr := &PhaseError{Step: r.step, StepNumber: r.stepNumber, Err: err}

	details := r.details(summaryDetails(r.result))
	details[core.DetailError] = err.Error()
	if _, recErr := o.state.Record(context.WithoutCancel(ctx), core.StateFailed, details); recErr != nil {
		r.logger.Error("failed to record failure", "err", recErr)
		r.result.Errors = append(r.result.Errors, recErr.Error())
		return o.end(r, core.StateUnknown), errors.Join(phaseErr, recErr)
	}
	o.metrics.SetIngestionState(core.StateFailed)
	return o.end(r, core.StateFailed), phaseErr
}

// finish writes the terminal record. A run with hard errors ends FAILED.
func (o *Orchestrator) finish(ctx context.Context, r *run) (*core.IngestionResult, error) {
	status := core.StateCompleted
	if len(r.result.Errors) > 0 {
		status = core.StateFailed
	}

	r.step = "complete"
	details := r.details(summaryDetails(r.result))
	if _, err := o.state.Record(ctx, status, details); err != nil {
		r.logger.Error("failed to record completion", "err", err)
		r.result.Errors = append(r.result.Errors, err.Error())
		return o.end(r, core.StateUnknown), err
	}
	o.metrics.SetIngestionState(status)

	result := o.end(r, status)
	r.logger.Info("ingestion finished",
		"state", status,
		"steps_completed", result.StepsCompleted,
		"errors", len(result.Errors),
		"warnings", len(result.Warnings),
		"duration", result.Duration().Round(time.Second))
	return result, nil
}

func (o *Orchestrator) end(r *run, status core.IngestionState) *core.IngestionResult {
	r.result.FinalState = status
	r.result.Success = status == core.StateCompleted
	r.result.EndTime = o.state.Now()
	return r.result
}

// reportProgress calls fn, recovering from any panic it raises.
func (o *Orchestrator) reportProgress(fn ProgressFunc, p core.IngestionProgress) {
	if fn == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			o.logger.Warn("progress callback panicked", "step", p.CurrentStep, "panic", rec)
		}
	}()
	fn(p)
}

// summaryDetails is the metadata summary of a run so far.
func summaryDetails(result *core.IngestionResult) map[string]any {
	classCounts := make(map[string]int, len(result.Metrics.ClassCounts))
	for class, n := range result.Metrics.ClassCounts {
		classCounts[string(class)] = n
	}
	d := map[string]any{
		core.DetailClassCounts:    classCounts,
		core.DetailRelationCounts: result.Metrics.RelationCounts,
		core.DetailErrorCount:     len(result.Errors),
		core.DetailWarningCount:   len(result.Warnings),
	}
	if len(result.Metrics.IncompleteClasses) > 0 || len(result.Metrics.IncompleteRelations) > 0 {
		incomplete := make([]string, 0, len(result.Metrics.IncompleteClasses)+len(result.Metrics.IncompleteRelations))
		for _, class := range result.Metrics.IncompleteClasses {
			incomplete = append(incomplete, string(class))
		}
		d[core.DetailIncomplete] = append(incomplete, result.Metrics.IncompleteRelations...)
	}
	return d
}
