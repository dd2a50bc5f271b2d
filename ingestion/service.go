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
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/skillgraph/core"
	"github.com/poiesic/skillgraph/metrics"
	"github.com/poiesic/skillgraph/state"
	"github.com/poiesic/skillgraph/storage"
)

// Verification is the outcome of VerifyCompletion.
type Verification struct {
	State          core.IngestionState
	Stale          bool
	Complete       bool
	ClassCounts    map[core.EntityClass]int
	MissingClasses []core.EntityClass
	Problems       []string
}

// IngestionMetrics is the observability summary returned by
// GetIngestionMetrics.
type IngestionMetrics struct {
	State           core.IngestionState
	Stale           bool
	LastSeen        time.Time
	RunID           string
	Step            string
	LastError       string
	ClassCounts     map[core.EntityClass]int
	RelationCounts  map[string]int
	TotalObjects    int
	TotalReferences int
}

// Service composes state evaluation, the run decision and the orchestrator
// into the operations a caller needs.
type Service struct {
	store        storage.ObjectRepository
	states       *state.Manager
	reader       Reader
	cfg          core.IngestionConfig
	orchestrator *Orchestrator
	pool         *ants.Pool
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

// NewService creates a Service. Options are shared with the orchestrator it
// builds.
func NewService(
	store storage.ObjectRepository,
	states *state.Manager,
	reader Reader,
	cfg core.IngestionConfig,
	opts ...Option,
) (*Service, error) {
	orchestrator, err := NewOrchestrator(store, states, reader, cfg, opts...)
	if err != nil {
		return nil, err
	}
	s, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}

	pool, err := ants.NewPool(s.poolSize)
	if err != nil {
		return nil, err
	}

	return &Service{
		store:        store,
		states:       states,
		reader:       reader,
		cfg:          cfg,
		orchestrator: orchestrator,
		pool:         pool,
		metrics:      s.metrics,
		logger:       s.logger.With("component", "service"),
	}, nil
}

// Close releases the worker pool.
func (s *Service) Close() {
	s.pool.Release()
}

// Config returns the ingestion configuration.
func (s *Service) Config() core.IngestionConfig {
	return s.cfg
}

// GetCurrentState evaluates the latest metadata record. If the metadata
// store is unreachable the snapshot reports StateUnknown and the error is
// returned alongside it.
func (s *Service) GetCurrentState(ctx context.Context) (state.Snapshot, error) {
	snap, err := s.states.DetermineState(ctx)
	s.metrics.SetIngestionState(snap.State)
	return snap, err
}

// History returns up to limit metadata records, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]*core.IngestionMetadata, error) {
	return s.states.History(ctx, limit)
}

// ShouldRunIngestion decides whether a run should start now for the
// configured classes. The decision is always usable; a non-nil error
// explains why the state is unknown.
func (s *Service) ShouldRunIngestion(ctx context.Context, force bool) (core.IngestionDecision, error) {
	return s.decide(ctx, force, s.cfg.Classes())
}

func (s *Service) decide(ctx context.Context, force bool, requested []core.EntityClass) (core.IngestionDecision, error) {
	snap, stateErr := s.GetCurrentState(ctx)

	var counts map[core.EntityClass]int
	if stateErr == nil {
		var err error
		counts, err = s.countClasses(ctx, core.AllClasses())
		if err != nil {
			// Partial completion is not checked without counts.
			s.logger.Warn("failed to count objects", "err", err)
			counts = nil
		}
	}

	d := state.Decide(snap, force, requested, counts)
	s.logger.Info("ingestion decision",
		"should_run", d.ShouldRun,
		"state", d.CurrentState,
		"stale", d.Stale,
		"force_required", d.ForceRequired,
		"reason", d.Reason)
	return d, stateErr
}

// ValidatePrerequisites checks store connectivity, schema readiness, the
// configuration and source file presence, reporting every problem at once.
func (s *Service) ValidatePrerequisites(ctx context.Context) *core.ValidationResult {
	return state.ValidatePrerequisites(ctx, s.store, s.cfg, s.reader, RequiredFiles())
}

// RunIngestion starts a run only if the decision allows it. Otherwise the
// returned result has Skipped set and describes why.
func (s *Service) RunIngestion(ctx context.Context, opts RunOptions) (*core.IngestionResult, error) {
	requested := s.cfg.Classes()
	if len(opts.Classes) > 0 {
		requested = opts.Classes
	}

	d, err := s.decide(ctx, opts.Force, requested)
	if !d.ShouldRun {
		now := s.states.Now()
		return &core.IngestionResult{
			Success:    d.CurrentState == core.StateCompleted && !d.ForceRequired,
			Skipped:    true,
			SkipReason: d.Reason,
			TotalSteps: TotalSteps,
			StartTime:  now,
			EndTime:    now,
			FinalState: d.CurrentState,
			Metrics:    core.NewRunMetrics(),
		}, err
	}
	return s.orchestrator.Run(ctx, opts)
}

// VerifyCompletion re-reads the state and confirms every configured class
// holds objects.
func (s *Service) VerifyCompletion(ctx context.Context) (*Verification, error) {
	snap, err := s.GetCurrentState(ctx)
	if err != nil {
		return nil, err
	}

	counts, err := s.countClasses(ctx, s.cfg.Classes())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrConnectivity, err)
	}

	v := &Verification{State: snap.State, Stale: snap.Stale, ClassCounts: counts}
	if snap.Effective() != core.StateCompleted {
		v.Problems = append(v.Problems, fmt.Sprintf("ingestion state is %s, not %s", describe(snap), core.StateCompleted))
	}
	for _, class := range s.cfg.Classes() {
		if counts[class] == 0 {
			v.MissingClasses = append(v.MissingClasses, class)
			v.Problems = append(v.Problems, fmt.Sprintf("%s has no objects", class))
		}
	}
	v.Complete = len(v.Problems) == 0
	return v, nil
}

// GetIngestionMetrics returns per-class and per-relation counts with the
// last known status, and updates the Prometheus gauges.
func (s *Service) GetIngestionMetrics(ctx context.Context) (*IngestionMetrics, error) {
	snap, err := s.GetCurrentState(ctx)
	if err != nil {
		return nil, err
	}

	m := &IngestionMetrics{
		State:    snap.State,
		Stale:    snap.Stale,
		LastSeen: snap.LastSeen,
	}
	if snap.Metadata != nil {
		m.RunID = snap.Metadata.RunID()
		m.Step = snap.Metadata.Step()
		m.LastError = snap.Metadata.ErrorMessage()
	}

	classCounts, classErr := s.countClasses(ctx, core.AllClasses())
	relationCounts, relationErr := s.countRelations(ctx)
	if err := errors.Join(classErr, relationErr); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrConnectivity, err)
	}

	m.ClassCounts = classCounts
	m.RelationCounts = relationCounts
	for class, n := range classCounts {
		m.TotalObjects += n
		s.metrics.SetObjectCount(class, n)
	}
	for _, n := range relationCounts {
		m.TotalReferences += n
	}
	return m, nil
}

// countClasses counts objects per class concurrently on the pool.
func (s *Service) countClasses(ctx context.Context, classes []core.EntityClass) (map[core.EntityClass]int, error) {
	var mu sync.Mutex
	counts := make(map[core.EntityClass]int, len(classes))
	err := s.parallel(len(classes), func(i int) error {
		n, err := s.store.CountObjects(ctx, classes[i])
		if err != nil {
			return fmt.Errorf("count %s: %w", classes[i], err)
		}
		mu.Lock()
		counts[classes[i]] = n
		mu.Unlock()
		return nil
	})
	return counts, err
}

// countRelations counts references per relation kind, inverses included.
func (s *Service) countRelations(ctx context.Context) (map[string]int, error) {
	kinds := RelationKinds()
	var mu sync.Mutex
	counts := make(map[string]int, len(kinds))
	err := s.parallel(len(kinds), func(i int) error {
		total := 0
		for _, property := range kinds[i].Properties() {
			n, err := s.store.CountReferences(ctx, property)
			if err != nil {
				return fmt.Errorf("count %s: %w", property, err)
			}
			total += n
		}
		mu.Lock()
		counts[kinds[i].Name] = total
		mu.Unlock()
		return nil
	})
	return counts, err
}

// parallel runs fn(0..n-1) on the pool and joins the errors.
func (s *Service) parallel(n int, fn func(i int) error) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for i := range n {
		wg.Add(1)
		submitErr := s.pool.Submit(func() {
			defer wg.Done()
			if err := fn(i); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		})
		if submitErr != nil {
			wg.Done()
			mu.Lock()
			errs = append(errs, submitErr)
			mu.Unlock()
		}
	}
	wg.Wait()
	return errors.Join(errs...)
}

// WaitForStore polls the store until it is reachable, up to attempts times.
func (s *Service) WaitForStore(ctx context.Context, attempts int, interval time.Duration) error {
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		if s.store.IsConnected(ctx) {
			if attempt > 1 {
				s.logger.Info("store is reachable", "attempt", attempt)
			}
			return nil
		}
		if attempt == attempts {
			break
		}
		s.logger.Info("waiting for store", "attempt", attempt, "of", attempts)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	return fmt.Errorf("%w: store not reachable after %d attempts", core.ErrConnectivity, attempts)
}

// WaitForCompletion polls the state every poll interval until the latest
// run completes. It returns ErrIngestionFailed, ErrIngestionStale or
// ErrWaitTimeout when the wait ends any other way. Unreadable state is
// retried until the timeout.
func (s *Service) WaitForCompletion(ctx context.Context) error {
	timeout := time.NewTimer(s.cfg.WaitTimeout())
	defer timeout.Stop()
	ticker := time.NewTicker(s.cfg.PollInterval())
	defer ticker.Stop()

	for {
		snap, err := s.GetCurrentState(ctx)
		switch {
		case err != nil:
			s.logger.Warn("failed to read ingestion state while waiting", "err", err)
		case snap.Stale:
			return fmt.Errorf("%w: last seen %s", ErrIngestionStale, core.FormatTimestamp(snap.LastSeen))
		case snap.State == core.StateCompleted:
			return nil
		case snap.State == core.StateFailed:
			return fmt.Errorf("%w at step %s: %s", ErrIngestionFailed, snap.Metadata.Step(), snap.Metadata.ErrorMessage())
		default:
			s.logger.Info("waiting for ingestion", "state", snap.State, "poll_interval", s.cfg.PollInterval())
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout.C:
			return fmt.Errorf("%w after %s", ErrWaitTimeout, s.cfg.WaitTimeout())
		case <-ticker.C:
		}
	}
}

func describe(snap state.Snapshot) string {
	if snap.Stale {
		return "stale " + snap.State.String()
	}
	return snap.State.String()
}
