package state

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/skillgraph/core"
	"github.com/poiesic/skillgraph/storage"
)

// Snapshot is the evaluated view of the latest metadata record.
type Snapshot struct {
	// State is the stored status. A stale run keeps StateInProgress here so it
	// can be displayed as such.
	State    core.IngestionState
	Stale    bool
	Metadata *core.IngestionMetadata // nil when nothing has been recorded
	LastSeen time.Time               // zero when unknown or unparseable
}

// Effective returns the state used for decisions: a stale in-progress run
// counts as not started.
func (s Snapshot) Effective() core.IngestionState {
	if s.Stale {
		return core.StateNotStarted
	}
	return s.State
}

// Active reports whether a live run holds the store.
func (s Snapshot) Active() bool {
	return s.State == core.StateInProgress && !s.Stale
}

// Evaluate derives a Snapshot from the latest metadata record. An in-progress
// record whose last heartbeat (or timestamp, without a heartbeat) is older
// than threshold is stale. An unparseable timestamp is treated as stale.
func Evaluate(md *core.IngestionMetadata, now time.Time, threshold time.Duration) Snapshot {
	if md == nil {
		return Snapshot{State: core.StateNotStarted}
	}

	snap := Snapshot{State: md.Status, Metadata: md}
	lastSeen, err := md.LastSeen()
	if err == nil {
		snap.LastSeen = lastSeen
	}

	if md.Status == core.StateInProgress {
		snap.Stale = err != nil || now.Sub(lastSeen) > threshold
	}
	return snap
}

// Manager reads and writes ingestion bookkeeping records.
type Manager struct {
	repo      storage.MetadataRepository
	threshold time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) error {
		if logger == nil {
			logger = slog.Default()
		}
		m.logger = logger.With("component", "state")
		return nil
	}
}

// WithStalenessThreshold sets how long an in-progress run may go without a
// heartbeat before it is considered abandoned.
// Default is core.DefaultStalenessThreshold.
func WithStalenessThreshold(d time.Duration) Option {
	return func(m *Manager) error {
		if d <= 0 {
			return fmt.Errorf("%w: staleness threshold must be positive", core.ErrValidation)
		}
		m.threshold = d
		return nil
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) error {
		if now != nil {
			m.now = now
		}
		return nil
	}
}

// NewManager creates a Manager backed by repo.
func NewManager(repo storage.MetadataRepository, opts ...Option) (*Manager, error) {
	if repo == nil {
		return nil, ErrMetadataRepositoryRequired
	}
	m := &Manager{
		repo:      repo,
		threshold: core.DefaultStalenessThreshold,
		now:       time.Now,
		logger:    slog.Default().With("component", "state"),
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Now returns the manager's current time.
func (m *Manager) Now() time.Time {
	return m.now()
}

// StalenessThreshold returns the configured threshold.
func (m *Manager) StalenessThreshold() time.Duration {
	return m.threshold
}

// DetermineState reads the latest record and evaluates it. If the metadata
// store cannot be read, the snapshot reports StateUnknown and the error wraps
// core.ErrConnectivity.
func (m *Manager) DetermineState(ctx context.Context) (Snapshot, error) {
	md, err := m.repo.LatestMetadata(ctx)
	if err != nil {
		m.logger.Warn("failed to read ingestion metadata", "err", err)
		return Snapshot{State: core.StateUnknown}, fmt.Errorf("%w: read ingestion metadata: %w", core.ErrConnectivity, err)
	}

	snap := Evaluate(md, m.now(), m.threshold)
	if snap.Stale {
		m.logger.Warn("in-progress ingestion is stale",
			"last_seen", snap.LastSeen,
			"threshold", m.threshold,
			"step", md.Step())
	}
	return snap, nil
}

// Record appends a new metadata record stamped with the current time.
func (m *Manager) Record(ctx context.Context, status core.IngestionState, details map[string]any) (*core.IngestionMetadata, error) {
	md := core.NewIngestionMetadata(status, m.now(), details)
	if err := m.repo.AppendMetadata(ctx, md); err != nil {
		return nil, fmt.Errorf("%w: record %s: %w", core.ErrPersistence, status, err)
	}
	m.logger.Debug("recorded ingestion state", "status", status, "step", md.Step())
	return md, nil
}

// History returns up to limit records, newest first.
func (m *Manager) History(ctx context.Context, limit int) ([]*core.IngestionMetadata, error) {
	return m.repo.MetadataHistory(ctx, limit)
}
