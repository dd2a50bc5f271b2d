package core

import (
	"fmt"
	"strings"
	"time"
)

// IngestionState is the lifecycle state of the taxonomy load. It is derived
// from the latest IngestionMetadata record and never stored on its own.
type IngestionState int

const (
	StateUnknown IngestionState = iota
	StateNotStarted
	StateInProgress
	StateCompleted
	StateFailed
)

var stateNames = map[IngestionState]string{
	StateUnknown:    "unknown",
	StateNotStarted: "not_started",
	StateInProgress: "in_progress",
	StateCompleted:  "completed",
	StateFailed:     "failed",
}

// AllStates returns every ingestion state.
func AllStates() []IngestionState {
	return []IngestionState{StateNotStarted, StateInProgress, StateCompleted, StateFailed, StateUnknown}
}

func (s IngestionState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("IngestionState(%d)", int(s))
}

// ParseIngestionState converts a stored status string into a state.
func ParseIngestionState(s string) (IngestionState, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	for state, name := range stateNames {
		if name == normalized {
			return state, nil
		}
	}
	return StateUnknown, fmt.Errorf("%w: %q", ErrInvalidState, s)
}

// MarshalText implements encoding.TextMarshaler.
func (s IngestionState) MarshalText() ([]byte, error) {
	if _, ok := stateNames[s]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrInvalidState, int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *IngestionState) UnmarshalText(text []byte) error {
	state, err := ParseIngestionState(string(text))
	if err != nil {
		return err
	}
	*s = state
	return nil
}

// MetadataVersion is stamped on every metadata record this module writes.
const MetadataVersion = "1.0"

// Keys used in IngestionMetadata.Details.
const (
	DetailStep           = "step"
	DetailStepNumber     = "step_number"
	DetailTotalSteps     = "total_steps"
	DetailRunID          = "run_id"
	DetailError          = "error"
	DetailProcessed      = "processed"
	DetailClassCounts    = "class_counts"
	DetailRelationCounts = "relation_counts"
	DetailErrorCount     = "error_count"
	DetailWarningCount   = "warning_count"
	DetailIncomplete     = "incomplete"
)

// IngestionMetadata is one append-only bookkeeping record. The most recent
// record by timestamp is the current one; older records are kept for audit.
type IngestionMetadata struct {
	Status             IngestionState `json:"status"`
	Timestamp          string         `json:"timestamp"`
	HeartbeatTimestamp string         `json:"heartbeat_timestamp,omitempty"`
	Version            string         `json:"version"`
	Details            map[string]any `json:"details,omitempty"`
}

// NewIngestionMetadata creates a record stamped with now for both the
// timestamp and the heartbeat.
func NewIngestionMetadata(status IngestionState, now time.Time, details map[string]any) *IngestionMetadata {
	ts := FormatTimestamp(now)
	if details == nil {
		details = make(map[string]any)
	}
	return &IngestionMetadata{
		Status:             status,
		Timestamp:          ts,
		HeartbeatTimestamp: ts,
		Version:            MetadataVersion,
		Details:            details,
	}
}

// Step returns details.step, or "" if absent.
func (m *IngestionMetadata) Step() string {
	return m.detailString(DetailStep)
}

// RunID returns details.run_id, or "" if absent.
func (m *IngestionMetadata) RunID() string {
	return m.detailString(DetailRunID)
}

// ErrorMessage returns details.error, or "" if absent.
func (m *IngestionMetadata) ErrorMessage() string {
	return m.detailString(DetailError)
}

func (m *IngestionMetadata) detailString(key string) string {
	if m == nil || m.Details == nil {
		return ""
	}
	if v, ok := m.Details[key].(string); ok {
		return v
	}
	return ""
}

// LastSeen returns the liveness timestamp of the record: the heartbeat when
// present, otherwise the record timestamp.
func (m *IngestionMetadata) LastSeen() (time.Time, error) {
	if m.HeartbeatTimestamp != "" {
		return ParseTimestamp(m.HeartbeatTimestamp)
	}
	return ParseTimestamp(m.Timestamp)
}

// FormatTimestamp renders t as an ISO-8601 UTC string.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseTimestamp parses an ISO-8601 timestamp. Timestamps without a zone are
// interpreted as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05.999999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unparseable timestamp %q", ErrInvalidMetadata, s)
}

// IngestionDecision is the outcome of deciding whether a run should start.
// It is never persisted.
type IngestionDecision struct {
	ShouldRun       bool
	Reason          string
	CurrentState    IngestionState
	Stale           bool          // CurrentState is IN_PROGRESS but abandoned
	ForceRequired   bool          // Only an explicit force can start a run
	ExistingClasses []EntityClass // Classes that already hold objects
	MissingClasses  []EntityClass // Requested classes with no objects
}

// IngestionProgress is a transient snapshot emitted before each phase.
type IngestionProgress struct {
	CurrentStep string
	StepNumber  int
	TotalSteps  int
	StartTime   time.Time
}

// Percentage returns the share of phases started so far.
func (p IngestionProgress) Percentage() float64 {
	if p.TotalSteps <= 0 {
		return 0
	}
	return float64(p.StepNumber) / float64(p.TotalSteps) * 100.0
}

// RunMetrics summarizes what a run loaded.
type RunMetrics struct {
	ClassCounts         map[EntityClass]int // Records upserted per class
	RelationCounts      map[string]int      // References added per relation kind
	SkippedRows         map[string]int      // Relation rows skipped for missing endpoints
	IncompleteClasses   []EntityClass       // Classes with at least one failed batch
	IncompleteRelations []string            // Relation kinds with at least one failed batch
}

// NewRunMetrics returns RunMetrics with initialized maps.
func NewRunMetrics() RunMetrics {
	return RunMetrics{
		ClassCounts:    make(map[EntityClass]int),
		RelationCounts: make(map[string]int),
		SkippedRows:    make(map[string]int),
	}
}

// IngestionResult is the terminal summary of a run.
type IngestionResult struct {
	Success           bool
	Skipped           bool
	SkipReason        string
	RunID             string
	StepsCompleted    int
	TotalSteps        int
	Errors            []string
	Warnings          []string
	Metrics           RunMetrics
	StartTime         time.Time
	EndTime           time.Time
	FinalState        IngestionState
	LastCompletedStep string
}

// Duration returns the wall-clock duration of the run.
func (r *IngestionResult) Duration() time.Duration {
	if r.EndTime.IsZero() {
		return 0
	}
	return r.EndTime.Sub(r.StartTime)
}

// CompletionPercentage returns the share of phases that completed.
func (r *IngestionResult) CompletionPercentage() float64 {
	if r.TotalSteps <= 0 {
		return 0
	}
	return float64(r.StepsCompleted) / float64(r.TotalSteps) * 100.0
}
