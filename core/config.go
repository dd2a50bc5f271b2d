package core

import (
	"fmt"
	"time"
)

// Defaults for IngestionConfig.
const (
	DefaultBatchSize          = 100
	DefaultStalenessThreshold = 2 * time.Hour
	DefaultPollInterval       = 30 * time.Second
	DefaultWaitTimeout        = 2 * time.Hour
	DefaultMaxRetries         = 3
	DefaultRetryDelay         = time.Second
	DefaultHeartbeatInterval  = 1000
)

// IngestionConfig is the immutable configuration of an ingestion run.
// Build it with NewIngestionConfig; the zero value is not usable.
type IngestionConfig struct {
	dataSource         string
	batchSize          int
	classes            []EntityClass
	stalenessThreshold time.Duration
	pollInterval       time.Duration
	waitTimeout        time.Duration
	maxRetries         int
	retryDelay         time.Duration
	heartbeatInterval  int
}

// IngestionOption configures an IngestionConfig at construction.
type IngestionOption func(*IngestionConfig)

// WithBatchSize sets the number of records per batch.
func WithBatchSize(size int) IngestionOption {
	return func(c *IngestionConfig) { c.batchSize = size }
}

// WithClasses sets the entity classes to ingest.
func WithClasses(classes ...EntityClass) IngestionOption {
	return func(c *IngestionConfig) {
		c.classes = append([]EntityClass(nil), classes...)
	}
}

// WithStalenessThreshold sets how old a heartbeat may be before an
// in-progress run is considered abandoned.
func WithStalenessThreshold(d time.Duration) IngestionOption {
	return func(c *IngestionConfig) { c.stalenessThreshold = d }
}

// WithPollInterval sets how often waiters re-check state.
func WithPollInterval(d time.Duration) IngestionOption {
	return func(c *IngestionConfig) { c.pollInterval = d }
}

// WithWaitTimeout sets how long waiters block before giving up.
func WithWaitTimeout(d time.Duration) IngestionOption {
	return func(c *IngestionConfig) { c.waitTimeout = d }
}

// WithRetries sets the retry count and base backoff delay for store writes.
func WithRetries(maxRetries int, delay time.Duration) IngestionOption {
	return func(c *IngestionConfig) {
		c.maxRetries = maxRetries
		c.retryDelay = delay
	}
}

// WithHeartbeatInterval sets the record-count cadence of heartbeats.
func WithHeartbeatInterval(records int) IngestionOption {
	return func(c *IngestionConfig) { c.heartbeatInterval = records }
}

// NewIngestionConfig builds a configuration reading from dataSource, which is
// a local directory or a blob bucket URL.
func NewIngestionConfig(dataSource string, opts ...IngestionOption) IngestionConfig {
	cfg := IngestionConfig{
		dataSource:         dataSource,
		batchSize:          DefaultBatchSize,
		classes:            AllClasses(),
		stalenessThreshold: DefaultStalenessThreshold,
		pollInterval:       DefaultPollInterval,
		waitTimeout:        DefaultWaitTimeout,
		maxRetries:         DefaultMaxRetries,
		retryDelay:         DefaultRetryDelay,
		heartbeatInterval:  DefaultHeartbeatInterval,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func (c IngestionConfig) DataSource() string                { return c.dataSource }
func (c IngestionConfig) BatchSize() int                    { return c.batchSize }
func (c IngestionConfig) StalenessThreshold() time.Duration { return c.stalenessThreshold }
func (c IngestionConfig) PollInterval() time.Duration       { return c.pollInterval }
func (c IngestionConfig) WaitTimeout() time.Duration        { return c.waitTimeout }
func (c IngestionConfig) MaxRetries() int                   { return c.maxRetries }
func (c IngestionConfig) RetryDelay() time.Duration         { return c.retryDelay }
func (c IngestionConfig) HeartbeatInterval() int            { return c.heartbeatInterval }

// Classes returns a copy of the configured entity classes.
func (c IngestionConfig) Classes() []EntityClass {
	return append([]EntityClass(nil), c.classes...)
}

// HasClass reports whether class is configured for ingestion.
func (c IngestionConfig) HasClass(class EntityClass) bool {
	for _, configured := range c.classes {
		if configured == class {
			return true
		}
	}
	return false
}

// Validate checks the configuration and records the outcome under the
// "config" component.
func (c IngestionConfig) Validate() *ValidationResult {
	const component = "config"
	result := NewValidationResult()

	if c.dataSource == "" {
		result.AddError(component, "data source is required")
	}
	if c.batchSize <= 0 {
		result.AddError(component, fmt.Sprintf("batch size must be positive, got %d", c.batchSize))
	}
	if c.stalenessThreshold <= 0 {
		result.AddError(component, fmt.Sprintf("staleness threshold must be positive, got %s", c.stalenessThreshold))
	}
	if c.pollInterval <= 0 {
		result.AddError(component, fmt.Sprintf("poll interval must be positive, got %s", c.pollInterval))
	}
	if c.waitTimeout <= 0 {
		result.AddError(component, fmt.Sprintf("wait timeout must be positive, got %s", c.waitTimeout))
	}
	if c.maxRetries < 0 {
		result.AddError(component, fmt.Sprintf("max retries cannot be negative, got %d", c.maxRetries))
	}
	if c.retryDelay < 0 {
		result.AddError(component, fmt.Sprintf("retry delay cannot be negative, got %s", c.retryDelay))
	}
	if c.heartbeatInterval <= 0 {
		result.AddError(component, fmt.Sprintf("heartbeat interval must be positive, got %d", c.heartbeatInterval))
	}
	if len(c.classes) == 0 {
		result.AddError(component, "at least one entity class must be configured")
	}
	for _, class := range c.classes {
		if !class.IsKnown() {
			result.AddWarning(component, fmt.Sprintf("unknown entity class %q will be ignored", class))
		}
	}

	if result.IsValid {
		result.AddSuccess(component, "configuration is valid")
	}
	return result
}
