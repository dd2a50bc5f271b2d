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


package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/poiesic/skillgraph/ai"
	"github.com/poiesic/skillgraph/core"
	"github.com/poiesic/skillgraph/metrics"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SKILLGRAPH_"

// Connection wait defaults.
const (
	DefaultConnectRetries  = 30
	DefaultConnectInterval = 2 * time.Second
)

var (
	// ErrInvalidDuration is returned for durations that are neither Go
	// duration strings nor whole seconds.
	ErrInvalidDuration = errors.New("invalid duration")

	// ErrInvalidLogLevel is returned for unknown log levels.
	ErrInvalidLogLevel = errors.New("invalid log level")

	// ErrInvalidLogFormat is returned for unknown log formats.
	ErrInvalidLogFormat = errors.New("invalid log format")
)

// Duration is a time.Duration that unmarshals from "90s"-style strings or
// from a bare number of seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := parseDuration(value.Value)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
	}
	return d, nil
}

// IngestionConfig is the file form of core.IngestionConfig.
type IngestionConfig struct {
	BatchSize          int      `yaml:"batch_size"`
	StalenessThreshold Duration `yaml:"staleness_threshold"`
	PollInterval       Duration `yaml:"poll_interval"`
	WaitTimeout        Duration `yaml:"wait_timeout"`
	MaxRetries         int      `yaml:"max_retries"`
	RetryDelay         Duration `yaml:"retry_delay"`
	HeartbeatInterval  int      `yaml:"heartbeat_interval"`
	Classes            []string `yaml:"classes"`
}

// AIConfig selects the embedding service. Embeddings are only computed when
// Enabled is set.
type AIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Model   string `yaml:"model"`
	Token   string `yaml:"token"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// ConnectionConfig bounds how long commands wait for the store to open.
type ConnectionConfig struct {
	Retries  int      `yaml:"retries"`
	Interval Duration `yaml:"interval"`
}

// Config is the complete skillgraph configuration.
type Config struct {
	DataSource string           `yaml:"data_source"`
	StorePath  string           `yaml:"store_path"`
	Ingestion  IngestionConfig  `yaml:"ingestion"`
	AI         AIConfig         `yaml:"ai"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    metrics.Config   `yaml:"metrics"`
	Connection ConnectionConfig `yaml:"connection"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	classes := make([]string, 0, len(core.AllClasses()))
	for _, c := range core.AllClasses() {
		classes = append(classes, string(c))
	}
	embedding := ai.DefaultConfig()
	return &Config{
		DataSource: "file://./data",
		StorePath:  "./skillgraph.db",
		Ingestion: IngestionConfig{
			BatchSize:          core.DefaultBatchSize,
			StalenessThreshold: Duration(core.DefaultStalenessThreshold),
			PollInterval:       Duration(core.DefaultPollInterval),
			WaitTimeout:        Duration(core.DefaultWaitTimeout),
			MaxRetries:         core.DefaultMaxRetries,
			RetryDelay:         Duration(core.DefaultRetryDelay),
			HeartbeatInterval:  core.DefaultHeartbeatInterval,
			Classes:            classes,
		},
		AI: AIConfig{
			Host:  embedding.EmbeddingHost,
			Model: embedding.EmbeddingModel,
			Token: embedding.Token,
		},
		Logging:    LoggingConfig{Level: "info", Format: "text"},
		Metrics:    metrics.Config{Address: ":9090"},
		Connection: ConnectionConfig{Retries: DefaultConnectRetries, Interval: Duration(DefaultConnectInterval)},
	}
}

// Load reads the YAML file at path over the defaults and then applies
// SKILLGRAPH_* environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.Metrics.ApplyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v, ok := lookup(EnvPrefix + name); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	dur := func(name string, dst *Duration) {
		if v, ok := lookup(EnvPrefix + name); ok {
			d, err := parseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = Duration(d)
		}
	}
	flag := func(name string, dst *bool) {
		if v, ok := lookup(EnvPrefix + name); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}

	str("DATA_SOURCE", &c.DataSource)
	str("STORE_PATH", &c.StorePath)
	num("BATCH_SIZE", &c.Ingestion.BatchSize)
	dur("STALENESS_THRESHOLD", &c.Ingestion.StalenessThreshold)
	dur("POLL_INTERVAL", &c.Ingestion.PollInterval)
	dur("WAIT_TIMEOUT", &c.Ingestion.WaitTimeout)
	num("MAX_RETRIES", &c.Ingestion.MaxRetries)
	dur("RETRY_DELAY", &c.Ingestion.RetryDelay)
	num("HEARTBEAT_INTERVAL", &c.Ingestion.HeartbeatInterval)
	if v, ok := lookup(EnvPrefix + "CLASSES"); ok {
		c.Ingestion.Classes = splitList(v)
	}
	flag("EMBEDDINGS", &c.AI.Enabled)
	str("EMBEDDING_HOST", &c.AI.Host)
	str("EMBEDDING_MODEL", &c.AI.Model)
	str("EMBEDDING_TOKEN", &c.AI.Token)
	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FORMAT", &c.Logging.Format)
	flag("METRICS_ENABLED", &c.Metrics.Enabled)
	str("METRICS_ADDR", &c.Metrics.Address)
	num("CONNECT_RETRIES", &c.Connection.Retries)
	dur("CONNECT_INTERVAL", &c.Connection.Interval)

	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Classes resolves the configured class names. Names that match no class
// are kept verbatim so validation can warn about them.
func (c *Config) Classes() []core.EntityClass {
	classes := make([]core.EntityClass, 0, len(c.Ingestion.Classes))
	for _, name := range c.Ingestion.Classes {
		class, err := core.ParseEntityClass(name)
		if err != nil {
			class = core.EntityClass(name)
		}
		classes = append(classes, class)
	}
	return classes
}

// IngestionConfig builds the immutable ingestion settings.
func (c *Config) IngestionConfig() core.IngestionConfig {
	return core.NewIngestionConfig(c.DataSource,
		core.WithBatchSize(c.Ingestion.BatchSize),
		core.WithStalenessThreshold(time.Duration(c.Ingestion.StalenessThreshold)),
		core.WithPollInterval(time.Duration(c.Ingestion.PollInterval)),
		core.WithWaitTimeout(time.Duration(c.Ingestion.WaitTimeout)),
		core.WithRetries(c.Ingestion.MaxRetries, time.Duration(c.Ingestion.RetryDelay)),
		core.WithHeartbeatInterval(c.Ingestion.HeartbeatInterval),
		core.WithClasses(c.Classes()...),
	)
}

// AIConfig returns the embedding service settings, or nil when embeddings
// are disabled.
func (c *Config) AIConfig() *ai.Config {
	if !c.AI.Enabled {
		return nil
	}
	return ai.NewConfig(
		ai.WithEmbeddingHost(c.AI.Host),
		ai.WithEmbeddingModel(c.AI.Model),
		ai.WithToken(c.AI.Token),
	)
}

// Validate checks every section. Ingestion settings are reported under
// "config" like core.IngestionConfig.Validate; the remaining sections add
// to the same component.
func (c *Config) Validate() *core.ValidationResult {
	const component = "config"
	result := c.IngestionConfig().Validate()

	if c.StorePath == "" {
		result.AddError(component, "store path is required")
	}
	if c.Connection.Retries < 1 {
		result.AddError(component, fmt.Sprintf("connection retries must be at least 1, got %d", c.Connection.Retries))
	}
	if c.Connection.Interval < 0 {
		result.AddError(component, fmt.Sprintf("connection interval cannot be negative, got %s", time.Duration(c.Connection.Interval)))
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		result.AddError(component, err.Error())
	}
	if err := checkFormat(c.Logging.Format); err != nil {
		result.AddError(component, err.Error())
	}
	if aiCfg := c.AIConfig(); aiCfg != nil {
		if err := aiCfg.Validate(); err != nil {
			result.AddError(component, err.Error())
		}
	}
	return result
}

// ParseLevel maps a level name onto an slog.Level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidLogLevel, level)
	}
}

func checkFormat(format string) error {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text", "json":
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogFormat, format)
	}
}

// NewLogger builds a logger writing to w with the configured level and
// format.
func (l LoggingConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := ParseLevel(l.Level)
	if err != nil {
		return nil, err
	}
	if err := checkFormat(l.Format); err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(strings.TrimSpace(l.Format), "json") {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}
