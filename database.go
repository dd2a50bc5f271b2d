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


package skillgraph

import (
	"context"
	"errors"
	"log/slog"

	"github.com/poiesic/skillgraph/ai"
	"github.com/poiesic/skillgraph/ai/openai"
	"github.com/poiesic/skillgraph/config"
	"github.com/poiesic/skillgraph/core"
	"github.com/poiesic/skillgraph/ingestion"
	"github.com/poiesic/skillgraph/search"
	"github.com/poiesic/skillgraph/source"
	"github.com/poiesic/skillgraph/state"
	"github.com/poiesic/skillgraph/storage"
	"github.com/poiesic/skillgraph/storage/badger"
	"gocloud.dev/blob"
)

// ErrEmbeddingsDisabled is returned by factories that need an embedding
// provider when none was configured.
var ErrEmbeddingsDisabled = errors.New("embeddings are not configured")

// Database bundles the store, the data source and the optional embedding
// provider behind one handle.
type Database struct {
	backend      *badger.Backend
	objectRepo   storage.ObjectRepository
	metadataRepo storage.MetadataRepository
	states       *state.Manager
	reader       *source.Reader
	provider     ai.AIProvider
	cfg          core.IngestionConfig
	logger       *slog.Logger
}

// DatabaseOption configures a Database.
type DatabaseOption func(*databaseOptions)

type databaseOptions struct {
	aiConfig *ai.Config
	provider ai.AIProvider
	bucket   *blob.Bucket
	inMemory bool
	logger   *slog.Logger
}

// WithAIConfig enables embeddings through an OpenAI-compatible service.
func WithAIConfig(cfg *ai.Config) DatabaseOption {
	return func(o *databaseOptions) {
		o.aiConfig = cfg
	}
}

// WithProvider uses an already constructed embedding provider. It takes
// precedence over WithAIConfig.
func WithProvider(provider ai.AIProvider) DatabaseOption {
	return func(o *databaseOptions) {
		o.provider = provider
	}
}

// WithBucket reads source files from bucket instead of opening the
// configured data source.
func WithBucket(bucket *blob.Bucket) DatabaseOption {
	return func(o *databaseOptions) {
		o.bucket = bucket
	}
}

// WithInMemory keeps the store in memory. The store path is ignored.
func WithInMemory() DatabaseOption {
	return func(o *databaseOptions) {
		o.inMemory = true
	}
}

// WithLogger sets the logger handed to every component.
func WithLogger(logger *slog.Logger) DatabaseOption {
	return func(o *databaseOptions) {
		o.logger = logger
	}
}

// Open opens a Database from a loaded configuration.
func Open(ctx context.Context, cfg *config.Config, opts ...DatabaseOption) (*Database, error) {
	if aiCfg := cfg.AIConfig(); aiCfg != nil {
		opts = append([]DatabaseOption{WithAIConfig(aiCfg)}, opts...)
	}
	return NewDatabase(ctx, cfg.StorePath, cfg.IngestionConfig(), opts...)
}

// NewDatabase opens the store at filePath and the data source named by cfg.
func NewDatabase(ctx context.Context, filePath string, cfg core.IngestionConfig, opts ...DatabaseOption) (*Database, error) {
	// Apply options
	options := &databaseOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(options)
	}
	logger := options.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Open backend
	backend, err := badger.OpenBackend(filePath, options.inMemory)
	if err != nil {
		return nil, err
	}

	objectRepo, err := badger.NewObjectRepository(backend)
	if err != nil {
		backend.Close()
		return nil, err
	}

	metadataRepo, err := badger.NewMetadataRepository(backend)
	if err != nil {
		objectRepo.Close()
		backend.Close()
		return nil, err
	}

	closeStore := func() {
		metadataRepo.Close()
		objectRepo.Close()
		backend.Close()
	}

	states, err := state.NewManager(metadataRepo,
		state.WithLogger(logger),
		state.WithStalenessThreshold(cfg.StalenessThreshold()),
	)
	if err != nil {
		closeStore()
		return nil, err
	}

	var reader *source.Reader
	if options.bucket != nil {
		reader, err = source.NewReader(options.bucket, source.WithLogger(logger))
	} else {
		reader, err = source.Open(ctx, cfg.DataSource(), source.WithLogger(logger))
	}
	if err != nil {
		closeStore()
		return nil, err
	}

	provider := options.provider
	if provider == nil && options.aiConfig != nil {
		provider, err = openai.NewProvider(options.aiConfig)
		if err != nil {
			reader.Close()
			closeStore()
			return nil, err
		}
	}

	return &Database{
		backend:      backend,
		objectRepo:   objectRepo,
		metadataRepo: metadataRepo,
		states:       states,
		reader:       reader,
		provider:     provider,
		cfg:          cfg,
		logger:       logger,
	}, nil
}

// Close releases the provider, the data source and the store, in that order.
func (db *Database) Close() error {
	var errs []error
	if db.provider != nil {
		if err := db.provider.Close(); err != nil {
			db.logger.Error("error closing AI provider", "err", err)
		}
	}
	if err := db.reader.Close(); err != nil {
		db.logger.Error("error closing data source", "err", err)
		errs = append(errs, err)
	}

	// Close repositories
	if err := db.metadataRepo.Close(); err != nil {
		db.logger.Error("error closing metadata repository", "err", err)
		errs = append(errs, err)
	}
	if err := db.objectRepo.Close(); err != nil {
		db.logger.Error("error closing object repository", "err", err)
		errs = append(errs, err)
	}

	// Close backend
	if err := db.backend.Close(); err != nil {
		db.logger.Error("error closing backend storage", "err", err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (db *Database) ObjectRepository() storage.ObjectRepository {
	return db.objectRepo
}

func (db *Database) MetadataRepository() storage.MetadataRepository {
	return db.metadataRepo
}

func (db *Database) StateManager() *state.Manager {
	return db.states
}

// Config returns the ingestion configuration the database was opened with.
func (db *Database) Config() core.IngestionConfig {
	return db.cfg
}

// EmbeddingsEnabled reports whether an embedding provider is configured.
func (db *Database) EmbeddingsEnabled() bool {
	return db.provider != nil
}

// NewService creates the ingestion service. When embeddings are enabled the
// provider's embedder is passed first, so opts may still override it.
func (db *Database) NewService(opts ...ingestion.Option) (*ingestion.Service, error) {
	base := []ingestion.Option{ingestion.WithLogger(db.logger)}
	if db.provider != nil {
		base = append(base, ingestion.WithEmbedder(db.provider.Embedder()))
	}
	return ingestion.NewService(db.objectRepo, db.states, db.reader, db.cfg, append(base, opts...)...)
}

func (db *Database) NewSearcher(opts ...search.Option) (*search.Searcher, error) {
	if db.provider == nil {
		return nil, ErrEmbeddingsDisabled
	}
	opts = append([]search.Option{search.WithLogger(db.logger)}, opts...)
	return search.NewSearcher(db.objectRepo, db.states, db.provider, opts...)
}

func (db *Database) NewReembedder(opts ...ingestion.Option) (*ingestion.Reembedder, error) {
	if db.provider == nil {
		return nil, ErrEmbeddingsDisabled
	}
	opts = append([]ingestion.Option{ingestion.WithLogger(db.logger)}, opts...)
	return ingestion.NewReembedder(db.objectRepo, db.provider.Embedder(), db.cfg, opts...)
}
