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
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/poiesic/skillgraph/ai"
	"github.com/poiesic/skillgraph/core"
	"github.com/poiesic/skillgraph/metrics"
	"github.com/poiesic/skillgraph/storage"
)

// Reembedder recomputes the vectors of stored objects with the configured
// embedder.
type Reembedder struct {
	store    storage.ObjectRepository
	embedder ai.Embedder
	cfg      core.IngestionConfig
	progress io.Writer
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewReembedder creates a re-embedder. Batch size and retry policy come
// from cfg.
func NewReembedder(store storage.ObjectRepository, embedder ai.Embedder, cfg core.IngestionConfig, opts ...Option) (*Reembedder, error) {
	if store == nil {
		return nil, ErrObjectRepositoryRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	s, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	return &Reembedder{
		store:    store,
		embedder: embedder,
		cfg:      cfg,
		progress: s.progress,
		metrics:  s.metrics,
		logger:   s.logger.With("component", "reembed"),
	}, nil
}

// Run re-embeds every object of the given classes, or of all classes when
// none are given, and returns the number of objects updated per class.
// It stops at the first batch that fails after retries.
func (r *Reembedder) Run(ctx context.Context, classes ...core.EntityClass) (map[core.EntityClass]int, error) {
	if len(classes) == 0 {
		classes = core.AllClasses()
	}

	updated := make(map[core.EntityClass]int, len(classes))
	for _, class := range classes {
		n, err := r.reembedClass(ctx, class)
		updated[class] = n
		if err != nil {
			return updated, fmt.Errorf("reembed %s: %w", class, err)
		}
	}
	return updated, nil
}

func (r *Reembedder) reembedClass(ctx context.Context, class core.EntityClass) (int, error) {
	total, err := r.store.CountObjects(ctx, class)
	if err != nil {
		return 0, fmt.Errorf("failed to count objects: %w", err)
	}
	if total == 0 {
		r.logger.Info("no objects to reembed", "class", class)
		return 0, nil
	}

	r.logger.Info("reembedding", "class", class, "objects", total, "batch_size", r.cfg.BatchSize())
	tracker := NewProgressTracker(r.progress, string(class), total, r.cfg.BatchSize())
	tracker.Start()

	processed := 0
	err = r.store.ForEachObject(ctx, class, r.cfg.BatchSize(), func(batch []*core.Object) error {
		if err := r.process(ctx, batch); err != nil {
			return err
		}
		processed += len(batch)
		r.metrics.RecordEmbedded(class, len(batch))
		tracker.Add(len(batch))
		return nil
	})
	tracker.Finish()
	if err != nil {
		return processed, err
	}

	elapsed := tracker.Elapsed()
	r.logger.Info("reembedding complete",
		"class", class,
		"objects", processed,
		"duration", elapsed.Round(time.Millisecond))
	return processed, nil
}

// process embeds a batch and stores the normalized vectors.
func (r *Reembedder) process(ctx context.Context, batch []*core.Object) error {
	texts := make([]string, len(batch))
	for i, obj := range batch {
		texts[i] = obj.EmbeddingText()
	}

	var embeddings [][]float32
	err := RetryWithBackoff(ctx, func() error {
		var err error
		embeddings, err = r.embedder.EmbedTexts(ctx, texts)
		return err
	}, r.cfg.MaxRetries()+1, r.cfg.RetryDelay(), nil)
	if err != nil {
		return fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if len(embeddings) != len(batch) {
		return fmt.Errorf("embedding count mismatch: expected %d, got %d", len(batch), len(embeddings))
	}

	vectors := make(map[core.ID][]float32, len(batch))
	for i, obj := range batch {
		vectors[obj.Id] = NormalizeVector(embeddings[i])
	}
	if err := r.store.UpdateVectors(ctx, vectors); err != nil {
		return fmt.Errorf("failed to update vectors: %w", err)
	}
	return nil
}
