package ingestion

import (
	"context"
	"errors"
	"fmt"

	"github.com/poiesic/skillgraph/core"
	"github.com/poiesic/skillgraph/metrics"
	"github.com/poiesic/skillgraph/source"
	"github.com/poiesic/skillgraph/storage"
)

// ingestEntities loads one entity class and returns the number of records
// upserted. Only phase-level failures are returned; per-row and per-batch
// problems are recorded on the run.
func (o *Orchestrator) ingestEntities(ctx context.Context, r *run, kind EntityKind) (int, error) {
	upserted := 0
	processed := 0

	stats, err := o.reader.ForEachBatch(ctx, kind.Source, r.cfg.BatchSize(), func(records []source.Record) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		processed += len(records)

		objs := make([]*core.Object, 0, len(records))
		for _, rec := range records {
			obj, err := kind.ToObject(rec)
			if err != nil {
				r.warnCapped(kind.Phase, "%s: skipped row: %v", kind.Source.Name, err)
				o.metrics.RecordRowsSkipped(kind.Phase, metrics.ReasonInvalidRow, 1)
				continue
			}
			objs = append(objs, obj)
		}
		if len(objs) == 0 {
			return nil
		}

		o.embedBatch(ctx, r, kind.Class, objs)

		var written storage.UpsertStats
		err := r.retry(ctx, func() error {
			var err error
			written, err = o.store.UpsertObjects(ctx, objs...)
			return err
		})
		if err != nil {
			if fatal := o.checkStore(ctx, err); fatal != nil {
				return fatal
			}
			r.errorf("%s: batch of %d records failed: %v", kind.Class, len(objs), fmt.Errorf("%w: %w", core.ErrPersistence, err))
			o.metrics.RecordBatchFailure(kind.Phase)
			r.markIncompleteClass(kind.Class)
		} else {
			upserted += written.Created + written.Updated
			o.metrics.RecordUpserts(kind.Class, written.Created, written.Updated)
		}

		r.tick(ctx, len(records), processed)
		return nil
	})

	if stats.Malformed > 0 {
		r.warnf("%s: skipped %d malformed rows", kind.Source.Name, stats.Malformed)
		o.metrics.RecordRowsSkipped(kind.Phase, metrics.ReasonMalformed, stats.Malformed)
	}

	switch {
	case err == nil:
	case errors.Is(err, source.ErrSourceNotFound):
		r.warnf("%s: source file not found, %s not loaded", kind.Source.Name, kind.Class)
		r.markIncompleteClass(kind.Class)
	default:
		return upserted, err
	}

	r.result.Metrics.ClassCounts[kind.Class] += upserted
	o.logger.Info("entity class loaded",
		"class", kind.Class,
		"rows", stats.Rows,
		"upserted", upserted)
	return upserted, nil
}

// embedBatch attaches normalized vectors to objs. Without an embedder, or if
// embedding fails after retries, objects are stored without vectors and any
// vectors they already have are kept.
func (o *Orchestrator) embedBatch(ctx context.Context, r *run, class core.EntityClass, objs []*core.Object) {
	if o.embedder == nil {
		return
	}

	texts := make([]string, len(objs))
	for i, obj := range objs {
		texts[i] = obj.EmbeddingText()
	}

	var vectors [][]float32
	err := r.retry(ctx, func() error {
		var err error
		vectors, err = o.embedder.EmbedTexts(ctx, texts)
		if err == nil && len(vectors) != len(texts) {
			err = fmt.Errorf("embedding count mismatch: expected %d, got %d", len(texts), len(vectors))
		}
		return err
	})
	if err != nil {
		r.warnf("%s: embedding %d records failed, storing without vectors: %v", class, len(objs), err)
		return
	}

	for i, obj := range objs {
		obj.Vector = NormalizeVector(vectors[i])
	}
	o.metrics.RecordEmbedded(class, len(objs))
}

// checkStore turns a write failure into a phase-level error when the store
// is no longer reachable at all.
func (o *Orchestrator) checkStore(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if !o.store.IsConnected(ctx) {
		return fmt.Errorf("%w: store unreachable: %w", core.ErrConnectivity, err)
	}
	return nil
}
