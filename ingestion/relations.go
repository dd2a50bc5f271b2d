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

// identifierCache maps external identifiers to handles for the duration of a
// run. Each class is prefetched once, on first use. A missing key means the
// entity has not been ingested.
type identifierCache struct {
	store   storage.ObjectRepository
	classes map[core.EntityClass]map[string]core.ID
}

func newIdentifierCache(store storage.ObjectRepository) *identifierCache {
	return &identifierCache{
		store:   store,
		classes: make(map[core.EntityClass]map[string]core.ID),
	}
}

func (c *identifierCache) load(ctx context.Context, class core.EntityClass) error {
	if _, ok := c.classes[class]; ok {
		return nil
	}
	ids, err := c.store.ListIdentifiers(ctx, class)
	if err != nil {
		return fmt.Errorf("prefetch %s identifiers: %w", class, err)
	}
	c.classes[class] = ids
	return nil
}

func (c *identifierCache) lookup(class core.EntityClass, externalID string) (core.ID, bool) {
	id, ok := c.classes[class][externalID]
	return id, ok
}

func (c *identifierCache) size(class core.EntityClass) int {
	return len(c.classes[class])
}

// buildRelations streams one relation source and adds the references it
// describes, each together with its inverse. Returns the number of
// references newly added.
func (o *Orchestrator) buildRelations(ctx context.Context, r *run, cache *identifierCache, kind RelationKind) (int, error) {
	for _, class := range kind.Classes() {
		if err := cache.load(ctx, class); err != nil {
			return 0, fmt.Errorf("%w: %w", core.ErrConnectivity, err)
		}
	}
	if cache.size(kind.FromClass) == 0 || cache.size(kind.ToClass) == 0 {
		r.warnf("%s: no %s or %s objects stored, every row will be skipped", kind.Name, kind.FromClass, kind.ToClass)
	}

	added := 0
	skipped := 0
	processed := 0

	stats, err := o.reader.ForEachBatch(ctx, kind.Source, r.cfg.BatchSize(), func(records []source.Record) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		processed += len(records)

		refs := make([]core.Reference, 0, 2*len(records))
		for _, rec := range records {
			if !kind.Applies(rec) {
				continue
			}
			link, err := kind.LinkFor(rec)
			if err != nil {
				r.warnCapped(kind.Name, "%s: skipped row: %v", kind.Source.Name, err)
				o.metrics.RecordRowsSkipped(kind.Phase, metrics.ReasonInvalidRow, 1)
				continue
			}

			from, fromOK := cache.lookup(link.FromClass, link.From)
			to, toOK := cache.lookup(link.ToClass, link.To)
			if !fromOK || !toOK {
				skipped++
				r.result.Metrics.SkippedRows[kind.Name]++
				o.metrics.RecordRowsSkipped(kind.Phase, metrics.ReasonMissingEndpoint, 1)
				r.warnCapped(kind.Name, "%s: skipped %s -> %s: %s",
					kind.Name, link.From, link.To, missingEndpoint(link, fromOK, toOK))
				continue
			}

			refs = append(refs, core.Reference{From: from, Property: link.Property, To: to})
			if inv, ok := Inverse(link.Property); ok {
				refs = append(refs, core.Reference{From: to, Property: inv, To: from})
			}
		}

		if len(refs) > 0 {
			var n int
			err := r.retry(ctx, func() error {
				var err error
				n, err = o.store.AddReferences(ctx, refs...)
				return err
			})
			if err != nil {
				if fatal := o.checkStore(ctx, err); fatal != nil {
					return fatal
				}
				r.errorf("%s: batch of %d references failed: %v", kind.Name, len(refs), fmt.Errorf("%w: %w", core.ErrPersistence, err))
				o.metrics.RecordBatchFailure(kind.Phase)
				r.markIncompleteRelation(kind.Name)
			} else {
				added += n
				o.metrics.RecordReferencesAdded(kind.Name, n)
			}
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
		r.warnf("%s: source file not found, %s relations not created", kind.Source.Name, kind.Name)
		r.markIncompleteRelation(kind.Name)
	default:
		return added, err
	}

	if skipped > maxWarningsPerKind {
		r.warnf("%s: %d rows skipped for missing endpoints in total", kind.Name, skipped)
	}
	r.result.Metrics.RelationCounts[kind.Name] += added
	o.logger.Info("relations created",
		"relation", kind.Name,
		"rows", stats.Rows,
		"added", added,
		"skipped", skipped)
	return added, nil
}

func missingEndpoint(link Link, fromOK, toOK bool) string {
	switch {
	case !fromOK && !toOK:
		return fmt.Sprintf("%s and %s not found", link.FromClass, link.ToClass)
	case !fromOK:
		return fmt.Sprintf("%s not found", link.FromClass)
	default:
		return fmt.Sprintf("%s not found", link.ToClass)
	}
}
