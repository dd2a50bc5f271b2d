package badger

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/skillgraph/core"
	"github.com/poiesic/skillgraph/storage"
)

// ObjectRepository implements storage.ObjectRepository for BadgerDB.
type ObjectRepository struct {
	backend *Backend
}

var _ storage.ObjectRepository = (*ObjectRepository)(nil)

// NewObjectRepository creates a new ObjectRepository.
func NewObjectRepository(backend *Backend) (*ObjectRepository, error) {
	if backend == nil {
		return nil, ErrBackendRequired
	}
	return &ObjectRepository{
		backend: backend,
	}, nil
}

// Close releases resources. ObjectRepository has no resources to release.
func (r *ObjectRepository) Close() error {
	return nil
}

// IsConnected reports whether the backend is open and serving reads.
func (r *ObjectRepository) IsConnected(ctx context.Context) bool {
	if r.backend.IsClosed() {
		return false
	}
	return r.backend.Ping() == nil
}

// EnsureSchema writes a schema marker for every registered entity class.
func (r *ObjectRepository) EnsureSchema(ctx context.Context) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		for _, class := range core.AllClasses() {
			if err := tx.Set(makeSchemaKey(class), []byte(core.MetadataVersion)); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
}

// SchemaReady reports whether every registered class has a schema marker.
func (r *ObjectRepository) SchemaReady(ctx context.Context) (bool, error) {
	ready := true
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		for _, class := range core.AllClasses() {
			_, err := tx.Get(makeSchemaKey(class))
			if errors.Is(err, badger.ErrKeyNotFound) {
				ready = false
				return nil
			}
			if err != nil {
				return err
			}
		}
		return nil
	}, false)
	return ready, err
}

// CreateObject stores a new object and returns its handle.
func (r *ObjectRepository) CreateObject(ctx context.Context, obj *core.Object) (core.ID, error) {
	if err := core.ValidateObject(obj); err != nil {
		return 0, err
	}
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		obj.Id = core.ObjectID(obj.Class, obj.ExternalID)
		existing, err := readObject(tx, makeObjectKey(obj.Id))
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: %s", storage.ErrDuplicateKey, obj.Tuple())
		}

		obj.InsertedAt = time.Now().UTC()
		obj.UpdatedAt = obj.InsertedAt
		if err := writeObject(tx, obj); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
	if err != nil {
		return 0, err
	}
	return obj.Id, nil
}

// UpdateObject replaces the fields of an existing object.
func (r *ObjectRepository) UpdateObject(ctx context.Context, id core.ID, fields map[string]string) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		obj, err := readObject(tx, makeObjectKey(id))
		if err != nil {
			return err
		}
		if obj == nil {
			return storage.ErrNotFound
		}

		obj.Fields = maps.Clone(fields)
		obj.UpdatedAt = time.Now().UTC()
		if err := writeObject(tx, obj); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// UpsertObjects creates or updates objects keyed by class and external identifier.
func (r *ObjectRepository) UpsertObjects(ctx context.Context, objs ...*core.Object) (storage.UpsertStats, error) {
	var stats storage.UpsertStats
	for _, obj := range objs {
		if err := core.ValidateObject(obj); err != nil {
			return stats, err
		}
	}

	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var created, updated int
		now := time.Now().UTC()
		for _, obj := range objs {
			obj.Id = core.ObjectID(obj.Class, obj.ExternalID)
			existing, err := readObject(tx, makeObjectKey(obj.Id))
			if err != nil {
				return err
			}

			if existing == nil {
				obj.InsertedAt = now
				created++
			} else {
				obj.InsertedAt = existing.InsertedAt
				if len(obj.Vector) == 0 {
					obj.Vector = existing.Vector
				}
				updated++
			}
			obj.UpdatedAt = now

			if err := writeObject(tx, obj); err != nil {
				return err
			}
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		stats = storage.UpsertStats{Created: created, Updated: updated}
		return nil
	}, true)

	return stats, err
}

// FindByIdentifier looks up an object handle through the identifier index.
func (r *ObjectRepository) FindByIdentifier(ctx context.Context, class core.EntityClass, externalID string) (core.ID, error) {
	var id core.ID
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(makeObjectIndexKey(class, externalID))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return storage.ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			id, err = storage.UnmarshalID(val)
			return err
		})
	}, false)
	return id, err
}

// GetObject retrieves a single object by ID.
func (r *ObjectRepository) GetObject(ctx context.Context, id core.ID) (*core.Object, error) {
	var result *core.Object
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		result, err = readObject(tx, makeObjectKey(id))
		if err != nil {
			return err
		}
		if result == nil {
			return storage.ErrNotFound
		}
		return nil
	}, false)
	return result, err
}

// ListIdentifiers scans the identifier index of a class.
func (r *ObjectRepository) ListIdentifiers(ctx context.Context, class core.EntityClass) (map[string]core.ID, error) {
	result := make(map[string]core.ID)
	prefix := makeObjectIndexPrefix(class)
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := iter.Item()
			externalID := string(item.Key()[len(prefix):])
			err := item.Value(func(val []byte) error {
				id, err := storage.UnmarshalID(val)
				if err != nil {
					return err
				}
				result[externalID] = id
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ForEachObject streams the objects of a class in batches.
func (r *ObjectRepository) ForEachObject(ctx context.Context, class core.EntityClass, batchSize int, fn func(batch []*core.Object) error) error {
	if batchSize <= 0 {
		return fmt.Errorf("%w: batch size must be positive", storage.ErrInvalidQuery)
	}

	ids, err := r.ListIdentifiers(ctx, class)
	if err != nil {
		return err
	}
	handles := slices.Sorted(maps.Values(ids))

	for start := 0; start < len(handles); start += batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+batchSize, len(handles))

		var batch []*core.Object
		err := r.backend.WithTx(func(tx *badger.Txn) error {
			for _, id := range handles[start:end] {
				obj, err := readObject(tx, makeObjectKey(id))
				if err != nil {
					return err
				}
				if obj != nil {
					batch = append(batch, obj)
				}
			}
			return nil
		}, false)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			continue
		}
		if err := fn(batch); err != nil {
			return err
		}
	}
	return nil
}

// UpdateVectors replaces the embedding vectors of existing objects.
func (r *ObjectRepository) UpdateVectors(ctx context.Context, vectors map[core.ID][]float32) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		now := time.Now().UTC()
		for id, vector := range vectors {
			obj, err := readObject(tx, makeObjectKey(id))
			if err != nil {
				return err
			}
			if obj == nil {
				return fmt.Errorf("%w: object %d", storage.ErrNotFound, id)
			}
			obj.Vector = vector
			obj.UpdatedAt = now
			if err := writeObject(tx, obj); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
}

// CountObjects counts the identifier index entries of a class.
func (r *ObjectRepository) CountObjects(ctx context.Context, class core.EntityClass) (int, error) {
	return r.countPrefix(makeObjectIndexPrefix(class))
}

// AddReferences adds directed references with set semantics.
func (r *ObjectRepository) AddReferences(ctx context.Context, refs ...core.Reference) (int, error) {
	var added int
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		added = 0
		for _, ref := range refs {
			key := makeReferenceKey(ref.Property, ref.From, ref.To)
			_, err := tx.Get(key)
			if err == nil {
				continue
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}

			for _, endpoint := range []core.ID{ref.From, ref.To} {
				if _, err := tx.Get(makeObjectKey(endpoint)); err != nil {
					if errors.Is(err, badger.ErrKeyNotFound) {
						return fmt.Errorf("%w: %s %d -> %d", storage.ErrDanglingReference, ref.Property, ref.From, ref.To)
					}
					return err
				}
			}

			if err := tx.Set(key, []byte{}); err != nil {
				return err
			}
			added++
		}
		return tx.Commit()
	}, true)
	if err != nil {
		return 0, err
	}
	return added, nil
}

// GetReferences returns the targets referenced from id via property.
func (r *ObjectRepository) GetReferences(ctx context.Context, id core.ID, property string) ([]core.ID, error) {
	var targets []core.ID
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = makeReferencePrefix(property, id)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			targets = append(targets, referenceTarget(iter.Item().Key()))
		}
		return nil
	}, false)
	return targets, err
}

// CountReferences returns the number of references with the given property.
func (r *ObjectRepository) CountReferences(ctx context.Context, property string) (int, error) {
	return r.countPrefix(makePropertyPrefix(property))
}

// FindSimilar scans stored vectors and ranks them by dot product.
func (r *ObjectRepository) FindSimilar(ctx context.Context, vector []float32, minSimilarity float32, limit int, classes ...core.EntityClass) ([]*core.SearchResult, error) {
	var results []*core.SearchResult

	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(objectRecordPrefix + ":")
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			var obj *core.Object
			err := iter.Item().Value(func(val []byte) error {
				var err error
				obj, err = storage.UnmarshalObject(val)
				return err
			})
			if err != nil {
				return err
			}

			// Skip objects without embeddings
			if len(obj.Vector) == 0 {
				continue
			}
			if len(classes) > 0 && !slices.Contains(classes, obj.Class) {
				continue
			}

			// Calculate cosine similarity (dot product for normalized vectors)
			similarity := dotProduct(vector, obj.Vector)
			if similarity >= minSimilarity {
				results = append(results, &core.SearchResult{
					Object: obj,
					Score:  similarity,
				})
			}
		}
		return nil
	}, false)

	if err != nil {
		return nil, err
	}

	// Sort by similarity descending
	slices.SortFunc(results, func(a, b *core.SearchResult) int {
		if a.Score > b.Score {
			return -1
		}
		if a.Score < b.Score {
			return 1
		}
		return 0
	})

	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}

	return results, nil
}

// Helper methods

func (r *ObjectRepository) countPrefix(prefix []byte) (int, error) {
	count := 0
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			count++
		}
		return nil
	}, false)
	return count, err
}

// readObject reads an object from the transaction.
// Returns nil, nil if the key does not exist.
func readObject(tx *badger.Txn, key []byte) (*core.Object, error) {
	item, err := tx.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var obj *core.Object
	err = item.Value(func(val []byte) error {
		var err error
		obj, err = storage.UnmarshalObject(val)
		return err
	})
	return obj, err
}

// writeObject stores the primary record and its identifier index entry.
func writeObject(tx *badger.Txn, obj *core.Object) error {
	if err := tx.Set(makeObjectKey(obj.Id), storage.MarshalObject(obj)); err != nil {
		return err
	}
	return tx.Set(makeObjectIndexKey(obj.Class, obj.ExternalID), storage.MarshalID(obj.Id))
}

// dotProduct calculates the dot product of two vectors.
func dotProduct(a, b []float32) float32 {
	var sum float32
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}
