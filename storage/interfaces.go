package storage

import (
	"context"

	"github.com/poiesic/skillgraph/core"
)

// Repository provides common storage operations shared across all repositories.
// Implementations must be thread-safe and support concurrent access.
type Repository interface {
	// IsConnected reports whether the underlying store can serve requests.
	IsConnected(ctx context.Context) bool

	// Close releases resources held by the repository.
	Close() error
}

// UpsertStats reports what an upsert did.
type UpsertStats struct {
	Created int
	Updated int
}

// ObjectRepository is the store client used by ingestion and search.
type ObjectRepository interface {
	Repository

	// EnsureSchema prepares the store for every registered entity class.
	// Safe to call repeatedly.
	EnsureSchema(ctx context.Context) error

	// SchemaReady reports whether EnsureSchema has completed for every
	// registered entity class.
	SchemaReady(ctx context.Context) (bool, error)

	// CreateObject stores a new object and returns its handle.
	// Returns ErrDuplicateKey if an object with the same class and external
	// identifier already exists.
	CreateObject(ctx context.Context, obj *core.Object) (core.ID, error)

	// UpdateObject replaces the fields of an existing object. The external
	// identifier and class are immutable and never changed by an update.
	// Returns ErrNotFound if the object doesn't exist.
	UpdateObject(ctx context.Context, id core.ID, fields map[string]string) error

	// UpsertObjects creates or updates objects keyed by (class, external
	// identifier) in a single transaction. Vectors are replaced only when the
	// incoming object carries one.
	UpsertObjects(ctx context.Context, objs ...*core.Object) (UpsertStats, error)

	// FindByIdentifier returns the handle of the object with the given class
	// and external identifier.
	// Returns ErrNotFound if no such object exists.
	FindByIdentifier(ctx context.Context, class core.EntityClass, externalID string) (core.ID, error)

	// GetObject retrieves a single object by handle.
	// Returns ErrNotFound if the object doesn't exist.
	GetObject(ctx context.Context, id core.ID) (*core.Object, error)

	// ListIdentifiers returns external identifier → handle for every object
	// of the class.
	ListIdentifiers(ctx context.Context, class core.EntityClass) (map[string]core.ID, error)

	// ForEachObject streams objects of the class in batches of batchSize.
	// Iteration stops at the first error returned by fn.
	ForEachObject(ctx context.Context, class core.EntityClass, batchSize int, fn func(batch []*core.Object) error) error

	// UpdateVectors replaces the embedding vectors of existing objects.
	UpdateVectors(ctx context.Context, vectors map[core.ID][]float32) error

	// CountObjects returns the number of objects of the class.
	CountObjects(ctx context.Context, class core.EntityClass) (int, error)

	// AddReferences adds directed references with set semantics: adding a
	// reference that already exists is a no-op. Returns the number of
	// references that were newly added. Both endpoints must exist.
	AddReferences(ctx context.Context, refs ...core.Reference) (int, error)

	// GetReferences returns the targets referenced from id via property.
	GetReferences(ctx context.Context, id core.ID, property string) ([]core.ID, error)

	// CountReferences returns the number of references with the given property.
	CountReferences(ctx context.Context, property string) (int, error)

	// FindSimilar finds objects whose vectors are similar to the given vector.
	// Restricts to the given classes when any are passed.
	// Returns objects with similarity >= minSimilarity, up to limit results,
	// ordered by similarity score (highest first).
	FindSimilar(ctx context.Context, vector []float32, minSimilarity float32, limit int, classes ...core.EntityClass) ([]*core.SearchResult, error)
}

// MetadataRepository is the append-only ingestion bookkeeping table.
// Records are never modified in place; the current record is always the most
// recently appended one.
type MetadataRepository interface {
	Repository

	// AppendMetadata stores a new record.
	AppendMetadata(ctx context.Context, md *core.IngestionMetadata) error

	// LatestMetadata returns the most recent record.
	// Returns nil, nil if no record exists.
	LatestMetadata(ctx context.Context) (*core.IngestionMetadata, error)

	// MetadataHistory returns up to limit records, most recent first.
	MetadataHistory(ctx context.Context, limit int) ([]*core.IngestionMetadata, error)
}
