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


package badger

import (
	"context"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/skillgraph/core"
	"github.com/poiesic/skillgraph/storage"
)

// MetadataRepository implements storage.MetadataRepository for BadgerDB.
// Records are keyed by their timestamp followed by a sequence number, so a
// reverse scan yields the most recent record first.
type MetadataRepository struct {
	backend *Backend
	seq     *badger.Sequence
}

var _ storage.MetadataRepository = (*MetadataRepository)(nil)

// NewMetadataRepository creates a new MetadataRepository.
func NewMetadataRepository(backend *Backend) (*MetadataRepository, error) {
	if backend == nil {
		return nil, ErrBackendRequired
	}
	seq, err := backend.GetSequence(metadataSeq)
	if err != nil {
		return nil, err
	}
	return &MetadataRepository{
		backend: backend,
		seq:     seq,
	}, nil
}

// Close releases the sequence lease.
func (r *MetadataRepository) Close() error {
	return r.seq.Release()
}

// IsConnected reports whether the backend is open and serving reads.
func (r *MetadataRepository) IsConnected(ctx context.Context) bool {
	if r.backend.IsClosed() {
		return false
	}
	return r.backend.Ping() == nil
}

// AppendMetadata stores a new record. Existing records are never touched.
func (r *MetadataRepository) AppendMetadata(ctx context.Context, md *core.IngestionMetadata) error {
	if err := core.ValidateMetadata(md); err != nil {
		return err
	}
	ts, err := core.ParseTimestamp(md.Timestamp)
	if err != nil {
		return err
	}
	n, err := r.seq.Next()
	if err != nil {
		return err
	}
	value, err := storage.MarshalMetadata(md)
	if err != nil {
		return err
	}

	return r.backend.WithTx(func(tx *badger.Txn) error {
		if err := tx.Set(makeMetadataKey(ts, n), value); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// LatestMetadata returns the most recent record.
// Returns nil, nil if no record exists.
func (r *MetadataRepository) LatestMetadata(ctx context.Context) (*core.IngestionMetadata, error) {
	records, err := r.MetadataHistory(ctx, 1)
	if err != nil || len(records) == 0 {
		return nil, err
	}
	return records[0], nil
}

// MetadataHistory returns up to limit records, most recent first.
func (r *MetadataRepository) MetadataHistory(ctx context.Context, limit int) ([]*core.IngestionMetadata, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidQuery
	}

	var records []*core.IngestionMetadata
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(metadataPrefix + ":")
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Seek(makeMetadataSeekKey()); iter.Valid() && len(records) < limit; iter.Next() {
			var md *core.IngestionMetadata
			err := iter.Item().Value(func(val []byte) error {
				var err error
				md, err = storage.UnmarshalMetadata(val)
				return err
			})
			if err != nil {
				return err
			}
			records = append(records, md)
		}
		return nil
	}, false)

	return records, err
}
