package source

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob" // GCS driver
	_ "gocloud.dev/blob/memblob" // in-memory driver
	_ "gocloud.dev/blob/s3blob"  // S3 driver
	"gocloud.dev/gcerrors"
)

// Record is one source row keyed by normalized column name.
type Record map[string]string

// Stats describes one pass over a source file.
type Stats struct {
	Rows      int // Records delivered to the callback
	Batches   int
	Malformed int // Rows that could not be parsed and were skipped
}

// Reader streams CSV files from a blob bucket in fixed-size batches.
// Every ForEachBatch call reopens the file, so a pass can be repeated.
type Reader struct {
	bucket *blob.Bucket
	owned  bool
	logger *slog.Logger
}

// Option configures a Reader.
type Option func(*Reader) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reader) error {
		if logger == nil {
			logger = slog.Default()
		}
		r.logger = logger.With("component", "source")
		return nil
	}
}

// Open opens a reader over location, which is either a local directory or a
// bucket URL such as s3://bucket?region=eu-west-1, gs://bucket/prefix or mem://.
func Open(ctx context.Context, location string, opts ...Option) (*Reader, error) {
	if location == "" {
		return nil, ErrLocationRequired
	}

	var bucket *blob.Bucket
	if strings.Contains(location, "://") {
		b, err := blob.OpenBucket(ctx, location)
		if err != nil {
			return nil, fmt.Errorf("open bucket %s: %w", location, err)
		}
		bucket = b
	} else {
		dir, err := filepath.Abs(location)
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(dir)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrLocationNotFound, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("%w: %s is not a directory", ErrLocationNotFound, dir)
		}
		b, err := fileblob.OpenBucket(dir, nil)
		if err != nil {
			return nil, fmt.Errorf("open directory %s: %w", dir, err)
		}
		bucket = b
	}

	r, err := NewReader(bucket, opts...)
	if err != nil {
		bucket.Close()
		return nil, err
	}
	r.owned = true
	return r, nil
}

// NewReader wraps an already opened bucket. The caller keeps ownership of it.
func NewReader(bucket *blob.Bucket, opts ...Option) (*Reader, error) {
	if bucket == nil {
		return nil, ErrBucketRequired
	}
	r := &Reader{
		bucket: bucket,
		logger: slog.Default().With("component", "source"),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Close closes the bucket if the reader opened it.
func (r *Reader) Close() error {
	if r.owned {
		return r.bucket.Close()
	}
	return nil
}

// Exists reports whether the named file is present.
func (r *Reader) Exists(ctx context.Context, name string) (bool, error) {
	return r.bucket.Exists(ctx, name)
}

// ForEachBatch reads the file described by src and calls fn with batches of
// at most batchSize normalized records. Rows the CSV parser rejects are
// counted in Stats.Malformed and skipped. Iteration stops at the first error
// returned by fn.
func (r *Reader) ForEachBatch(ctx context.Context, src Source, batchSize int, fn func(batch []Record) error) (Stats, error) {
	var stats Stats
	if batchSize <= 0 {
		return stats, fmt.Errorf("%w: %d", ErrInvalidBatchSize, batchSize)
	}

	rd, err := r.bucket.NewReader(ctx, src.Name, nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return stats, fmt.Errorf("%w: %s", ErrSourceNotFound, src.Name)
		}
		return stats, fmt.Errorf("open %s: %w", src.Name, err)
	}
	defer rd.Close()

	cr := csv.NewReader(rd)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = false

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return stats, nil
		}
		return stats, fmt.Errorf("read header of %s: %w", src.Name, err)
	}
	columns := src.normalizeHeader(header)

	batch := make([]Record, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		stats.Batches++
		stats.Rows += len(batch)
		err := fn(batch)
		batch = make([]Record, 0, batchSize)
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				stats.Malformed++
				r.logger.Warn("skipping malformed row", "file", src.Name, "line", parseErr.Line, "err", parseErr.Err)
				continue
			}
			return stats, fmt.Errorf("read %s: %w", src.Name, err)
		}

		rec := make(Record, len(columns))
		for i, col := range columns {
			if col == "" {
				continue
			}
			if i < len(row) {
				rec[col] = strings.TrimSpace(row[i])
			} else {
				rec[col] = ""
			}
		}

		for _, out := range src.transform(rec) {
			batch = append(batch, out)
			if len(batch) >= batchSize {
				if err := flush(); err != nil {
					return stats, err
				}
			}
		}
	}

	if err := flush(); err != nil {
		return stats, err
	}
	return stats, nil
}
