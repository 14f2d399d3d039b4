// internal/store/store.go
package store

import (
	"context"
	"errors"
	"log/slog"

	custom_errors "gitlab-stats/internal/errors"
	"gitlab-stats/internal/model"
)

// BatchSize is the maximum number of records sent to a backend in one call.
const BatchSize = 100

// Target addresses a table (or bucket) inside a database.
type Target struct {
	Database string
	Table    string
}

func (t Target) String() string {
	if t.Table == "" {
		return t.Database
	}
	return t.Database + "." + t.Table
}

// Store is the write side of a metrics backend.
type Store interface {
	// CreateTable makes sure the target exists. It is a no-op when it already does.
	CreateTable(ctx context.Context, target Target, rejectedDataBucket string) error
	// WriteRecords writes records in batches of at most BatchSize. Failed batches
	// are logged and skipped; only context cancellation is returned.
	WriteRecords(ctx context.Context, target Target, records []model.Record) error
	Close() error
}

// Querier runs a backend-native query and returns the raw rows.
type Querier[R any] interface {
	QueryRows(ctx context.Context, query string) ([]R, error)
}

// Extractor converts raw backend rows into a typed value.
type Extractor[R, T any] func(rows []R) (T, error)

// Query runs query on q and applies extract to the rows. It returns def when the
// query fails, returns no rows, or the rows cannot be extracted. Failures are
// logged and never propagated.
func Query[R, T any](ctx context.Context, logger *slog.Logger, q Querier[R], query string, extract Extractor[R, T], def T) T {
	rows, err := q.QueryRows(ctx, query)
	if err != nil {
		logger.Warn("Query failed, using default", "error", &custom_errors.QueryError{Query: query, Err: err})
		return def
	}
	if len(rows) == 0 {
		return def
	}

	v, err := extract(rows)
	if err != nil {
		logger.Warn("Query result could not be extracted, using default", "error", &custom_errors.QueryError{Query: query, Err: err})
		return def
	}
	return v
}

// BatchWriter persists one batch of records.
type BatchWriter func(ctx context.Context, batch []model.Record) error

// WriteBatches splits records into chunks of at most size and hands each to write.
// A failing chunk is logged and the remaining chunks are still attempted. It
// returns the number of failed chunks, and ctx.Err() when the context is
// cancelled before all chunks were attempted.
func WriteBatches(ctx context.Context, logger *slog.Logger, target Target, records []model.Record, size int, write BatchWriter) (int, error) {
	if size <= 0 {
		size = BatchSize
	}

	failed := 0
	for i, batch := 0, 0; i < len(records); i, batch = i+size, batch+1 {
		if err := ctx.Err(); err != nil {
			return failed, err
		}

		end := min(i+size, len(records))
		chunk := records[i:end]
		logger.Debug("Writing metrics", "target", target.String(), "batch", batch, "count", len(chunk))

		if err := write(ctx, chunk); err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return failed + 1, ctx.Err()
			}
			failed++
			logger.Error("Failed to write records",
				"error", &custom_errors.WriteBatchError{Target: target.String(), Batch: batch, Size: len(chunk), Err: err})
		}
	}
	return failed, nil
}
