// internal/store/postgres/store.go
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	custom_errors "gitlab-stats/internal/errors"
	"gitlab-stats/internal/metrics"
	"gitlab-stats/internal/model"
	"gitlab-stats/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const tableName = "metric_records"

var copyColumns = []string{
	"database", "table_name", "project", "dimensions",
	"measure_name", "measure_value", "measure_value_type", "time",
}

// Store keeps records in a single metric_records table. The target database
// and table are stored as columns.
type Store struct {
	pool      *pgxpool.Pool
	dbURL     string
	logger    *slog.Logger
	closeOnce sync.Once
}

var (
	_ store.Store          = (*Store)(nil)
	_ store.Querier[[]any] = (*Store)(nil)
)

// New opens a connection pool to dbURL.
func New(ctx context.Context, dbURL string, logger *slog.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &Store{pool: pool, dbURL: dbURL, logger: logger.With("store", "postgres")}, nil
}

// CreateTable applies the embedded migrations. No pending migration means the
// table already exists.
func (s *Store) CreateTable(_ context.Context, target store.Target, _ string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, s.dbURL)
	if err != nil {
		return classify("migrate", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			s.logger.Info("Table already exists", "target", target.String())
			return nil
		}
		return classify("migrate", err)
	}
	s.logger.Info("Database migrations applied successfully", "target", target.String())
	return nil
}

// WriteRecords copies records into the table in batches of store.BatchSize.
func (s *Store) WriteRecords(ctx context.Context, target store.Target, records []model.Record) error {
	_, err := store.WriteBatches(ctx, s.logger, target, records, store.BatchSize, func(ctx context.Context, batch []model.Record) error {
		rows := make([][]any, len(batch))
		for i, r := range batch {
			rows[i] = toRow(target, r)
		}
		n, err := s.pool.CopyFrom(ctx, pgx.Identifier{tableName}, copyColumns, pgx.CopyFromRows(rows))
		if err != nil {
			return classify("copy", err)
		}
		s.logger.Debug("Successfully inserted records into database", "count", n)
		return nil
	})
	return err
}

// QueryRows runs query and returns the column values of every row.
func (s *Store) QueryRows(ctx context.Context, query string) ([][]any, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, classify("query", err)
	}
	values, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) ([]any, error) {
		return row.Values()
	})
	if err != nil {
		return nil, classify("query", err)
	}
	return values, nil
}

func (s *Store) Close() error {
	s.closeOnce.Do(s.pool.Close)
	return nil
}

func toRow(target store.Target, r model.Record) []any {
	project, _ := r.Dimension(metrics.DimensionProject)
	dims := make(map[string]string, len(r.Dimensions))
	for _, d := range r.Dimensions {
		dims[d.Name] = d.Value
	}
	return []any{
		target.Database, target.Table, project, dims,
		r.MeasureName, r.MeasureValue, string(r.MeasureValueType), r.Time.UTC(),
	}
}

// Postgres error classes for rejected credentials.
var authErrorCodes = map[string]bool{
	"28000": true, // invalid_authorization_specification
	"28P01": true, // invalid_password
}

func classify(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && authErrorCodes[pgErr.Code] {
		return &custom_errors.AuthError{Source: "postgres", Err: fmt.Errorf("%s: %w", op, err)}
	}
	return &custom_errors.TransportError{Op: "postgres " + op, Err: err}
}
