// internal/store/influxdb/store.go
package influxdb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	ihttp "github.com/influxdata/influxdb-client-go/v2/api/http"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	custom_errors "gitlab-stats/internal/errors"
	"gitlab-stats/internal/model"
	"gitlab-stats/internal/store"
)

// valueField is the field carrying the measure value of every point.
const valueField = "value"

// Options configures the InfluxDB client.
type Options struct {
	URL   string
	Token string
	Org   string
}

// Store writes records as points into the bucket named by the target database.
// The target table is ignored.
type Store struct {
	client    influxdb2.Client
	org       string
	logger    *slog.Logger
	closeOnce sync.Once
}

var (
	_ store.Store                   = (*Store)(nil)
	_ store.Querier[map[string]any] = (*Store)(nil)
)

func New(opts Options, logger *slog.Logger) *Store {
	client := influxdb2.NewClientWithOptions(opts.URL, opts.Token,
		influxdb2.DefaultOptions().SetPrecision(time.Second))
	return &Store{
		client: client,
		org:    opts.Org,
		logger: logger.With("store", "influxdb"),
	}
}

// CreateTable is a no-op: buckets are provisioned outside of this tool and
// measurements are created on first write.
func (s *Store) CreateTable(_ context.Context, target store.Target, _ string) error {
	s.logger.Info("InfluxDB does not require table creation", "bucket", target.Database)
	return nil
}

// WriteRecords writes records as points in batches of store.BatchSize.
func (s *Store) WriteRecords(ctx context.Context, target store.Target, records []model.Record) error {
	writeAPI := s.client.WriteAPIBlocking(s.org, target.Database)
	_, err := store.WriteBatches(ctx, s.logger, target, records, store.BatchSize, func(ctx context.Context, batch []model.Record) error {
		points := make([]*write.Point, len(batch))
		for i, r := range batch {
			points[i] = toPoint(r)
		}
		if err := writeAPI.WritePoint(ctx, points...); err != nil {
			return classify("write", err)
		}
		return nil
	})
	return err
}

// QueryRows runs a flux query and returns the values of every record of every table.
func (s *Store) QueryRows(ctx context.Context, query string) ([]map[string]any, error) {
	result, err := s.client.QueryAPI(s.org).Query(ctx, query)
	if err != nil {
		return nil, classify("query", err)
	}
	defer result.Close()

	var rows []map[string]any
	for result.Next() {
		rows = append(rows, result.Record().Values())
	}
	if err := result.Err(); err != nil {
		return nil, classify("query", err)
	}
	return rows, nil
}

func (s *Store) Close() error {
	s.closeOnce.Do(s.client.Close)
	return nil
}

// toPoint maps a record onto a point: the measure name becomes the
// measurement and the dimensions become tags. Numeric measures are written as
// integer fields, everything else as strings.
func toPoint(r model.Record) *write.Point {
	tags := make(map[string]string, len(r.Dimensions))
	for _, d := range r.Dimensions {
		tags[d.Name] = d.Value
	}

	var value any = r.MeasureValue
	if r.MeasureValueType != model.MeasureValueVarchar {
		if n, err := strconv.ParseInt(r.MeasureValue, 10, 64); err == nil {
			value = n
		}
	}

	return write.NewPoint(r.MeasureName, tags, map[string]any{valueField: value}, r.Time.Round(time.Second).UTC())
}

func classify(op string, err error) error {
	var httpErr *ihttp.Error
	if errors.As(err, &httpErr) && (httpErr.StatusCode == http.StatusUnauthorized || httpErr.StatusCode == http.StatusForbidden) {
		return &custom_errors.AuthError{Source: "influxdb", Err: fmt.Errorf("%s: %w", op, err)}
	}
	return &custom_errors.TransportError{Op: "influxdb " + op, Err: err}
}
