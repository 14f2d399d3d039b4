// internal/store/timestream/store.go
package timestream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/timestreamquery"
	querytypes "github.com/aws/aws-sdk-go-v2/service/timestreamquery/types"
	"github.com/aws/aws-sdk-go-v2/service/timestreamwrite"
	"github.com/aws/aws-sdk-go-v2/service/timestreamwrite/types"
	"github.com/aws/smithy-go"

	custom_errors "gitlab-stats/internal/errors"
	"gitlab-stats/internal/metrics"
	"gitlab-stats/internal/model"
	"gitlab-stats/internal/store"
)

// WriteAPI is the subset of the Timestream write client used by the store.
type WriteAPI interface {
	DescribeTable(ctx context.Context, params *timestreamwrite.DescribeTableInput, optFns ...func(*timestreamwrite.Options)) (*timestreamwrite.DescribeTableOutput, error)
	CreateDatabase(ctx context.Context, params *timestreamwrite.CreateDatabaseInput, optFns ...func(*timestreamwrite.Options)) (*timestreamwrite.CreateDatabaseOutput, error)
	CreateTable(ctx context.Context, params *timestreamwrite.CreateTableInput, optFns ...func(*timestreamwrite.Options)) (*timestreamwrite.CreateTableOutput, error)
	WriteRecords(ctx context.Context, params *timestreamwrite.WriteRecordsInput, optFns ...func(*timestreamwrite.Options)) (*timestreamwrite.WriteRecordsOutput, error)
}

// QueryAPI is the subset of the Timestream query client used by the store.
type QueryAPI interface {
	Query(ctx context.Context, params *timestreamquery.QueryInput, optFns ...func(*timestreamquery.Options)) (*timestreamquery.QueryOutput, error)
}

// BucketAPI checks the bucket receiving rejected magnetic-store writes.
type BucketAPI interface {
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// Store writes records to an Amazon Timestream table.
//
// All methods are safe for concurrent use; the AWS SDK v2 clients are.
type Store struct {
	write     WriteAPI
	query     QueryAPI
	buckets   BucketAPI
	logger    *slog.Logger
	http      aws.HTTPClient
	closeOnce sync.Once
}

var (
	_ store.Store                   = (*Store)(nil)
	_ store.Querier[querytypes.Row] = (*Store)(nil)
)

// New creates the Timestream and S3 clients from cfg.
func New(cfg aws.Config, logger *slog.Logger) *Store {
	s := NewWithClients(timestreamwrite.NewFromConfig(cfg), timestreamquery.NewFromConfig(cfg), s3.NewFromConfig(cfg), logger)
	s.http = cfg.HTTPClient
	return s
}

// NewWithClients creates a Store on top of existing clients.
func NewWithClients(write WriteAPI, query QueryAPI, buckets BucketAPI, logger *slog.Logger) *Store {
	return &Store{
		write:   write,
		query:   query,
		buckets: buckets,
		logger:  logger.With("store", "timestream"),
	}
}

// CreateTable creates the table, and its database when missing, with the
// memory and magnetic retention matching the commit retention horizon.
func (s *Store) CreateTable(ctx context.Context, target store.Target, rejectedDataBucket string) error {
	logger := s.logger.With("database", target.Database, "table", target.Table)

	_, err := s.write.DescribeTable(ctx, &timestreamwrite.DescribeTableInput{
		DatabaseName: aws.String(target.Database),
		TableName:    aws.String(target.Table),
	})
	if err == nil {
		logger.Info("Table already exists")
		return nil
	}
	var notFound *types.ResourceNotFoundException
	if !errors.As(err, &notFound) {
		return classify("describe table", err)
	}

	logger.Info("Table does not exist, creating table")
	input := &timestreamwrite.CreateTableInput{
		DatabaseName: aws.String(target.Database),
		TableName:    aws.String(target.Table),
		RetentionProperties: &types.RetentionProperties{
			MemoryStoreRetentionPeriodInHours:  aws.Int64(metrics.MemoryRetentionHours),
			MagneticStoreRetentionPeriodInDays: aws.Int64(metrics.RetentionDays),
		},
	}
	if rejectedDataBucket != "" {
		if err := s.checkBucket(ctx, rejectedDataBucket); err != nil {
			return err
		}
		input.MagneticStoreWriteProperties = &types.MagneticStoreWriteProperties{
			EnableMagneticStoreWrites: aws.Bool(true),
			MagneticStoreRejectedDataLocation: &types.MagneticStoreRejectedDataLocation{
				S3Configuration: &types.S3Configuration{BucketName: aws.String(rejectedDataBucket)},
			},
		}
	}

	_, err = s.write.CreateTable(ctx, input)
	if errors.As(err, &notFound) {
		logger.Info("Database does not exist, creating database")
		if _, err := s.write.CreateDatabase(ctx, &timestreamwrite.CreateDatabaseInput{DatabaseName: aws.String(target.Database)}); err != nil {
			return classify("create database", err)
		}
		_, err = s.write.CreateTable(ctx, input)
	}
	if err != nil {
		var conflict *types.ConflictException
		if errors.As(err, &conflict) {
			logger.Info("Table was created concurrently")
			return nil
		}
		return classify("create table", err)
	}

	logger.Info("Table created successfully")
	return nil
}

func (s *Store) checkBucket(ctx context.Context, bucket string) error {
	if s.buckets == nil {
		return nil
	}
	if _, err := s.buckets.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return fmt.Errorf("rejected data bucket %q is not accessible: %w", bucket, classify("head bucket", err))
	}
	return nil
}

// WriteRecords writes records in batches of store.BatchSize.
func (s *Store) WriteRecords(ctx context.Context, target store.Target, records []model.Record) error {
	_, err := store.WriteBatches(ctx, s.logger, target, records, store.BatchSize, func(ctx context.Context, batch []model.Record) error {
		_, err := s.write.WriteRecords(ctx, &timestreamwrite.WriteRecordsInput{
			DatabaseName: aws.String(target.Database),
			TableName:    aws.String(target.Table),
			Records:      toRecords(batch),
		})
		var rejected *types.RejectedRecordsException
		if errors.As(err, &rejected) {
			for _, r := range rejected.RejectedRecords {
				s.logger.Warn("Record rejected", "index", r.RecordIndex, "reason", aws.ToString(r.Reason))
			}
		}
		return err
	})
	return err
}

// QueryRows runs a Timestream SQL query and returns every result row.
func (s *Store) QueryRows(ctx context.Context, query string) ([]querytypes.Row, error) {
	var rows []querytypes.Row
	p := timestreamquery.NewQueryPaginator(s.query, &timestreamquery.QueryInput{QueryString: aws.String(query)})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, classify("query", err)
		}
		rows = append(rows, page.Rows...)
	}
	return rows, nil
}

// Close releases idle connections. It is safe to call more than once.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		if c, ok := s.http.(interface{ CloseIdleConnections() }); ok {
			c.CloseIdleConnections()
		}
		s.logger.Debug("Store closed")
	})
	return nil
}

// toRecords converts records to the Timestream wire shape. Numeric measures
// leave the type to the table default.
func toRecords(records []model.Record) []types.Record {
	out := make([]types.Record, len(records))
	for i, r := range records {
		dims := make([]types.Dimension, len(r.Dimensions))
		for j, d := range r.Dimensions {
			dims[j] = types.Dimension{Name: aws.String(d.Name), Value: aws.String(d.Value)}
		}
		out[i] = types.Record{
			Dimensions:   dims,
			MeasureName:  aws.String(r.MeasureName),
			MeasureValue: aws.String(r.MeasureValue),
			Time:         aws.String(r.EpochSeconds()),
			TimeUnit:     types.TimeUnitSeconds,
		}
		if r.MeasureValueType != model.MeasureValueDefault {
			out[i].MeasureValueType = types.MeasureValueType(r.MeasureValueType)
		}
	}
	return out
}

var authErrorCodes = map[string]bool{
	"AccessDeniedException":       true,
	"UnrecognizedClientException": true,
	"InvalidSignatureException":   true,
	"ExpiredTokenException":       true,
	"Forbidden":                   true,
}

// classify maps AWS errors onto the store error taxonomy.
func classify(op string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && authErrorCodes[apiErr.ErrorCode()] {
		return &custom_errors.AuthError{Source: "aws", Err: fmt.Errorf("%s: %w", op, err)}
	}
	return &custom_errors.TransportError{Op: "timestream " + op, Err: err}
}
