// internal/store/timestream/store_test.go
package timestream

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/timestreamquery"
	querytypes "github.com/aws/aws-sdk-go-v2/service/timestreamquery/types"
	"github.com/aws/aws-sdk-go-v2/service/timestreamwrite"
	"github.com/aws/aws-sdk-go-v2/service/timestreamwrite/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	custom_errors "gitlab-stats/internal/errors"
	"gitlab-stats/internal/model"
	"gitlab-stats/internal/store"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeWriter struct {
	describeErr    error
	createErrs     []error
	createDBErr    error
	writeErr       func(batch int) error
	createInputs   []*timestreamwrite.CreateTableInput
	createdDBs     []string
	writtenBatches [][]types.Record
}

func (f *fakeWriter) DescribeTable(context.Context, *timestreamwrite.DescribeTableInput, ...func(*timestreamwrite.Options)) (*timestreamwrite.DescribeTableOutput, error) {
	return &timestreamwrite.DescribeTableOutput{}, f.describeErr
}

func (f *fakeWriter) CreateDatabase(_ context.Context, in *timestreamwrite.CreateDatabaseInput, _ ...func(*timestreamwrite.Options)) (*timestreamwrite.CreateDatabaseOutput, error) {
	f.createdDBs = append(f.createdDBs, aws.ToString(in.DatabaseName))
	return &timestreamwrite.CreateDatabaseOutput{}, f.createDBErr
}

func (f *fakeWriter) CreateTable(_ context.Context, in *timestreamwrite.CreateTableInput, _ ...func(*timestreamwrite.Options)) (*timestreamwrite.CreateTableOutput, error) {
	f.createInputs = append(f.createInputs, in)
	var err error
	if len(f.createErrs) > 0 {
		err, f.createErrs = f.createErrs[0], f.createErrs[1:]
	}
	return &timestreamwrite.CreateTableOutput{}, err
}

func (f *fakeWriter) WriteRecords(_ context.Context, in *timestreamwrite.WriteRecordsInput, _ ...func(*timestreamwrite.Options)) (*timestreamwrite.WriteRecordsOutput, error) {
	batch := len(f.writtenBatches)
	f.writtenBatches = append(f.writtenBatches, in.Records)
	if f.writeErr != nil {
		return nil, f.writeErr(batch)
	}
	return &timestreamwrite.WriteRecordsOutput{}, nil
}

type fakeQuery struct {
	pages   []*timestreamquery.QueryOutput
	err     error
	queries []string
}

func (f *fakeQuery) Query(_ context.Context, in *timestreamquery.QueryInput, _ ...func(*timestreamquery.Options)) (*timestreamquery.QueryOutput, error) {
	f.queries = append(f.queries, aws.ToString(in.QueryString))
	if f.err != nil {
		return nil, f.err
	}
	page := f.pages[0]
	f.pages = f.pages[1:]
	return page, nil
}

type fakeBuckets struct {
	err     error
	buckets []string
}

func (f *fakeBuckets) HeadBucket(_ context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	f.buckets = append(f.buckets, aws.ToString(in.Bucket))
	return &s3.HeadBucketOutput{}, f.err
}

var target = store.Target{Database: "engineering", Table: "gitlab-history"}

func TestStore_CreateTable(t *testing.T) {
	ctx := context.Background()

	t.Run("does nothing when the table exists", func(t *testing.T) {
		w := &fakeWriter{}
		b := &fakeBuckets{}
		s := NewWithClients(w, &fakeQuery{}, b, discardLogger)

		require.NoError(t, s.CreateTable(ctx, target, "rejected"))
		assert.Empty(t, w.createInputs)
		assert.Empty(t, b.buckets)
	})

	t.Run("creates the table with retention and rejected data location", func(t *testing.T) {
		w := &fakeWriter{describeErr: &types.ResourceNotFoundException{Message: aws.String("no table")}}
		b := &fakeBuckets{}
		s := NewWithClients(w, &fakeQuery{}, b, discardLogger)

		require.NoError(t, s.CreateTable(ctx, target, "rejected"))

		require.Len(t, w.createInputs, 1)
		in := w.createInputs[0]
		assert.Equal(t, "engineering", aws.ToString(in.DatabaseName))
		assert.Equal(t, "gitlab-history", aws.ToString(in.TableName))
		assert.Equal(t, int64(24), aws.ToInt64(in.RetentionProperties.MemoryStoreRetentionPeriodInHours))
		assert.Equal(t, int64(3650), aws.ToInt64(in.RetentionProperties.MagneticStoreRetentionPeriodInDays))
		assert.True(t, aws.ToBool(in.MagneticStoreWriteProperties.EnableMagneticStoreWrites))
		assert.Equal(t, "rejected", aws.ToString(in.MagneticStoreWriteProperties.MagneticStoreRejectedDataLocation.S3Configuration.BucketName))
		assert.Equal(t, []string{"rejected"}, b.buckets)
	})

	t.Run("creates a missing database", func(t *testing.T) {
		notFound := &types.ResourceNotFoundException{Message: aws.String("no database")}
		w := &fakeWriter{describeErr: notFound, createErrs: []error{notFound}}
		s := NewWithClients(w, &fakeQuery{}, &fakeBuckets{}, discardLogger)

		require.NoError(t, s.CreateTable(ctx, target, ""))
		assert.Equal(t, []string{"engineering"}, w.createdDBs)
		assert.Len(t, w.createInputs, 2)
		assert.Nil(t, w.createInputs[1].MagneticStoreWriteProperties)
	})

	t.Run("tolerates a concurrent create", func(t *testing.T) {
		w := &fakeWriter{
			describeErr: &types.ResourceNotFoundException{},
			createErrs:  []error{&types.ConflictException{Message: aws.String("exists")}},
		}
		s := NewWithClients(w, &fakeQuery{}, &fakeBuckets{}, discardLogger)

		assert.NoError(t, s.CreateTable(ctx, target, ""))
	})

	t.Run("fails when the bucket is not accessible", func(t *testing.T) {
		w := &fakeWriter{describeErr: &types.ResourceNotFoundException{}}
		b := &fakeBuckets{err: &smithy.GenericAPIError{Code: "NotFound", Message: "no bucket"}}
		s := NewWithClients(w, &fakeQuery{}, b, discardLogger)

		err := s.CreateTable(ctx, target, "missing")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing")
		assert.Empty(t, w.createInputs)
	})

	t.Run("maps access denied to an auth error", func(t *testing.T) {
		w := &fakeWriter{describeErr: &types.AccessDeniedException{Message: aws.String("denied")}}
		s := NewWithClients(w, &fakeQuery{}, &fakeBuckets{}, discardLogger)

		err := s.CreateTable(ctx, target, "")
		var authErr *custom_errors.AuthError
		assert.ErrorAs(t, err, &authErr)
	})
}

func TestStore_WriteRecords(t *testing.T) {
	ctx := context.Background()
	when := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	makeRecords := func(n int) []model.Record {
		records := make([]model.Record, n)
		for i := range records {
			records[i] = model.Record{
				Dimensions:   []model.Dimension{{Name: "project", Value: "web"}},
				MeasureName:  "additions",
				MeasureValue: strconv.Itoa(i),
				Time:         when,
			}
		}
		return records
	}

	t.Run("writes in batches of at most 100", func(t *testing.T) {
		w := &fakeWriter{}
		s := NewWithClients(w, &fakeQuery{}, nil, discardLogger)

		require.NoError(t, s.WriteRecords(ctx, target, makeRecords(250)))

		require.Len(t, w.writtenBatches, 3)
		assert.Len(t, w.writtenBatches[0], 100)
		assert.Len(t, w.writtenBatches[1], 100)
		assert.Len(t, w.writtenBatches[2], 50)
	})

	t.Run("continues after a failed batch", func(t *testing.T) {
		w := &fakeWriter{writeErr: func(batch int) error {
			if batch == 0 {
				return &types.RejectedRecordsException{
					RejectedRecords: []types.RejectedRecord{{RecordIndex: 3, Reason: aws.String("too old")}},
				}
			}
			return nil
		}}
		s := NewWithClients(w, &fakeQuery{}, nil, discardLogger)

		require.NoError(t, s.WriteRecords(ctx, target, makeRecords(150)))
		assert.Len(t, w.writtenBatches, 2)
	})

	t.Run("converts records to the wire shape", func(t *testing.T) {
		w := &fakeWriter{}
		s := NewWithClients(w, &fakeQuery{}, nil, discardLogger)
		records := []model.Record{
			{Dimensions: []model.Dimension{{Name: "project", Value: "web"}}, MeasureName: "additions", MeasureValue: "3", Time: when},
			{MeasureName: "id", MeasureValue: "abc", MeasureValueType: model.MeasureValueVarchar, Time: when},
		}

		require.NoError(t, s.WriteRecords(ctx, target, records))

		got := w.writtenBatches[0]
		assert.Equal(t, "project", aws.ToString(got[0].Dimensions[0].Name))
		assert.Equal(t, "web", aws.ToString(got[0].Dimensions[0].Value))
		assert.Equal(t, strconv.FormatInt(when.Unix(), 10), aws.ToString(got[0].Time))
		assert.Equal(t, types.TimeUnitSeconds, got[0].TimeUnit)
		assert.Empty(t, got[0].MeasureValueType)
		assert.Equal(t, types.MeasureValueTypeVarchar, got[1].MeasureValueType)
	})

	t.Run("stops on cancellation", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		w := &fakeWriter{}
		s := NewWithClients(w, &fakeQuery{}, nil, discardLogger)

		assert.ErrorIs(t, s.WriteRecords(cctx, target, makeRecords(10)), context.Canceled)
		assert.Empty(t, w.writtenBatches)
	})
}

func TestStore_QueryRows(t *testing.T) {
	row := func(v string) querytypes.Row {
		return querytypes.Row{Data: []querytypes.Datum{{ScalarValue: aws.String(v)}}}
	}

	t.Run("follows pagination", func(t *testing.T) {
		q := &fakeQuery{pages: []*timestreamquery.QueryOutput{
			{Rows: []querytypes.Row{row("a")}, NextToken: aws.String("next")},
			{Rows: []querytypes.Row{row("b")}},
		}}
		s := NewWithClients(&fakeWriter{}, q, nil, discardLogger)

		rows, err := s.QueryRows(context.Background(), "SELECT 1")

		require.NoError(t, err)
		assert.Len(t, rows, 2)
		assert.Len(t, q.queries, 2)
	})

	t.Run("wraps query failures", func(t *testing.T) {
		q := &fakeQuery{err: errors.New("boom")}
		s := NewWithClients(&fakeWriter{}, q, nil, discardLogger)

		_, err := s.QueryRows(context.Background(), "SELECT 1")
		var transportErr *custom_errors.TransportError
		assert.ErrorAs(t, err, &transportErr)
	})
}

func TestStore_CloseIsIdempotent(t *testing.T) {
	s := NewWithClients(&fakeWriter{}, &fakeQuery{}, nil, discardLogger)
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
}
