// internal/store/timestream/processor_test.go
package timestream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/timestreamquery/types"
	"github.com/stretchr/testify/assert"

	"gitlab-stats/internal/store"
)

type stubQuerier struct {
	rows  []types.Row
	err   error
	query string
}

func (s *stubQuerier) QueryRows(_ context.Context, query string) ([]types.Row, error) {
	s.query = query
	return s.rows, s.err
}

func scalarRow(values ...string) types.Row {
	row := types.Row{}
	for _, v := range values {
		row.Data = append(row.Data, types.Datum{ScalarValue: aws.String(v)})
	}
	return row
}

func TestProcessor_LoadLatestCommit(t *testing.T) {
	ctx := context.Background()

	t.Run("parses the max time per project", func(t *testing.T) {
		q := &stubQuerier{rows: []types.Row{scalarRow("web", "2024-01-01 12:00:00.000000000")}}
		p := NewProcessor(q, discardLogger)

		latest := p.LoadLatestCommit(ctx, target, "web")

		assert.Equal(t, map[string]time.Time{"web": time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}, latest)
		assert.Equal(t,
			`SELECT project, MAX(time) AS max_time FROM "engineering"."gitlab-history" WHERE project = 'web' AND measure_name = 'id' GROUP BY project`,
			q.query)
	})

	t.Run("escapes quotes in names", func(t *testing.T) {
		q := &stubQuerier{}
		p := NewProcessor(q, discardLogger)

		p.LoadLatestCommit(ctx, store.Target{Database: `a"b`, Table: "t"}, "o'neil")

		assert.Contains(t, q.query, `"a""b"."t"`)
		assert.Contains(t, q.query, `project = 'o''neil'`)
	})

	t.Run("returns empty on query failure", func(t *testing.T) {
		p := NewProcessor(&stubQuerier{err: errors.New("table not found")}, discardLogger)
		assert.Empty(t, p.LoadLatestCommit(ctx, target, "web"))
	})

	t.Run("returns empty on unparseable time", func(t *testing.T) {
		p := NewProcessor(&stubQuerier{rows: []types.Row{scalarRow("web", "yesterday")}}, discardLogger)
		assert.Empty(t, p.LoadLatestCommit(ctx, target, "web"))
	})

	t.Run("skips null aggregates", func(t *testing.T) {
		row := types.Row{Data: []types.Datum{{ScalarValue: aws.String("web")}, {NullValue: aws.Bool(true)}}}
		p := NewProcessor(&stubQuerier{rows: []types.Row{row}}, discardLogger)
		assert.Empty(t, p.LoadLatestCommit(ctx, target, "web"))
	})
}

func TestProcessor_GetAllCommitIDs(t *testing.T) {
	q := &stubQuerier{rows: []types.Row{scalarRow("abc"), scalarRow("def"), scalarRow("abc")}}
	p := NewProcessor(q, discardLogger)

	ids := p.GetAllCommitIDs(context.Background(), target, "web")

	assert.Equal(t, map[string]struct{}{"abc": {}, "def": {}}, ids)
	assert.Equal(t,
		`SELECT measure_value::varchar FROM "engineering"."gitlab-history" WHERE project = 'web' AND measure_name = 'id'`,
		q.query)
}
