// internal/store/timestream/processor.go
package timestream

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/timestreamquery/types"

	"gitlab-stats/internal/metrics"
	"gitlab-stats/internal/store"
)

// timeLayout is the format of Timestream timestamp scalars.
const timeLayout = "2006-01-02 15:04:05.999999999"

// Processor answers watermark and dedup queries from Timestream SQL.
type Processor struct {
	metrics.Transformer
	querier store.Querier[types.Row]
	logger  *slog.Logger
}

var _ metrics.Processor = (*Processor)(nil)

func NewProcessor(querier store.Querier[types.Row], logger *slog.Logger) *Processor {
	return &Processor{querier: querier, logger: logger}
}

// LoadLatestCommit returns the time of the newest stored commit per project.
func (p *Processor) LoadLatestCommit(ctx context.Context, target store.Target, projectName string) map[string]time.Time {
	query := fmt.Sprintf(
		`SELECT %s, MAX(time) AS max_time FROM %s WHERE %s = %s AND measure_name = %s GROUP BY %s`,
		metrics.DimensionProject, tableRef(target), metrics.DimensionProject,
		literal(projectName), literal(metrics.MeasureID), metrics.DimensionProject,
	)
	return store.Query(ctx, p.logger, p.querier, query, latestCommits, map[string]time.Time{})
}

// GetAllCommitIDs returns the SHAs already stored for a project.
func (p *Processor) GetAllCommitIDs(ctx context.Context, target store.Target, projectName string) map[string]struct{} {
	query := fmt.Sprintf(
		`SELECT measure_value::varchar FROM %s WHERE %s = %s AND measure_name = %s`,
		tableRef(target), metrics.DimensionProject, literal(projectName), literal(metrics.MeasureID),
	)
	return store.Query(ctx, p.logger, p.querier, query, commitIDs, map[string]struct{}{})
}

func latestCommits(rows []types.Row) (map[string]time.Time, error) {
	latest := make(map[string]time.Time, len(rows))
	for _, row := range rows {
		if len(row.Data) < 2 || isNull(row.Data[0]) || isNull(row.Data[1]) {
			continue
		}
		t, err := time.Parse(timeLayout, aws.ToString(row.Data[1].ScalarValue))
		if err != nil {
			return nil, fmt.Errorf("invalid max_time %q: %w", aws.ToString(row.Data[1].ScalarValue), err)
		}
		latest[aws.ToString(row.Data[0].ScalarValue)] = t.UTC()
	}
	return latest, nil
}

func commitIDs(rows []types.Row) (map[string]struct{}, error) {
	ids := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		if len(row.Data) == 0 || isNull(row.Data[0]) {
			continue
		}
		ids[aws.ToString(row.Data[0].ScalarValue)] = struct{}{}
	}
	return ids, nil
}

func isNull(d types.Datum) bool {
	return aws.ToBool(d.NullValue) || d.ScalarValue == nil
}

func tableRef(target store.Target) string {
	return identifier(target.Database) + "." + identifier(target.Table)
}

func identifier(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func literal(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
