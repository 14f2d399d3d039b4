// internal/store/postgres/processor.go
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gitlab-stats/internal/metrics"
	"gitlab-stats/internal/store"
)

// Processor answers watermark and dedup queries with SQL over metric_records.
type Processor struct {
	metrics.Transformer
	querier store.Querier[[]any]
	logger  *slog.Logger
}

var _ metrics.Processor = (*Processor)(nil)

func NewProcessor(querier store.Querier[[]any], logger *slog.Logger) *Processor {
	return &Processor{querier: querier, logger: logger}
}

func (p *Processor) LoadLatestCommit(ctx context.Context, target store.Target, projectName string) map[string]time.Time {
	query := fmt.Sprintf(
		`SELECT project, MAX(time) AS max_time FROM %s WHERE %s GROUP BY project`,
		tableName, idFilter(target, projectName),
	)
	return store.Query(ctx, p.logger, p.querier, query, latestCommits, map[string]time.Time{})
}

func (p *Processor) GetAllCommitIDs(ctx context.Context, target store.Target, projectName string) map[string]struct{} {
	query := fmt.Sprintf(
		`SELECT DISTINCT measure_value FROM %s WHERE %s`,
		tableName, idFilter(target, projectName),
	)
	return store.Query(ctx, p.logger, p.querier, query, commitIDs, map[string]struct{}{})
}

func idFilter(target store.Target, projectName string) string {
	return fmt.Sprintf(`database = %s AND table_name = %s AND project = %s AND measure_name = %s`,
		literal(target.Database), literal(target.Table), literal(projectName), literal(metrics.MeasureID))
}

func latestCommits(rows [][]any) (map[string]time.Time, error) {
	latest := make(map[string]time.Time, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			return nil, fmt.Errorf("unexpected row %v", row)
		}
		project, ok := row[0].(string)
		if !ok {
			return nil, fmt.Errorf("unexpected project %v", row[0])
		}
		t, ok := row[1].(time.Time)
		if !ok {
			continue
		}
		latest[project] = t.UTC()
	}
	return latest, nil
}

func commitIDs(rows [][]any) (map[string]struct{}, error) {
	ids := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		if id, ok := row[0].(string); ok {
			ids[id] = struct{}{}
		}
	}
	return ids, nil
}

func literal(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
