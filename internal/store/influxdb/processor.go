// internal/store/influxdb/processor.go
package influxdb

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gitlab-stats/internal/metrics"
	"gitlab-stats/internal/store"
)

// Processor answers watermark and dedup queries with flux.
type Processor struct {
	metrics.Transformer
	querier store.Querier[map[string]any]
	logger  *slog.Logger
}

var _ metrics.Processor = (*Processor)(nil)

func NewProcessor(querier store.Querier[map[string]any], logger *slog.Logger) *Processor {
	return &Processor{querier: querier, logger: logger}
}

func (p *Processor) LoadLatestCommit(ctx context.Context, target store.Target, projectName string) map[string]time.Time {
	query := fmt.Sprintf(
		`from(bucket: %s) |> range(start: -%dd) |> filter(fn: (r) => r._measurement == %s and r.%s == %s) |> last()`,
		fluxString(target.Database), metrics.RetentionDays, fluxString(metrics.MeasureID),
		metrics.DimensionProject, fluxString(projectName),
	)
	return store.Query(ctx, p.logger, p.querier, query, latestCommits, map[string]time.Time{})
}

func (p *Processor) GetAllCommitIDs(ctx context.Context, target store.Target, projectName string) map[string]struct{} {
	query := fmt.Sprintf(
		`from(bucket: %s) |> range(start: 0) |> filter(fn: (r) => r._measurement == %s and r.%s == %s) |> keep(columns: ["_value"])`,
		fluxString(target.Database), fluxString(metrics.MeasureID),
		metrics.DimensionProject, fluxString(projectName),
	)
	return store.Query(ctx, p.logger, p.querier, query, commitIDs, map[string]struct{}{})
}

// latestCommits keeps the newest _time per project. last() returns one record
// per series, so a project with several authors yields several rows.
func latestCommits(rows []map[string]any) (map[string]time.Time, error) {
	latest := make(map[string]time.Time)
	for _, row := range rows {
		project, _ := row[metrics.DimensionProject].(string)
		t, ok := row["_time"].(time.Time)
		if project == "" || !ok {
			return nil, fmt.Errorf("unexpected row %v", row)
		}
		if t.After(latest[project]) {
			latest[project] = t.UTC()
		}
	}
	return latest, nil
}

func commitIDs(rows []map[string]any) (map[string]struct{}, error) {
	ids := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		if id, ok := row["_value"].(string); ok {
			ids[id] = struct{}{}
		}
	}
	return ids, nil
}

func fluxString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "${", `\${`)
	return `"` + r.Replace(s) + `"`
}
