// internal/metrics/processor.go
package metrics

import (
	"context"
	"iter"
	"strconv"
	"time"
	"unicode/utf8"

	"gitlab-stats/internal/model"
	"gitlab-stats/internal/store"
)

const (
	// RetentionDays is the long-term retention of the metrics table. Backends
	// reject data older than this, so older commits are dropped before writing.
	RetentionDays = 3650
	// MemoryRetentionHours is the memory-tier retention of the metrics table.
	MemoryRetentionHours = 24
	// MaxMessageLength is the longest commit message stored as a measure, in characters.
	MaxMessageLength = 2048
)

// Measure names.
const (
	MeasureAdditions = "additions"
	MeasureDeletions = "deletions"
	MeasureID        = "id"
	MeasureMessage   = "message"
)

// Dimension names, in the order they are attached to a record.
const (
	DimensionProject = "project"
	DimensionGroup   = "group"
	DimensionAuthor  = "author"
	DimensionParents = "parents"
)

// RetentionHorizon is the age beyond which commits are not written.
const RetentionHorizon = RetentionDays * 24 * time.Hour

// Processor reads the per-project sync state from a store and turns commits into records.
type Processor interface {
	// LoadLatestCommit returns the time of the last stored id measurement keyed by
	// project name. It is empty when the store has no data for the project.
	LoadLatestCommit(ctx context.Context, target store.Target, projectName string) map[string]time.Time
	// GetAllCommitIDs returns the shas already stored for the project.
	GetAllCommitIDs(ctx context.Context, target store.Target, projectName string) map[string]struct{}
	// ProcessCommit returns the records describing one commit.
	ProcessCommit(commit model.Commit, project model.Project) iter.Seq[model.Record]
}

// Transformer is the backend-agnostic part of a Processor.
type Transformer struct {
	// Now returns the current time. It defaults to time.Now.
	Now func() time.Time
}

func (t Transformer) now() time.Time {
	if t.Now != nil {
		return t.Now().UTC()
	}
	return time.Now().UTC()
}

// ProcessCommit yields the additions, deletions, id and, when it fits, message
// records of a commit. Commits at or beyond the retention horizon, and projects
// without a namespace, yield nothing.
func (t Transformer) ProcessCommit(commit model.Commit, project model.Project) iter.Seq[model.Record] {
	return func(yield func(model.Record) bool) {
		group, err := project.Group()
		if err != nil {
			return
		}
		if !commit.Date.After(t.now().Add(-RetentionHorizon)) {
			return
		}

		dimensions := []model.Dimension{
			{Name: DimensionProject, Value: project.Name},
			{Name: DimensionGroup, Value: group},
			{Name: DimensionAuthor, Value: commit.Author},
			{Name: DimensionParents, Value: strconv.Itoa(commit.ParentCount())},
		}
		at := commit.Date.UTC()

		record := func(name, value string, typ model.MeasureValueType) model.Record {
			return model.Record{
				Dimensions:       dimensions,
				MeasureName:      name,
				MeasureValue:     value,
				MeasureValueType: typ,
				Time:             at,
			}
		}

		if !yield(record(MeasureAdditions, strconv.Itoa(commit.Stats.Additions), model.MeasureValueDefault)) {
			return
		}
		if !yield(record(MeasureDeletions, strconv.Itoa(commit.Stats.Deletions), model.MeasureValueDefault)) {
			return
		}
		if !yield(record(MeasureID, commit.SHA, model.MeasureValueVarchar)) {
			return
		}
		if n := utf8.RuneCountInString(commit.Message); n >= 1 && n <= MaxMessageLength {
			yield(record(MeasureMessage, commit.Message, model.MeasureValueVarchar))
		}
	}
}
