// internal/syncer/syncer.go
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	custom_errors "gitlab-stats/internal/errors"
	"gitlab-stats/internal/metrics"
	"gitlab-stats/internal/model"
	"gitlab-stats/internal/source"
	"gitlab-stats/internal/store"
)

// EpochFloor is the watermark used when a project has no stored commits or a
// reload is requested.
var EpochFloor = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// Options controls a sync pass.
type Options struct {
	Target      store.Target
	AllBranches bool
	// Reload ignores the watermark and the stored commit ids, re-ingesting full history.
	Reload bool
	// Project restricts the pass to projects with this name. Empty selects all.
	Project string
	// Concurrency is the number of projects synced in parallel.
	Concurrency int
	// OnReport is called with the report of every completed pass.
	OnReport func(ctx context.Context, report *RunReport)
}

// ProjectResult is the outcome of one project in a pass.
type ProjectResult struct {
	Project  string    `json:"project"`
	FullName string    `json:"full_name"`
	Since    time.Time `json:"since"`
	Fetched  int       `json:"fetched"`
	Records  int       `json:"records"`
	Err      error     `json:"-"`
	Error    string    `json:"error,omitempty"`
}

func (r *ProjectResult) fail(err error) {
	r.Err = err
	r.Error = err.Error()
}

// RunReport summarizes a sync pass.
type RunReport struct {
	ID         string          `json:"id"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Projects   []ProjectResult `json:"projects"`
}

// Records returns the number of records written across all projects.
func (r *RunReport) Records() int {
	n := 0
	for _, p := range r.Projects {
		n += p.Records
	}
	return n
}

// Failed returns the number of projects that ended in an error.
func (r *RunReport) Failed() int {
	n := 0
	for _, p := range r.Projects {
		if p.Err != nil {
			n++
		}
	}
	return n
}

// Syncer orchestrates the fetching, transformation and storing of commit metrics.
type Syncer struct {
	fetcher   source.Fetcher
	processor metrics.Processor
	store     store.Store
	logger    *slog.Logger
	opts      Options

	mu   sync.RWMutex
	last *RunReport
}

// NewSyncer creates a new Syncer instance.
func NewSyncer(fetcher source.Fetcher, processor metrics.Processor, st store.Store, logger *slog.Logger, opts Options) *Syncer {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Syncer{
		fetcher:   fetcher,
		processor: processor,
		store:     st,
		logger:    logger,
		opts:      opts,
	}
}

// Start runs a pass immediately and then once per interval until ctx is done.
// Only an AuthError stops the loop early.
func (s *Syncer) Start(ctx context.Context, interval time.Duration) error {
	s.logger.Info("Starting syncer", "interval", interval.String(), "concurrency", s.opts.Concurrency)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := s.runPeriodic(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ticker.C:
			if err := s.runPeriodic(ctx); err != nil {
				return err
			}
		case <-ctx.Done():
			s.logger.Info("Syncer shutting down", "reason", ctx.Err())
			return nil
		}
	}
}

// runPeriodic runs a pass and returns only errors that stop the loop.
func (s *Syncer) runPeriodic(ctx context.Context) error {
	_, err := s.Run(ctx)
	var authErr *custom_errors.AuthError
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return nil
	case errors.As(err, &authErr):
		return err
	default:
		s.logger.Error("Sync cycle failed, retrying on next tick", "error", err)
		return nil
	}
}

// Run performs one sync pass over the selected projects. Per-project failures
// are recorded in the report; an AuthError aborts the pass and is returned.
func (s *Syncer) Run(ctx context.Context) (*RunReport, error) {
	report := &RunReport{ID: uuid.NewString(), StartedAt: time.Now().UTC()}
	s.logger.Info("Starting new sync cycle", "run_id", report.ID)

	projects, err := s.fetcher.FetchProjects(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch projects: %w", err)
	}
	projects = s.selectProjects(projects)
	s.logger.Info("Loaded projects", "count", len(projects))

	results := make([]ProjectResult, len(projects))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)

	for i, project := range projects {
		g.Go(func() error {
			if gctx.Err() != nil {
				results[i] = ProjectResult{Project: project.Name, FullName: project.FullName}
				results[i].fail(gctx.Err())
				return nil
			}
			results[i] = s.SyncProject(gctx, project)

			var authErr *custom_errors.AuthError
			if errors.As(results[i].Err, &authErr) {
				return results[i].Err
			}
			return nil
		})
	}

	err = g.Wait()
	report.Projects = results
	report.FinishedAt = time.Now().UTC()
	s.setLastReport(report)
	if s.opts.OnReport != nil {
		s.opts.OnReport(ctx, report)
	}

	if err != nil {
		s.logger.Error("Sync cycle aborted", "error", err)
		return report, err
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}
	s.logger.Info("Sync cycle finished", "projects", len(results), "records", report.Records(), "failed", report.Failed())
	return report, nil
}

func (s *Syncer) selectProjects(projects []model.Project) []model.Project {
	if s.opts.Project == "" {
		return projects
	}
	var selected []model.Project
	for _, p := range projects {
		if p.Name == s.opts.Project {
			selected = append(selected, p)
		}
	}
	return selected
}

// SyncProject generates the new records of a project and writes them.
func (s *Syncer) SyncProject(ctx context.Context, project model.Project) ProjectResult {
	logger := s.logger.With("project", project.FullName)

	records, result := s.GenerateRecords(ctx, project)
	if result.Err != nil {
		logger.Error("Failed to sync project", "error", result.Err)
		return result
	}

	logger.Info("Processing new records", "count", len(records))
	if len(records) == 0 {
		return result
	}
	if err := s.store.WriteRecords(ctx, s.opts.Target, records); err != nil {
		result.fail(err)
		return result
	}
	result.Records = len(records)
	return result
}

// GenerateRecords fetches the commits of a project since its watermark and
// returns the records of those not already stored.
func (s *Syncer) GenerateRecords(ctx context.Context, project model.Project) ([]model.Record, ProjectResult) {
	result := ProjectResult{Project: project.Name, FullName: project.FullName}
	logger := s.logger.With("project", project.FullName)

	result.Since = s.watermark(ctx, project)

	commits, err := s.fetcher.FetchCommits(ctx, project, result.Since, s.opts.AllBranches)
	if err != nil {
		result.fail(err)
		return nil, result
	}
	result.Fetched = len(commits)
	logger.Info("Retrieved commits", "count", len(commits), "since", result.Since.Format(time.RFC3339))

	var existing map[string]struct{}
	if !s.opts.Reload {
		existing = s.processor.GetAllCommitIDs(ctx, s.opts.Target, project.Name)
	}
	if existing == nil {
		existing = map[string]struct{}{}
	}

	var records []model.Record
	for _, commit := range commits {
		if _, seen := existing[commit.SHA]; seen && !s.opts.Reload {
			continue
		}
		existing[commit.SHA] = struct{}{}
		for r := range s.processor.ProcessCommit(commit, project) {
			records = append(records, r)
		}
	}
	return records, result
}

func (s *Syncer) watermark(ctx context.Context, project model.Project) time.Time {
	if s.opts.Reload {
		return EpochFloor
	}
	latest := s.processor.LoadLatestCommit(ctx, s.opts.Target, project.Name)
	if since, ok := latest[project.Name]; ok {
		return since
	}
	return EpochFloor
}

// LastReport returns the report of the latest completed pass, or nil.
func (s *Syncer) LastReport() *RunReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

func (s *Syncer) setLastReport(r *RunReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = r
}
