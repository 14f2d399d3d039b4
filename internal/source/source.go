// internal/source/source.go
package source

import (
	"context"
	"log/slog"
	"time"

	custom_errors "gitlab-stats/internal/errors"
	"gitlab-stats/internal/github"
	"gitlab-stats/internal/gitlab"
	"gitlab-stats/internal/gitlocal"
	"gitlab-stats/internal/model"
)

// Supported source types.
const (
	TypeGitLab = "gitlab"
	TypeGitHub = "github"
	TypeGit    = "git"
)

// Fetcher lists projects and their commits on a source platform.
type Fetcher interface {
	// FetchProjects returns every project visible to the configured credential.
	FetchProjects(ctx context.Context) ([]model.Project, error)
	// FetchCommits returns the commits of project since the given time, on the
	// default branch or on all branches. Duplicates across branches are kept.
	FetchCommits(ctx context.Context, project model.Project, since time.Time, allBranches bool) ([]model.Commit, error)
}

var (
	_ Fetcher = (*github.Client)(nil)
	_ Fetcher = (*gitlab.Client)(nil)
	_ Fetcher = (*gitlocal.Reader)(nil)
)

// Options selects and configures a Fetcher.
type Options struct {
	Type           string
	URL            string
	Token          string
	FallbackBranch string
}

// New creates the Fetcher named by opts.Type.
func New(opts Options, logger *slog.Logger) (Fetcher, error) {
	logger = logger.With("source", opts.Type)

	var (
		f   Fetcher
		err error
	)
	switch opts.Type {
	case TypeGitLab:
		f, err = gitlab.NewClient(opts.URL, opts.Token, logger, opts.FallbackBranch)
	case TypeGitHub:
		ghOpts := []github.Option{github.WithFallbackBranch(opts.FallbackBranch)}
		if opts.URL != "" {
			ghOpts = append(ghOpts, github.WithBaseURL(opts.URL))
		}
		f, err = github.NewClient(opts.Token, logger, ghOpts...)
	case TypeGit:
		f, err = gitlocal.NewReader(opts.URL, logger, opts.FallbackBranch)
	default:
		return nil, &custom_errors.ErrUnsupportedType{Kind: "source", Value: opts.Type}
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}
