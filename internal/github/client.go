// internal/github/client.go
package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"

	custom_errors "gitlab-stats/internal/errors"
	"gitlab-stats/internal/httpretry"
	"gitlab-stats/internal/model"
)

const (
	perPage = 100
	// maxRetries is the number of attempts made for each API request.
	maxRetries = httpretry.DefaultMaxRetries
)

// Client is a wrapper around the go-github client.
type Client struct {
	gh             *github.Client
	logger         *slog.Logger
	fallbackBranch string
}

// Option configures a Client.
type Option func(*Client) error

// WithBaseURL points the client at a GitHub Enterprise or test API endpoint.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) error {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		u, err := url.Parse(baseURL)
		if err != nil {
			return fmt.Errorf("invalid GitHub base URL: %w", err)
		}
		c.gh.BaseURL = u
		return nil
	}
}

// WithFallbackBranch sets the branch used for repositories that report no default branch.
func WithFallbackBranch(branch string) Option {
	return func(c *Client) error {
		if branch != "" {
			c.fallbackBranch = branch
		}
		return nil
	}
}

// NewClient creates and configures a new Client instance.
// The provided token is used to create an authenticated http.Client whose
// requests are retried on server errors and rate limits.
func NewClient(token string, logger *slog.Logger, opts ...Option) (*Client, error) {
	base := http.DefaultTransport
	if token != "" {
		base = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}),
			Base:   http.DefaultTransport,
		}
	}
	tc := &http.Client{Transport: httpretry.New(base, logger)}

	c := &Client{
		gh:             github.NewClient(tc),
		logger:         logger,
		fallbackBranch: "master",
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// FetchProjects lists every repository visible to the authenticated user.
func (c *Client) FetchProjects(ctx context.Context) ([]model.Project, error) {
	var projects []model.Project

	opts := &github.RepositoryListByAuthenticatedUserOptions{
		ListOptions: github.ListOptions{PerPage: perPage},
	}
	for {
		c.logger.Debug("Fetching repositories page", "page", opts.Page)

		repos, resp, err := c.gh.Repositories.ListByAuthenticatedUser(ctx, opts)
		if err != nil {
			return nil, classify("list repositories", err)
		}
		for _, r := range repos {
			projects = append(projects, toProject(r))
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return projects, nil
}

// FetchCommits fetches the commits of a project since a given time, on its
// default branch or on every branch. A project whose branches cannot be resolved
// yields no commits.
func (c *Client) FetchCommits(ctx context.Context, project model.Project, since time.Time, allBranches bool) ([]model.Commit, error) {
	owner, name, err := splitFullName(project)
	if err != nil {
		return nil, err
	}
	logger := c.logger.With("project", project.FullName)

	branches, err := c.branches(ctx, owner, name, project, allBranches)
	if err != nil {
		var authErr *custom_errors.AuthError
		if errors.As(err, &authErr) {
			return nil, err
		}
		logger.Warn("Skipping project", "error", err)
		return []model.Commit{}, nil
	}

	var commits []model.Commit
	for _, branch := range branches {
		bc, err := c.listCommits(ctx, owner, name, branch, since)
		if err != nil {
			return nil, err
		}
		logger.Debug("Fetched branch commits", "branch", branch, "count", len(bc))
		commits = append(commits, bc...)
	}
	return commits, nil
}

func (c *Client) branches(ctx context.Context, owner, name string, project model.Project, allBranches bool) ([]string, error) {
	if !allBranches {
		branch := project.DefaultBranch
		if branch == "" {
			branch = c.fallbackBranch
		}
		b, _, err := c.gh.Repositories.GetBranch(ctx, owner, name, branch, 1)
		if err != nil {
			return nil, branchError(project.Name, branch, err)
		}
		return []string{b.GetName()}, nil
	}

	var names []string
	opts := &github.BranchListOptions{ListOptions: github.ListOptions{PerPage: perPage}}
	for {
		branches, resp, err := c.gh.Repositories.ListBranches(ctx, owner, name, opts)
		if err != nil {
			return nil, branchError(project.Name, "", err)
		}
		for _, b := range branches {
			names = append(names, b.GetName())
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return names, nil
}

// listCommits fetches the commits of one branch. List responses carry no line
// statistics, so each commit is fetched individually for its stats.
func (c *Client) listCommits(ctx context.Context, owner, name, branch string, since time.Time) ([]model.Commit, error) {
	var allCommits []model.Commit

	opts := &github.CommitsListOptions{
		SHA:   branch,
		Since: since,
		ListOptions: github.ListOptions{
			PerPage: perPage,
		},
	}

	for {
		c.logger.Debug("Fetching commits page", "owner", owner, "repo", name, "branch", branch, "page", opts.Page)

		commits, resp, err := c.gh.Repositories.ListCommits(ctx, owner, name, opts)
		if err != nil {
			return nil, classify("list commits", err)
		}

		for _, commit := range commits {
			full, _, err := c.gh.Repositories.GetCommit(ctx, owner, name, commit.GetSHA(), nil)
			if err != nil {
				return nil, classify("get commit", err)
			}
			allCommits = append(allCommits, toCommit(full))
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return allCommits, nil
}

// toProject translates a github.Repository object to our internal model.Project.
func toProject(r *github.Repository) model.Project {
	return model.Project{
		ID:            r.GetID(),
		Name:          r.GetName(),
		FullName:      r.GetFullName(),
		Description:   r.GetDescription(),
		URL:           r.GetHTMLURL(),
		DefaultBranch: r.GetDefaultBranch(),
	}.Normalize()
}

// toCommit translates a github.RepositoryCommit object to our internal model.Commit.
func toCommit(c *github.RepositoryCommit) model.Commit {
	parents := make([]string, 0, len(c.Parents))
	for _, p := range c.Parents {
		parents = append(parents, p.GetSHA())
	}

	return model.Commit{
		SHA:     c.GetSHA(),
		Author:  c.GetCommit().GetAuthor().GetName(),
		Date:    c.GetCommit().GetAuthor().GetDate().Time.UTC(),
		Message: c.GetCommit().GetMessage(),
		Parents: parents,
		Stats: model.CommitStats{
			Additions: c.GetStats().GetAdditions(),
			Deletions: c.GetStats().GetDeletions(),
			Total:     c.GetStats().GetTotal(),
		},
	}
}

func splitFullName(p model.Project) (string, string, error) {
	owner, name, ok := strings.Cut(p.FullName, "/")
	if !ok || owner == "" || name == "" {
		return "", "", &custom_errors.ErrInvalidFullName{FullName: p.FullName}
	}
	return owner, name, nil
}

func branchError(project, branch string, err error) error {
	if authErr := asAuthError(err); authErr != nil {
		return authErr
	}
	return &custom_errors.BranchResolutionError{Project: project, Branch: branch, Err: err}
}

// classify maps go-github errors onto the fetcher error taxonomy.
func classify(op string, err error) error {
	if authErr := asAuthError(err); authErr != nil {
		return authErr
	}
	return &custom_errors.TransportError{Op: "github " + op, Err: err}
}

func asAuthError(err error) error {
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusUnauthorized {
		return &custom_errors.AuthError{Source: "github", Err: err}
	}
	return nil
}
