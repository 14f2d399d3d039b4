// internal/gitlab/client.go
package gitlab

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/xanzy/go-gitlab"

	custom_errors "gitlab-stats/internal/errors"
	"gitlab-stats/internal/httpretry"
	"gitlab-stats/internal/model"
)

const perPage = 100

// Client is a wrapper around the go-gitlab client.
type Client struct {
	gl             *gitlab.Client
	logger         *slog.Logger
	fallbackBranch string
}

// NewClient creates a client for the GitLab instance at baseURL (gitlab.com when empty).
func NewClient(baseURL, token string, logger *slog.Logger, fallbackBranch string) (*Client, error) {
	opts := []gitlab.ClientOptionFunc{
		gitlab.WithHTTPClient(&http.Client{Transport: httpretry.New(http.DefaultTransport, logger)}),
		// Retries are handled by the transport.
		gitlab.WithCustomRetryMax(0),
	}
	if baseURL != "" {
		opts = append(opts, gitlab.WithBaseURL(baseURL))
	}

	gl, err := gitlab.NewClient(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GitLab client: %w", err)
	}
	if fallbackBranch == "" {
		fallbackBranch = "master"
	}

	return &Client{gl: gl, logger: logger, fallbackBranch: fallbackBranch}, nil
}

// FetchProjects lists every project the token is a member of.
func (c *Client) FetchProjects(ctx context.Context) ([]model.Project, error) {
	var projects []model.Project

	opts := &gitlab.ListProjectsOptions{
		ListOptions: gitlab.ListOptions{PerPage: perPage},
		Membership:  gitlab.Ptr(true),
	}
	for {
		c.logger.Debug("Fetching projects page", "page", opts.Page)

		page, resp, err := c.gl.Projects.ListProjects(opts, gitlab.WithContext(ctx))
		if err != nil {
			return nil, classify("list projects", err)
		}
		for _, p := range page {
			projects = append(projects, toProject(p))
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return projects, nil
}

// FetchCommits fetches the commits of a project since a given time, with line
// statistics, on its default branch or on every branch.
func (c *Client) FetchCommits(ctx context.Context, project model.Project, since time.Time, allBranches bool) ([]model.Commit, error) {
	logger := c.logger.With("project", project.FullName)

	branches, err := c.branches(ctx, project, allBranches)
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
		opts := &gitlab.ListCommitsOptions{
			ListOptions: gitlab.ListOptions{PerPage: perPage},
			RefName:     gitlab.Ptr(branch),
			Since:       gitlab.Ptr(since),
			WithStats:   gitlab.Ptr(true),
		}
		for {
			page, resp, err := c.gl.Commits.ListCommits(int(project.ID), opts, gitlab.WithContext(ctx))
			if err != nil {
				return nil, classify("list commits", err)
			}
			for _, commit := range page {
				commits = append(commits, toCommit(commit))
			}
			if resp.NextPage == 0 {
				break
			}
			opts.Page = resp.NextPage
		}
		logger.Debug("Fetched branch commits", "branch", branch)
	}
	return commits, nil
}

func (c *Client) branches(ctx context.Context, project model.Project, allBranches bool) ([]string, error) {
	if !allBranches {
		branch := project.DefaultBranch
		if branch == "" {
			branch = c.fallbackBranch
		}
		b, _, err := c.gl.Branches.GetBranch(int(project.ID), branch, gitlab.WithContext(ctx))
		if err != nil {
			return nil, branchError(project.Name, branch, err)
		}
		return []string{b.Name}, nil
	}

	var names []string
	opts := &gitlab.ListBranchesOptions{ListOptions: gitlab.ListOptions{PerPage: perPage}}
	for {
		page, resp, err := c.gl.Branches.ListBranches(int(project.ID), opts, gitlab.WithContext(ctx))
		if err != nil {
			return nil, branchError(project.Name, "", err)
		}
		for _, b := range page {
			names = append(names, b.Name)
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return names, nil
}

// toProject translates a gitlab.Project to our internal model.Project.
func toProject(p *gitlab.Project) model.Project {
	return model.Project{
		ID:            int64(p.ID),
		Name:          p.Name,
		FullName:      p.PathWithNamespace,
		Description:   p.Description,
		URL:           p.WebURL,
		DefaultBranch: p.DefaultBranch,
	}.Normalize()
}

// toCommit translates a gitlab.Commit to our internal model.Commit.
func toCommit(c *gitlab.Commit) model.Commit {
	commit := model.Commit{
		SHA:     c.ID,
		Author:  c.AuthorName,
		Message: c.Message,
		Parents: c.ParentIDs,
	}
	if c.CreatedAt != nil {
		commit.Date = c.CreatedAt.UTC()
	}
	if c.Stats != nil {
		commit.Stats = model.CommitStats{
			Additions: c.Stats.Additions,
			Deletions: c.Stats.Deletions,
			Total:     c.Stats.Total,
		}
	}
	return commit
}

func branchError(project, branch string, err error) error {
	if authErr := asAuthError(err); authErr != nil {
		return authErr
	}
	return &custom_errors.BranchResolutionError{Project: project, Branch: branch, Err: err}
}

// classify maps go-gitlab errors onto the fetcher error taxonomy.
func classify(op string, err error) error {
	if authErr := asAuthError(err); authErr != nil {
		return authErr
	}
	return &custom_errors.TransportError{Op: "gitlab " + op, Err: err}
}

func asAuthError(err error) error {
	var glErr *gitlab.ErrorResponse
	if errors.As(err, &glErr) && glErr.Response != nil && glErr.Response.StatusCode == http.StatusUnauthorized {
		return &custom_errors.AuthError{Source: "gitlab", Err: err}
	}
	return nil
}
