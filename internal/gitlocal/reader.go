// internal/gitlocal/reader.go
package gitlocal

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	custom_errors "gitlab-stats/internal/errors"
	"gitlab-stats/internal/model"
)

// Reader serves projects from a directory of clones laid out as <root>/<group>/<project>.
type Reader struct {
	root           string
	logger         *slog.Logger
	fallbackBranch string
}

// NewReader creates a Reader for the clones under root.
func NewReader(root string, logger *slog.Logger, fallbackBranch string) (*Reader, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to open repository root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("repository root %q is not a directory", root)
	}
	if fallbackBranch == "" {
		fallbackBranch = "master"
	}
	return &Reader{root: root, logger: logger, fallbackBranch: fallbackBranch}, nil
}

// FetchProjects returns every git repository two levels below the root.
func (r *Reader) FetchProjects(ctx context.Context) ([]model.Project, error) {
	groups, err := os.ReadDir(r.root)
	if err != nil {
		return nil, &custom_errors.TransportError{Op: "read repository root", Err: err}
	}

	var projects []model.Project
	for _, group := range groups {
		if !group.IsDir() {
			continue
		}
		entries, err := os.ReadDir(filepath.Join(r.root, group.Name()))
		if err != nil {
			return nil, &custom_errors.TransportError{Op: "read group directory", Err: err}
		}
		for _, entry := range entries {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if !entry.IsDir() {
				continue
			}
			path := filepath.Join(r.root, group.Name(), entry.Name())
			repo, err := git.PlainOpen(path)
			if err != nil {
				r.logger.Debug("Skipping non-repository directory", "path", path)
				continue
			}
			projects = append(projects, r.toProject(repo, group.Name(), entry.Name(), path))
		}
	}
	return projects, nil
}

// FetchCommits returns the commits authored strictly after since, on the
// project's default branch or on every local branch.
func (r *Reader) FetchCommits(ctx context.Context, project model.Project, since time.Time, allBranches bool) ([]model.Commit, error) {
	logger := r.logger.With("project", project.FullName)

	repo, err := git.PlainOpen(r.pathOf(project))
	if err != nil {
		return nil, &custom_errors.TransportError{Op: "open repository", Err: err}
	}

	refs, err := r.branches(repo, project, allBranches)
	if err != nil {
		logger.Warn("Skipping project", "error", err)
		return []model.Commit{}, nil
	}

	var commits []model.Commit
	for _, ref := range refs {
		iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
		if err != nil {
			return nil, &custom_errors.TransportError{Op: "read history", Err: err}
		}

		err = iter.ForEach(func(c *object.Commit) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if !c.Author.When.After(since) {
				return nil
			}
			commit, err := toCommit(c)
			if err != nil {
				return err
			}
			commits = append(commits, commit)
			return nil
		})
		iter.Close()
		if err != nil {
			if errors.Is(err, ctx.Err()) {
				return nil, err
			}
			return nil, &custom_errors.TransportError{Op: "read history", Err: err}
		}
		logger.Debug("Read branch history", "branch", ref.Name().Short())
	}
	return commits, nil
}

func (r *Reader) branches(repo *git.Repository, project model.Project, allBranches bool) ([]*plumbing.Reference, error) {
	if !allBranches {
		branch := project.DefaultBranch
		if branch == "" {
			branch = r.fallbackBranch
		}
		ref, err := repo.Reference(plumbing.NewBranchReferenceName(branch), true)
		if err != nil {
			return nil, &custom_errors.BranchResolutionError{Project: project.Name, Branch: branch, Err: err}
		}
		return []*plumbing.Reference{ref}, nil
	}

	iter, err := repo.Branches()
	if err != nil {
		return nil, &custom_errors.BranchResolutionError{Project: project.Name, Err: err}
	}
	var refs []*plumbing.Reference
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		refs = append(refs, ref)
		return nil
	})
	if err != nil {
		return nil, &custom_errors.BranchResolutionError{Project: project.Name, Err: err}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Name() < refs[j].Name() })
	return refs, nil
}

// pathOf returns the clone directory of a project. Full names are lowercased on
// fetch, so the path is kept in the project URL.
func (r *Reader) pathOf(project model.Project) string {
	if path, ok := strings.CutPrefix(project.URL, "file://"); ok {
		return filepath.FromSlash(path)
	}
	return filepath.Join(r.root, filepath.FromSlash(project.FullName))
}

func (r *Reader) toProject(repo *git.Repository, group, name, path string) model.Project {
	fullName := group + "/" + name
	h := fnv.New64a()
	h.Write([]byte(fullName))

	p := model.Project{
		ID:       int64(h.Sum64() >> 1),
		Name:     name,
		FullName: fullName,
		URL:      "file://" + filepath.ToSlash(path),
	}
	if head, err := repo.Head(); err == nil && head.Name().IsBranch() {
		p.DefaultBranch = head.Name().Short()
	}
	return p.Normalize()
}

func toCommit(c *object.Commit) (model.Commit, error) {
	parents := make([]string, 0, len(c.ParentHashes))
	for _, h := range c.ParentHashes {
		parents = append(parents, h.String())
	}

	fileStats, err := c.Stats()
	if err != nil {
		return model.Commit{}, fmt.Errorf("failed to compute stats of %s: %w", c.Hash, err)
	}
	var stats model.CommitStats
	for _, fs := range fileStats {
		stats.Additions += fs.Addition
		stats.Deletions += fs.Deletion
	}
	stats.Total = stats.Additions + stats.Deletions

	return model.Commit{
		SHA:     c.Hash.String(),
		Author:  c.Author.Name,
		Date:    c.Author.When.UTC(),
		Message: c.Message,
		Parents: parents,
		Stats:   stats,
	}, nil
}
