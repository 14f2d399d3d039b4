// internal/github/client_test.go
package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-github/v62/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	custom_errors "gitlab-stats/internal/errors"
	"gitlab-stats/internal/model"
)

// setupTestClient creates a httptest server and a github client pointing to it.
func setupTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	server := httptest.NewServer(handler)

	// We can pass an empty token because we are not authenticating to the real GitHub.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	client, err := NewClient("", logger, WithBaseURL(server.URL))
	require.NoError(t, err)

	return client, server
}

const commitJSON = `{"sha": %q, "commit": {"author": {"name": "tester", "date": "2024-01-02T12:00:00Z"}, "message": "feat: new feature"}, "parents": [{"sha": "p1"}], "stats": {"additions": 7, "deletions": 3, "total": 10}}`

func TestClient_FetchProjects(t *testing.T) {
	t.Run("follows pagination and normalizes names", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/user/repos", r.URL.Path)
			if r.URL.Query().Get("page") == "" {
				w.Header().Set("Link", fmt.Sprintf(`<http://%s/user/repos?page=2>; rel="next"`, r.Host))
				fmt.Fprintln(w, `[{"id": 1, "name": "Web", "full_name": "Acme/Web", "html_url": "https://github.com/Acme/Web", "default_branch": "main"}]`)
				return
			}
			fmt.Fprintln(w, `[{"id": 2, "name": "api", "full_name": "acme/api", "default_branch": "trunk"}]`)
		})
		client, server := setupTestClient(t, handler)
		defer server.Close()

		projects, err := client.FetchProjects(context.Background())

		require.NoError(t, err)
		require.Len(t, projects, 2)
		assert.Equal(t, model.Project{ID: 1, Name: "Web", FullName: "acme/web", URL: "https://github.com/Acme/Web", DefaultBranch: "main"}, projects[0])
		assert.Equal(t, "trunk", projects[1].DefaultBranch)
	})

	t.Run("maps 401 to an auth error", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprintln(w, `{"message": "Bad credentials"}`)
		})
		client, server := setupTestClient(t, handler)
		defer server.Close()

		projects, err := client.FetchProjects(context.Background())

		assert.Nil(t, projects)
		var authErr *custom_errors.AuthError
		assert.ErrorAs(t, err, &authErr)
	})

	t.Run("fails after max retries on persistent server error", func(t *testing.T) {
		var requestCount int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&requestCount, 1)
			w.WriteHeader(http.StatusInternalServerError)
		})
		client, server := setupTestClient(t, handler)
		defer server.Close()

		_, err := client.FetchProjects(context.Background())

		require.Error(t, err)
		var transportErr *custom_errors.TransportError
		assert.ErrorAs(t, err, &transportErr)
		var ghErr *github.ErrorResponse
		assert.ErrorAs(t, err, &ghErr)
		assert.Equal(t, http.StatusInternalServerError, ghErr.Response.StatusCode)
		assert.Equal(t, int32(maxRetries), atomic.LoadInt32(&requestCount))
	})
}

func TestClient_FetchCommits(t *testing.T) {
	project := model.Project{ID: 1, Name: "web", FullName: "acme/web", DefaultBranch: "main"}
	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("uses the default branch and fetches stats", func(t *testing.T) {
		var listed int32
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/repos/acme/web/branches/main":
				fmt.Fprintln(w, `{"name": "main"}`)
			case "/repos/acme/web/commits":
				atomic.AddInt32(&listed, 1)
				assert.Equal(t, "main", r.URL.Query().Get("sha"))
				assert.Equal(t, "2024-01-01T00:00:00Z", r.URL.Query().Get("since"))
				fmt.Fprintln(w, `[{"sha": "abc"}]`)
			case "/repos/acme/web/commits/abc":
				fmt.Fprintf(w, commitJSON, "abc")
			default:
				w.WriteHeader(http.StatusNotFound)
			}
		})
		client, server := setupTestClient(t, handler)
		defer server.Close()

		commits, err := client.FetchCommits(context.Background(), project, since, false)

		require.NoError(t, err)
		require.Len(t, commits, 1)
		assert.Equal(t, int32(1), atomic.LoadInt32(&listed))
		assert.Equal(t, model.Commit{
			SHA:     "abc",
			Author:  "tester",
			Date:    time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC),
			Message: "feat: new feature",
			Parents: []string{"p1"},
			Stats:   model.CommitStats{Additions: 7, Deletions: 3, Total: 10},
		}, commits[0])
	})

	t.Run("unions commits across all branches", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/repos/acme/web/branches":
				fmt.Fprintln(w, `[{"name": "main"}, {"name": "feature"}]`)
			case "/repos/acme/web/commits":
				if r.URL.Query().Get("sha") == "main" {
					fmt.Fprintln(w, `[{"sha": "abc"}]`)
					return
				}
				fmt.Fprintln(w, `[{"sha": "abc"}, {"sha": "def"}]`)
			case "/repos/acme/web/commits/abc":
				fmt.Fprintf(w, commitJSON, "abc")
			case "/repos/acme/web/commits/def":
				fmt.Fprintf(w, commitJSON, "def")
			default:
				w.WriteHeader(http.StatusNotFound)
			}
		})
		client, server := setupTestClient(t, handler)
		defer server.Close()

		commits, err := client.FetchCommits(context.Background(), project, since, true)

		require.NoError(t, err)
		shas := make([]string, len(commits))
		for i, c := range commits {
			shas[i] = c.SHA
		}
		assert.Equal(t, []string{"abc", "abc", "def"}, shas, "duplicates are left to the deduplication step")
	})

	t.Run("returns no commits when the branch cannot be resolved", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprintln(w, `{"message": "Branch not found"}`)
		})
		client, server := setupTestClient(t, handler)
		defer server.Close()

		commits, err := client.FetchCommits(context.Background(), project, since, false)

		require.NoError(t, err)
		assert.Empty(t, commits)
	})

	t.Run("falls back to the configured branch", func(t *testing.T) {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/repos/acme/web/branches/develop":
				fmt.Fprintln(w, `{"name": "develop"}`)
			case "/repos/acme/web/commits":
				assert.Equal(t, "develop", r.URL.Query().Get("sha"))
				fmt.Fprintln(w, `[]`)
			default:
				w.WriteHeader(http.StatusNotFound)
			}
		})
		client, server := setupTestClient(t, handler)
		defer server.Close()
		require.NoError(t, WithFallbackBranch("develop")(client))

		noDefault := project
		noDefault.DefaultBranch = ""
		commits, err := client.FetchCommits(context.Background(), noDefault, since, false)

		require.NoError(t, err)
		assert.Empty(t, commits)
	})

	t.Run("rejects projects without owner", func(t *testing.T) {
		client, server := setupTestClient(t, http.NotFoundHandler())
		defer server.Close()

		_, err := client.FetchCommits(context.Background(), model.Project{Name: "web", FullName: "web"}, since, false)

		var nameErr *custom_errors.ErrInvalidFullName
		assert.ErrorAs(t, err, &nameErr)
	})
}
