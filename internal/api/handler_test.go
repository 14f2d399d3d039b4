// internal/api/handler_test.go
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab-stats/internal/syncer"
)

type staticReports struct {
	report *syncer.RunReport
}

func (s staticReports) LastReport() *syncer.RunReport { return s.report }

func serve(t *testing.T, reports ReportSource, path string) *httptest.ResponseRecorder {
	t.Helper()
	router := NewRouter(reports, slog.New(slog.NewTextHandler(io.Discard, nil)))
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRouter(t *testing.T) {
	report := &syncer.RunReport{
		StartedAt:  time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		FinishedAt: time.Date(2024, 1, 1, 12, 0, 2, 0, time.UTC),
		Projects: []syncer.ProjectResult{
			{Project: "web", FullName: "acme/web", Fetched: 2, Records: 7},
			{Project: "api", FullName: "acme/api", Err: errors.New("timeout"), Error: "timeout"},
		},
	}

	t.Run("health", func(t *testing.T) {
		rec := serve(t, staticReports{}, "/health")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	})

	t.Run("latest run before the first pass", func(t *testing.T) {
		rec := serve(t, staticReports{}, "/v1/runs/latest")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("latest run", func(t *testing.T) {
		rec := serve(t, staticReports{report: report}, "/v1/runs/latest")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var got syncer.RunReport
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		require.Len(t, got.Projects, 2)
		assert.Equal(t, 7, got.Projects[0].Records)
		assert.Equal(t, "timeout", got.Projects[1].Error)
	})

	t.Run("project result", func(t *testing.T) {
		rec := serve(t, staticReports{report: report}, "/v1/projects/web")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"full_name":"acme/web"`)
	})

	t.Run("unknown project", func(t *testing.T) {
		rec := serve(t, staticReports{report: report}, "/v1/projects/missing")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.JSONEq(t, `{"error":"Project not found"}`, rec.Body.String())
	})
}
