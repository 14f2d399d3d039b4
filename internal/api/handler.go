// internal/api/handler.go
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"gitlab-stats/internal/syncer"
)

// ReportSource provides the report of the latest sync pass.
type ReportSource interface {
	LastReport() *syncer.RunReport
}

// Handler is the container for API dependencies.
type Handler struct {
	reports ReportSource
	logger  *slog.Logger
}

// NewRouter creates and configures a new chi router with all API routes.
func NewRouter(reports ReportSource, logger *slog.Logger) http.Handler {
	h := &Handler{
		reports: reports,
		logger:  logger,
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", h.healthCheck)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/runs/latest", h.getLatestRun)
		r.Get("/projects/{name}", h.getProject)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// getLatestRun returns the report of the latest sync pass.
// GET /v1/runs/latest
func (h *Handler) getLatestRun(w http.ResponseWriter, r *http.Request) {
	report := h.reports.LastReport()
	if report == nil {
		respondWithError(w, http.StatusNotFound, "No sync run has completed yet")
		return
	}
	respondWithJSON(w, http.StatusOK, report)
}

// getProject returns the latest result of one project.
// GET /v1/projects/{name}
func (h *Handler) getProject(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	report := h.reports.LastReport()
	if report == nil {
		respondWithError(w, http.StatusNotFound, "No sync run has completed yet")
		return
	}
	for _, p := range report.Projects {
		if p.Project == name {
			respondWithJSON(w, http.StatusOK, p)
			return
		}
	}
	h.logger.Debug("Project not in latest report", "project", name)
	respondWithError(w, http.StatusNotFound, "Project not found")
}
