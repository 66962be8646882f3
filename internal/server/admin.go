package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pivot-analyzer/pivot-dashboard/internal/artifact"
	"github.com/pivot-analyzer/pivot-dashboard/internal/status"
	"github.com/pivot-analyzer/pivot-dashboard/internal/versions"
)

// StatusProvider exposes the regeneration status
type StatusProvider interface {
	Status() status.GenerationStatus
}

// ArtifactChecker reports whether a published artifact exists
type ArtifactChecker interface {
	Exists(name string) (bool, error)
}

// AdminOption configures the admin router
type AdminOption func(*adminConfig)

type adminConfig struct {
	status         StatusProvider
	artifacts      ArtifactChecker
	metricsHandler http.Handler
	middlewares    []func(http.Handler) http.Handler
}

// WithStatusProvider enables the /status route
func WithStatusProvider(p StatusProvider) AdminOption {
	return func(cfg *adminConfig) {
		cfg.status = p
	}
}

// WithArtifactChecker makes /readiness depend on the dashboard artifact
func WithArtifactChecker(c ArtifactChecker) AdminOption {
	return func(cfg *adminConfig) {
		cfg.artifacts = c
	}
}

// WithMetricsHandler mounts h at /metrics
func WithMetricsHandler(h http.Handler) AdminOption {
	return func(cfg *adminConfig) {
		cfg.metricsHandler = h
	}
}

// WithAdminMiddlewares adds middleware to the admin router
func WithAdminMiddlewares(mw ...func(http.Handler) http.Handler) AdminOption {
	return func(cfg *adminConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// NewAdminRouter creates the operational endpoints router
func NewAdminRouter(opts ...AdminOption) *chi.Mux {
	cfg := &adminConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	r := chi.NewRouter()
	r.Use(NoCache)
	for _, mw := range cfg.middlewares {
		r.Use(mw)
	}

	r.Get("/health", healthHandler)
	r.Get("/readiness", readinessHandler(cfg.artifacts))
	r.Get("/version", versionHandler)
	if cfg.status != nil {
		r.Get("/status", statusHandler(cfg.status))
	}
	if cfg.metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.metricsHandler)
	}

	return r
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// readinessHandler reports ready once a dashboard (or the placeholder) is
// available to serve
func readinessHandler(artifacts ArtifactChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if artifacts == nil {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
			return
		}

		ok, err := artifacts.Exists(artifact.CanonicalName)
		switch {
		case err != nil:
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "artifact check failed: " + err.Error()})
		case !ok:
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": artifact.CanonicalName + " is not available"})
		default:
			writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		}
	}
}

func versionHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, versions.GetVersionInfo())
}

func statusHandler(p StatusProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, p.Status())
	}
}

func writeJSON(w http.ResponseWriter, code int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
