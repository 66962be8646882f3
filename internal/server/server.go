// Package server serves the generated dashboard over HTTP.
//
// The content router serves the output directory as static files with
// caching disabled on every response. The admin router exposes health,
// readiness, status and metrics on a separate listener.
package server

import (
	"io/fs"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pivot-analyzer/pivot-dashboard/internal/artifact"
)

// DashboardPath is where requests for the root path are redirected
const DashboardPath = "/" + artifact.CanonicalName

// ServerOption configures the content server
type ServerOption func(*serverConfig)

// serverConfig holds the server configuration
type serverConfig struct {
	middlewares []func(http.Handler) http.Handler
}

// WithMiddlewares adds middleware to the server
func WithMiddlewares(mw ...func(http.Handler) http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// NewServer creates the content router for outputDir.
// "/" redirects to the dashboard; every other GET or HEAD is served from
// outputDir, which also confines requests to that directory. Dotfiles,
// including in-progress publish files, are neither served nor listed.
func NewServer(outputDir string, opts ...ServerOption) *chi.Mux {
	cfg := &serverConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	r := chi.NewRouter()

	// Outermost so that redirects, 404s, 405s and recovered panics carry it too
	r.Use(NoCache)
	for _, mw := range cfg.middlewares {
		r.Use(mw)
	}

	r.Get("/", redirectToDashboard)
	r.Head("/", redirectToDashboard)

	files := http.FileServer(hiddenDotFiles{http.Dir(outputDir)})
	r.Get("/*", files.ServeHTTP)
	r.Head("/*", files.ServeHTTP)

	return r
}

func redirectToDashboard(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Location", DashboardPath)
	w.WriteHeader(http.StatusMovedPermanently)
}

// hiddenDotFiles reports any path with a dot-prefixed element as missing
type hiddenDotFiles struct {
	http.FileSystem
}

func (h hiddenDotFiles) Open(name string) (http.File, error) {
	if hasDotElement(name) {
		return nil, fs.ErrNotExist
	}
	f, err := h.FileSystem.Open(name)
	if err != nil {
		return nil, err
	}
	return dotFilteredFile{f}, nil
}

// dotFilteredFile drops dotfiles from directory listings
type dotFilteredFile struct {
	http.File
}

func (f dotFilteredFile) Readdir(n int) ([]fs.FileInfo, error) {
	entries, err := f.File.Readdir(n)
	visible := entries[:0]
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), ".") {
			visible = append(visible, e)
		}
	}
	return visible, err
}

func hasDotElement(name string) bool {
	for part := range strings.SplitSeq(name, "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}
