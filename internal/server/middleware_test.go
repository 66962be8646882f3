package server

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoCache_ReappliesHeadersRemovedByHandler(t *testing.T) {
	t.Parallel()

	handler := NoCache(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Del("Cache-Control")
		w.Header().Del("Expires")
		http.Error(w, "gone", http.StatusGone)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, http.StatusGone, rr.Code)
	assert.Equal(t, "no-store, no-cache, must-revalidate, max-age=0", rr.Header().Get("Cache-Control"))
	assert.Equal(t, "0", rr.Header().Get("Expires"))
}

func TestNoCache_ImplicitStatus(t *testing.T) {
	t.Parallel()

	handler := NoCache(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Del("Pragma")
		_, _ = w.Write([]byte("ok"))
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "no-cache", rr.Header().Get("Pragma"))
}

func TestAccessLog(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := middleware.RequestID(AccessLog(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("missing"))
	})))

	req := httptest.NewRequest(http.MethodGet, "/missing.html?x=1", nil)
	req.RemoteAddr = "203.0.113.7:51234"
	handler.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	clf := regexp.MustCompile(`203\.0\.113\.7 - - \[\d{2}/\w{3}/\d{4}:\d{2}:\d{2}:\d{2} [+-]\d{4}\] \\"GET /missing\.html\?x=1 HTTP/1\.1\\" 404 7`)
	assert.Regexp(t, clf, out)
	assert.Contains(t, out, `"level":"INFO"`)
	assert.Contains(t, out, `"client":"203.0.113.7"`)
	assert.Contains(t, out, `"status":404`)
	assert.NotContains(t, out, `"request_id":""`)
}

func TestAccessLog_DefaultStatus(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	handler := AccessLog(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	req := httptest.NewRequest(http.MethodHead, "/dashboard.html", nil)
	req.RemoteAddr = "unix-socket"
	handler.ServeHTTP(httptest.NewRecorder(), req)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "unix-socket - - [")
	assert.Contains(t, lines[0], "status=200")
}
