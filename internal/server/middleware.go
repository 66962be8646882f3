package server

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/go-chi/chi/v5/middleware"
)

// clfTimeLayout is the timestamp format of the Common Log Format
const clfTimeLayout = "02/Jan/2006:15:04:05 -0700"

// NoCache marks every response as non-cacheable.
// The headers are applied when the response header is written because
// http.FileServer strips Cache-Control from its error responses.
func NoCache(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		hooked := httpsnoop.Wrap(w, httpsnoop.Hooks{
			WriteHeader: func(next httpsnoop.WriteHeaderFunc) httpsnoop.WriteHeaderFunc {
				return func(code int) {
					setNoCacheHeaders(h)
					next(code)
				}
			},
			Write: func(next httpsnoop.WriteFunc) httpsnoop.WriteFunc {
				return func(b []byte) (int, error) {
					setNoCacheHeaders(h)
					return next(b)
				}
			},
			ReadFrom: func(next httpsnoop.ReadFromFunc) httpsnoop.ReadFromFunc {
				return func(src io.Reader) (int64, error) {
					setNoCacheHeaders(h)
					return next(src)
				}
			},
			Flush: func(next httpsnoop.FlushFunc) httpsnoop.FlushFunc {
				return func() {
					setNoCacheHeaders(h)
					next()
				}
			},
		})
		setNoCacheHeaders(h)
		next.ServeHTTP(hooked, r)
	})
}

func setNoCacheHeaders(h http.Header) {
	h.Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
}

// AccessLog logs one Common Log Format line per request at info level
func AccessLog(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			client := clientAddress(r)
			line := fmt.Sprintf("%s - - [%s] %q %d %d",
				client,
				start.Format(clfTimeLayout),
				r.Method+" "+r.RequestURI+" "+r.Proto,
				status,
				ww.BytesWritten(),
			)

			logger.InfoContext(r.Context(), line,
				"client", client,
				"status", status,
				"duration", time.Since(start).String(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

// clientAddress returns the remote host without its port
func clientAddress(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
