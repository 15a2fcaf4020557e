// Package middleware provides HTTP middleware for the import API.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/JonMunkholm/ledgerimport/internal/logging"
	"github.com/go-chi/chi/v5"
)

// Logger logs one line per request once the handler has returned.
//
// Requests against a single import carry its import_id, read from the
// {importID} route parameter, so every publish and revert can be traced
// back to the import it touched. The route pattern is logged instead of
// the raw path to keep ids out of the "route" field. Server errors log at
// error, client errors at warn, health checks at debug and the rest at
// info.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		info := &requestInfo{}

		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), requestInfoKey{}, info)))

		attrs := []any{
			"method", r.Method,
			"route", routePattern(r),
			"status", rec.status,
			"bytes", rec.bytes,
			"duration_ms", time.Since(start).Milliseconds(),
			"ip", ClientIP(r),
		}
		if id := importID(r); id != "" {
			attrs = append(attrs, "import_id", id)
		}
		if info.scope != ScopeNone {
			attrs = append(attrs, "scope", info.scope.String())
		}

		logging.FromContext(r.Context()).Log(r.Context(), requestLevel(r, rec.status), "request", attrs...)
	})
}

// requestInfo is filled in by inner middleware for the request log line.
type requestInfo struct {
	scope Scope
}

type requestInfoKey struct{}

func noteScope(ctx context.Context, s Scope) {
	if info, ok := ctx.Value(requestInfoKey{}).(*requestInfo); ok {
		info.scope = s
	}
}

func requestLevel(r *http.Request, status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	case r.URL.Path == "/healthz":
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// routePattern returns the matched chi pattern, or the path when no route
// matched.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

func importID(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.URLParam("importID")
	}
	return ""
}

// statusRecorder captures the status code and body size of a response.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func (w *statusRecorder) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	w.status = status
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// Unwrap exposes the underlying ResponseWriter to http.ResponseController.
func (w *statusRecorder) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
