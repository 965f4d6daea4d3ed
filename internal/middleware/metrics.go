// Package middleware provides HTTP middleware for metrics, request logging
// and write rate limiting.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nadmax/tickler/internal/metrics"
)

var recordHTTPRequest = metrics.RecordHTTPRequest

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		endpoint := normalizeEndpoint(r.URL.Path)
		status := strconv.Itoa(wrapped.statusCode)

		recordHTTPRequest(r.Method, endpoint, status, duration)
	})
}

func normalizeEndpoint(path string) string {
	if !strings.HasPrefix(path, "/api/items/") {
		return path
	}

	parts := strings.Split(strings.TrimPrefix(path, "/api/items/"), "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		return "/api/items/:id"
	case len(parts) == 2 && (parts[1] == "tasks" || parts[1] == "history"):
		return "/api/items/:id/" + parts[1]
	default:
		return path
	}
}
