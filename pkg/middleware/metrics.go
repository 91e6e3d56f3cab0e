// Package middleware provides reusable HTTP middleware for request IDs,
// Prometheus metrics, rate limiting and request timeouts.
package middleware

import (
	"net/http"
	"strings"
)

// HTTPTracker records one request. TrackHTTP is called when the request
// starts; the returned function when it ends.
type HTTPTracker interface {
	TrackHTTP() func(method, route string, status int)
}

// Metrics returns middleware that reports every request to tracker,
// labelled with the mux pattern that serves it. Unrouted paths share the
// "other" label so arbitrary URLs cannot grow the label set.
func Metrics(tracker HTTPTracker, mux *http.ServeMux) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			done := tracker.TrackHTTP()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			done(r.Method, route(mux, r), sw.status)
		})
	}
}

func route(mux *http.ServeMux, r *http.Request) string {
	_, pattern := mux.Handler(r)
	if pattern == "" {
		return "other"
	}
	// "GET /api/v1/options" -> "/api/v1/options"
	if _, path, ok := strings.Cut(pattern, " "); ok {
		return path
	}
	return pattern
}

// statusWriter captures the first status code written.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (sw *statusWriter) WriteHeader(code int) {
	if !sw.wroteHeader {
		sw.status = code
		sw.wroteHeader = true
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	sw.wroteHeader = true
	return sw.ResponseWriter.Write(b)
}
