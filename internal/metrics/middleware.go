package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// HTTPMiddleware records request counts, latency and error classes. Counts go
// through the collector when one is given so they are persisted; otherwise the
// global registry is used directly.
func HTTPMiddleware(c *Collector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m := Global()
			if c != nil {
				m = c.metrics
			}
			if m == nil {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			// chi's wrapper keeps http.Flusher available for the SSE handlers
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			code := ww.Status()
			if code == 0 {
				code = http.StatusOK
			}
			status := strconv.Itoa(code)
			path := normalizePath(r)

			if c != nil {
				c.TrackAPIRequest(r.Method, path, status)
			} else {
				m.APIRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
			}
			m.APIRequestDurationSeconds.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())

			if code >= 400 {
				errorType := categorizeStatus(code)
				if c != nil {
					c.TrackAPIError(errorType)
				} else {
					m.APIErrorsTotal.WithLabelValues(errorType).Inc()
				}
			}
		})
	}
}

// normalizePath uses the chi route pattern to keep label cardinality bounded
func normalizePath(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return "unmatched"
}

// categorizeStatus categorizes HTTP status codes into error types
func categorizeStatus(status int) string {
	switch {
	case status >= 500:
		return "server_error"
	case status == http.StatusTooManyRequests:
		return "rate_limited"
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return "auth_error"
	case status == http.StatusNotFound:
		return "not_found"
	case status == http.StatusBadRequest:
		return "bad_request"
	case status >= 400:
		return "client_error"
	default:
		return "unknown"
	}
}
