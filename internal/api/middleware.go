package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/foxzi/phishdrill/internal/identity"
	"github.com/foxzi/phishdrill/internal/metrics"
)

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"bytes", ww.BytesWritten(),
			"remote_addr", r.RemoteAddr,
			"client_ip", s.proxies.ClientIP(r),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// authMiddleware resolves the bearer credential to an owner and stores it in the request context
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := identity.BearerToken(r.Header.Get("Authorization"), r.Header.Get("X-API-Key"))
		if token == "" {
			metrics.IncAuthFailure("missing")
			sendError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		owner, err := s.identity.Resolve(r.Context(), token)
		if err != nil {
			if errors.Is(err, identity.ErrUnauthenticated) {
				metrics.IncAuthFailure("invalid")
				s.logger.Warn("unauthorized API request",
					"remote_addr", r.RemoteAddr,
					"path", r.URL.Path,
				)
				sendError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			metrics.IncAuthFailure("unavailable")
			s.logger.Error("identity provider error", "error", err)
			sendError(w, http.StatusServiceUnavailable, "Identity provider unavailable")
			return
		}

		next.ServeHTTP(w, r.WithContext(identity.WithOwner(r.Context(), owner)))
	})
}

// owner returns the authenticated owner; routes behind authMiddleware always have one
func owner(r *http.Request) string {
	o, _ := identity.OwnerFrom(r.Context())
	return o
}
