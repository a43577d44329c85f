package server

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/openpulse/openpulse/pkg/auth"
)

// bearerToken extracts the token from the Authorization header.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

func requesterFrom(r *http.Request) auth.Requester {
	ip := r.Header.Get("X-Forwarded-For")
	if ip == "" {
		ip, _, _ = net.SplitHostPort(r.RemoteAddr)
	} else if idx := strings.IndexByte(ip, ','); idx >= 0 {
		ip = strings.TrimSpace(ip[:idx])
	}
	return auth.Requester{IP: ip, UserAgent: r.UserAgent()}
}

// requirePermission gates a handler behind a token permission. The
// gate appends the access_denied audit entry before the response is
// written.
func (s *Server) requirePermission(permission string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeErrorKind(w, http.StatusUnauthorized, "auth", "missing bearer token")
			return
		}

		ok, err := s.gate.HasPermission(r.Context(), token, permission, requesterFrom(r))
		if err != nil {
			s.writeError(w, err)
			return
		}
		if !ok {
			writeErrorKind(w, http.StatusForbidden, "auth", "permission denied")
			return
		}
		next(w, r)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.WithField("method", r.Method).
			WithField("path", r.URL.Path).
			WithField("status", rec.status).
			WithField("duration_ms", time.Since(start).Milliseconds()).
			Debug("request handled")
	})
}
