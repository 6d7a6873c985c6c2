package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/punchamoorthee/ledgerops/internal/metrics"
)

// statusRecorder captures the status code a handler wrote, since
// net/http gives no way to read it back afterward.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// countingMiddleware is the outermost interceptor: it records the
// requests-total counter for every outcome, including ones the rate
// limiter rejects before the inner timer ever starts.
func (s *Server) countingMiddleware(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		metrics.RequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	}
}

// rateLimitMiddleware is consulted before the timing interceptor starts
// its clock for the inner handler. Health checks are exempt, mirroring
// common skip-prefixes for health/reflection methods.
func (s *Server) rateLimitMiddleware(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil {
			next(w, r)
			return
		}

		identifier := clientIdentifier(r, route)
		if !s.limiter.Allow(r.Context(), identifier, s.cfg.RateLimitPerWindow, s.cfg.RateLimitWindow) {
			writeError(w, http.StatusTooManyRequests, apiError{Code: "RATE_LIMITED", Message: "rate limit exceeded"})
			return
		}
		next(w, r)
	}
}

// timingMiddleware records the payment/request duration histogram for
// admitted requests only.
func (s *Server) timingMiddleware(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next(w, r)
		metrics.RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

// clientIdentifier derives the rate-limit key the same way the
// original's RateLimitInterceptor._get_identifier does: client-id
// header, then forwarded-for IP, then route name.
func clientIdentifier(r *http.Request, route string) string {
	if clientID := r.Header.Get("X-Client-Id"); clientID != "" {
		return "client:" + clientID
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		ip := strings.TrimSpace(strings.Split(fwd, ",")[0])
		return "ip:" + ip
	}
	return "method:" + route
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, e apiError) {
	writeJSON(w, status, map[string]apiError{"error": e})
}
