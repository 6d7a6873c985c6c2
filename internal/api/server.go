// Package api exposes the authorization engine's contract over
// JSON-over-HTTP via gorilla/mux. The request/response contract (fields,
// status mapping, error taxonomy) is realized here as JSON endpoints
// rather than a binary-framed RPC surface, keeping wire transport
// swappable independently of the engine and store layers.
package api

import (
	"context"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/punchamoorthee/ledgerops/internal/config"
	"github.com/punchamoorthee/ledgerops/internal/engine"
	"github.com/punchamoorthee/ledgerops/internal/store"
)

// RateLimiter is the one method the server needs from *ratelimit.Limiter.
// Depending on this interface rather than the concrete Redis-backed type
// lets the admission chain be exercised against a fake in tests. Callers
// wiring up a real server should leave the variable holding the limiter
// typed as this interface (not *ratelimit.Limiter) when it may be absent,
// or a nil *ratelimit.Limiter boxed into the interface will compare
// non-nil and panic on first use.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) bool
}

// Server owns the RPC listener, the separate metrics listener, and the
// serving/draining health flag toggled during shutdown.
type Server struct {
	engine  *engine.Engine
	db      *store.Store
	limiter RateLimiter
	cfg     *config.Config
	log     zerolog.Logger

	serving  atomic.Bool
	rpcSrv   *http.Server
	metricsSrv *http.Server
}

// New wires the router and both HTTP servers. limiter may be nil, in
// which case rate limiting is skipped entirely (no shared store
// configured) rather than failing closed.
func New(eng *engine.Engine, db *store.Store, limiter RateLimiter, cfg *config.Config, log zerolog.Logger) *Server {
	s := &Server{engine: eng, db: db, limiter: limiter, cfg: cfg, log: log.With().Str("component", "api").Logger()}
	s.serving.Store(true)

	router := mux.NewRouter()
	router.HandleFunc("/v1/payments/authorize", s.wrap("authorize_payment", s.handleAuthorize)).Methods(http.MethodPost)
	router.HandleFunc("/v1/payments/{id}", s.wrap("get_payment", s.handleGetPayment)).Methods(http.MethodGet)
	router.HandleFunc("/v1/accounts/{id}/balance", s.wrap("get_account_balance", s.handleGetBalance)).Methods(http.MethodGet)
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	s.rpcSrv = &http.Server{Addr: ":" + cfg.RPCPort, Handler: router}

	metricsRouter := mux.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())
	s.metricsSrv = &http.Server{Addr: net.JoinHostPort(cfg.MetricsHost, cfg.MetricsPort), Handler: metricsRouter}

	return s
}

// Run starts both listeners and blocks until ctx is cancelled, then
// drains: flip health to NOT-SERVING, stop accepting new requests, allow
// shutdown_grace for in-flight requests to finish.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 2)

	go func() {
		s.log.Info().Str("addr", s.rpcSrv.Addr).Msg("rpc_listener_started")
		if err := s.rpcSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	go func() {
		s.log.Info().Str("addr", s.metricsSrv.Addr).Msg("metrics_listener_started")
		if err := s.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	s.serving.Store(false)
	s.log.Info().Dur("grace", s.cfg.ShutdownGrace).Msg("draining")

	drainCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGrace)
	defer cancel()

	_ = s.rpcSrv.Shutdown(drainCtx)
	_ = s.metricsSrv.Shutdown(drainCtx)
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.serving.Load() {
		writeJSON(w, http.StatusOK, map[string]string{"status": "SERVING"})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "NOT_SERVING"})
}

// wrap builds the interceptor chain for a route: an outer counter that
// records every outcome including rate-limit rejections, the rate
// limiter itself, and an inner timer that starts only once a request is
// admitted.
func (s *Server) wrap(route string, h http.HandlerFunc) http.HandlerFunc {
	timed := s.timingMiddleware(route, h)
	limited := s.rateLimitMiddleware(route, timed)
	return s.countingMiddleware(route, limited)
}
