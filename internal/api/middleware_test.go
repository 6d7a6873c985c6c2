package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/ledgerops/internal/config"
	"github.com/punchamoorthee/ledgerops/internal/metrics"
)

// fakeLimiter is an in-memory stand-in for ratelimit.Limiter: it never
// touches Redis and lets a test dictate the admission outcome directly.
type fakeLimiter struct {
	allow bool
	calls []string
}

func (f *fakeLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) bool {
	f.calls = append(f.calls, key)
	return f.allow
}

func testServer(limiter RateLimiter) *Server {
	return &Server{limiter: limiter, cfg: &config.Config{RateLimitPerWindow: 10, RateLimitWindow: time.Minute}}
}

func TestClientIdentifier_PrefersClientIDHeader(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/v1/payments/authorize", nil)
	r.Header.Set("X-Client-Id", "acct-1")
	r.Header.Set("X-Forwarded-For", "10.0.0.1")

	assert.Equal(t, "client:acct-1", clientIdentifier(r, "authorize_payment"))
}

func TestClientIdentifier_FallsBackToForwardedForIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/v1/payments/authorize", nil)
	r.Header.Set("X-Forwarded-For", "192.168.1.1, 10.0.0.1")

	assert.Equal(t, "ip:192.168.1.1", clientIdentifier(r, "authorize_payment"))
}

func TestClientIdentifier_FallsBackToRouteName(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/v1/payments/authorize", nil)

	assert.Equal(t, "method:authorize_payment", clientIdentifier(r, "authorize_payment"))
}

func TestRateLimitMiddleware_SkipsWhenLimiterNil(t *testing.T) {
	s := testServer(nil)
	called := false
	h := s.rateLimitMiddleware("authorize_payment", func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/v1/payments/authorize", nil))

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitMiddleware_AllowsUnderLimit(t *testing.T) {
	limiter := &fakeLimiter{allow: true}
	s := testServer(limiter)
	called := false
	h := s.rateLimitMiddleware("authorize_payment", func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/v1/payments/authorize", nil))

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, limiter.calls, 1)
}

func TestRateLimitMiddleware_BlocksOverLimit(t *testing.T) {
	limiter := &fakeLimiter{allow: false}
	s := testServer(limiter)
	called := false
	h := s.rateLimitMiddleware("authorize_payment", func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/v1/payments/authorize", nil))

	assert.False(t, called, "the wrapped handler must never run once the rate limiter rejects the request")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

// TestWrap_RejectedRequestNeverStartsTimer pins the ordering contract: the
// rate limiter sits ahead of the timing interceptor, so a rejected
// request contributes nothing to the duration histogram, while the
// counting interceptor, sitting outside both, still records it.
func TestWrap_RejectedRequestNeverStartsTimer(t *testing.T) {
	limiter := &fakeLimiter{allow: false}
	s := testServer(limiter)

	innerCalled := false
	route := "wrap_rejected_test_route"
	h := s.wrap(route, func(w http.ResponseWriter, r *http.Request) {
		innerCalled = true
		w.WriteHeader(http.StatusOK)
	})

	before := testutil.CollectAndCount(metrics.RequestDuration)

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/v1/payments/authorize", nil))

	assert.False(t, innerCalled)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	after := testutil.CollectAndCount(metrics.RequestDuration)
	assert.Equal(t, before, after, "a rejected request must not observe into the timing histogram")

	got := testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues(route, "429"))
	assert.Equal(t, float64(1), got, "the outer counter must still record the rejected outcome")
}

// TestWrap_AdmittedRequestCountsAndTimes exercises the opposite path: an
// admitted request runs the inner handler, is timed, and is counted once
// under its actual status.
func TestWrap_AdmittedRequestCountsAndTimes(t *testing.T) {
	limiter := &fakeLimiter{allow: true}
	s := testServer(limiter)

	route := "wrap_admitted_test_route"
	h := s.wrap(route, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodPost, "/v1/payments/authorize", nil))

	assert.Equal(t, http.StatusCreated, rec.Code)
	got := testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues(route, "201"))
	assert.Equal(t, float64(1), got)
}

func TestCountingMiddleware_DefaultsToOKWhenHandlerNeverCallsWriteHeader(t *testing.T) {
	s := testServer(nil)
	route := "counting_default_status_test_route"
	h := s.countingMiddleware(route, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	got := testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues(route, "200"))
	assert.Equal(t, float64(1), got)
}

func TestTimingMiddleware_ObservesOnlyOnceAdmitted(t *testing.T) {
	s := testServer(nil)
	route := "timing_admitted_test_route"
	h := s.timingMiddleware(route, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	before := testutil.CollectAndCount(metrics.RequestDuration)
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	after := testutil.CollectAndCount(metrics.RequestDuration)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, before+1, after)
}
