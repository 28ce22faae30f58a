// idemlayer - HTTP idempotency enforcement core
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	imw "github.com/hallowell/idemlayer/internal/middleware"
	"github.com/hallowell/idemlayer/internal/stateengine"
	"github.com/hallowell/idemlayer/internal/store"
)

func testRouter() http.Handler {
	engine := stateengine.New(store.NewMemory(), stateengine.Config{
		TTL:              time.Hour,
		WaitPolicy:       stateengine.WaitPolicyWait,
		ExecutionTimeout: time.Second,
		WaitPollInterval: time.Millisecond,
	}, nil)

	return NewRouter(RouterConfig{
		CORSAllowedOrigins: []string{"*"},
		RateLimitRequests:  0,
	}, imw.DefaultConfig(), engine)
}

func TestRouterHealthEndpoints(t *testing.T) {
	r := testRouter()

	for _, path := range []string{"/healthz/live", "/healthz/ready"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestRouterMetricsEndpointServesPrometheusText(t *testing.T) {
	r := testRouter()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouterPaymentsHappyPathThenReplay(t *testing.T) {
	r := testRouter()

	req := func() *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/payments", strings.NewReader(`{"amount":100}`))
		req.Header.Set(imw.HeaderKey, "k1")
		req.Header.Set("Content-Type", "application/json")
		return req
	}

	rec1 := httptest.NewRecorder()
	r.ServeHTTP(rec1, req())
	require.Equal(t, http.StatusCreated, rec1.Code)
	assert.Empty(t, rec1.Header().Get("Idempotent-Replay"))
	body1 := rec1.Body.String()

	rec2 := httptest.NewRecorder()
	r.ServeHTTP(rec2, req())
	require.Equal(t, http.StatusCreated, rec2.Code)
	assert.Equal(t, "true", rec2.Header().Get("Idempotent-Replay"))
	assert.Equal(t, body1, rec2.Body.String())
}

func TestRouterPaymentsConflictOnFingerprintMismatch(t *testing.T) {
	r := testRouter()

	first := httptest.NewRequest(http.MethodPost, "/api/v1/payments", strings.NewReader(`{"amount":100}`))
	first.Header.Set(imw.HeaderKey, "k2")
	rec1 := httptest.NewRecorder()
	r.ServeHTTP(rec1, first)
	require.Equal(t, http.StatusCreated, rec1.Code)

	second := httptest.NewRequest(http.MethodPost, "/api/v1/payments", strings.NewReader(`{"amount":200}`))
	second.Header.Set(imw.HeaderKey, "k2")
	rec2 := httptest.NewRecorder()
	r.ServeHTTP(rec2, second)
	assert.Equal(t, http.StatusConflict, rec2.Code)
}

func TestRouterPaymentsWithoutKeyAlwaysRunsHandler(t *testing.T) {
	r := testRouter()

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/payments", strings.NewReader(`{"amount":5}`))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code)
	}
}
