// idemlayer - HTTP idempotency enforcement core
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hallowell/idemlayer/internal/logging"
	"github.com/hallowell/idemlayer/internal/metrics"
	imw "github.com/hallowell/idemlayer/internal/middleware"
	"github.com/hallowell/idemlayer/internal/stateengine"
)

// RouterConfig configures the demo router's ambient HTTP concerns,
// separate from the idempotency middleware's own configuration.
type RouterConfig struct {
	CORSAllowedOrigins []string
	RateLimitRequests  int
	RateLimitWindow    time.Duration
}

// NewRouter builds the chi route tree: a global middleware stack (request
// ID, recoverer, CORS), health and metrics endpoints, and a /api/v1 group
// carrying rate limiting, request instrumentation, and the idempotency
// middleware ahead of the demo payments handler.
func NewRouter(rcfg RouterConfig, icfg imw.Config, engine *stateengine.Engine) http.Handler {
	r := chi.NewRouter()

	r.Use(requestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: rcfg.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", imw.HeaderKey, imw.HeaderTTL},
		ExposedHeaders: []string{imw.HeaderKey, "Idempotent-Replay", "Retry-After"},
		MaxAge:         300,
	}))

	r.Get("/healthz/live", HealthLive)
	r.Get("/healthz/ready", HealthReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if rcfg.RateLimitRequests > 0 {
			r.Use(httprate.Limit(rcfg.RateLimitRequests, rcfg.RateLimitWindow, httprate.WithKeyFuncs(httprate.KeyByIP)))
		}
		r.Use(instrument)
		r.Use(imw.Idempotency(icfg, engine))

		r.Post("/payments", NewPaymentHandler().ServeHTTP)
	})

	return r
}

// requestIDWithLogging assigns (or propagates) an X-Request-ID and attaches
// it to the request's logging context via logging.ContextWithRequestID, so
// every CtxInfo/CtxErr call made while handling the request carries it.
func requestIDWithLogging() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		chiRequestID := chimiddleware.RequestID(next)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = logging.GenerateRequestID()
				r.Header.Set("X-Request-ID", requestID)
			}

			ctx := logging.ContextWithRequestID(r.Context(), requestID)
			chiRequestID.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// instrument records the HTTP request/response cycle for /metrics.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.RecordHTTPRequest(r.Method, route, strconv.Itoa(status), time.Since(started))
	})
}
