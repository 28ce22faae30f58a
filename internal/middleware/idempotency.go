// idemlayer - HTTP idempotency enforcement core
// SPDX-License-Identifier: Apache-2.0

// Package middleware implements the admission rules: it is the
// only place in this repo that touches net/http types directly on the
// hot path, wiring fingerprint, stateengine, and replay together behind a
// standard func(http.Handler) http.Handler.
package middleware

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/hallowell/idemlayer/internal/fingerprint"
	"github.com/hallowell/idemlayer/internal/idem"
	"github.com/hallowell/idemlayer/internal/logging"
	"github.com/hallowell/idemlayer/internal/replay"
	"github.com/hallowell/idemlayer/internal/stateengine"
)

// HeaderKey is the request header carrying the client-supplied
// idempotency key.
const HeaderKey = "Idempotency-Key"

// HeaderTTL is the optional request header overriding the default TTL for
// a freshly acquired lease, in seconds.
const HeaderTTL = "Idempotency-TTL"

// Config is the subset of the configuration surface the middleware
// itself consults. The engine holds the rest (wait policy, execution
// timeout, poll interval).
type Config struct {
	// EnabledMethods are the HTTP methods the middleware engages on.
	// Default: POST, PUT, PATCH, DELETE.
	EnabledMethods map[string]bool

	// MaxBodyBytes caps the buffered request body used for
	// fingerprinting. 0 disables the cap.
	MaxBodyBytes int64

	// FingerprintHeaders are included (case-insensitively) in the
	// fingerprint computation.
	FingerprintHeaders []string

	// DefaultTTL is used when the client does not send Idempotency-TTL.
	DefaultTTL time.Duration

	// MinTTL and MaxTTL clamp the client-supplied Idempotency-TTL header.
	MinTTL time.Duration
	MaxTTL time.Duration

	// InProgressStatus is the status code returned for a no-wait
	// in-progress admission. Default 409.
	InProgressStatus int

	// TimeoutStatus is the status code returned when a waiting admission
	// exceeds the execution timeout. Default 425.
	TimeoutStatus int
}

// DefaultConfig returns the built-in configuration defaults.
func DefaultConfig() Config {
	return Config{
		EnabledMethods: map[string]bool{
			http.MethodPost:   true,
			http.MethodPut:    true,
			http.MethodPatch:  true,
			http.MethodDelete: true,
		},
		MaxBodyBytes:       1048576,
		FingerprintHeaders: []string{"content-type", "content-length"},
		DefaultTTL:         24 * time.Hour,
		MinTTL:             60 * time.Second,
		MaxTTL:             7 * 24 * time.Hour,
		InProgressStatus:   http.StatusConflict,
		TimeoutStatus:      http.StatusTooEarly,
	}
}

// Idempotency returns HTTP middleware that enforces the admission
// rules in front of engine.
func Idempotency(cfg Config, engine *stateengine.Engine) func(http.Handler) http.Handler {
	if cfg.EnabledMethods == nil {
		cfg = DefaultConfig()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.EnabledMethods[r.Method] {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get(HeaderKey)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			if !validKey(key) {
				http.Error(w, "malformed Idempotency-Key", http.StatusUnprocessableEntity)
				return
			}

			body, ok := readBounded(w, r, cfg.MaxBodyBytes)
			if !ok {
				return
			}

			fp := fingerprint.Compute(fingerprint.Request{
				Method:  r.Method,
				Path:    r.URL.Path,
				Query:   r.URL.RawQuery,
				Headers: r.Header,
				Body:    body,
			}, cfg.FingerprintHeaders)

			traceID := traceIDFrom(r)
			ttl := ttlFrom(r, cfg)

			outcome, err := engine.Admit(r.Context(), key, fp, traceID, ttl, func(ctx context.Context) *idem.StoredResponse {
				return runHandler(next, r.WithContext(ctx), body)
			})
			if err != nil {
				logging.CtxErr(r.Context(), err).Str("key", key).Msg("idempotency: store fault")
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}

			writeOutcome(w, key, cfg, outcome)
		})
	}
}

func writeOutcome(w http.ResponseWriter, key string, cfg Config, outcome stateengine.Outcome) {
	switch outcome.Kind {
	case stateengine.OutcomeExecuted:
		replay.Write(w, key, outcome.Response, false, replay.Options{})
	case stateengine.OutcomeReplayed:
		replay.Write(w, key, outcome.Response, true, replay.Options{})
	case stateengine.OutcomeConflict:
		w.Header().Set(HeaderKey, key)
		http.Error(w, "idempotency key reused with a different request", http.StatusConflict)
	case stateengine.OutcomeInProgress:
		w.Header().Set(HeaderKey, key)
		replay.WriteRetryAfter(w, outcome.RetryAfterSeconds)
		status := cfg.InProgressStatus
		if status == 0 {
			status = http.StatusConflict
		}
		http.Error(w, "request with this idempotency key is already in progress", status)
	case stateengine.OutcomeTimeout:
		w.Header().Set(HeaderKey, key)
		replay.WriteRetryAfter(w, outcome.RetryAfterSeconds)
		status := cfg.TimeoutStatus
		if status == 0 {
			status = http.StatusTooEarly
		}
		http.Error(w, "timed out waiting for the in-progress request to complete", status)
	}
}

// runHandler invokes next against a captured response writer and returns
// the captured artifact for the state engine to store.
func runHandler(next http.Handler, r *http.Request, body []byte) *idem.StoredResponse {
	r.Body = io.NopCloser(bytes.NewReader(body))
	rec := newCaptureWriter()

	started := time.Now()
	next.ServeHTTP(rec, r)

	return &idem.StoredResponse{
		Status:          rec.status,
		Headers:         rec.Header().Clone(),
		Body:            rec.body.Bytes(),
		ExecutionTimeMS: time.Since(started).Milliseconds(),
	}
}

// readBounded buffers up to limit+1 bytes of r.Body; if that exceeds
// limit it writes a 413 and returns ok=false. On success it rewinds
// r.Body so the body is available exactly once downstream.
func readBounded(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, bool) {
	if limit <= 0 {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return nil, false
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
		return body, true
	}

	limited := io.LimitReader(r.Body, limit+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return nil, false
	}
	if int64(len(body)) > limit {
		http.Error(w, "request body exceeds maximum size", http.StatusRequestEntityTooLarge)
		return nil, false
	}

	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, true
}

// validKey enforces the key format: length 1-255, printable ASCII, no CR/LF.
func validKey(key string) bool {
	if len(key) == 0 || len(key) > 255 {
		return false
	}
	for i := 0; i < len(key); i++ {
		c := key[i]
		if c == '\r' || c == '\n' {
			return false
		}
		if c < 0x20 || c > 0x7e {
			return false
		}
	}
	return true
}

func traceIDFrom(r *http.Request) string {
	for _, h := range []string{"X-Request-ID", "X-Trace-ID", "Traceparent"} {
		if v := r.Header.Get(h); v != "" {
			return v
		}
	}
	return ""
}

func ttlFrom(r *http.Request, cfg Config) time.Duration {
	raw := r.Header.Get(HeaderTTL)
	if raw == "" {
		return cfg.DefaultTTL
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs <= 0 {
		return cfg.DefaultTTL
	}
	ttl := time.Duration(secs) * time.Second
	if cfg.MinTTL > 0 && ttl < cfg.MinTTL {
		ttl = cfg.MinTTL
	}
	if cfg.MaxTTL > 0 && ttl > cfg.MaxTTL {
		ttl = cfg.MaxTTL
	}
	return ttl
}
