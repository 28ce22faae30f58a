// idemlayer - HTTP idempotency enforcement core
// SPDX-License-Identifier: Apache-2.0

package logging

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type contextKey string

// requestIDKey is the context key the router's request-ID middleware uses
// to propagate a per-request correlation value into every log line the
// request's handling produces.
const requestIDKey contextKey = "request_id"

// GenerateRequestID creates a new unique request ID for a request that
// arrived without one.
func GenerateRequestID() string {
	return uuid.New().String()
}

// ContextWithRequestID returns a new context carrying id as the request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext retrieves the request ID from context, or "" if none
// was set.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// ctxLogger returns the global logger with the context's request ID
// attached as a field, if present.
func ctxLogger(ctx context.Context) zerolog.Logger {
	l := Logger()
	if id := RequestIDFromContext(ctx); id != "" {
		l = l.With().Str("request_id", id).Logger()
	}
	return l
}

// CtxInfo starts an info-level message carrying ctx's request ID.
func CtxInfo(ctx context.Context) *zerolog.Event {
	l := ctxLogger(ctx)
	return l.Info()
}

// CtxErr starts an error-level message carrying ctx's request ID and err.
func CtxErr(ctx context.Context, err error) *zerolog.Event {
	l := ctxLogger(ctx)
	return l.Err(err)
}
