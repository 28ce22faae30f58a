// idemlayer - HTTP idempotency enforcement core
// SPDX-License-Identifier: Apache-2.0

// Package api is the demo HTTP application exercising the idempotency
// middleware: a chi router wiring request ID, recovery, CORS,
// rate limiting, and Prometheus instrumentation around a sample handler.
package api

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/hallowell/idemlayer/internal/logging"
)

// Envelope is the standardized JSON response wrapper for every demo
// endpoint.
type Envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorBody  `json:"error,omitempty"`
	Meta    *Meta       `json:"meta,omitempty"`
}

// ErrorBody carries a machine-readable error code alongside a
// human-readable message.
type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// Meta carries response metadata common to success and error envelopes.
type Meta struct {
	RequestID  string    `json:"request_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	DurationMs int64     `json:"duration_ms,omitempty"`
}

const (
	ErrCodeBadRequest    = "BAD_REQUEST"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// ResponseWriter writes Envelope-wrapped JSON responses, tracking elapsed
// time and the request's correlation ID.
type ResponseWriter struct {
	w         http.ResponseWriter
	r         *http.Request
	startTime time.Time
}

// NewResponseWriter wraps w/r for envelope-style responses.
func NewResponseWriter(w http.ResponseWriter, r *http.Request) *ResponseWriter {
	return &ResponseWriter{w: w, r: r, startTime: time.Now()}
}

// Success writes a 200 response wrapping data.
func (rw *ResponseWriter) Success(data interface{}) {
	rw.writeJSON(http.StatusOK, Envelope{Success: true, Data: data, Meta: rw.meta()})
}

// Created writes a 201 response wrapping data.
func (rw *ResponseWriter) Created(data interface{}) {
	rw.writeJSON(http.StatusCreated, Envelope{Success: true, Data: data, Meta: rw.meta()})
}

// Error writes an error envelope at statusCode.
func (rw *ResponseWriter) Error(statusCode int, code, message string) {
	m := rw.meta()
	rw.writeJSON(statusCode, Envelope{
		Success: false,
		Error:   &ErrorBody{Code: code, Message: message, RequestID: m.RequestID},
		Meta:    m,
	})
}

// BadRequest writes a 400 error.
func (rw *ResponseWriter) BadRequest(message string) {
	rw.Error(http.StatusBadRequest, ErrCodeBadRequest, message)
}

// NotFound writes a 404 error.
func (rw *ResponseWriter) NotFound(message string) {
	rw.Error(http.StatusNotFound, ErrCodeNotFound, message)
}

// InternalError writes a 500 error.
func (rw *ResponseWriter) InternalError(message string) {
	rw.Error(http.StatusInternalServerError, ErrCodeInternalError, message)
}

func (rw *ResponseWriter) meta() *Meta {
	return &Meta{
		RequestID:  logging.RequestIDFromContext(rw.r.Context()),
		Timestamp:  time.Now(),
		DurationMs: time.Since(rw.startTime).Milliseconds(),
	}
}

func (rw *ResponseWriter) writeJSON(statusCode int, data interface{}) {
	rw.w.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.w.WriteHeader(statusCode)
	if err := json.NewEncoder(rw.w).Encode(data); err != nil {
		logging.Error().Err(err).Msg("api: failed to encode JSON response")
	}
}

// WriteSuccess is a convenience wrapper for handlers that don't need the
// full ResponseWriter.
func WriteSuccess(w http.ResponseWriter, r *http.Request, data interface{}) {
	NewResponseWriter(w, r).Success(data)
}

// WriteError is a convenience wrapper for error responses.
func WriteError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	NewResponseWriter(w, r).Error(statusCode, code, message)
}
