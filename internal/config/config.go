// idemlayer - HTTP idempotency enforcement core
// SPDX-License-Identifier: Apache-2.0

// Package config loads the configuration surface through
// koanf's layered providers: built-in defaults, an optional YAML file, then
// environment variable overrides, validated with struct tags evaluated by
// go-playground/validator.
package config

import (
	"time"
)

// Config is the root configuration object.
type Config struct {
	Idempotency IdempotencyConfig `koanf:"idempotency"`
	Store       StoreConfig       `koanf:"store"`
	Server      ServerConfig      `koanf:"server"`
	Logging     LoggingConfig     `koanf:"logging"`
}

// IdempotencyConfig covers the admission and engine configuration surface.
type IdempotencyConfig struct {
	// EnabledMethods are the HTTP methods the middleware engages on.
	EnabledMethods []string `koanf:"enabled_methods" validate:"required,min=1,dive,oneof=POST PUT PATCH DELETE"`

	// DefaultTTL is used when the client omits Idempotency-TTL.
	DefaultTTL time.Duration `koanf:"default_ttl" validate:"required,min=1s"`

	// MinTTL and MaxTTL clamp the client-supplied Idempotency-TTL header.
	MinTTL time.Duration `koanf:"min_ttl" validate:"required,min=1s"`
	MaxTTL time.Duration `koanf:"max_ttl" validate:"required,gtefield=MinTTL"`

	// WaitPolicy is "wait" or "no-wait".
	WaitPolicy string `koanf:"wait_policy" validate:"required,oneof=wait no-wait"`

	// ExecutionTimeout bounds how long a waiting admission polls, and how
	// long the handler itself is allowed to run.
	ExecutionTimeout time.Duration `koanf:"execution_timeout" validate:"required,min=1s"`

	// WaitPollInterval is how often a waiting admission re-checks the
	// record's state.
	WaitPollInterval time.Duration `koanf:"wait_poll_interval" validate:"required,min=1ms"`

	// MaxBodyBytes caps the buffered request body used for fingerprinting.
	// 0 disables the cap.
	MaxBodyBytes int64 `koanf:"max_body_bytes" validate:"gte=0"`

	// FingerprintHeaders are included (case-insensitively) in the
	// fingerprint computation.
	FingerprintHeaders []string `koanf:"fingerprint_headers"`

	// InProgressStatus is returned for a no-wait in-progress admission.
	InProgressStatus int `koanf:"in_progress_status" validate:"oneof=409 425"`

	// TimeoutStatus is returned when a waiting admission exceeds
	// ExecutionTimeout.
	TimeoutStatus int `koanf:"timeout_status" validate:"oneof=425 503"`
}

// StoreConfig selects and tunes the storage backend.
type StoreConfig struct {
	// Backend is "memory" or "badger".
	Backend string `koanf:"backend" validate:"required,oneof=memory badger"`

	// Path is the Badger data directory. Required when Backend is "badger".
	Path string `koanf:"path" validate:"required_if=Backend badger"`

	// CleanupInterval is how often the sweeper invokes CleanupExpired.
	CleanupInterval time.Duration `koanf:"cleanup_interval" validate:"required,min=1s"`

	// Breaker* tune the circuit breaker fronting the durable store.
	// Only consulted when Backend is "badger".
	BreakerMaxRequests         uint32        `koanf:"breaker_max_requests" validate:"gte=0"`
	BreakerInterval            time.Duration `koanf:"breaker_interval" validate:"gte=0"`
	BreakerTimeout             time.Duration `koanf:"breaker_timeout" validate:"gte=0"`
	BreakerConsecutiveFailures uint32        `koanf:"breaker_consecutive_failures" validate:"gte=1"`
}

// ServerConfig is the ambient HTTP transport surface.
type ServerConfig struct {
	Addr         string        `koanf:"addr" validate:"required"`
	ReadTimeout  time.Duration `koanf:"read_timeout" validate:"required,min=1s"`
	WriteTimeout time.Duration `koanf:"write_timeout" validate:"required,min=1s"`
	IdleTimeout  time.Duration `koanf:"idle_timeout" validate:"required,min=1s"`

	// RateLimitRequests and RateLimitWindow configure httprate on the
	// demo API route group.
	RateLimitRequests int           `koanf:"rate_limit_requests" validate:"gte=0"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window" validate:"gte=0"`

	// CORSOrigins lists allowed origins for the demo API.
	CORSOrigins []string `koanf:"cors_origins"`
}

// LoggingConfig is the ambient logging surface, matching the conventions
// of internal/logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal panic"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}
