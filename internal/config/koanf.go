// idemlayer - HTTP idempotency enforcement core
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/go-playground/validator/v10"
)

// DefaultConfigPaths lists the paths searched for a YAML config file, in
// priority order. The first file found is used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/idemlayer/config.yaml",
	"/etc/idemlayer/config.yml",
}

// ConfigPathEnvVar overrides the searched config file path.
const ConfigPathEnvVar = "IDEMLAYER_CONFIG_PATH"

// defaultConfig returns the built-in configuration defaults.
func defaultConfig() *Config {
	return &Config{
		Idempotency: IdempotencyConfig{
			EnabledMethods:     []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
			DefaultTTL:         24 * time.Hour,
			MinTTL:             60 * time.Second,
			MaxTTL:             7 * 24 * time.Hour,
			WaitPolicy:         "wait",
			ExecutionTimeout:   30 * time.Second,
			WaitPollInterval:   100 * time.Millisecond,
			MaxBodyBytes:       1048576,
			FingerprintHeaders: []string{"content-type", "content-length"},
			InProgressStatus:   http.StatusConflict,
			TimeoutStatus:      http.StatusTooEarly,
		},
		Store: StoreConfig{
			Backend:                    "memory",
			Path:                       "/data/idemlayer",
			CleanupInterval:            300 * time.Second,
			BreakerMaxRequests:         3,
			BreakerInterval:            time.Minute,
			BreakerTimeout:             10 * time.Second,
			BreakerConsecutiveFailures: 5,
		},
		Server: ServerConfig{
			Addr:              ":8080",
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
			RateLimitRequests: 100,
			RateLimitWindow:   time.Minute,
			CORSOrigins:       []string{"*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// envMappings maps environment variable names (already lower-cased) to
// koanf dot-paths.
var envMappings = map[string]string{
	"idempotency_enabled_methods":      "idempotency.enabled_methods",
	"idempotency_default_ttl":          "idempotency.default_ttl",
	"idempotency_min_ttl":              "idempotency.min_ttl",
	"idempotency_max_ttl":              "idempotency.max_ttl",
	"idempotency_wait_policy":          "idempotency.wait_policy",
	"idempotency_execution_timeout":    "idempotency.execution_timeout",
	"idempotency_wait_poll_interval":   "idempotency.wait_poll_interval",
	"idempotency_max_body_bytes":       "idempotency.max_body_bytes",
	"idempotency_fingerprint_headers":  "idempotency.fingerprint_headers",
	"idempotency_in_progress_status":   "idempotency.in_progress_status",
	"idempotency_timeout_status":       "idempotency.timeout_status",
	"store_backend":                    "store.backend",
	"store_path":                       "store.path",
	"store_cleanup_interval":           "store.cleanup_interval",
	"store_breaker_max_requests":       "store.breaker_max_requests",
	"store_breaker_interval":           "store.breaker_interval",
	"store_breaker_timeout":            "store.breaker_timeout",
	"store_breaker_consecutive_failures": "store.breaker_consecutive_failures",
	"server_addr":                      "server.addr",
	"server_read_timeout":              "server.read_timeout",
	"server_write_timeout":             "server.write_timeout",
	"server_idle_timeout":              "server.idle_timeout",
	"server_rate_limit_requests":       "server.rate_limit_requests",
	"server_rate_limit_window":         "server.rate_limit_window",
	"server_cors_origins":              "server.cors_origins",
	"log_level":                        "logging.level",
	"log_format":                       "logging.format",
	"log_caller":                       "logging.caller",
}

// sliceConfigPaths are the koanf paths parsed as comma-separated lists when
// they arrive from the environment as a single string.
var sliceConfigPaths = []string{
	"idempotency.enabled_methods",
	"idempotency.fingerprint_headers",
	"server.cors_origins",
}

func envTransformFunc(key string) string {
	key = strings.ToLower(key)
	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}

// Load loads configuration through a layered precedence: built-in
// defaults, then an optional YAML file, then environment variables.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load file %q: %w", path, err)
		}
	}

	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("config: set %s: %w", path, err)
			}
		}
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate runs struct-tag validation over cfg.
func Validate(cfg *Config) error {
	return validate.Struct(cfg)
}
