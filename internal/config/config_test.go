// idemlayer - HTTP idempotency enforcement core
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	old := os.Environ()
	os.Clearenv()
	t.Cleanup(func() {
		os.Clearenv()
		for _, kv := range old {
			for i := 0; i < len(kv); i++ {
				if kv[i] == '=' {
					_ = os.Setenv(kv[:i], kv[i+1:])
					break
				}
			}
		}
	})
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, "wait", cfg.Idempotency.WaitPolicy)
	assert.Equal(t, 24*time.Hour, cfg.Idempotency.DefaultTTL)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("STORE_BACKEND", "badger")
	t.Setenv("STORE_PATH", "/tmp/idem-data")
	t.Setenv("IDEMPOTENCY_WAIT_POLICY", "no-wait")
	t.Setenv("SERVER_ADDR", ":9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "badger", cfg.Store.Backend)
	assert.Equal(t, "/tmp/idem-data", cfg.Store.Path)
	assert.Equal(t, "no-wait", cfg.Idempotency.WaitPolicy)
	assert.Equal(t, ":9090", cfg.Server.Addr)
}

func TestLoadEnvParsesCommaSeparatedSlices(t *testing.T) {
	clearEnv(t)
	t.Setenv("IDEMPOTENCY_ENABLED_METHODS", "POST,DELETE")
	t.Setenv("SERVER_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"POST", "DELETE"}, cfg.Idempotency.EnabledMethods)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
}

func TestValidateRejectsUnknownWaitPolicy(t *testing.T) {
	cfg := defaultConfig()
	cfg.Idempotency.WaitPolicy = "sometimes"

	err := Validate(cfg)
	assert.Error(t, err)
}

func TestValidateRejectsMaxTTLBelowMinTTL(t *testing.T) {
	cfg := defaultConfig()
	cfg.Idempotency.MinTTL = time.Hour
	cfg.Idempotency.MaxTTL = time.Minute

	err := Validate(cfg)
	assert.Error(t, err)
}

func TestValidateRequiresPathWhenBackendIsBadger(t *testing.T) {
	cfg := defaultConfig()
	cfg.Store.Backend = "badger"
	cfg.Store.Path = ""

	err := Validate(cfg)
	assert.Error(t, err)
}

func TestValidateAcceptsDefaults(t *testing.T) {
	cfg := defaultConfig()
	assert.NoError(t, Validate(cfg))
}
