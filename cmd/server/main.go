// idemlayer - HTTP idempotency enforcement core
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hallowell/idemlayer/internal/api"
	"github.com/hallowell/idemlayer/internal/config"
	"github.com/hallowell/idemlayer/internal/logging"
	imw "github.com/hallowell/idemlayer/internal/middleware"
	"github.com/hallowell/idemlayer/internal/metrics"
	"github.com/hallowell/idemlayer/internal/stateengine"
	"github.com/hallowell/idemlayer/internal/store"
	"github.com/hallowell/idemlayer/internal/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().Str("backend", cfg.Store.Backend).Str("addr", cfg.Server.Addr).Msg("starting idemlayer")

	backend, closeBackend, err := openStore(cfg.Store)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to open store backend")
	}
	defer func() {
		if err := closeBackend(); err != nil {
			logging.Error().Err(err).Msg("error closing store backend")
		}
	}()

	engine := stateengine.New(backend, stateengine.Config{
		TTL:              cfg.Idempotency.DefaultTTL,
		WaitPolicy:       stateengine.WaitPolicy(cfg.Idempotency.WaitPolicy),
		ExecutionTimeout: cfg.Idempotency.ExecutionTimeout,
		WaitPollInterval: cfg.Idempotency.WaitPollInterval,
	}, metrics.Observer{})

	router := api.NewRouter(api.RouterConfig{
		CORSAllowedOrigins: cfg.Server.CORSOrigins,
		RateLimitRequests:  cfg.Server.RateLimitRequests,
		RateLimitWindow:    cfg.Server.RateLimitWindow,
	}, middlewareConfig(cfg.Idempotency), engine)

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	slogLogger := logging.NewSlogLogger()
	tree, err := supervisor.NewSupervisorTree(slogLogger, supervisor.DefaultTreeConfig())
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to create supervisor tree")
	}

	sweeper := store.NewSweeper(backend, cfg.Store.CleanupInterval)
	sweeper.OnSwept = metrics.RecordStoreSweep
	tree.AddStorageService(sweeper)
	tree.AddAPIService(supervisor.NewHTTPServerService(httpServer, cfg.Server.WriteTimeout))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("supervisor shutdown error")
		}
	}

	if unstopped, _ := tree.UnstoppedServiceReport(); len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("services failed to stop within timeout")
	}

	logging.Info().Msg("idemlayer stopped gracefully")
}

// openStore selects the configured backend and returns its close func.
func openStore(cfg config.StoreConfig) (store.Store, func() error, error) {
	if cfg.Backend == "badger" {
		b, err := store.OpenBadger(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		breaker := store.NewBreakerStore(b, store.BreakerConfig{
			Name:                "idempotency-store",
			MaxRequests:         cfg.BreakerMaxRequests,
			Interval:            cfg.BreakerInterval,
			Timeout:             cfg.BreakerTimeout,
			ConsecutiveFailures: cfg.BreakerConsecutiveFailures,
			OnStateChange:       metrics.RecordBreakerStateChange,
		})
		return breaker, breaker.Close, nil
	}

	m := store.NewMemory()
	return m, m.Close, nil
}

func middlewareConfig(cfg config.IdempotencyConfig) imw.Config {
	enabled := make(map[string]bool, len(cfg.EnabledMethods))
	for _, method := range cfg.EnabledMethods {
		enabled[method] = true
	}

	return imw.Config{
		EnabledMethods:     enabled,
		MaxBodyBytes:       cfg.MaxBodyBytes,
		FingerprintHeaders: cfg.FingerprintHeaders,
		DefaultTTL:         cfg.DefaultTTL,
		MinTTL:             cfg.MinTTL,
		MaxTTL:             cfg.MaxTTL,
		InProgressStatus:   cfg.InProgressStatus,
		TimeoutStatus:      cfg.TimeoutStatus,
	}
}
