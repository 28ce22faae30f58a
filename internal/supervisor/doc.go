// idemlayer - HTTP idempotency enforcement core
// SPDX-License-Identifier: Apache-2.0

/*
Package supervisor provides process supervision for the idempotency layer
using suture v4.

This package implements a small supervisor tree that manages the lifecycle
of the two long-running services the layer needs: the expired-record
cleanup sweeper and the HTTP server. It provides Erlang/OTP-style
supervision with automatic restart, failure isolation, and graceful
shutdown.

# Overview

	RootSupervisor ("idemlayer")
	├── StorageSupervisor ("storage-layer")
	│   └── Sweeper (store.CleanupExpired on an interval)
	└── APISupervisor ("api-layer")
	    └── HTTPServerService

A crash in the sweeper does not take the HTTP server down, and a panic
recovered by the HTTP server's middleware does not stop the sweeper.

# Usage Example

	logger := slog.Default()
	config := supervisor.DefaultTreeConfig()

	tree, err := supervisor.NewSupervisorTree(logger, config)
	if err != nil {
	    log.Fatal(err)
	}

	tree.AddStorageService(store.NewSweeper(backend, interval))
	tree.AddAPIService(httpServerService)

	if err := tree.Serve(ctx); err != nil {
	    log.Printf("supervisor stopped: %v", err)
	}

# Failure Handling

The supervisor uses a failure counter with exponential decay: each crash
increments the counter, the counter decays over FailureDecay seconds, and
once it exceeds FailureThreshold the supervisor backs off for
FailureBackoff before the next restart attempt.

# Service Interface

All services must implement suture.Service:

	type Service interface {
	    Serve(ctx context.Context) error
	}

Return nil for a clean, non-restarted stop; return an error to be
restarted; return promptly on context cancellation.
*/
package supervisor
