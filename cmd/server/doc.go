// idemlayer - HTTP idempotency enforcement core
// SPDX-License-Identifier: Apache-2.0

/*
Command idemlayer-server runs the demo HTTP application: a chi router
wiring the idempotency middleware in front of a sample payments endpoint,
backed by either the in-process memory store or an embedded Badger store,
supervised by a suture tree alongside the periodic cleanup sweeper.

# Configuration

Configuration loads through internal/config: built-in defaults, then an
optional YAML file, then environment variable overrides. See
internal/config for the full surface.

# Signal handling

SIGINT and SIGTERM trigger a graceful shutdown: the supervisor tree's root
context is canceled, which stops the HTTP server (draining in-flight
requests up to its shutdown timeout) and the cleanup sweeper.
*/
package main
