// idemlayer - HTTP idempotency enforcement core
// SPDX-License-Identifier: Apache-2.0

// Package logging provides the process-wide zerolog logger idemlayer logs
// through, plus a thin context layer that carries a per-request ID into
// every log line emitted while handling that request.
//
// # Quick Start
//
//	logging.Init(logging.Config{Level: "info", Format: "json"})
//
//	logging.Info().Str("backend", cfg.Store.Backend).Msg("starting idemlayer")
//	logging.CtxErr(ctx, err).Str("key", key).Msg("idempotency: store fault")
//
// # Configuration
//
//	LOG_LEVEL  - trace, debug, info, warn, error, fatal, panic (default: info)
//	LOG_FORMAT - json or console (default: json)
//	LOG_CALLER - include caller file:line (default: false)
//
// # Request-scoped logging
//
// internal/api's router middleware stamps every inbound request with an ID
// via ContextWithRequestID, generated by GenerateRequestID when the client
// sends none. CtxInfo and CtxErr read that ID back out of the context and
// attach it as a structured field, so every log line for one request shares
// a correlatable request_id without the caller threading a logger by hand.
//
// Always terminate a log chain with .Msg() or .Send(); a chain left
// unterminated never emits.
package logging
