// idemlayer - HTTP idempotency enforcement core
// SPDX-License-Identifier: Apache-2.0

// Package store defines the idempotency storage contract and ships
// two implementations: an in-process map with per-key locks (Memory) and a
// durable embedded-KV-backed store (Badger).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/hallowell/idemlayer/internal/idem"
)

// Sentinel errors for Complete/Fail, matching the store contract's error
// taxonomy.
var (
	// ErrUnknownLease is returned when the presented lease token does not
	// match the token currently stored under the key, including the
	// case where the key no longer exists at all.
	ErrUnknownLease = errors.New("store: unknown lease")

	// ErrWrongState is returned when the presented lease token matches the
	// record but the record is no longer RUNNING. Memory and Badger clear
	// the lease token on the first Complete/Fail, so a retried Complete/Fail
	// with the same token returns ErrUnknownLease, not ErrWrongState.
	ErrWrongState = errors.New("store: record is not in RUNNING state")

	// ErrFault signals a transient store I/O failure. It
	// is never wrapped around ErrUnknownLease or ErrWrongState.
	ErrFault = errors.New("store: fault")
)

// Store is the storage contract every backend (in-process or durable) must
// satisfy. All methods must be safe for concurrent use by multiple
// goroutines, and linearizable per key.
type Store interface {
	// Get returns the record for key if it exists and is unexpired.
	// A missing or expired record is reported as (nil, false, nil).
	Get(ctx context.Context, key string) (*idem.Record, bool, error)

	// PutNewRunning atomically reserves key: if no unexpired record
	// exists, it writes a RUNNING record with a fresh lease token and
	// returns Acquired=true; otherwise it returns the existing record
	// with Acquired=false.
	PutNewRunning(ctx context.Context, key, fingerprint string, ttl time.Duration, traceID string) (idem.LeaseResult, error)

	// Complete transitions the RUNNING record owning leaseToken to
	// COMPLETED, storing response and clearing the lease. Returns
	// ErrUnknownLease or ErrWrongState on mismatch.
	Complete(ctx context.Context, leaseToken string, response *idem.StoredResponse) error

	// Fail is identical to Complete but transitions to FAILED.
	Fail(ctx context.Context, leaseToken string, response *idem.StoredResponse) error

	// CleanupExpired removes every record with ExpiresAt <= now and
	// returns the number removed. Safe to call concurrently with any
	// other Store method.
	CleanupExpired(ctx context.Context, now time.Time) (int, error)

	// Close releases any resources held by the store (file handles,
	// background goroutines). Safe to call once during shutdown.
	Close() error
}
