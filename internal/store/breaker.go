// idemlayer - HTTP idempotency enforcement core
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/hallowell/idemlayer/internal/idem"
	"github.com/hallowell/idemlayer/internal/logging"
)

// BreakerConfig tunes the circuit breaker fronting a durable Store.
type BreakerConfig struct {
	Name                string
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32

	// OnStateChange, if set, is invoked in addition to the package's own
	// logging whenever the breaker transitions state, letting a caller
	// outside this package (which cannot import internal/metrics without
	// creating an import cycle through internal/stateengine) record the
	// transition. stateValue is 0 for closed, 0.5 for half-open, 1 for open.
	OnStateChange func(name, from, to string, stateValue float64)
}

// DefaultBreakerConfig picks ready-to-trip thresholds for an embedded store
// that is expected to fail fast rather than tolerate a long unhealthy
// window.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:                "idempotency-store",
		MaxRequests:         3,
		Interval:            time.Minute,
		Timeout:             10 * time.Second,
		ConsecutiveFailures: 5,
	}
}

// BreakerStore wraps a Store with a gobreaker circuit breaker so a
// persistently failing backend fails fast (ErrFault) instead of letting
// every request hang until the engine's execution timeout.
type BreakerStore struct {
	inner Store
	cb    *gobreaker.CircuitBreaker[any]
}

// NewBreakerStore wraps inner behind a circuit breaker built from cfg.
func NewBreakerStore(inner Store, cfg BreakerConfig) *BreakerStore {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("store: circuit breaker state change")
			if cfg.OnStateChange != nil {
				cfg.OnStateChange(name, from.String(), to.String(), breakerStateValue(to))
			}
		},
	}
	return &BreakerStore{inner: inner, cb: gobreaker.NewCircuitBreaker[any](settings)}
}

func (b *BreakerStore) Get(ctx context.Context, key string) (*idem.Record, bool, error) {
	type result struct {
		rec *idem.Record
		ok  bool
	}
	r, err := b.cb.Execute(func() (any, error) {
		rec, ok, err := b.inner.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		return result{rec: rec, ok: ok}, nil
	})
	if err != nil {
		return nil, false, tripErr(err)
	}
	res := r.(result)
	return res.rec, res.ok, nil
}

func (b *BreakerStore) PutNewRunning(ctx context.Context, key, fingerprint string, ttl time.Duration, traceID string) (idem.LeaseResult, error) {
	r, err := b.cb.Execute(func() (any, error) {
		return b.inner.PutNewRunning(ctx, key, fingerprint, ttl, traceID)
	})
	if err != nil {
		return idem.LeaseResult{}, tripErr(err)
	}
	return r.(idem.LeaseResult), nil
}

func (b *BreakerStore) Complete(ctx context.Context, leaseToken string, response *idem.StoredResponse) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.inner.Complete(ctx, leaseToken, response)
	})
	return passthroughErr(err)
}

func (b *BreakerStore) Fail(ctx context.Context, leaseToken string, response *idem.StoredResponse) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, b.inner.Fail(ctx, leaseToken, response)
	})
	return passthroughErr(err)
}

func (b *BreakerStore) CleanupExpired(ctx context.Context, now time.Time) (int, error) {
	r, err := b.cb.Execute(func() (any, error) {
		return b.inner.CleanupExpired(ctx, now)
	})
	if err != nil {
		return 0, tripErr(err)
	}
	return r.(int), nil
}

func (b *BreakerStore) Close() error {
	return b.inner.Close()
}

// tripErr wraps gobreaker's own open-circuit/too-many-requests sentinels as
// an ErrFault so callers only ever see the store's own error taxonomy.
// Errors surfaced by inner itself (ErrUnknownLease, ErrWrongState) pass
// through unwrapped via passthroughErr's callers; Get/PutNewRunning/
// CleanupExpired never return those sentinels, so any error reaching here
// is either a breaker trip or an inner fault.
func tripErr(err error) error {
	if isBreakerErr(err) {
		return fmt.Errorf("%w: %v", ErrFault, err)
	}
	return err
}

// passthroughErr preserves ErrUnknownLease/ErrWrongState from Complete/Fail
// as-is, wrapping only a breaker trip or an underlying fault.
func passthroughErr(err error) error {
	if err == nil {
		return nil
	}
	if isBreakerErr(err) {
		return fmt.Errorf("%w: %v", ErrFault, err)
	}
	return err
}

func isBreakerErr(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// breakerStateValue maps a gobreaker state to the numeric gauge value the
// metrics package exports, independent of gobreaker's own State.String()
// wording.
func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 0.5
	default:
		return 0
	}
}
