// idemlayer - HTTP idempotency enforcement core
// SPDX-License-Identifier: Apache-2.0

// Package stateengine implements the per-key idempotency state machine:
// given an admitted request's key, fingerprint, and a way to
// invoke the downstream handler, it decides whether to execute, replay,
// conflict, or wait, consulting the store for every transition.
package stateengine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hallowell/idemlayer/internal/idem"
	"github.com/hallowell/idemlayer/internal/store"
)

// WaitPolicy controls what happens when a request is admitted for a key
// whose record is currently RUNNING.
type WaitPolicy string

const (
	WaitPolicyWait   WaitPolicy = "wait"
	WaitPolicyNoWait WaitPolicy = "no-wait"
)

// OutcomeKind classifies how Admit resolved a request.
type OutcomeKind string

const (
	// OutcomeExecuted means the handler ran for the first time and its
	// response was stored.
	OutcomeExecuted OutcomeKind = "executed"
	// OutcomeReplayed means a terminal record with a matching fingerprint
	// was found and its stored response is being replayed.
	OutcomeReplayed OutcomeKind = "replayed"
	// OutcomeConflict means a terminal record exists under the key with a
	// different fingerprint.
	OutcomeConflict OutcomeKind = "conflict"
	// OutcomeInProgress means the record is RUNNING and wait_policy is
	// no-wait.
	OutcomeInProgress OutcomeKind = "in_progress"
	// OutcomeTimeout means wait_policy is wait and execution_timeout
	// elapsed before the record left RUNNING.
	OutcomeTimeout OutcomeKind = "timeout"
)

// ErrStoreFault wraps any store.ErrFault surfaced from Admit. It is never
// cached as an idempotency artifact; the middleware maps it to a 500.
var ErrStoreFault = errors.New("stateengine: store fault")

// Outcome is the result of Admit.
type Outcome struct {
	Kind              OutcomeKind
	Response          *idem.StoredResponse
	RetryAfterSeconds int
	IsReplay          bool
}

// Executor invokes the downstream handler and returns the captured
// response. It must not panic in the success path; a panic is recovered
// by Admit and converted into a synthesized 500 FAILED artifact.
type Executor func(ctx context.Context) *idem.StoredResponse

// Config holds per-engine policy, sourced from the idempotency
// configuration surface.
type Config struct {
	TTL              time.Duration
	WaitPolicy       WaitPolicy
	ExecutionTimeout time.Duration
	WaitPollInterval time.Duration
}

// Observer receives outcome and latency observations for metrics.
// New substitutes a noopObserver when given a nil Observer, so the engine
// never calls through a nil interface.
type Observer interface {
	ObserveOutcome(kind OutcomeKind)
	ObserveExecution(d time.Duration)
	ObservePoll(d time.Duration)
}

type noopObserver struct{}

func (noopObserver) ObserveOutcome(OutcomeKind)    {}
func (noopObserver) ObserveExecution(time.Duration) {}
func (noopObserver) ObservePoll(time.Duration)      {}

// Engine runs the per-key idempotency state machine against a Store.
type Engine struct {
	store    store.Store
	cfg      Config
	observer Observer
}

// New constructs an Engine. A nil observer is replaced with a no-op.
func New(s store.Store, cfg Config, observer Observer) *Engine {
	if cfg.WaitPollInterval <= 0 {
		cfg.WaitPollInterval = 100 * time.Millisecond
	}
	if observer == nil {
		observer = noopObserver{}
	}
	return &Engine{store: s, cfg: cfg, observer: observer}
}

// Admit runs the admission algorithm for a single admitted
// request. exec is invoked at most once. ttl overrides the engine's
// configured default for a freshly acquired lease (e.g. a client-supplied
// Idempotency-TTL header, already clamped by the caller); pass 0 to use
// the engine's configured default.
func (e *Engine) Admit(ctx context.Context, key, fingerprint, traceID string, ttl time.Duration, exec Executor) (Outcome, error) {
	if ttl <= 0 {
		ttl = e.cfg.TTL
	}
	deadline := time.Now().Add(e.cfg.ExecutionTimeout)

	for {
		rec, ok, err := e.store.Get(ctx, key)
		if err != nil {
			return Outcome{}, storeFault(err)
		}

		if !ok {
			lease, err := e.store.PutNewRunning(ctx, key, fingerprint, ttl, traceID)
			if err != nil {
				return Outcome{}, storeFault(err)
			}

			if lease.Acquired {
				return e.execute(ctx, lease.LeaseToken, exec)
			}

			// Race lost: fall through using the record the winner wrote,
			// exactly as if it had been observed by Get above.
			rec = lease.Existing
			ok = true
		}

		if !ok || rec == nil {
			// Expired between Get and here; retry acquisition fresh.
			continue
		}

		if rec.Terminal() {
			if rec.Fingerprint != fingerprint {
				e.observer.ObserveOutcome(OutcomeConflict)
				return Outcome{Kind: OutcomeConflict}, nil
			}
			e.observer.ObserveOutcome(OutcomeReplayed)
			return Outcome{Kind: OutcomeReplayed, Response: rec.Response, IsReplay: true}, nil
		}

		// RUNNING.
		if e.cfg.WaitPolicy == WaitPolicyNoWait {
			e.observer.ObserveOutcome(OutcomeInProgress)
			return Outcome{
				Kind:              OutcomeInProgress,
				RetryAfterSeconds: retryAfter(rec, time.Now()),
			}, nil
		}

		outcome, done, err := e.poll(ctx, key, fingerprint, deadline)
		if err != nil {
			return Outcome{}, err
		}
		if done {
			return outcome, nil
		}
		// Record expired mid-poll; loop back to acquisition.
	}
}

// poll implements the wait-policy branch of step 4: repeatedly read the
// record until it leaves RUNNING, expires, or execution_timeout elapses.
func (e *Engine) poll(ctx context.Context, key, fingerprint string, deadline time.Time) (Outcome, bool, error) {
	start := time.Now()
	ticker := time.NewTicker(e.cfg.WaitPollInterval)
	defer ticker.Stop()

	for {
		if time.Now().After(deadline) {
			e.observer.ObservePoll(time.Since(start))
			e.observer.ObserveOutcome(OutcomeTimeout)
			return Outcome{Kind: OutcomeTimeout, RetryAfterSeconds: 1}, true, nil
		}

		select {
		case <-ctx.Done():
			return Outcome{}, false, ctx.Err()
		case <-ticker.C:
		}

		rec, ok, err := e.store.Get(ctx, key)
		if err != nil {
			return Outcome{}, false, storeFault(err)
		}
		if !ok || rec == nil {
			// Expired mid-wait: signal the caller to retry acquisition.
			return Outcome{}, false, nil
		}
		if rec.Terminal() {
			e.observer.ObservePoll(time.Since(start))
			if rec.Fingerprint != fingerprint {
				e.observer.ObserveOutcome(OutcomeConflict)
				return Outcome{Kind: OutcomeConflict}, true, nil
			}
			e.observer.ObserveOutcome(OutcomeReplayed)
			return Outcome{Kind: OutcomeReplayed, Response: rec.Response, IsReplay: true}, true, nil
		}
	}
}

// execute runs exec under the lease acquired by the caller, recovering a
// panic into a synthesized FAILED artifact, and always completes the
// lease before returning so a concurrent cancellation of ctx never leaves
// the record stuck RUNNING when the caller's context is canceled mid-execution.
func (e *Engine) execute(ctx context.Context, lease string, exec Executor) (outcome Outcome, err error) {
	execCtx, cancel := context.WithTimeout(ctx, e.cfg.ExecutionTimeout)
	defer cancel()

	started := time.Now()
	resp := e.runRecovered(execCtx, exec)
	e.observer.ObserveExecution(time.Since(started))

	var completeErr error
	if resp.Status >= 500 {
		completeErr = e.store.Fail(context.WithoutCancel(ctx), lease, resp)
	} else {
		completeErr = e.store.Complete(context.WithoutCancel(ctx), lease, resp)
	}
	if completeErr != nil {
		return Outcome{}, storeFault(completeErr)
	}

	e.observer.ObserveOutcome(OutcomeExecuted)
	return Outcome{Kind: OutcomeExecuted, Response: resp, IsReplay: false}, nil
}

// runRecovered invokes exec, converting a panic into a minimal 500
// artifact rather than letting it escape the state machine.
func (e *Engine) runRecovered(ctx context.Context, exec Executor) (resp *idem.StoredResponse) {
	defer func() {
		if r := recover(); r != nil {
			resp = &idem.StoredResponse{
				Status: 500,
				Body:   []byte(fmt.Sprintf("internal error: %v", r)),
			}
		}
	}()
	return exec(ctx)
}

func retryAfter(rec *idem.Record, now time.Time) int {
	secs := int(rec.ExpiresAt.Sub(now).Seconds())
	if secs < 1 {
		secs = 1
	}
	return secs
}

func storeFault(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreFault, err)
}
