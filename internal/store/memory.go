// idemlayer - HTTP idempotency enforcement core
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hallowell/idemlayer/internal/idem"
)

// keyEntry pairs a per-key serialization primitive with the record it
// guards. refs counts the PutNewRunning/Complete/Fail calls that currently
// hold (or are waiting to acquire) mu; Get does not take a reference.
// CleanupExpired never reclaims an entry out from under an in-flight lease
// acquisition or completion, bounding the entry map's growth to live and
// recently-expired keys.
type keyEntry struct {
	mu     sync.Mutex
	record *idem.Record
	refs   int
}

// Memory is the in-process storage backend: a map from key to record,
// guarded by a coarse lock for map mutation plus a per-key mutex to order
// lease acquisition and completion.
type Memory struct {
	mapMu      sync.Mutex
	entries    map[string]*keyEntry
	leaseToKey map[string]string
}

// NewMemory constructs an empty in-process store.
func NewMemory() *Memory {
	return &Memory{
		entries:    make(map[string]*keyEntry),
		leaseToKey: make(map[string]string),
	}
}

// acquire returns the keyEntry for key, creating it if absent, and
// increments its reference count so CleanupExpired will not reclaim it
// until release is called.
func (m *Memory) acquire(key string) *keyEntry {
	m.mapMu.Lock()
	e, ok := m.entries[key]
	if !ok {
		e = &keyEntry{}
		m.entries[key] = e
	}
	e.refs++
	m.mapMu.Unlock()
	return e
}

// release decrements the entry's reference count. It does not delete the
// entry from the map itself; CleanupExpired owns reclamation so the map
// lock is only taken once per sweep rather than once per request.
func (m *Memory) release(e *keyEntry) {
	m.mapMu.Lock()
	e.refs--
	m.mapMu.Unlock()
}

func (m *Memory) Get(_ context.Context, key string) (*idem.Record, bool, error) {
	m.mapMu.Lock()
	e, ok := m.entries[key]
	m.mapMu.Unlock()
	if !ok {
		return nil, false, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.record == nil || e.record.Expired(time.Now()) {
		return nil, false, nil
	}

	cp := *e.record
	return &cp, true, nil
}

func (m *Memory) PutNewRunning(_ context.Context, key, fingerprintVal string, ttl time.Duration, traceID string) (idem.LeaseResult, error) {
	e := m.acquire(key)
	defer m.release(e)

	e.mu.Lock()
	defer e.mu.Unlock()

	now := time.Now()
	if e.record != nil && !e.record.Expired(now) {
		existing := *e.record
		return idem.LeaseResult{Acquired: false, Existing: &existing}, nil
	}

	if e.record != nil {
		// Record existed but expired: drop the stale lease index entry
		// before reusing the key, which would otherwise be shadowed by a
		// post-expiry lease.
		m.mapMu.Lock()
		delete(m.leaseToKey, e.record.LeaseToken)
		m.mapMu.Unlock()
	}

	lease := uuid.New().String()
	e.record = &idem.Record{
		Key:         key,
		Fingerprint: fingerprintVal,
		State:       idem.StateRunning,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
		LeaseToken:  lease,
		TraceID:     traceID,
	}

	m.mapMu.Lock()
	m.leaseToKey[lease] = key
	m.mapMu.Unlock()

	return idem.LeaseResult{Acquired: true, LeaseToken: lease}, nil
}

func (m *Memory) Complete(ctx context.Context, leaseToken string, response *idem.StoredResponse) error {
	return m.transition(ctx, leaseToken, idem.StateCompleted, response)
}

func (m *Memory) Fail(ctx context.Context, leaseToken string, response *idem.StoredResponse) error {
	return m.transition(ctx, leaseToken, idem.StateFailed, response)
}

func (m *Memory) transition(_ context.Context, leaseToken string, target idem.State, response *idem.StoredResponse) error {
	m.mapMu.Lock()
	key, ok := m.leaseToKey[leaseToken]
	m.mapMu.Unlock()
	if !ok {
		return ErrUnknownLease
	}

	e := m.acquire(key)
	defer m.release(e)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.record == nil || e.record.LeaseToken != leaseToken {
		return ErrUnknownLease
	}
	if e.record.State != idem.StateRunning {
		return ErrWrongState
	}

	e.record.State = target
	e.record.Response = response
	e.record.LeaseToken = ""

	m.mapMu.Lock()
	delete(m.leaseToKey, leaseToken)
	m.mapMu.Unlock()

	return nil
}

func (m *Memory) CleanupExpired(_ context.Context, now time.Time) (int, error) {
	m.mapMu.Lock()
	var toCheck []string
	for key := range m.entries {
		toCheck = append(toCheck, key)
	}
	m.mapMu.Unlock()

	removed := 0
	for _, key := range toCheck {
		m.mapMu.Lock()
		e, ok := m.entries[key]
		if !ok {
			m.mapMu.Unlock()
			continue
		}
		m.mapMu.Unlock()

		// The delete happens while e.mu is still held, so a lease acquired
		// after the expiry check cannot be removed along with the entry.
		e.mu.Lock()
		if e.record == nil || e.record.Expired(now) {
			m.mapMu.Lock()
			if e.refs == 0 {
				delete(m.entries, key)
				if e.record != nil && e.record.LeaseToken != "" {
					delete(m.leaseToKey, e.record.LeaseToken)
				}
				removed++
			}
			m.mapMu.Unlock()
		}
		e.mu.Unlock()
	}

	return removed, nil
}

func (m *Memory) Close() error {
	return nil
}
