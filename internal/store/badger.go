// idemlayer - HTTP idempotency enforcement core
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/hallowell/idemlayer/internal/idem"
)

// Key prefixes used inside the embedded KV engine. Records and the
// lease-token index live in the same keyspace so a single transaction can
// keep both in sync.
const (
	recordKeyPrefix = "idem:rec:"
	leaseKeyPrefix  = "idem:lease:"
)

// lockStripes is the fixed size of the per-key mutex array. Striping
// bounds memory at the cost of false contention between unrelated keys
// that hash to the same stripe, chosen over an unbounded per-key map so
// the durable store never needs its own reclamation pass for lock entries.
const lockStripes = 256

// Badger is a durable Store implementation on top of an embedded,
// disk-persisted key-value engine. It namespaces keys by prefix and relies
// on the engine's transaction API plus a striped in-process mutex for the
// linearizability a single process's view of the store requires (a single
// Badger instance is not itself a distributed lock manager, so two
// processes sharing one database file is not supported).
type Badger struct {
	db      *badger.DB
	stripes [lockStripes]sync.Mutex
}

// OpenBadger opens (creating if absent) a Badger database at dir.
func OpenBadger(dir string) (*Badger, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("store: open badger at %q: %w", dir, err)
	}
	return &Badger{db: db}, nil
}

func (b *Badger) lockFor(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &b.stripes[h.Sum32()%lockStripes]
}

func (b *Badger) Get(_ context.Context, key string) (*idem.Record, bool, error) {
	mu := b.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	rec, ok, err := b.getLocked(key)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrFault, err)
	}
	if !ok {
		return nil, false, nil
	}
	if rec.Expired(time.Now()) {
		return nil, false, nil
	}
	return rec, true, nil
}

// getLocked reads the raw record without applying the expiry check, for
// internal use by operations that need to distinguish "absent" from
// "present but expired" (PutNewRunning reclaims the latter).
func (b *Badger) getLocked(key string) (*idem.Record, bool, error) {
	var rec idem.Record
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(recordKeyPrefix + key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		return nil, false, err
	}
	if rec.Key == "" {
		return nil, false, nil
	}
	return &rec, true, nil
}

func (b *Badger) PutNewRunning(_ context.Context, key, fingerprintVal string, ttl time.Duration, traceID string) (idem.LeaseResult, error) {
	mu := b.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	existing, ok, err := b.getLocked(key)
	if err != nil {
		return idem.LeaseResult{}, fmt.Errorf("%w: %v", ErrFault, err)
	}

	now := time.Now()
	if ok && !existing.Expired(now) {
		return idem.LeaseResult{Acquired: false, Existing: existing}, nil
	}

	lease := uuid.New().String()
	rec := &idem.Record{
		Key:         key,
		Fingerprint: fingerprintVal,
		State:       idem.StateRunning,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
		LeaseToken:  lease,
		TraceID:     traceID,
	}

	err = b.db.Update(func(txn *badger.Txn) error {
		if ok {
			// Reclaim the stale lease index entry.
			_ = txn.Delete([]byte(leaseKeyPrefix + existing.LeaseToken))
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := txn.Set([]byte(recordKeyPrefix+key), data); err != nil {
			return err
		}
		return txn.Set([]byte(leaseKeyPrefix+lease), []byte(key))
	})
	if err != nil {
		return idem.LeaseResult{}, fmt.Errorf("%w: %v", ErrFault, err)
	}

	return idem.LeaseResult{Acquired: true, LeaseToken: lease}, nil
}

func (b *Badger) Complete(ctx context.Context, leaseToken string, response *idem.StoredResponse) error {
	return b.transition(ctx, leaseToken, idem.StateCompleted, response)
}

func (b *Badger) Fail(ctx context.Context, leaseToken string, response *idem.StoredResponse) error {
	return b.transition(ctx, leaseToken, idem.StateFailed, response)
}

func (b *Badger) transition(_ context.Context, leaseToken string, target idem.State, response *idem.StoredResponse) error {
	var key string
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(leaseKeyPrefix + leaseToken))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrUnknownLease
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			key = string(val)
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, ErrUnknownLease) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrFault, err)
	}

	mu := b.lockFor(key)
	mu.Lock()
	defer mu.Unlock()

	rec, ok, err := b.getLocked(key)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFault, err)
	}
	if !ok || rec.LeaseToken != leaseToken {
		return ErrUnknownLease
	}
	if rec.State != idem.StateRunning {
		return ErrWrongState
	}

	rec.State = target
	rec.Response = response
	rec.LeaseToken = ""

	err = b.db.Update(func(txn *badger.Txn) error {
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := txn.Set([]byte(recordKeyPrefix+key), data); err != nil {
			return err
		}
		return txn.Delete([]byte(leaseKeyPrefix + leaseToken))
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFault, err)
	}
	return nil
}

func (b *Badger) CleanupExpired(_ context.Context, now time.Time) (int, error) {
	var expiredKeys []string

	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(recordKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var rec idem.Record
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				continue
			}
			if rec.Expired(now) {
				expiredKeys = append(expiredKeys, rec.Key)
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrFault, err)
	}

	removed := 0
	for _, key := range expiredKeys {
		mu := b.lockFor(key)
		mu.Lock()
		rec, ok, err := b.getLocked(key)
		if err == nil && ok && rec.Expired(now) {
			delErr := b.db.Update(func(txn *badger.Txn) error {
				if rec.LeaseToken != "" {
					_ = txn.Delete([]byte(leaseKeyPrefix + rec.LeaseToken))
				}
				return txn.Delete([]byte(recordKeyPrefix + key))
			})
			if delErr == nil {
				removed++
			}
		}
		mu.Unlock()
	}

	return removed, nil
}

func (b *Badger) Close() error {
	return b.db.Close()
}
