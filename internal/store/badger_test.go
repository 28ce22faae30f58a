// idemlayer - HTTP idempotency enforcement core
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hallowell/idemlayer/internal/idem"
)

func newTestBadger(t *testing.T) *Badger {
	t.Helper()
	b, err := OpenBadger(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestBadgerPutNewRunningAcquiresOnce(t *testing.T) {
	b := newTestBadger(t)
	ctx := context.Background()

	res1, err := b.PutNewRunning(ctx, "k1", "fp1", time.Minute, "")
	require.NoError(t, err)
	assert.True(t, res1.Acquired)
	assert.NotEmpty(t, res1.LeaseToken)

	res2, err := b.PutNewRunning(ctx, "k1", "fp1", time.Minute, "")
	require.NoError(t, err)
	assert.False(t, res2.Acquired)
	require.NotNil(t, res2.Existing)
	assert.Equal(t, idem.StateRunning, res2.Existing.State)
}

func TestBadgerCompleteClearsLease(t *testing.T) {
	b := newTestBadger(t)
	ctx := context.Background()

	res, err := b.PutNewRunning(ctx, "k1", "fp1", time.Minute, "")
	require.NoError(t, err)

	resp := &idem.StoredResponse{Status: 201, Body: []byte("ok")}
	require.NoError(t, b.Complete(ctx, res.LeaseToken, resp))

	rec, ok, err := b.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, idem.StateCompleted, rec.State)
	assert.Empty(t, rec.LeaseToken)
	assert.Equal(t, 201, rec.Response.Status)
}

func TestBadgerCompleteUnknownLease(t *testing.T) {
	b := newTestBadger(t)
	err := b.Complete(context.Background(), "does-not-exist", &idem.StoredResponse{})
	assert.ErrorIs(t, err, ErrUnknownLease)
}

func TestBadgerCompleteWrongState(t *testing.T) {
	b := newTestBadger(t)
	ctx := context.Background()

	res, err := b.PutNewRunning(ctx, "k1", "fp1", time.Minute, "")
	require.NoError(t, err)
	require.NoError(t, b.Complete(ctx, res.LeaseToken, &idem.StoredResponse{Status: 200}))

	// Retrying complete with the same (now-cleared) lease token must not
	// silently succeed again.
	err = b.Complete(ctx, res.LeaseToken, &idem.StoredResponse{Status: 200})
	assert.ErrorIs(t, err, ErrUnknownLease)
}

func TestBadgerStaleLeaseRejectedAfterSupersede(t *testing.T) {
	b := newTestBadger(t)
	ctx := context.Background()

	res, err := b.PutNewRunning(ctx, "k1", "fp1", 10*time.Millisecond, "")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	res2, err := b.PutNewRunning(ctx, "k1", "fp2", time.Minute, "")
	require.NoError(t, err)
	assert.True(t, res2.Acquired)
	assert.NotEqual(t, res.LeaseToken, res2.LeaseToken)

	err = b.Complete(ctx, res.LeaseToken, &idem.StoredResponse{})
	assert.ErrorIs(t, err, ErrUnknownLease)
}

func TestBadgerGetReturnsAbsentAfterExpiry(t *testing.T) {
	b := newTestBadger(t)
	ctx := context.Background()

	_, err := b.PutNewRunning(ctx, "k1", "fp1", 10*time.Millisecond, "")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	_, ok, err := b.Get(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBadgerCleanupExpiredRemovesOnlyExpired(t *testing.T) {
	b := newTestBadger(t)
	ctx := context.Background()

	_, err := b.PutNewRunning(ctx, "expired", "fp1", 10*time.Millisecond, "")
	require.NoError(t, err)
	_, err = b.PutNewRunning(ctx, "alive", "fp2", time.Minute, "")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	count, err := b.CleanupExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, ok, _ := b.Get(ctx, "alive")
	assert.True(t, ok)
}

func TestBadgerSingleFlightUnderConcurrency(t *testing.T) {
	b := newTestBadger(t)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	acquired := make([]bool, n)

	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(idx int) {
			defer wg.Done()
			res, err := b.PutNewRunning(ctx, "shared-key", "fp1", time.Minute, "")
			require.NoError(t, err)
			acquired[idx] = res.Acquired
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, a := range acquired {
		if a {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
}

func TestBadgerFailTransitionsToFailed(t *testing.T) {
	b := newTestBadger(t)
	ctx := context.Background()

	res, err := b.PutNewRunning(ctx, "k1", "fp1", time.Minute, "")
	require.NoError(t, err)

	require.NoError(t, b.Fail(ctx, res.LeaseToken, &idem.StoredResponse{Status: 500}))

	rec, ok, err := b.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, idem.StateFailed, rec.State)
}

func TestBadgerPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	b1, err := OpenBadger(dir)
	require.NoError(t, err)

	res, err := b1.PutNewRunning(ctx, "k1", "fp1", time.Minute, "")
	require.NoError(t, err)
	require.NoError(t, b1.Complete(ctx, res.LeaseToken, &idem.StoredResponse{Status: 200}))
	require.NoError(t, b1.Close())

	b2, err := OpenBadger(dir)
	require.NoError(t, err)
	defer func() { _ = b2.Close() }()

	rec, ok, err := b2.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, idem.StateCompleted, rec.State)
}
