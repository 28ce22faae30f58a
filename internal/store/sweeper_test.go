// idemlayer - HTTP idempotency enforcement core
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweeperRemovesExpiredRecordsOnTick(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, err := m.PutNewRunning(ctx, "k1", "fp1", time.Millisecond, "")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	sw := NewSweeper(m, 5*time.Millisecond)
	runCtx, cancel := context.WithTimeout(ctx, 40*time.Millisecond)
	defer cancel()

	err = sw.Serve(runCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotContains(t, m.entries, "k1")

	_, ok, err := m.Get(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSweeperStopsOnContextCancel(t *testing.T) {
	m := NewMemory()
	sw := NewSweeper(m, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sw.Serve(ctx) }()

	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}

func TestSweeperDefaultsIntervalWhenNonPositive(t *testing.T) {
	sw := NewSweeper(NewMemory(), 0)
	assert.Equal(t, 300*time.Second, sw.interval)
}

func TestSweeperStringIdentifiesService(t *testing.T) {
	sw := NewSweeper(NewMemory(), time.Second)
	assert.Equal(t, "idempotency-sweeper", sw.String())
}
