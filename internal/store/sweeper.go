// idemlayer - HTTP idempotency enforcement core
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"time"

	"github.com/hallowell/idemlayer/internal/logging"
)

// Sweeper runs CleanupExpired against a Store on a fixed interval. It
// implements suture.Service so the process supervisor tree can run
// it as a restartable background task rather than a bare goroutine.
type Sweeper struct {
	store    Store
	interval time.Duration

	// OnSwept, if set, is invoked after each successful sweep with the
	// number of records removed (0 included); a sweep that returns an
	// error does not invoke it. It lets a caller outside this
	// package (which cannot import internal/metrics without creating an
	// import cycle through internal/stateengine) record the observation.
	OnSwept func(n int)
}

// NewSweeper constructs a Sweeper. interval <= 0 falls back to 300s, the
// configuration default.
func NewSweeper(s Store, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 300 * time.Second
	}
	return &Sweeper{store: s, interval: interval}
}

// Serve implements suture.Service. It ticks at the configured interval,
// sweeping expired records until ctx is canceled.
func (w *Sweeper) Serve(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			n, err := w.store.CleanupExpired(ctx, now)
			if err != nil {
				logging.CtxErr(ctx, err).Msg("store: sweep failed")
				continue
			}
			if n > 0 {
				logging.CtxInfo(ctx).Int("removed", n).Msg("store: swept expired records")
			}
			if w.OnSwept != nil {
				w.OnSwept(n)
			}
		}
	}
}

// String implements fmt.Stringer; suture uses it to identify the service
// in log and event output.
func (w *Sweeper) String() string {
	return "idempotency-sweeper"
}
