package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
)

// Snapshot produces a fully serialized point-in-time image of the
// queue+history state. The closure is expected to acquire the queue lock,
// call Store.Encode, and release the lock before returning, so the Flusher's
// disk write never runs inside the lock.
type Snapshot func() *Encoded

// Flusher throttles persistence to at most one write per second and
// retries a transient I/O failure with backoff.
type Flusher struct {
	store    *Store
	snapshot Snapshot
	log      *slog.Logger

	mu      sync.Mutex
	dirty   bool
	lastRun time.Time

	minInterval time.Duration
}

// NewFlusher constructs a Flusher. snapshot is called (under whatever lock
// the caller's system requires) only when a flush is actually about to run.
func NewFlusher(st *Store, snapshot Snapshot, log *slog.Logger) *Flusher {
	return &Flusher{
		store:       st,
		snapshot:    snapshot,
		log:         log.With("component", "store-flusher"),
		minInterval: time.Second,
	}
}

// SetInterval overrides the minimum time between flushes; values at or
// below zero keep the one-second default. Call before Run.
func (fl *Flusher) SetInterval(d time.Duration) {
	if d > 0 {
		fl.minInterval = d
	}
}

// RequestFlush marks the state dirty. The next tick of Run will persist it,
// provided at least minInterval has elapsed since the last flush.
func (fl *Flusher) RequestFlush() {
	fl.mu.Lock()
	fl.dirty = true
	fl.mu.Unlock()
}

// Run ticks every minInterval (one second unless SetInterval changed it)
// until ctx is canceled, flushing whenever the state is dirty and
// minInterval has elapsed since the last flush.
func (fl *Flusher) Run(ctx context.Context) {
	ticker := time.NewTicker(fl.minInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fl.FlushNow(context.Background())
			return
		case <-ticker.C:
			fl.tick(ctx)
		}
	}
}

func (fl *Flusher) tick(ctx context.Context) {
	fl.mu.Lock()
	due := fl.dirty && time.Since(fl.lastRun) >= fl.minInterval
	fl.mu.Unlock()
	if !due {
		return
	}
	fl.FlushNow(ctx)
}

// FlushNow saves immediately, regardless of the dirty flag or interval gate,
// retrying on transient I/O error. Used for shutdown and for tests.
func (fl *Flusher) FlushNow(ctx context.Context) {
	enc := fl.snapshot()

	err := retry.Do(
		func() error { return fl.store.WriteEncoded(enc) },
		retry.Attempts(3),
		retry.Delay(50*time.Millisecond),
		retry.MaxDelay(2*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			fl.log.Warn("flush failed, retrying", "attempt", n+1, "err", err)
		}),
	)
	if err != nil {
		fl.log.Error("flush failed after retries", "err", err)
		return
	}

	fl.mu.Lock()
	fl.dirty = false
	fl.lastRun = time.Now()
	fl.mu.Unlock()
}
