// Package keyed implements per-key serialization without a process-wide
// mutex: a map from key to a single-worker task queue, so throughput
// scales with the number of distinct keys (spec §9 design notes). This
// backs both the Last-Good Store's at-most-one-writer-per-token
// invariant (spec §4.4) and the Execution Engine's at-most-one
// in-flight-intent-per-rule invariant (spec §4.6.3).
package keyed

import (
	"context"

	"github.com/alitto/pond/v2"
	"github.com/puzpuzpuz/xsync/v4"
)

// Dispatcher lazily creates one single-worker pool per key and routes
// every Submit for that key through it, guaranteeing at most one
// in-flight task per key while letting distinct keys run fully in
// parallel.
type Dispatcher struct {
	pools *xsync.Map[string, pond.Pool]
}

// New constructs an empty Dispatcher.
func New() *Dispatcher {
	return &Dispatcher{pools: xsync.NewMap[string, pond.Pool]()}
}

// Submit runs fn serialized against every other Submit sharing the same
// key, blocking the caller until fn returns or ctx is cancelled.
func (d *Dispatcher) Submit(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	pool, _ := d.pools.LoadOrCompute(key, func() (pond.Pool, bool) {
		return pond.NewPool(1), false
	})

	task := pool.SubmitErr(func() error {
		return fn(ctx)
	})

	done := make(chan error, 1)
	go func() { done <- task.Wait() }()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// Close releases every per-key pool's resources. It must be called only
// after no further Submit calls will be made.
func (d *Dispatcher) Close() {
	d.pools.Range(func(_ string, pool pond.Pool) bool {
		pool.StopAndWait()
		return true
	})
}
