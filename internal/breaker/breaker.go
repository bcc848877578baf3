// Package breaker wraps sony/gobreaker for chain-call protection: repeated
// broadcast/receipt failures against a misbehaving RPC endpoint should trip
// open rather than let every rule evaluation hang on the same dead node.
package breaker

import (
	"time"

	cb "github.com/sony/gobreaker"
)

// Breaker guards a single named upstream dependency.
type Breaker struct {
	cb *cb.CircuitBreaker
}

// New constructs a Breaker that trips after 3 consecutive failures, or
// after a failure ratio above 5% once at least 20 requests have been seen
// in the rolling interval, then stays open for a cooldown before probing.
func New(name string) *Breaker {
	st := cb.Settings{Name: name}
	st.Interval = 60 * time.Second
	st.Timeout = 30 * time.Second
	st.ReadyToTrip = func(counts cb.Counts) bool {
		if counts.ConsecutiveFailures >= 3 {
			return true
		}
		total := counts.Requests
		if total < 20 {
			return false
		}
		return float64(counts.TotalFailures)/float64(total) > 0.05
	}
	return &Breaker{cb: cb.NewCircuitBreaker(st)}
}

// Execute runs fn through the breaker, short-circuiting with
// gobreaker.ErrOpenState/ErrTooManyRequests when tripped.
func (b *Breaker) Execute(fn func() (any, error)) (any, error) {
	return b.cb.Execute(fn)
}

// State exposes the current breaker state for observability/metrics.
func (b *Breaker) State() cb.State {
	return b.cb.State()
}
