// Package metrics records Prometheus counters/histograms for the pieces
// of the pipeline an operator actually pages on: which degradation mode
// Stage A lands in, how often sources diverge, how transfer intents move
// through their state machine, and how slow the chain client is.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder is safe to use as a nil *Recorder: every method no-ops if the
// receiver is nil, so components can take an optional Recorder without
// a second "is metrics enabled" flag.
type Recorder struct {
	modeTotal         *prometheus.CounterVec
	divergenceTotal   *prometheus.CounterVec
	intentStatusTotal *prometheus.CounterVec
	chainCallDuration *prometheus.HistogramVec
}

// New registers and returns a Recorder against the default registry.
func New() *Recorder {
	return &Recorder{
		modeTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "treasury_aggregation_mode_total",
			Help: "Consolidated price mode chosen by Stage A, by token and mode",
		}, []string{"token_id", "mode"}),
		divergenceTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "treasury_divergence_events_total",
			Help: "Quotes that diverged from the chosen consolidated price beyond deltaBps",
		}, []string{"token_id", "source"}),
		intentStatusTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "treasury_intent_status_total",
			Help: "Transfer intent status transitions, by rule and resulting status",
		}, []string{"rule_id", "status"}),
		chainCallDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "treasury_chain_call_duration_seconds",
			Help:    "Latency of outbound chain client calls, by method",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
	}
}

// RecordMode increments the aggregation-mode counter for tokenID/mode.
func (r *Recorder) RecordMode(tokenID, mode string) {
	if r == nil {
		return
	}
	r.modeTotal.WithLabelValues(tokenID, mode).Inc()
}

// RecordDivergence increments the divergence-event counter for
// tokenID/source.
func (r *Recorder) RecordDivergence(tokenID, source string) {
	if r == nil {
		return
	}
	r.divergenceTotal.WithLabelValues(tokenID, source).Inc()
}

// RecordIntentStatus increments the intent-transition counter for
// ruleID/status.
func (r *Recorder) RecordIntentStatus(ruleID, status string) {
	if r == nil {
		return
	}
	r.intentStatusTotal.WithLabelValues(ruleID, status).Inc()
}

// ObserveChainCallDuration records how long a chain client method call
// took.
func (r *Recorder) ObserveChainCallDuration(method string, d time.Duration) {
	if r == nil {
		return
	}
	r.chainCallDuration.WithLabelValues(method).Observe(d.Seconds())
}
