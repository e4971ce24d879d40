package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		UpdatesTotal,
		DispatchDuration,
		CallbackTokens,
		CallbackExpired,
		CallbackEvictions,
		StateWrites,
	)
}

var (
	// UpdatesTotal counts dispatched updates by kind, route and outcome.
	UpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chain_updates_total",
			Help: "Updates processed by the chain dispatcher.",
		},
		[]string{"kind", "route", "outcome"},
	)

	// DispatchDuration observes handler latency per route in milliseconds.
	DispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chain_dispatch_duration_ms",
			Help:    "Time from classification to persisted state per update.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"route"},
	)

	// CallbackTokens counts encoded callback tokens by mode (inline, reference).
	CallbackTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chain_callback_tokens_total",
			Help: "Callback tokens encoded, by inline or reference mode.",
		},
		[]string{"mode"},
	)

	CallbackExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chain_callback_expired_total",
			Help: "Callback references whose content was already evicted.",
		},
	)

	CallbackEvictions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chain_callback_evictions_total",
			Help: "Callback contents evicted by the per-user cap.",
		},
	)

	StateWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chain_state_writes_total",
			Help: "Dialog state upserts by backend and result.",
		},
		[]string{"backend", "result"},
	)
)

// ObserveDispatch records one dispatched update.
func ObserveDispatch(kind, route, outcome string, took time.Duration) {
	UpdatesTotal.WithLabelValues(norm(kind), norm(route), norm(outcome)).Inc()
	DispatchDuration.WithLabelValues(norm(route)).Observe(float64(took.Microseconds()) / 1000)
}

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
