package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics records engine and RPC activity for the platform.
type EngineMetrics struct {
	requests       *prometheus.CounterVec
	errors         *prometheus.CounterVec
	latency        *prometheus.HistogramVec
	bidsPlaced     prometheus.Counter
	auctionsEnded  *prometheus.CounterVec
	escrowsSettled *prometheus.CounterVec
}

var (
	engineMetricsOnce sync.Once
	engineRegistry    *EngineMetrics
)

// Metrics returns the lazily-initialised metrics registry used to record RPC
// and engine activity.
func Metrics() *EngineMetrics {
	engineMetricsOnce.Do(func() {
		engineRegistry = &EngineMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "deedmarket",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "deedmarket",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by method and error kind.",
			}, []string{"method", "kind"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "deedmarket",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
			bidsPlaced: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "deedmarket",
				Subsystem: "auction",
				Name:      "bids_placed_total",
				Help:      "Total accepted bids across all auctions.",
			}),
			auctionsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "deedmarket",
				Subsystem: "auction",
				Name:      "auctions_ended_total",
				Help:      "Finalized auctions segmented by outcome (sold, reserve_not_met).",
			}, []string{"outcome"}),
			escrowsSettled: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "deedmarket",
				Subsystem: "escrow",
				Name:      "transactions_settled_total",
				Help:      "Finalized escrow transactions segmented by outcome (completed, cancelled).",
			}, []string{"outcome"}),
		}
		prometheus.MustRegister(
			engineRegistry.requests,
			engineRegistry.errors,
			engineRegistry.latency,
			engineRegistry.bidsPlaced,
			engineRegistry.auctionsEnded,
			engineRegistry.escrowsSettled,
		)
	})
	return engineRegistry
}

// ObserveRequest records one handled RPC call.
func (m *EngineMetrics) ObserveRequest(method, outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, outcome).Inc()
	m.latency.WithLabelValues(method).Observe(time.Since(start).Seconds())
}

// ObserveError records one classified RPC failure.
func (m *EngineMetrics) ObserveError(method, kind string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(method, kind).Inc()
}

// BidPlaced increments the accepted-bid counter.
func (m *EngineMetrics) BidPlaced() {
	if m == nil {
		return
	}
	m.bidsPlaced.Inc()
}

// AuctionEnded records a finalized auction outcome.
func (m *EngineMetrics) AuctionEnded(outcome string) {
	if m == nil {
		return
	}
	m.auctionsEnded.WithLabelValues(outcome).Inc()
}

// EscrowSettled records a finalized escrow outcome.
func (m *EngineMetrics) EscrowSettled(outcome string) {
	if m == nil {
		return
	}
	m.escrowsSettled.WithLabelValues(outcome).Inc()
}
