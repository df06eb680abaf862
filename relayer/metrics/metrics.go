// Package metrics exposes the relayer's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all relayer collectors, labeled by chain pair and event
// type so multi-pair deployments stay distinguishable.
type Metrics struct {
	EventsMirrored *prometheus.CounterVec
	EventsSkipped  *prometheus.CounterVec
	EventsFailed   *prometheus.CounterVec
	PollErrors     *prometheus.CounterVec
	CursorHeight   *prometheus.GaugeVec
}

// New registers the relayer collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EventsMirrored: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tapfed",
			Subsystem: "relayer",
			Name:      "events_mirrored_total",
			Help:      "Events confirmed on the destination ledger.",
		}, []string{"chain_pair", "event_type"}),
		EventsSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tapfed",
			Subsystem: "relayer",
			Name:      "events_skipped_total",
			Help:      "Idempotent skips (already mirrored or already on destination).",
		}, []string{"chain_pair", "event_type"}),
		EventsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tapfed",
			Subsystem: "relayer",
			Name:      "events_failed_total",
			Help:      "Events flagged fatal and awaiting operator action.",
		}, []string{"chain_pair", "event_type"}),
		PollErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tapfed",
			Subsystem: "relayer",
			Name:      "poll_errors_total",
			Help:      "Transient source polling failures.",
		}, []string{"chain_pair"}),
		CursorHeight: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tapfed",
			Subsystem: "relayer",
			Name:      "cursor_block_height",
			Help:      "Last fully processed source block height.",
		}, []string{"chain_pair", "event_type"}),
	}
}
