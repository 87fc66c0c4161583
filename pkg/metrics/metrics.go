package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Collector aggregates the per-cycle pipeline counts into Prometheus metrics
// on its own registry.
type Collector struct {
	reg *prometheus.Registry

	CyclesRun    prometheus.Counter
	CyclesFailed prometheus.Counter

	EntitiesSeen    prometheus.Counter
	EntitiesMatched prometheus.Counter

	RecordsCreated   prometheus.Counter
	RecordsUpdated   prometheus.Counter
	OperationsFailed prometheus.Counter

	TrackedTrips prometheus.Gauge

	CycleDuration prometheus.Histogram
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		CyclesRun: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "busboard_cycles_total",
			Help: "Total pipeline cycles attempted.",
		}),
		CyclesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "busboard_cycles_failed_total",
			Help: "Total pipeline cycles that aborted with an error.",
		}),
		EntitiesSeen: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "busboard_feed_entities_total",
			Help: "Total feed entities decoded.",
		}),
		EntitiesMatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "busboard_feed_entities_matched_total",
			Help: "Total feed entities passing the trip marker whitelist.",
		}),
		RecordsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "busboard_records_created_total",
			Help: "Total trip records created in the store.",
		}),
		RecordsUpdated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "busboard_records_updated_total",
			Help: "Total trip records merged into existing store entries.",
		}),
		OperationsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "busboard_store_operations_failed_total",
			Help: "Total store write operations rejected.",
		}),
		TrackedTrips: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "busboard_tracked_trips",
			Help: "Trips surviving filtering in the most recent cycle.",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "busboard_cycle_duration_seconds",
			Help:    "Duration of full pipeline cycles.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}

	reg.MustRegister(
		c.CyclesRun, c.CyclesFailed,
		c.EntitiesSeen, c.EntitiesMatched,
		c.RecordsCreated, c.RecordsUpdated, c.OperationsFailed,
		c.TrackedTrips, c.CycleDuration,
	)

	return c
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on the given address. An empty address disables the
// server.
func (c *Collector) Serve(addr string) {
	if addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Metrics server stopped")
		}
	}()

	log.Info().Str("address", addr).Msg("Metrics server listening")
}
