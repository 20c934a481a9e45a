// Package metrics exposes sync and range-cache metrics for Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sync results.
const (
	ResultSuccess = "success"
	ResultPartial = "partial"
	ResultFailed  = "failed"
)

// Extension outcomes.
const (
	ExtendFetched   = "fetched"
	ExtendNoop      = "noop"
	ExtendDebounced = "debounced"
	ExtendDisabled  = "disabled"
	ExtendFailed    = "failed"
)

// Recorder is what the range cache reports to.
type Recorder interface {
	RecordSync(result string, duration time.Duration, sourceErrors int)
	RecordExtend(direction, outcome string)
	SetCachedEvents(count int)
}

// Collector is the Prometheus implementation of Recorder.
type Collector struct {
	syncs        *prometheus.CounterVec
	syncDuration prometheus.Histogram
	sourceErrors prometheus.Counter
	extends      *prometheus.CounterVec
	cachedEvents prometheus.Gauge
}

// NewCollector creates a Collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		syncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wallcal_sync_total",
			Help: "Calendar syncs by result.",
		}, []string{"result"}),
		syncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "wallcal_sync_duration_seconds",
			Help:    "Wall time of one calendar sync.",
			Buckets: prometheus.DefBuckets,
		}),
		sourceErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wallcal_source_errors_total",
			Help: "Per-source failures recorded in otherwise successful syncs.",
		}),
		extends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wallcal_extend_total",
			Help: "Range extension requests by direction and outcome.",
		}, []string{"direction", "outcome"}),
		cachedEvents: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wallcal_cached_events",
			Help: "Events currently held in the cache.",
		}),
	}

	reg.MustRegister(
		c.syncs,
		c.syncDuration,
		c.sourceErrors,
		c.extends,
		c.cachedEvents,
	)

	return c
}

func (c *Collector) RecordSync(result string, duration time.Duration, sourceErrors int) {
	c.syncs.WithLabelValues(result).Inc()
	c.syncDuration.Observe(duration.Seconds())
	c.sourceErrors.Add(float64(sourceErrors))
}

func (c *Collector) RecordExtend(direction, outcome string) {
	c.extends.WithLabelValues(direction, outcome).Inc()
}

func (c *Collector) SetCachedEvents(count int) {
	c.cachedEvents.Set(float64(count))
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordSync(string, time.Duration, int) {}
func (Nop) RecordExtend(string, string)           {}
func (Nop) SetCachedEvents(int)                   {}

// Handler returns the scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
