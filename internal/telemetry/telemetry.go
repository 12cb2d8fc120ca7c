package telemetry

import (
	"net/http"
	"time"

	"github.com/lutefd/telemetry-api/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "metrics_engine"

// Collector exposes the engine's own health on a private registry. It
// satisfies metrics.Observer and query.Instrumentation.
type Collector struct {
	registry *prometheus.Registry

	recorded *prometheus.CounterVec
	evicted  *prometheus.CounterVec
	rejected *prometheus.CounterVec
	queries  *prometheus.HistogramVec
}

func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		recorded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "samples_recorded_total",
				Help:      "Samples appended to the store.",
			},
			[]string{"kind"},
		),
		evicted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "samples_evicted_total",
				Help:      "Samples dropped after passing the retention horizon.",
			},
			[]string{"kind"},
		),
		rejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingest_rejected_total",
				Help:      "Ingestion payloads rejected by validation.",
			},
			[]string{"kind"},
		),
		queries: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "query_duration_seconds",
				Help:      "Time spent answering aggregation queries.",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
			},
			[]string{"query"},
		),
	}
	c.registry.MustRegister(
		c.recorded,
		c.evicted,
		c.rejected,
		c.queries,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) SampleRecorded(kind metrics.Kind) {
	c.recorded.WithLabelValues(kind.String()).Inc()
}

func (c *Collector) SamplesEvicted(kind metrics.Kind, n int) {
	c.evicted.WithLabelValues(kind.String()).Add(float64(n))
}

func (c *Collector) IngestRejected(kind metrics.Kind) {
	c.rejected.WithLabelValues(kind.String()).Inc()
}

func (c *Collector) ObserveQuery(name string, d time.Duration) {
	c.queries.WithLabelValues(name).Observe(d.Seconds())
}

// GaugeFunc registers a gauge sampled at scrape time.
func (c *Collector) GaugeFunc(name, help string, fn func() float64) error {
	return c.registry.Register(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help},
		fn,
	))
}
