// Package metrics exposes scanner metrics in the Prometheus text format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "devscan"

// Collector holds the scanner's instruments on a private registry.
// A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	// Counters
	cyclesTotal    *prometheus.CounterVec
	filesTotal     *prometheus.CounterVec
	retriesTotal   prometheus.Counter
	costTotal      prometheus.Counter
	tokensTotal    *prometheus.CounterVec
	evictionsTotal prometheus.Counter

	// Histograms
	cycleDuration *prometheus.HistogramVec
	callDuration  prometheus.Histogram

	// Gauges
	inFlight     prometheus.Gauge
	runningRepos prometheus.Gauge
	cacheBytes   prometheus.Gauge
	cacheEntries prometheus.Gauge
	cacheHitRate prometheus.Gauge
}

// New creates a collector with Go runtime and process collectors attached.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	c := &Collector{
		registry: reg,
		cyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_cycles_total",
			Help:      "Scan cycles by outcome.",
		}, []string{"outcome"}),
		filesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_files_total",
			Help:      "Processed files by outcome (analyzed, cached, skipped).",
		}, []string{"outcome"}),
		retriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_retries_total",
			Help:      "Analysis calls retried after a transient error.",
		}),
		costTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_cost_dollars_total",
			Help:      "Charged analysis cost in dollars.",
		}),
		tokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_tokens_total",
			Help:      "Tokens reported by the analysis backend.",
		}, []string{"direction"}),
		evictionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Cache entries removed by eviction.",
		}),
		cycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_cycle_duration_seconds",
			Help:      "Wall time of scan cycles.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
		}, []string{"outcome"}),
		callDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_call_duration_seconds",
			Help:      "Latency of single analysis calls, including failures.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "analysis_in_flight",
			Help:      "Analysis calls currently in flight.",
		}),
		runningRepos: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scan_running_repositories",
			Help:      "Repositories with a cycle in progress.",
		}),
		cacheBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_size_bytes",
			Help:      "Compressed bytes stored in the analysis cache.",
		}),
		cacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_entries",
			Help:      "Entries stored in the analysis cache.",
		}),
		cacheHitRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_hit_ratio",
			Help:      "Lifetime cache hit ratio.",
		}),
	}

	reg.MustRegister(
		c.cyclesTotal, c.filesTotal, c.retriesTotal, c.costTotal, c.tokensTotal,
		c.evictionsTotal, c.cycleDuration, c.callDuration, c.inFlight,
		c.runningRepos, c.cacheBytes, c.cacheEntries, c.cacheHitRate,
	)
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry for scraping.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveCycle records a finished cycle.
func (c *Collector) ObserveCycle(outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.cyclesTotal.WithLabelValues(outcome).Inc()
	c.cycleDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// AddFile counts one committed file.
func (c *Collector) AddFile(outcome string) {
	if c == nil {
		return
	}
	c.filesTotal.WithLabelValues(outcome).Inc()
}

// ObserveCall records one analysis call attempt.
func (c *Collector) ObserveCall(d time.Duration) {
	if c == nil {
		return
	}
	c.callDuration.Observe(d.Seconds())
}

// AddRetry counts a retried call.
func (c *Collector) AddRetry() {
	if c == nil {
		return
	}
	c.retriesTotal.Inc()
}

// AddCharge records a charged call.
func (c *Collector) AddCharge(cost float64, inputTokens, outputTokens int64) {
	if c == nil {
		return
	}
	c.costTotal.Add(cost)
	c.tokensTotal.WithLabelValues("input").Add(float64(inputTokens))
	c.tokensTotal.WithLabelValues("output").Add(float64(outputTokens))
}

// InFlight adjusts the in-flight call gauge.
func (c *Collector) InFlight(delta int) {
	if c == nil {
		return
	}
	c.inFlight.Add(float64(delta))
}

// Running adjusts the running repository gauge.
func (c *Collector) Running(delta int) {
	if c == nil {
		return
	}
	c.runningRepos.Add(float64(delta))
}

// ObserveCache publishes cache size and traffic.
func (c *Collector) ObserveCache(entries, bytes int64, hitRate float64) {
	if c == nil {
		return
	}
	c.cacheEntries.Set(float64(entries))
	c.cacheBytes.Set(float64(bytes))
	c.cacheHitRate.Set(hitRate)
}

// AddEvictions counts evicted entries.
func (c *Collector) AddEvictions(n int) {
	if c == nil {
		return
	}
	c.evictionsTotal.Add(float64(n))
}
