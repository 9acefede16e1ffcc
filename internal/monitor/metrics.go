package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds the worker's prometheus metrics
type Collector struct {
	registry *prometheus.Registry

	// Pipeline metrics
	ExpressionsGenerated prometheus.Counter
	SimulationsSubmitted prometheus.Counter
	SimulationsCompleted *prometheus.CounterVec
	SubmitFailures       prometheus.Counter
	ActiveSimulations    prometheus.Gauge
	QueueDepth           prometheus.Gauge

	// API metrics
	PollLatency prometheus.Histogram
}

// NewCollector creates a collector with its own registry, so tests can
// build collectors without colliding on the default registry
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		ExpressionsGenerated: factory.NewCounter(prometheus.CounterOpts{
			Name: "alphaworker_expressions_generated_total",
			Help: "Total number of alpha expressions generated",
		}),
		SimulationsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "alphaworker_simulations_submitted_total",
			Help: "Total number of simulations submitted to BRAIN",
		}),
		SimulationsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "alphaworker_simulations_completed_total",
			Help: "Total number of simulations that reached a terminal status",
		}, []string{"status"}),
		SubmitFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "alphaworker_submit_failures_total",
			Help: "Total number of alphas dropped after exhausting submit retries",
		}),
		ActiveSimulations: factory.NewGauge(prometheus.GaugeOpts{
			Name: "alphaworker_active_simulations",
			Help: "Number of simulations currently outstanding",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "alphaworker_queue_depth",
			Help: "Number of alphas waiting in the pending queue",
		}),
		PollLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "alphaworker_poll_latency_seconds",
			Help:    "Latency of progress poll requests",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Registry exposes the underlying registry for the metrics endpoint
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
