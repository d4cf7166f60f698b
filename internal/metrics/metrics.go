// Package metrics exports Prometheus collectors for the execution service.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	instance *Metrics
)

// Metrics holds all Prometheus collectors.
type Metrics struct {
	// Execution metrics
	ExecutionsTotal    *prometheus.CounterVec
	ExecutionDuration  *prometheus.HistogramVec
	ExecutionsInFlight prometheus.Gauge

	// Sandbox metrics
	ImagesPulledTotal prometheus.Counter
	OrphansSweptTotal prometheus.Counter

	// WebSocket metrics
	WebSocketConnections prometheus.Gauge
	WebSocketEventsTotal *prometheus.CounterVec
}

// Get returns the singleton Metrics instance.
func Get() *Metrics {
	once.Do(func() {
		instance = newMetrics()
	})
	return instance
}

func newMetrics() *Metrics {
	m := &Metrics{}

	m.ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cloudrun",
			Subsystem: "execution",
			Name:      "total",
			Help:      "Total executions by language and outcome",
		},
		[]string{"language", "status"},
	)

	m.ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cloudrun",
			Subsystem: "execution",
			Name:      "duration_seconds",
			Help:      "Wall-clock execution duration in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 180},
		},
		[]string{"language"},
	)

	m.ExecutionsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cloudrun",
			Subsystem: "execution",
			Name:      "in_flight",
			Help:      "Executions currently running",
		},
	)

	m.ImagesPulledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "cloudrun",
			Subsystem: "sandbox",
			Name:      "images_pulled_total",
			Help:      "Sandbox images pulled from the registry",
		},
	)

	m.OrphansSweptTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "cloudrun",
			Subsystem: "sandbox",
			Name:      "orphans_swept_total",
			Help:      "Orphaned sandbox containers removed at startup",
		},
	)

	m.WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cloudrun",
			Subsystem: "websocket",
			Name:      "connections",
			Help:      "Open execution websocket connections",
		},
	)

	m.WebSocketEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cloudrun",
			Subsystem: "websocket",
			Name:      "events_total",
			Help:      "Events sent to clients by type",
		},
		[]string{"type"},
	)

	return m
}
