package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	sessionsTotal     *prometheus.CounterVec
	progressCallbacks prometheus.Counter
	placementFailures prometheus.Counter
	activeStreams     prometheus.Gauge

	// initOnce ensures InitMetrics is only executed once for thread safety
	initOnce sync.Once
	initErr  error
)

// InitMetrics registers all custom metrics with the provided registry.
// This function is thread-safe and can be called multiple times;
// initialization will only occur once with the first call's registry.
func InitMetrics(registry prometheus.Registerer) error {
	initOnce.Do(func() {
		sessionsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orchestrator_sessions_total",
				Help: "Total number of chat sessions by terminal status",
			},
			[]string{"status"},
		)
		progressCallbacks = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "orchestrator_progress_callbacks_total",
				Help: "Total number of worker progress callbacks ingested",
			},
		)
		placementFailures = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "orchestrator_placement_failures_total",
				Help: "Total number of sessions that failed scheduling",
			},
		)
		activeStreams = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "orchestrator_active_streams",
				Help: "Number of sessions currently streaming",
			},
		)
		for _, c := range []prometheus.Collector{
			sessionsTotal, progressCallbacks, placementFailures, activeStreams,
		} {
			if err := registry.Register(c); err != nil {
				initErr = err
				return
			}
		}
	})
	return initErr
}

// RecordSession increments the session counter for a terminal status
// class ("completed" or "error").
func RecordSession(status string) {
	if sessionsTotal != nil {
		sessionsTotal.WithLabelValues(status).Inc()
	}
}

// RecordProgressCallback counts one ingested worker callback.
func RecordProgressCallback() {
	if progressCallbacks != nil {
		progressCallbacks.Inc()
	}
}

// RecordPlacementFailure counts one scheduling failure.
func RecordPlacementFailure() {
	if placementFailures != nil {
		placementFailures.Inc()
	}
}

// StreamStarted and StreamEnded track the active stream gauge.
func StreamStarted() {
	if activeStreams != nil {
		activeStreams.Inc()
	}
}

func StreamEnded() {
	if activeStreams != nil {
		activeStreams.Dec()
	}
}
