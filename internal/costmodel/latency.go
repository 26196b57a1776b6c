package costmodel

import (
	"sync"
)

// LatencyEstimator smooths worker-reported latency samples with a
// moving average over a bounded window. When a worker pair has samples,
// the estimate overrides the static pair table; otherwise callers fall
// back to NetworkLatency.
type LatencyEstimator struct {
	mu      sync.RWMutex
	window  int
	samples map[[2]string][]float64
}

// NewLatencyEstimator creates an estimator keeping up to window samples
// per worker pair.
func NewLatencyEstimator(window int) *LatencyEstimator {
	if window <= 0 {
		window = 16
	}
	return &LatencyEstimator{
		window:  window,
		samples: make(map[[2]string][]float64),
	}
}

// Observe records one latency sample between two workers.
func (e *LatencyEstimator) Observe(fromWorker, toWorker string, ms float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := [2]string{fromWorker, toWorker}
	s := append(e.samples[key], ms)
	if len(s) > e.window {
		s = s[len(s)-e.window:]
	}
	e.samples[key] = s
}

// Estimate returns the smoothed latency between two workers and whether
// any samples exist for the pair.
func (e *LatencyEstimator) Estimate(fromWorker, toWorker string) (float64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := e.samples[[2]string{fromWorker, toWorker}]
	if len(s) == 0 {
		return 0, false
	}
	var sum float64
	for _, v := range s {
		sum += v
	}
	return sum / float64(len(s)), true
}
