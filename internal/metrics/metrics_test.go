package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, InitMetrics(reg))
	// Second call is a no-op, not a duplicate registration.
	require.NoError(t, InitMetrics(prometheus.NewRegistry()))

	RecordSession("completed")
	RecordSession("completed")
	RecordSession("error")
	RecordProgressCallback()
	RecordPlacementFailure()
	StreamStarted()
	StreamStarted()
	StreamEnded()

	assert.Equal(t, 2.0, testutil.ToFloat64(sessionsTotal.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sessionsTotal.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(progressCallbacks))
	assert.Equal(t, 1.0, testutil.ToFloat64(placementFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(activeStreams))
}
