package promadapters_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libraryops/lending-engine-go/docstore/promadapters"
)

func Test_MetricsCollector_RecordDuration(t *testing.T) {
	// setup
	registry := prometheus.NewRegistry()
	collector := promadapters.NewMetricsCollector(registry)

	// act
	collector.RecordDuration("docstore_transaction_duration", 150*time.Millisecond, map[string]string{
		"operation": "checkout",
		"status":    "success",
	})

	// assert
	families, err := registry.Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	assert.Equal(t, "docstore_transaction_duration", families[0].GetName())

	histogram := families[0].GetMetric()[0].GetHistogram()
	assert.Equal(t, uint64(1), histogram.GetSampleCount())
	assert.InDelta(t, 0.15, histogram.GetSampleSum(), 0.001, "durations are observed in seconds")
}

func Test_MetricsCollector_IncrementCounter(t *testing.T) {
	// setup
	registry := prometheus.NewRegistry()
	collector := promadapters.NewMetricsCollector(registry)
	labels := map[string]string{"status": "conflict"}

	// act
	collector.IncrementCounter("docstore_tx_conflicts", labels)
	collector.IncrementCounter("docstore_tx_conflicts", labels)

	// assert
	counter, err := registry.Gather()
	require.NoError(t, err)
	require.Len(t, counter, 1)
	assert.InDelta(t, 2.0, counter[0].GetMetric()[0].GetCounter().GetValue(), 0.001)
}

func Test_MetricsCollector_RecordValue(t *testing.T) {
	// setup
	registry := prometheus.NewRegistry()
	collector := promadapters.NewMetricsCollector(registry)

	// act: the last recorded value wins for a gauge
	collector.RecordValue("docstore_watchers", 2, map[string]string{"table": "documents"})
	collector.RecordValue("docstore_watchers", 5, map[string]string{"table": "documents"})

	// assert
	families, err := registry.Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	assert.InDelta(t, 5.0, families[0].GetMetric()[0].GetGauge().GetValue(), 0.001)
}

func Test_MetricsCollector_ReusesCollectorsPerMetricName(t *testing.T) {
	// setup
	registry := prometheus.NewRegistry()
	collector := promadapters.NewMetricsCollector(registry)
	labels := map[string]string{"operation": "return"}

	// act
	collector.RecordDuration("docstore_transaction_duration", 100*time.Millisecond, labels)
	collector.RecordDuration("docstore_transaction_duration", 200*time.Millisecond, labels)

	// assert: one family, one series, two observations
	assert.Equal(t, 1, promtestutil.CollectAndCount(registry), "both calls should land on one series")

	families, err := registry.Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	assert.Equal(t, uint64(2), families[0].GetMetric()[0].GetHistogram().GetSampleCount())
}
