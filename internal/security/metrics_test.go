package security_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/ckoons/engram/internal/security"
)

func gatherFamily(t *testing.T, name string) *dto.MetricFamily {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	return nil
}

func counterSum(f *dto.MetricFamily) float64 {
	var sum float64
	for _, m := range f.GetMetric() {
		sum += m.GetCounter().GetValue()
	}
	return sum
}

func gaugeByLabel(f *dto.MetricFamily, key, value string) float64 {
	for _, m := range f.GetMetric() {
		for _, l := range m.GetLabel() {
			if l.GetName() == key && l.GetValue() == value {
				return m.GetGauge().GetValue()
			}
		}
	}
	return -1
}

// TestDomainMetricsRecord verifies the memory, search, client, and queue
// collectors actually move when the recording helpers run.
func TestDomainMetricsRecord(t *testing.T) {
	security.InitMetrics(nil)

	security.CountMemoryOp("add")
	security.CountMemoryOp("add")
	security.CountMemoryOp("search")
	security.CountSearchFallback()
	security.ObserveEmbedLatency(0)
	security.SetActiveClients(3)
	security.SetQueueMessages(5, 2, 1)

	ops := gatherFamily(t, "engram_memory_ops_total")
	require.NotNil(t, ops)
	require.GreaterOrEqual(t, counterSum(ops), 3.0)

	fallbacks := gatherFamily(t, "engram_search_fallbacks_total")
	require.NotNil(t, fallbacks)
	require.GreaterOrEqual(t, counterSum(fallbacks), 1.0)

	latency := gatherFamily(t, "engram_embed_latency_seconds")
	require.NotNil(t, latency)
	require.GreaterOrEqual(t, latency.GetMetric()[0].GetHistogram().GetSampleCount(), uint64(1))

	active := gatherFamily(t, "engram_active_clients")
	require.NotNil(t, active)
	require.Equal(t, 3.0, active.GetMetric()[0].GetGauge().GetValue())

	queued := gatherFamily(t, "engram_queue_messages")
	require.NotNil(t, queued)
	require.Equal(t, 5.0, gaugeByLabel(queued, "status", "pending"))
	require.Equal(t, 2.0, gaugeByLabel(queued, "status", "delivered"))
	require.Equal(t, 1.0, gaugeByLabel(queued, "status", "processed"))
}
