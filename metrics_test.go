package buffertree

import (
	"math"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Registration(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)
	require.NotNil(t, m)

	metricFamilies, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, metricFamilies, 6)

	names := make(map[string]bool)
	for _, mf := range metricFamilies {
		names[mf.GetName()] = true
	}
	require.True(t, names["buffertree_elements_ingested_total"])
	require.True(t, names["buffertree_collapses_total"])
	require.True(t, names["buffertree_allocated_buffers"])
}

func TestMetrics_Unregistered(t *testing.T) {
	m, err := NewMetrics(nil)
	require.NoError(t, err)
	m.Collapses.Inc()
	require.Equal(t, float64(1), testutil.ToFloat64(m.Collapses))
}

func TestMetrics_EngineActivity(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BufferCapacity = 4
	cfg.MaxBuffers = 2
	cfg.SinkCapacity = 4
	cfg.Registerer = prometheus.NewRegistry()
	e, err := New(cfg)
	require.NoError(t, err)
	m := e.Metrics()

	for _, v := range []float64{5, 1, 4, 2, 8, 3, 7, 6} {
		require.NoError(t, e.Add(v))
	}
	require.NoError(t, e.Flush())

	require.Equal(t, float64(8), testutil.ToFloat64(m.Ingested))
	require.Equal(t, float64(2), testutil.ToFloat64(m.Flushes))
	require.Equal(t, float64(1), testutil.ToFloat64(m.Collapses))
	require.Equal(t, float64(1), testutil.ToFloat64(m.AllocatedBuffers))
	require.Equal(t, float64(1), testutil.ToFloat64(m.MaxLevel))

	require.NoError(t, e.Add(math.NaN()))
	require.NoError(t, e.Finalize())
	require.Equal(t, float64(1), testutil.ToFloat64(m.Dropped))
	require.Equal(t, float64(8), testutil.ToFloat64(m.Ingested))
	require.Equal(t, float64(0), testutil.ToFloat64(m.AllocatedBuffers))
}

func TestMetrics_SharedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	cfg := DefaultConfig()
	cfg.BufferCapacity = 4
	cfg.MaxBuffers = 2
	cfg.SinkCapacity = 4
	cfg.Registerer = reg

	first, err := New(cfg)
	require.NoError(t, err)
	second, err := New(cfg)
	require.NoError(t, err)

	require.NoError(t, first.AddAllOf([]float64{1, 2, 3, 4}))
	require.NoError(t, second.AddAllOf([]float64{5, 6, 7, 8, 9}))
	require.Equal(t, float64(9), testutil.ToFloat64(second.Metrics().Ingested))

	metricFamilies, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, metricFamilies, 6)
}
