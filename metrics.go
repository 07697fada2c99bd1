package buffertree

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus instruments of an Engine.
type Metrics struct {
	Ingested         prometheus.Counter
	Dropped          prometheus.Counter
	Flushes          prometheus.Counter
	Collapses        prometheus.Counter
	AllocatedBuffers prometheus.Gauge
	MaxLevel         prometheus.Gauge
}

// NewMetrics creates the engine metrics and registers them with reg when
// reg is not nil. Engines sharing a registry share the instruments that
// are already registered there, so the values aggregate across engines.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Ingested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "buffertree_elements_ingested_total",
			Help: "Total stream elements accepted into level 0 buffers",
		}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "buffertree_elements_dropped_total",
			Help: "Total NaN elements discarded on ingestion",
		}),
		Flushes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "buffertree_sink_flushes_total",
			Help: "Total batches flushed from the sink into the buffer tree",
		}),
		Collapses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "buffertree_collapses_total",
			Help: "Total pairwise buffer collapses",
		}),
		AllocatedBuffers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "buffertree_allocated_buffers",
			Help: "Buffers currently allocated in the tree",
		}),
		MaxLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "buffertree_max_level",
			Help: "Highest collapse level reached",
		}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []*prometheus.Counter{&m.Ingested, &m.Dropped, &m.Flushes, &m.Collapses} {
		existing, err := register(reg, *c)
		if err != nil {
			return nil, err
		}
		counter, ok := existing.(prometheus.Counter)
		if !ok {
			return nil, errors.Errorf("registered collector %T is not a counter", existing)
		}
		*c = counter
	}
	for _, g := range []*prometheus.Gauge{&m.AllocatedBuffers, &m.MaxLevel} {
		existing, err := register(reg, *g)
		if err != nil {
			return nil, err
		}
		gauge, ok := existing.(prometheus.Gauge)
		if !ok {
			return nil, errors.Errorf("registered collector %T is not a gauge", existing)
		}
		*g = gauge
	}
	return m, nil
}

// register returns c, or the equal collector registered before it.
func register(reg prometheus.Registerer, c prometheus.Collector) (prometheus.Collector, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
		return are.ExistingCollector, nil
	}
	return nil, errors.Wrap(err, "register engine metrics")
}
