package douki

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "douki"

// Metrics exposes replication counters to Prometheus. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	poolOps          *prometheus.CounterVec
	poolDrains       *prometheus.HistogramVec
	subQuantization  *prometheus.CounterVec
	rebases          *prometheus.CounterVec
	bundles          *prometheus.CounterVec
	velocityFallback *prometheus.CounterVec
	synthesized      *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		poolOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "pool",
			Name:      "operations_total",
			Help:      "Change-event pool operations by pool and operation.",
		}, []string{"pool", "op"}),
		poolDrains: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "pool",
			Name:      "drained_items",
			Help:      "Foreign returns reclaimed per borrow.",
			Buckets:   []float64{0, 1, 4, 16, 64, 256, 1024},
		}, []string{"pool"}),
		subQuantization: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "codec",
			Name:      "sub_quantization_deltas_total",
			Help:      "Non-zero deltas smaller than one quantization step.",
		}, []string{"archetype", "value"}),
		rebases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "codec",
			Name:      "baseline_rebases_total",
			Help:      "Baselines replaced because values neared the quantization range edge.",
		}, []string{"archetype"}),
		bundles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "bundle",
			Name:      "bundles_total",
			Help:      "Bundles processed by direction and type.",
		}, []string{"direction", "type"}),
		velocityFallback: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "velocity",
			Name:      "fallbacks_total",
			Help:      "Velocity units that fell back to a zero derivative or a full value.",
		}, []string{"reason"}),
		synthesized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "velocity",
			Name:      "synthesized_values_total",
			Help:      "Values reconstructed from a received derivative.",
		}, []string{"archetype"}),
	}
	if reg != nil {
		reg.MustRegister(m.poolOps, m.poolDrains, m.subQuantization, m.rebases, m.bundles, m.velocityFallback, m.synthesized)
	}
	return m
}

func (m *Metrics) poolOp(pool, op string) {
	if m == nil {
		return
	}
	m.poolOps.WithLabelValues(pool, op).Inc()
}

func (m *Metrics) poolDrained(pool string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.poolDrains.WithLabelValues(pool).Observe(float64(n))
}

func (m *Metrics) subQuantized(archetype, value string) {
	if m == nil {
		return
	}
	m.subQuantization.WithLabelValues(archetype, value).Inc()
}

func (m *Metrics) rebased(archetype string) {
	if m == nil {
		return
	}
	m.rebases.WithLabelValues(archetype).Inc()
}

func (m *Metrics) bundle(direction string, t BundleType) {
	if m == nil {
		return
	}
	m.bundles.WithLabelValues(direction, t.String()).Inc()
}

func (m *Metrics) velocityFellBack(reason string) {
	if m == nil {
		return
	}
	m.velocityFallback.WithLabelValues(reason).Inc()
}

func (m *Metrics) synthesizedValue(archetype string) {
	if m == nil {
		return
	}
	m.synthesized.WithLabelValues(archetype).Inc()
}
