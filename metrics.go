package stitch

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "stitch"

// metrics are the counters of one Engine. They are always maintained, and exported only when the engine was
// configured with EngineConfig.WithMetricsRegisterer.
type metrics struct {
	modulesCompiled   prometheus.Counter
	functionsCompiled prometheus.Counter
	instancesCreated  prometheus.Counter
	traps             *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		modulesCompiled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "modules_compiled_total",
			Help:      "Modules decoded and validated, excluding module cache hits.",
		}),
		functionsCompiled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "functions_compiled_total",
			Help:      "Function bodies compiled on their first call.",
		}),
		instancesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "instances_created_total",
			Help:      "Modules instantiated.",
		}),
		traps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "traps_total",
			Help:      "Traps raised by guest code, by kind.",
		}, []string{"kind"}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.modulesCompiled, m.functionsCompiled, m.instancesCreated, m.traps} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
