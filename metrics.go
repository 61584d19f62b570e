package hostbridge

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mnehpets/hostbridge/bridge"
)

// metrics holds the collectors registered when the embedder supplies a
// prometheus.Registerer. Without one the service records nothing.
type metrics struct {
	requests *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer, b *bridge.Bridge) (*metrics, error) {
	m := &metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "hostbridge",
			Name:      "requests_total",
			Help:      "RPC requests handled, by outcome.",
		}, []string{"outcome"}),
	}
	queueDepth := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "hostbridge",
		Name:      "queue_depth",
		Help:      "Commands queued and not yet executed by the host context.",
	}, func() float64 { return float64(b.Depth()) })
	executed := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: "hostbridge",
		Name:      "commands_executed_total",
		Help:      "Commands the host context has executed.",
	}, func() float64 { return float64(b.Executed()) })

	for _, c := range []prometheus.Collector{m.requests, queueDepth, executed} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
