package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every process metric, including the actionserver's tick
// histogram (SimTickDuration). NewMetrics registers all of them; no other
// package registers collectors on the Registry.
type Metrics struct {
	Registry *prometheus.Registry

	RPCRequestsTotal   *prometheus.CounterVec
	RPCRequestDuration *prometheus.HistogramVec
	SimTickDuration    prometheus.Histogram
	ObserverDropsTotal prometheus.Counter
	ActiveSessions     prometheus.Gauge
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		RPCRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zonecore_rpc_requests_total",
			Help: "Total RPC requests handled, by interface, method, and outcome.",
		}, []string{"interface", "method", "outcome"}),
		RPCRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "zonecore_rpc_request_duration_seconds",
			Help:    "RPC request handling latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"interface", "method"}),
		SimTickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "zonecore_sim_tick_duration_seconds",
			Help:    "Action server simulation tick duration.",
			Buckets: []float64{.001, .002, .004, .008, .0166, .033, .05, .1},
		}),
		ObserverDropsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zonecore_observer_drops_total",
			Help: "Observer notifications dropped due to backpressure.",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "zonecore_active_sessions",
			Help: "Number of currently connected RPC sessions.",
		}),
	}
	reg.MustRegister(
		m.RPCRequestsTotal,
		m.RPCRequestDuration,
		m.SimTickDuration,
		m.ObserverDropsTotal,
		m.ActiveSessions,
	)
	return m
}

// ObserveRPC records one completed RPC call.
func (m *Metrics) ObserveRPC(interfaceName, method, outcome string, elapsed time.Duration) {
	m.RPCRequestsTotal.WithLabelValues(interfaceName, method, outcome).Inc()
	m.RPCRequestDuration.WithLabelValues(interfaceName, method).Observe(elapsed.Seconds())
}
