package client

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus instruments a client.Engine reports to. A
// nil *Metrics is always safe to use; every Engine call site guards with
// "if e.metrics != nil".
type Metrics struct {
	opsSent     prometheus.Counter
	retries     prometheus.Counter
	opsConsumed prometheus.Counter
}

// NewMetrics builds a Metrics instance and registers it with reg.
func NewMetrics(reg prometheus.Registerer, clientID uint32) *Metrics {
	labels := prometheus.Labels{"client": strconv.FormatUint(uint64(clientID), 10)}
	m := &Metrics{
		opsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "vsrepl",
			Subsystem:   "client",
			Name:        "ops_sent_total",
			Help:        "Total operations submitted to a replica.",
			ConstLabels: labels,
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "vsrepl",
			Subsystem:   "client",
			Name:        "retries_total",
			Help:        "Total retry resends due to timeout.",
			ConstLabels: labels,
		}),
		opsConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "vsrepl",
			Subsystem:   "client",
			Name:        "ops_consumed_total",
			Help:        "Total operations confirmed persisted.",
			ConstLabels: labels,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.opsSent, m.retries, m.opsConsumed)
	}
	return m
}
