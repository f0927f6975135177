package replica

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus instruments a replica.Engine reports to,
// grounded on the corpus's convention of instrumenting replication paths
// with prometheus/client_golang (see SPEC_FULL.md §1.5). A nil *Metrics is
// always safe to use: every call site on Engine guards with "if
// e.metrics != nil".
type Metrics struct {
	commits      prometheus.Counter
	viewChanges  prometheus.Counter
	prepareSends prometheus.Counter
	missingLogs  prometheus.Counter
}

// NewMetrics builds a Metrics instance and registers it with reg. Pass a
// fresh prometheus.NewRegistry() in tests to avoid colliding with other
// Engines' metrics under the default global registry.
func NewMetrics(reg prometheus.Registerer, replica int) *Metrics {
	labels := prometheus.Labels{"replica": strconv.Itoa(replica)}
	m := &Metrics{
		commits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "vsrepl",
			Subsystem:   "replica",
			Name:        "commits_total",
			Help:        "Total client operations committed by this replica.",
			ConstLabels: labels,
		}),
		viewChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "vsrepl",
			Subsystem:   "replica",
			Name:        "view_changes_total",
			Help:        "Total higher views adopted from a Prepare, plus DoViewChange quorums completed as leader-elect; views adopted via StartViewChange or StartView are not counted.",
			ConstLabels: labels,
		}),
		prepareSends: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "vsrepl",
			Subsystem:   "replica",
			Name:        "prepares_sent_total",
			Help:        "Total Prepare broadcasts (including heartbeats) sent as leader.",
			ConstLabels: labels,
		}),
		missingLogs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "vsrepl",
			Subsystem:   "replica",
			Name:        "missing_log_requests_total",
			Help:        "Total GetMissingLogs requests issued by this replica.",
			ConstLabels: labels,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.commits, m.viewChanges, m.prepareSends, m.missingLogs)
	}
	return m
}
