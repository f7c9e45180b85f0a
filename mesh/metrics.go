package mesh

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts job-lifecycle events the core surfaces only through
// metrics rather than synchronously to any caller: dropped bids, dropped
// receipts, and network broadcasts that still failed after the network
// service's own retries. A handful of counters behind
// their own registry, not the global default one.
type Metrics struct {
	registry *prometheus.Registry

	bidsDropped      prometheus.Counter
	receiptsDropped  prometheus.Counter
	broadcastRetries prometheus.Counter
	jobsTerminal     *prometheus.CounterVec
}

// NewMetrics builds a fresh metrics set registered against its own
// registry, so multiple Manager instances in the same process (e.g. in
// tests) never collide on the global default registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		bidsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "icn_mesh_bids_dropped_total",
			Help: "Bids rejected during admissibility checks.",
		}),
		receiptsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "icn_mesh_receipts_dropped_total",
			Help: "Receipts rejected or ignored during ingestion.",
		}),
		broadcastRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "icn_mesh_broadcast_retries_total",
			Help: "Network broadcasts that returned an error after the service's retries.",
		}),
		jobsTerminal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "icn_mesh_jobs_terminal_total",
			Help: "Jobs reaching each terminal state.",
		}, []string{"state"}),
	}
	reg.MustRegister(m.bidsDropped, m.receiptsDropped, m.broadcastRetries, m.jobsTerminal)
	return m
}

// Registry exposes the underlying prometheus registry, e.g. for mounting
// promhttp.HandlerFor in the HTTP collaborator out of this design's scope.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) recordBidDropped()     { m.bidsDropped.Inc() }
func (m *Metrics) recordReceiptDropped() { m.receiptsDropped.Inc() }
func (m *Metrics) recordBroadcastRetry() { m.broadcastRetries.Inc() }
func (m *Metrics) recordTerminal(state State) {
	m.jobsTerminal.WithLabelValues(string(state)).Inc()
}
