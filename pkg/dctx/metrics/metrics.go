// Package metrics exposes Prometheus instrumentation for a Context: counts
// of submitted/completed operations, bytes moved, the size of the
// inflight/preinit queues, and a split of broken-connection causes. None of
// this is required to drive a collective; it is read-only observability an
// embedding application may scrape.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles the collectors for one Context. Each Context owns its
// own Registry rather than registering onto prometheus's global default
// registerer, so multiple Contexts (e.g. several ranks in one test binary)
// never collide on metric names.
type Registry struct {
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer

	OpsSubmitted  *prometheus.CounterVec
	OpsCompleted  *prometheus.CounterVec
	BytesSent     prometheus.Counter
	BytesReceived prometheus.Counter
	Inflight      prometheus.Gauge
	Complete      prometheus.Gauge
	PreinitConns  prometheus.Gauge
	PeerConns     prometheus.Gauge
	BrokenClean   prometheus.Counter
	BrokenReset   prometheus.Counter
}

const namespace = "dctx"

// New builds and registers a fresh set of collectors. rankLabel is
// included as a constant label so metrics from several in-process ranks
// (as the e2e tests run) can share a registry without clashing.
func New(rankLabel string) *Registry {
	reg := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"rank": rankLabel}

	r := &Registry{
		Registerer: reg,
		Gatherer:   reg,
		OpsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "ops_submitted_total",
			Help:        "Collective operations submitted, by kind.",
			ConstLabels: constLabels,
		}, []string{"kind"}),
		OpsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "ops_completed_total",
			Help:        "Collective operations completed, by kind and outcome.",
			ConstLabels: constLabels,
		}, []string{"kind", "ok"}),
		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "bytes_sent_total",
			Help:        "Payload bytes written to peer sockets.",
			ConstLabels: constLabels,
		}),
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "bytes_received_total",
			Help:        "Payload bytes read from peer sockets.",
			ConstLabels: constLabels,
		}),
		Inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "inflight_operations",
			Help:        "Operations currently on the inflight list.",
			ConstLabels: constLabels,
		}),
		Complete: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "complete_operations",
			Help:        "Operations currently on the complete list, awaiting a caller.",
			ConstLabels: constLabels,
		}),
		PreinitConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "preinit_connections",
			Help:        "Chief-side connections that have not yet announced a rank.",
			ConstLabels: constLabels,
		}),
		PeerConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "peer_connections",
			Help:        "Chief-side connections promoted to a ranked peer.",
			ConstLabels: constLabels,
		}),
		BrokenClean: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "broken_connections_clean_total",
			Help:        "Ranked connections that closed via EOF.",
			ConstLabels: constLabels,
		}),
		BrokenReset: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "broken_connections_reset_total",
			Help:        "Ranked connections that closed via reset/other I/O error.",
			ConstLabels: constLabels,
		}),
	}

	reg.MustRegister(
		r.OpsSubmitted, r.OpsCompleted, r.BytesSent, r.BytesReceived,
		r.Inflight, r.Complete, r.PreinitConns, r.PeerConns,
		r.BrokenClean, r.BrokenReset,
	)
	return r
}
