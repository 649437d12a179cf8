// Package metrics defines the Prometheus collectors of the cluster metadata
// service. It is standalone so the applier, the raft node and the HTTP layer
// can all record into it without importing each other.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups every collector the service exports.
type Metrics struct {
	AppliedOperations *prometheus.CounterVec
	ApplyLatency      *prometheus.HistogramVec
	ProposalLatency   *prometheus.HistogramVec
	ProposalFailures  *prometheus.CounterVec
	LeadershipChanges prometheus.Counter
	TransferAborts    prometheus.Counter
	DuplicateNops     prometheus.Counter
	AppliedIndex      prometheus.Gauge
	ReconcilerPasses  prometheus.Counter
	UnhealthyPeers    prometheus.Gauge
	RaftLogSizeBytes  prometheus.Gauge
}

// New creates unregistered collectors.
func New() *Metrics {
	return &Metrics{
		AppliedOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clustermeta_applied_operations_total",
			Help: "Operations applied from the log, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		ApplyLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "clustermeta_apply_latency_ms",
			Help:    "Time spent applying one operation, in milliseconds.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		}, []string{"kind"}),
		ProposalLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "clustermeta_proposal_latency_ms",
			Help:    "Time from proposing an operation to its apply response, in milliseconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"kind"}),
		ProposalFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clustermeta_proposal_failures_total",
			Help: "Proposals that never reached the applier, by kind.",
		}, []string{"kind"}),
		LeadershipChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clustermeta_leadership_changes_total",
			Help: "Transitions of this node to leader.",
		}),
		TransferAborts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clustermeta_transfer_aborts_total",
			Help: "Shard transfer aborts proposed by the reconciler.",
		}),
		DuplicateNops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clustermeta_duplicate_nops_total",
			Help: "Nop proposals dropped because their token was already seen.",
		}),
		AppliedIndex: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "clustermeta_applied_index",
			Help: "Last log index applied to the catalog.",
		}),
		ReconcilerPasses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clustermeta_reconciler_passes_total",
			Help: "Completed reconciliation passes.",
		}),
		UnhealthyPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "clustermeta_unhealthy_peers",
			Help: "Peers whose last heartbeat is older than the peer timeout.",
		}),
		RaftLogSizeBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "clustermeta_raft_log_size_bytes",
			Help: "Size of the BoltDB raft log file.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.AppliedOperations,
		m.ApplyLatency,
		m.ProposalLatency,
		m.ProposalFailures,
		m.LeadershipChanges,
		m.TransferAborts,
		m.DuplicateNops,
		m.AppliedIndex,
		m.ReconcilerPasses,
		m.UnhealthyPeers,
		m.RaftLogSizeBytes,
	}
}

// Register registers every collector on reg (or the default registerer if
// nil). Registering the same collectors twice is not an error.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return err
			}
		}
	}
	return nil
}

// ObserveApply records one applied log entry.
func (m *Metrics) ObserveApply(kind, outcome string, index uint64, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.AppliedOperations.WithLabelValues(kind, outcome).Inc()
	m.ApplyLatency.WithLabelValues(kind).Observe(float64(elapsed) / float64(time.Millisecond))
	if index > 0 {
		m.AppliedIndex.Set(float64(index))
	}
}

// ObserveProposal records the round trip of one proposal.
func (m *Metrics) ObserveProposal(kind string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.ProposalFailures.WithLabelValues(kind).Inc()
		return
	}
	m.ProposalLatency.WithLabelValues(kind).Observe(float64(elapsed) / float64(time.Millisecond))
}

func (m *Metrics) LeadershipChanged() {
	if m != nil {
		m.LeadershipChanges.Inc()
	}
}

func (m *Metrics) TransferAborted() {
	if m != nil {
		m.TransferAborts.Inc()
	}
}

func (m *Metrics) DuplicateNop() {
	if m != nil {
		m.DuplicateNops.Inc()
	}
}

// ReconcilerPass records a finished pass and the number of unhealthy peers it saw.
func (m *Metrics) ReconcilerPass(unhealthy int) {
	if m == nil {
		return
	}
	m.ReconcilerPasses.Inc()
	m.UnhealthyPeers.Set(float64(unhealthy))
}

func (m *Metrics) SetRaftLogSize(bytes int64) {
	if m != nil {
		m.RaftLogSizeBytes.Set(float64(bytes))
	}
}
