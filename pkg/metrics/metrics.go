package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Raft metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "group0_raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "group0_raft_peers_total",
			Help: "Total number of Raft peers in the cluster",
		},
	)

	RaftLogIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "group0_raft_log_index",
			Help: "Current Raft log index",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "group0_raft_applied_index",
			Help: "Last applied Raft log index",
		},
	)

	// History table metrics
	HistoryLength = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "group0_history_length",
			Help: "Number of entries currently retained in the history table",
		},
	)

	HistoryGCedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "group0_history_gced_total",
			Help: "Total number of history entries reclaimed by garbage collection",
		},
	)

	// Guard manager metrics
	GuardWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "group0_guard_wait_duration_seconds",
			Help:    "Time spent in start_operation acquiring the operation lock, read barrier and apply lock",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Submission engine metrics
	SubmitRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "group0_submit_retries_total",
			Help: "Total number of internal retries due to dropped_entry or commit_status_unknown",
		},
	)

	ConcurrentModificationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "group0_concurrent_modifications_total",
			Help: "Total number of commands rejected as a concurrent modification",
		},
	)

	ProposeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "group0_propose_duration_seconds",
			Help:    "End-to-end duration of a ProposeKV or ProposeSchemaMutation call",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"change_kind"},
	)

	// State-machine applier metrics
	ApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "group0_apply_duration_seconds",
			Help:    "Time taken to apply one committed command in the state machine",
			Buckets: prometheus.DefBuckets,
		},
	)

	CommandsSkippedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "group0_commands_skipped_total",
			Help: "Total number of committed commands skipped as stale no-ops",
		},
	)

	SnapshotTransfersTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "group0_snapshot_transfers_total",
			Help: "Total number of snapshot transfers installed on this node",
		},
	)

	// K/V query metrics
	KVQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "group0_kv_queries_total",
			Help: "Total number of k/v queries executed, by kind",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RaftPeers)
	prometheus.MustRegister(RaftLogIndex)
	prometheus.MustRegister(RaftAppliedIndex)
	prometheus.MustRegister(HistoryLength)
	prometheus.MustRegister(HistoryGCedTotal)
	prometheus.MustRegister(GuardWaitDuration)
	prometheus.MustRegister(SubmitRetriesTotal)
	prometheus.MustRegister(ConcurrentModificationsTotal)
	prometheus.MustRegister(ProposeDuration)
	prometheus.MustRegister(ApplyDuration)
	prometheus.MustRegister(CommandsSkippedTotal)
	prometheus.MustRegister(SnapshotTransfersTotal)
	prometheus.MustRegister(KVQueriesTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
