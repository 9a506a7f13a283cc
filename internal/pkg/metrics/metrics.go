package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry holds every collector of the agent. It is served on /metrics by
// the status server.
var Registry = prometheus.NewRegistry()

var (
	// BlockReads counts underlying aligned reads per partition.
	BlockReads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fota_block_reads_total",
			Help: "Underlying aligned block reads issued against a partition.",
		},
		[]string{"partition", "result"}, // result: ok/error
	)

	// BlockWrites counts erase-then-program block commits per partition.
	BlockWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fota_block_writes_total",
			Help: "Block commits (erase then program) issued against a partition.",
		},
		[]string{"partition", "result"},
	)

	// BackupAttempts counts physical backup-area operations, retries included.
	BackupAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fota_backup_attempts_total",
			Help: "Physical backup staging attempts, including retries.",
		},
		[]string{"op", "result"}, // op: write_full/write_partial/read
	)

	// SessionResults counts finished update sessions.
	SessionResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fota_session_results_total",
			Help: "Finished update sessions by outcome and mode.",
		},
		[]string{"result", "mode"},
	)

	// SessionProgress is the completion fraction of the running session.
	SessionProgress = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fota_session_progress_ratio",
			Help: "Completion fraction (0..1) of the running update session.",
		},
	)

	// EngineDuration observes the wall time of each engine invocation.
	EngineDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fota_engine_duration_seconds",
			Help:    "Duration of patch engine invocations.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		},
		[]string{"partition", "operation"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		BlockReads,
		BlockWrites,
		BackupAttempts,
		SessionResults,
		SessionProgress,
		EngineDuration,
	)
}

// Result turns an error into the result label value.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
