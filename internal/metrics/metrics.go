package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "designq"

var (
	TaskSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_submitted_total",
			Help:      "Total number of design tasks accepted for processing.",
		},
		[]string{"project_type"},
	)

	TaskCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_completed_total",
			Help:      "Total number of tasks reaching a terminal state, labeled by status and traffic light.",
		},
		[]string{"status", "traffic_light"},
	)

	TaskProcessingLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_processing_latency_seconds",
			Help:      "End-to-end latency from submission to terminal state (seconds).",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800, 3600},
		},
		[]string{"status"},
	)

	CallbackUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callback_updates_total",
			Help:      "Total number of agent callback updates, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	TerminalConflictTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "terminal_conflict_total",
			Help:      "Total number of writes absorbed because the task was already terminal.",
		},
	)

	AgentStreamChunksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_stream_chunks_total",
			Help:      "Total number of streamed output chunks relayed from the agent.",
		},
	)

	ArtifactBytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "artifact_bytes_total",
			Help:      "Total bytes persisted to the artifact store, labeled by artifact type.",
		},
		[]string{"artifact_type"},
	)

	SweepRequeuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_requeued_total",
			Help:      "Total number of stuck-QUEUED tasks re-enqueued by the sweep.",
		},
	)

	SweepReclaimedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_reclaimed_total",
			Help:      "Total number of expired task records reclaimed by the sweep.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		TaskSubmittedTotal,
		TaskCompletedTotal,
		TaskProcessingLatencySeconds,
		CallbackUpdatesTotal,
		TerminalConflictTotal,
		AgentStreamChunksTotal,
		ArtifactBytesTotal,
		SweepRequeuedTotal,
		SweepReclaimedTotal,
	)
}
