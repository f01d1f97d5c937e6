package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeSuccess   = "success"
	outcomeUnitError = "unit_error"
	outcomeTimeout   = "timeout"
	outcomeShutdown  = "shutdown"
)

type metrics struct {
	unitsProvisioned  prometheus.Gauge
	unitsBusy         prometheus.Gauge
	queueLength       prometheus.Gauge
	tasksTotal        *prometheus.CounterVec
	tasksRejected     prometheus.Counter
	taskDuration      *prometheus.HistogramVec
	queueWait         prometheus.Histogram
	staleMessages     prometheus.Counter
	provisionFailures prometheus.Counter
}

func newMetrics(registerer prometheus.Registerer) *metrics {
	r := promauto.With(registerer)
	return &metrics{
		unitsProvisioned: r.NewGauge(prometheus.GaugeOpts{
			Namespace: "offload",
			Subsystem: "dispatcher",
			Name:      "units_provisioned",
			Help:      "Number of execution units provisioned at startup.",
		}),
		unitsBusy: r.NewGauge(prometheus.GaugeOpts{
			Namespace: "offload",
			Subsystem: "dispatcher",
			Name:      "units_busy",
			Help:      "Number of execution units currently bound to a task.",
		}),
		queueLength: r.NewGauge(prometheus.GaugeOpts{
			Namespace: "offload",
			Subsystem: "dispatcher",
			Name:      "queue_length",
			Help:      "Number of tasks waiting for a free execution unit.",
		}),
		tasksTotal: r.NewCounterVec(prometheus.CounterOpts{
			Namespace: "offload",
			Subsystem: "dispatcher",
			Name:      "tasks_total",
			Help:      "Total number of resolved tasks by kind and outcome.",
		}, []string{"kind", "outcome"}),
		tasksRejected: r.NewCounter(prometheus.CounterOpts{
			Namespace: "offload",
			Subsystem: "dispatcher",
			Name:      "tasks_rejected_total",
			Help:      "Total number of submissions rejected because the backlog was full.",
		}),
		taskDuration: r.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "offload",
			Subsystem: "dispatcher",
			Name:      "task_duration_seconds",
			Help:      "Time from assignment to terminal state, by kind and outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind", "outcome"}),
		queueWait: r.NewHistogram(prometheus.HistogramOpts{
			Namespace: "offload",
			Subsystem: "dispatcher",
			Name:      "queue_wait_seconds",
			Help:      "Time tasks spent queued before being assigned to a unit.",
			Buckets:   prometheus.DefBuckets,
		}),
		staleMessages: r.NewCounter(prometheus.CounterOpts{
			Namespace: "offload",
			Subsystem: "dispatcher",
			Name:      "stale_messages_total",
			Help:      "Total number of unit messages discarded because their task had already reached a terminal state.",
		}),
		provisionFailures: r.NewCounter(prometheus.CounterOpts{
			Namespace: "offload",
			Subsystem: "dispatcher",
			Name:      "provision_failures_total",
			Help:      "Total number of execution unit creation attempts that failed.",
		}),
	}
}
