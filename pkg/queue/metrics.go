package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts task-manager activity for the /metrics endpoint.
type Metrics struct {
	tasksReceived  prometheus.Counter
	tasksCompleted prometheus.Counter
	tasksFailed    prometheus.Counter
	rateLimitHits  prometheus.Counter
}

func newMetrics(reg prometheus.Registerer, depth, uptime func() float64) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{
		tasksReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "tlt", Subsystem: "queue", Name: "tasks_received_total",
			Help: "Agent tasks admitted to the queue.",
		}),
		tasksCompleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "tlt", Subsystem: "queue", Name: "tasks_completed_total",
			Help: "Agent tasks that reached the completed status.",
		}),
		tasksFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "tlt", Subsystem: "queue", Name: "tasks_failed_total",
			Help: "Agent tasks that ended in error or abandonment.",
		}),
		rateLimitHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "tlt", Subsystem: "queue", Name: "rate_limit_hits_total",
			Help: "Submissions rejected by the admission rate limit.",
		}),
	}
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "tlt", Subsystem: "queue", Name: "depth",
		Help: "Tasks currently waiting in the queue.",
	}, depth)
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "tlt", Name: "uptime_seconds",
		Help: "Seconds since the task manager started.",
	}, uptime)
	return m
}
