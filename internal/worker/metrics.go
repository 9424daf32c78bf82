package worker

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	tasksTotal       *prometheus.CounterVec
	taskDuration     *prometheus.HistogramVec
	activeTasks      prometheus.Gauge
	webhookFailures  prometheus.Counter
	queueWaitSeconds prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		tasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "charforge_worker_tasks_total",
			Help: "Queued generation tasks by final status.",
		}, []string{"status"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "charforge_worker_task_duration_seconds",
			Help:    "Time spent handling each queued generation task.",
			Buckets: []float64{1, 2, 4, 8, 15, 30, 60, 120, 180},
		}, []string{"status"}),
		activeTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "charforge_worker_active_tasks",
			Help: "Generation tasks currently being handled.",
		}),
		webhookFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "charforge_worker_webhook_failures_total",
			Help: "Result deliveries that did not reach their webhook.",
		}),
		queueWaitSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "charforge_worker_queue_wait_seconds",
			Help:    "Delay between enqueue and the start of handling.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}
	reg.MustRegister(
		m.tasksTotal,
		m.taskDuration,
		m.activeTasks,
		m.webhookFailures,
		m.queueWaitSeconds,
	)
	return m
}
