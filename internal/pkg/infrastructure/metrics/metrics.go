package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	namespace = "field_sync"

	queueLength = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "length",
			Help:      "Number of tasks held by a task queue",
		},
		[]string{"queue"},
	)

	tasksSettled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "tasks_settled_total",
			Help:      "Number of settled tasks per queue and outcome",
		},
		[]string{"queue", "outcome"},
	)

	taskFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "task_failures_total",
			Help:      "Number of failed task attempts per queue",
		},
		[]string{"queue"},
	)

	deadLettered = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dead_lettered_total",
			Help:      "Number of transforms that exhausted their retries",
		},
	)

	online = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online",
			Help:      "1 when the remote store is reachable",
		},
	)

	materialized = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "materialized_assets_total",
			Help:      "Number of assets whose derived fields were recomputed or skipped",
		},
		[]string{"result"},
	)
)

func RecordQueueLength(queue string, length int) {
	queueLength.WithLabelValues(queue).Set(float64(length))
}

func RecordTaskSettled(queue string, err error) {
	outcome := "resolved"
	if err != nil {
		outcome = "rejected"
	}
	tasksSettled.WithLabelValues(queue, outcome).Inc()
}

func RecordTaskFailure(queue string) {
	taskFailures.WithLabelValues(queue).Inc()
}

func RecordDeadLetter() {
	deadLettered.Inc()
}

func RecordOnline(isOnline bool) {
	if isOnline {
		online.Set(1)
	} else {
		online.Set(0)
	}
}

func RecordMaterialized(recomputed bool) {
	if recomputed {
		materialized.WithLabelValues("recomputed").Inc()
	} else {
		materialized.WithLabelValues("skipped").Inc()
	}
}

func Handler() http.Handler {
	return promhttp.Handler()
}
