package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	publishCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gitbridge_publish_count_total",
			Help: "Total number of publish cycles started",
		},
	)

	publishFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gitbridge_publish_failed_total",
			Help: "Total number of failed publish cycles",
		},
		[]string{"profile", "reason"},
	)

	publishDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gitbridge_publish_duration_seconds",
			Help:    "Publish cycle duration in seconds",
			Buckets: []float64{0.1, 0.2, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"profile"},
	)

	lockWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gitbridge_lock_wait_seconds",
			Help:    "Time spent waiting for the exclusive mutation lock",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 10, 30},
		},
	)

	pushAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gitbridge_push_attempts_total",
			Help: "Total number of upstream push attempts",
		},
	)
)

func PublishStarted() {
	publishCount.Inc()
}

func PublishSucceeded(profile string, start time.Time) {
	publishDuration.WithLabelValues(profile).Observe(time.Since(start).Seconds())
}

func PublishFailed(profile, reason string) {
	publishFailed.WithLabelValues(profile, reason).Inc()
}

func LockWaited(d time.Duration) {
	lockWait.Observe(d.Seconds())
}

func PushAttempted() {
	pushAttempts.Inc()
}
