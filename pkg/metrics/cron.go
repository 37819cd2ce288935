package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "coursepay"

// Cron run outcomes, used as the "outcome" label.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
)

// CronJobMetrics tracks scheduled job runs. A nil *CronJobMetrics records nothing.
type CronJobMetrics struct {
	runs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
	now         func() time.Time
}

func NewCronJobMetrics(reg prometheus.Registerer) *CronJobMetrics {
	if reg == nil {
		return nil
	}
	m := &CronJobMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cron",
			Name:      "job_runs_total",
			Help:      "Scheduled job runs by outcome. Skipped runs found the lease held elsewhere.",
		}, []string{"job", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cron",
			Name:      "job_duration_seconds",
			Help:      "Wall time of scheduled job runs that held the lease.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}, []string{"job"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cron",
			Name:      "job_last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run; alert when it stops advancing.",
		}, []string{"job"}),
		now: time.Now,
	}
	reg.MustRegister(m.runs, m.duration, m.lastSuccess)
	return m
}

func (m *CronJobMetrics) ObserveDuration(job string, d time.Duration) {
	if m != nil {
		m.duration.WithLabelValues(labelOrUnknown(job)).Observe(d.Seconds())
	}
}

func (m *CronJobMetrics) IncSuccess(job string) {
	if m != nil {
		m.runs.WithLabelValues(labelOrUnknown(job), OutcomeSuccess).Inc()
		m.lastSuccess.WithLabelValues(labelOrUnknown(job)).Set(float64(m.now().Unix()))
	}
}

func (m *CronJobMetrics) IncFailure(job string) {
	if m != nil {
		m.runs.WithLabelValues(labelOrUnknown(job), OutcomeFailure).Inc()
	}
}

func (m *CronJobMetrics) IncSkipped(job string) {
	if m != nil {
		m.runs.WithLabelValues(labelOrUnknown(job), OutcomeSkipped).Inc()
	}
}

// labelOrUnknown keeps empty label values from producing a blank series.
func labelOrUnknown(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
