package service

import (
	"time"

	"cluster-backend/internal/models"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 编排相关的 Prometheus 指标
type Metrics struct {
	submitted     *prometheus.CounterVec
	rejected      *prometheus.CounterVec
	completed     *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	active        prometheus.Gauge
	responses     *prometheus.CounterVec
	notifications *prometheus.CounterVec
}

// NewMetrics 创建并注册指标
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		submitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "clusterd",
				Subsystem: "orchestrator",
				Name:      "operations_submitted_total",
				Help:      "Total number of submitted cluster operations",
			},
			[]string{"operation"},
		),
		rejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "clusterd",
				Subsystem: "orchestrator",
				Name:      "operations_rejected_total",
				Help:      "Total number of rejected submits by reason",
			},
			[]string{"operation", "reason"},
		),
		completed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "clusterd",
				Subsystem: "orchestrator",
				Name:      "operations_completed_total",
				Help:      "Total number of finished cluster operations by status",
			},
			[]string{"operation", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "clusterd",
				Subsystem: "orchestrator",
				Name:      "operation_duration_seconds",
				Help:      "Duration of cluster operations in seconds",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~34min
			},
			[]string{"operation"},
		),
		active: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "clusterd",
				Subsystem: "orchestrator",
				Name:      "operations_active",
				Help:      "Number of clusters holding an operation token",
			},
		),
		responses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "clusterd",
				Subsystem: "receiver",
				Name:      "responses_total",
				Help:      "Total number of executor responses by outcome",
			},
			[]string{"respond_to", "outcome"},
		),
		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "clusterd",
				Subsystem: "notifier",
				Name:      "notifications_total",
				Help:      "Total number of notifications by topic",
			},
			[]string{"topic"},
		),
	}
	if reg != nil {
		reg.MustRegister(
			m.submitted,
			m.rejected,
			m.completed,
			m.duration,
			m.active,
			m.responses,
			m.notifications,
		)
	}
	return m
}

func (m *Metrics) recordSubmitted(op models.TaskName) {
	m.submitted.WithLabelValues(string(op)).Inc()
}

func (m *Metrics) recordRejected(op models.TaskName, reason string) {
	m.rejected.WithLabelValues(string(op), reason).Inc()
}

func (m *Metrics) recordCompleted(op models.TaskName, status models.TaskStatus, started time.Time) {
	m.completed.WithLabelValues(string(op), string(status)).Inc()
	m.duration.WithLabelValues(string(op)).Observe(time.Since(started).Seconds())
}

func (m *Metrics) setActive(n int) {
	m.active.Set(float64(n))
}

func (m *Metrics) recordResponse(respondTo, outcome string) {
	m.responses.WithLabelValues(respondTo, outcome).Inc()
}

func (m *Metrics) recordNotification(topic models.NotificationTopic) {
	m.notifications.WithLabelValues(string(topic)).Inc()
}
