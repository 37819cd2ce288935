package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Payment outcomes used as the "outcome" label.
const (
	OutcomeCompleted      = "completed"
	OutcomePending        = "pending"
	OutcomeRejected       = "rejected"
	OutcomeChargeFailed   = "charge_failed"
	OutcomePersistFailed  = "persist_failed"
	OutcomeAlreadyHandled = "conflict"
)

// PaymentMetrics covers the payment and refund orchestrators, the gateway and the
// post-commit dispatcher.
type PaymentMetrics struct {
	payments        *prometheus.CounterVec
	refunds         *prometheus.CounterVec
	processing      *prometheus.HistogramVec
	gatewayLatency  *prometheus.HistogramVec
	dispatchFailure *prometheus.CounterVec
	dispatchDropped prometheus.Counter
}

// NewPaymentMetrics registers the payment metrics on the provided registerer. A nil
// registerer yields a no-op recorder.
func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	if reg == nil {
		return &PaymentMetrics{}
	}
	m := &PaymentMetrics{
		payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_total",
			Help:      "Payment attempts by outcome.",
		}, []string{"outcome"}),
		refunds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refunds_total",
			Help:      "Refund attempts by outcome.",
		}, []string{"outcome"}),
		processing: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "End-to-end duration of payment and refund processing.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		gatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_request_duration_seconds",
			Help:      "Latency of payment gateway calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "result"}),
		dispatchFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_task_failures_total",
			Help:      "Post-commit tasks that returned an error.",
		}, []string{"task"}),
		dispatchDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_tasks_dropped_total",
			Help:      "Post-commit tasks dropped because the queue was full or closed.",
		}),
	}
	reg.MustRegister(m.payments, m.refunds, m.processing, m.gatewayLatency, m.dispatchFailure, m.dispatchDropped)
	return m
}

func (m *PaymentMetrics) IncPayment(outcome string) {
	if m == nil || m.payments == nil {
		return
	}
	m.payments.WithLabelValues(labelOrUnknown(outcome)).Inc()
}

func (m *PaymentMetrics) IncRefund(outcome string) {
	if m == nil || m.refunds == nil {
		return
	}
	m.refunds.WithLabelValues(labelOrUnknown(outcome)).Inc()
}

// ObserveProcessing records how long a payment or refund took end to end.
func (m *PaymentMetrics) ObserveProcessing(operation string, d time.Duration) {
	if m == nil || m.processing == nil {
		return
	}
	m.processing.WithLabelValues(labelOrUnknown(operation)).Observe(d.Seconds())
}

// ObserveGateway records the latency of a single gateway call.
func (m *PaymentMetrics) ObserveGateway(operation string, d time.Duration, err error) {
	if m == nil || m.gatewayLatency == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.gatewayLatency.WithLabelValues(labelOrUnknown(operation), result).Observe(d.Seconds())
}

func (m *PaymentMetrics) IncDispatchFailure(task string) {
	if m == nil || m.dispatchFailure == nil {
		return
	}
	m.dispatchFailure.WithLabelValues(labelOrUnknown(task)).Inc()
}

func (m *PaymentMetrics) IncDispatchDropped() {
	if m == nil || m.dispatchDropped == nil {
		return
	}
	m.dispatchDropped.Inc()
}
