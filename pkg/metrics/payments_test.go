package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestPaymentMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPaymentMetrics(reg)

	m.IncPayment(OutcomeCompleted)
	m.IncPayment(OutcomeCompleted)
	m.IncRefund(OutcomeAlreadyHandled)
	m.IncDispatchFailure("notify_enrollment")
	m.IncDispatchFailure("")
	m.IncDispatchDropped()
	m.ObserveGateway("create_charge", 120*time.Millisecond, errors.New("timeout"))
	m.ObserveProcessing("payment", 300*time.Millisecond)

	require.Equal(t, 2.0, testutil.ToFloat64(m.payments.WithLabelValues(OutcomeCompleted)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.refunds.WithLabelValues(OutcomeAlreadyHandled)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.dispatchFailure.WithLabelValues("notify_enrollment")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.dispatchFailure.WithLabelValues("unknown")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.dispatchDropped))

	hist := histogramFor(t, reg, "coursepay_gateway_request_duration_seconds")
	require.EqualValues(t, 1, hist.GetSampleCount())
	require.InDelta(t, 0.12, hist.GetSampleSum(), 1e-9)
}

func TestNilPaymentMetricsAreNoops(t *testing.T) {
	var m *PaymentMetrics
	m.IncPayment(OutcomeCompleted)
	m.IncDispatchDropped()
	m.ObserveGateway("create_refund", time.Second, nil)

	NewPaymentMetrics(nil).IncRefund(OutcomeCompleted)
}
