package dispatch

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/coursepay/pkg/config"
	"github.com/angelmondragon/coursepay/pkg/logger"
	"github.com/angelmondragon/coursepay/pkg/metrics"
)

func quietLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func TestAsyncDispatcherRunsTasksDetachedFromRequest(t *testing.T) {
	d, err := NewAsync(config.DispatchConfig{Workers: 2, QueueSize: 8, TaskTimeout: time.Second}, quietLogger(), nil)
	require.NoError(t, err)

	reqCtx, cancel := context.WithCancel(context.Background())
	var ran atomic.Int32
	var sawCanceled atomic.Bool
	for i := 0; i < 5; i++ {
		d.Enqueue(reqCtx, Task{Name: "count", Run: func(ctx context.Context) error {
			if ctx.Err() != nil {
				sawCanceled.Store(true)
			}
			ran.Add(1)
			return nil
		}})
	}
	cancel()

	require.NoError(t, d.Close(context.Background()))
	require.EqualValues(t, 5, ran.Load())
	require.False(t, sawCanceled.Load())
}

func TestAsyncDispatcherCountsFailuresAndPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewPaymentMetrics(reg)
	d, err := NewAsync(config.DispatchConfig{Workers: 1, QueueSize: 4}, quietLogger(), m)
	require.NoError(t, err)

	d.Enqueue(context.Background(), Task{Name: "notify", Run: func(context.Context) error { return errors.New("boom") }})
	d.Enqueue(context.Background(), Task{Name: "audit", Run: func(context.Context) error { panic("nil map") }})
	require.NoError(t, d.Close(context.Background()))

	count, err := testutil.GatherAndCount(reg, "coursepay_dispatch_task_failures_total")
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestAsyncDispatcherDropsWhenFullOrClosed(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewPaymentMetrics(reg)
	d, err := NewAsync(config.DispatchConfig{Workers: 1, QueueSize: 1}, quietLogger(), m)
	require.NoError(t, err)

	release := make(chan struct{})
	started := make(chan struct{})
	d.Enqueue(context.Background(), Task{Name: "block", Run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}})
	<-started
	d.Enqueue(context.Background(), Task{Name: "queued", Run: func(context.Context) error { return nil }})
	d.Enqueue(context.Background(), Task{Name: "overflow", Run: func(context.Context) error { return nil }})
	close(release)
	require.NoError(t, d.Close(context.Background()))

	d.Enqueue(context.Background(), Task{Name: "late", Run: func(context.Context) error { return nil }})
	require.NoError(t, d.Close(context.Background()))

	families, err := reg.Gather()
	require.NoError(t, err)
	var dropped float64
	for _, mf := range families {
		if mf.GetName() == "coursepay_dispatch_tasks_dropped_total" {
			dropped = mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	require.Equal(t, float64(2), dropped)
}

func TestAsyncDispatcherCloseHonoursDeadline(t *testing.T) {
	d, err := NewAsync(config.DispatchConfig{Workers: 1, QueueSize: 1, TaskTimeout: time.Minute}, quietLogger(), nil)
	require.NoError(t, err)

	release := make(chan struct{})
	defer close(release)
	d.Enqueue(context.Background(), Task{Name: "slow", Run: func(context.Context) error {
		<-release
		return nil
	}})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, d.Close(ctx), context.DeadlineExceeded)
}

func TestInlineDispatcherRecordsOutcomes(t *testing.T) {
	d := NewInline()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d.Enqueue(ctx, Task{Name: "ok", Run: func(ctx context.Context) error { return ctx.Err() }})
	d.Enqueue(ctx, Task{Name: "fails", Run: func(context.Context) error { return errors.New("downstream 502") }})
	d.Enqueue(ctx, Task{Name: "skipped"})

	require.Equal(t, []string{"ok", "fails"}, d.Tasks())
	errs := d.Errors()
	require.Len(t, errs, 1)
	require.Contains(t, errs[0].Error(), "fails: downstream 502")

	d.Reset()
	require.Empty(t, d.Tasks())
	require.Empty(t, d.Errors())
}

func TestNewAsyncRequiresLogger(t *testing.T) {
	_, err := NewAsync(config.DispatchConfig{}, nil, nil)
	require.Error(t, err)
}
