// Package dispatch runs post-commit side effects (audit, cache invalidation,
// notifications, domain events) without letting their failures reach the caller.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/coursepay/pkg/config"
	"github.com/angelmondragon/coursepay/pkg/logger"
	"github.com/angelmondragon/coursepay/pkg/metrics"
)

// Task is a named unit of best-effort work.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Dispatcher accepts tasks after a commit. Enqueue never blocks on the task itself
// and never reports its outcome.
type Dispatcher interface {
	Enqueue(ctx context.Context, task Task)
}

// ErrClosed is recorded when a task arrives after Close.
var ErrClosed = errors.New("dispatcher closed")

const (
	defaultWorkers     = 4
	defaultQueueSize   = 256
	defaultTaskTimeout = 15 * time.Second
)

type queuedTask struct {
	ctx  context.Context
	task Task
}

// AsyncDispatcher fans tasks out to a fixed pool of workers over a bounded queue.
// When the queue is full the task is dropped and counted.
type AsyncDispatcher struct {
	queue   chan queuedTask
	timeout time.Duration
	logg    *logger.Logger
	metrics *metrics.PaymentMetrics

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewAsync starts the worker pool.
func NewAsync(cfg config.DispatchConfig, logg *logger.Logger, m *metrics.PaymentMetrics) (*AsyncDispatcher, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	timeout := cfg.TaskTimeout
	if timeout <= 0 {
		timeout = defaultTaskTimeout
	}

	d := &AsyncDispatcher{
		queue:   make(chan queuedTask, size),
		timeout: timeout,
		logg:    logg,
		metrics: m,
	}
	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.work()
	}
	return d, nil
}

func (d *AsyncDispatcher) Enqueue(ctx context.Context, task Task) {
	if task.Run == nil {
		return
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.drop(ctx, task, ErrClosed)
		return
	}
	select {
	case d.queue <- queuedTask{ctx: context.WithoutCancel(ctx), task: task}:
	default:
		d.drop(ctx, task, errors.New("dispatch queue full"))
	}
}

func (d *AsyncDispatcher) drop(ctx context.Context, task Task, reason error) {
	d.metrics.IncDispatchDropped()
	d.logg.Error(d.logg.WithField(ctx, "task", task.Name), "dispatch task dropped", reason)
}

func (d *AsyncDispatcher) work() {
	defer d.wg.Done()
	for item := range d.queue {
		d.run(item)
	}
}

func (d *AsyncDispatcher) run(item queuedTask) {
	ctx, cancel := context.WithTimeout(item.ctx, d.timeout)
	defer cancel()
	if err := execute(ctx, item.task); err != nil {
		d.metrics.IncDispatchFailure(item.task.Name)
		d.logg.Error(d.logg.WithField(ctx, "task", item.task.Name), "dispatch task failed", err)
	}
}

// Close stops accepting tasks and waits for queued ones to finish or ctx to expire.
func (d *AsyncDispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatch drain: %w", ctx.Err())
	}
}

// execute shields the worker from a panicking task.
func execute(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", task.Name, r)
		}
	}()
	return task.Run(ctx)
}

// InlineDispatcher runs each task synchronously on the caller's goroutine and keeps
// the outcome for inspection. Intended for tests and one-shot tools.
type InlineDispatcher struct {
	mu    sync.Mutex
	names []string
	errs  error
}

func NewInline() *InlineDispatcher {
	return &InlineDispatcher{}
}

func (d *InlineDispatcher) Enqueue(ctx context.Context, task Task) {
	if task.Run == nil {
		return
	}
	err := execute(context.WithoutCancel(ctx), task)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.names = append(d.names, task.Name)
	if err != nil {
		d.errs = multierr.Append(d.errs, fmt.Errorf("%s: %w", task.Name, err))
	}
}

// Tasks returns the names of every task run so far, in order.
func (d *InlineDispatcher) Tasks() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.names...)
}

// Errors returns the failures recorded so far.
func (d *InlineDispatcher) Errors() []error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return multierr.Errors(d.errs)
}

// Reset clears recorded names and errors.
func (d *InlineDispatcher) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.names = nil
	d.errs = nil
}
