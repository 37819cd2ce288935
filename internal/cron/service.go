package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	robfigcron "github.com/robfig/cron/v3"

	"github.com/angelmondragon/coursepay/pkg/logger"
	"github.com/angelmondragon/coursepay/pkg/metrics"
)

// ErrUnknownJob is returned by RunJob for names that were never registered.
var ErrUnknownJob = errors.New("unknown cron job")

type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Leaser   Leaser
	Metrics  *metrics.CronJobMetrics
	// Location schedules are evaluated in; UTC when nil.
	Location *time.Location
}

// Service drives registered jobs with robfig's scheduler. Every run first takes
// the job's lease, so several worker replicas can share one schedule.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	leaser   Leaser
	metrics  *metrics.CronJobMetrics
	location *time.Location
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Leaser == nil {
		return nil, fmt.Errorf("leaser required")
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	location := params.Location
	if location == nil {
		location = time.UTC
	}
	return &Service{
		logg:     params.Logger,
		registry: registry,
		leaser:   params.Leaser,
		metrics:  params.Metrics,
		location: location,
	}, nil
}

// NextRun reports when the named job is next due after t.
func (s *Service) NextRun(name string, t time.Time) (time.Time, error) {
	entry, ok := s.registry.Lookup(name)
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return entry.schedule.Next(t.In(s.location)), nil
}

// Run schedules every registered job and blocks until ctx is canceled, then
// waits for in-flight runs to finish.
func (s *Service) Run(ctx context.Context) error {
	log := schedulerLogger{logg: s.logg, ctx: ctx}
	scheduler := robfigcron.New(
		robfigcron.WithLocation(s.location),
		robfigcron.WithLogger(log),
		robfigcron.WithChain(robfigcron.Recover(log), robfigcron.SkipIfStillRunning(log)),
	)
	for _, entry := range s.registry.Entries() {
		name := entry.Job.Name()
		scheduler.Schedule(entry.schedule, robfigcron.FuncJob(func() {
			if err := s.RunJob(ctx, name); err != nil {
				s.logg.Error(s.logg.WithField(ctx, "job", name), "scheduled job failed", err)
			}
		}))
	}

	scheduler.Start()
	s.logg.Info(ctx, "cron scheduler started")
	<-ctx.Done()
	<-scheduler.Stop().Done()
	s.logg.Info(ctx, "cron scheduler stopped")
	return ctx.Err()
}

// RunJob runs one job immediately under its lease. A lease held by another
// worker skips the run without error.
func (s *Service) RunJob(ctx context.Context, name string) error {
	entry, ok := s.registry.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	jobCtx := s.logg.WithFields(ctx, map[string]any{"job": name, "event": "cron.job"})

	lease, acquired, err := s.leaser.TryLease(jobCtx, name)
	if err != nil {
		s.metrics.IncFailure(name)
		return err
	}
	if !acquired {
		s.metrics.IncSkipped(name)
		s.logg.Info(jobCtx, "job lease held elsewhere; skipping")
		return nil
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(jobCtx)); err != nil {
			s.logg.Error(jobCtx, "release job lease", err)
		}
	}()

	start := time.Now()
	runErr := entry.Job.Run(jobCtx)
	elapsed := time.Since(start)
	s.metrics.ObserveDuration(name, elapsed)
	jobCtx = s.logg.WithField(jobCtx, "duration_ms", elapsed.Milliseconds())
	if runErr != nil {
		s.metrics.IncFailure(name)
		return runErr
	}
	s.metrics.IncSuccess(name)
	s.logg.Info(jobCtx, "job completed")
	return nil
}

// schedulerLogger feeds robfig's internal events into the service logger.
type schedulerLogger struct {
	logg *logger.Logger
	ctx  context.Context
}

func (l schedulerLogger) Info(msg string, keysAndValues ...any) {
	l.logg.Debug(l.logg.WithFields(l.ctx, pairs(keysAndValues)), "cron: "+msg)
}

func (l schedulerLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logg.Error(l.logg.WithFields(l.ctx, pairs(keysAndValues)), "cron: "+msg, err)
}

func pairs(keysAndValues []any) map[string]any {
	fields := make(map[string]any, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}
