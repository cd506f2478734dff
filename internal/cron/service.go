package cron

import (
	"context"
	"fmt"
	"time"

	robfig "github.com/robfig/cron/v3"

	"github.com/angelmondragon/adtrail-backend/pkg/logger"
	"github.com/angelmondragon/adtrail-backend/pkg/metrics"
)

// ServiceParams configure the cron service.
type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Locker   Locker
	Metrics  *metrics.CronJobMetrics
	Location *time.Location
}

// Service executes registered jobs on their cron expressions. Each job holds its own lock,
// so a slow order sync never delays settlement or retention.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	locker   Locker
	metrics  *metrics.CronJobMetrics
	location *time.Location
}

// NewService builds a cron service and validates every registered expression.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Locker == nil {
		return nil, fmt.Errorf("locker required")
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	for _, entry := range registry.Entries() {
		if _, err := robfig.ParseStandard(entry.Spec); err != nil {
			return nil, fmt.Errorf("job %s: invalid schedule %q: %w", entry.Job.Name(), entry.Spec, err)
		}
	}
	location := params.Location
	if location == nil {
		location = time.UTC
	}
	return &Service{
		logg:     params.Logger,
		registry: registry,
		locker:   params.Locker,
		metrics:  params.Metrics,
		location: location,
	}, nil
}

// Run schedules every job and blocks until the context is canceled, then waits for
// in-flight jobs to return.
func (s *Service) Run(ctx context.Context) error {
	scheduler := robfig.New(robfig.WithLocation(s.location))
	for _, entry := range s.registry.Entries() {
		job := entry.Job
		if _, err := scheduler.AddFunc(entry.Spec, func() { s.runLocked(ctx, job) }); err != nil {
			return fmt.Errorf("schedule %s: %w", job.Name(), err)
		}
		s.logg.Info(s.logg.WithFields(ctx, map[string]any{
			"job":      job.Name(),
			"schedule": entry.Spec,
		}), "job scheduled")
	}

	scheduler.Start()
	<-ctx.Done()
	s.logg.Info(ctx, "cron service context canceled")
	<-scheduler.Stop().Done()
	return ctx.Err()
}

// Trigger runs a registered job immediately under its lock.
func (s *Service) Trigger(ctx context.Context, name string) error {
	job, ok := s.registry.Lookup(name)
	if !ok {
		return fmt.Errorf("unknown job %s", name)
	}
	s.runLocked(ctx, job)
	return nil
}

func (s *Service) runLocked(ctx context.Context, job Job) {
	jobCtx := s.logg.WithField(ctx, "job", job.Name())
	lease, ok, err := s.locker.TryLock(jobCtx, job.Name())
	if err != nil {
		s.logg.Error(jobCtx, "lock acquire failed", err)
		s.metrics.RecordRun(job.Name(), metrics.JobOutcomeLockError, 0)
		return
	}
	if !ok {
		s.logg.Info(jobCtx, "another instance holds the job lock; skipping this run")
		s.metrics.RecordRun(job.Name(), metrics.JobOutcomeSkipped, 0)
		return
	}
	defer func() {
		if relErr := lease.Release(context.WithoutCancel(jobCtx)); relErr != nil {
			s.logg.Error(jobCtx, "failed to release job lock", relErr)
		}
	}()
	s.runJob(jobCtx, job)
}

func (s *Service) runJob(ctx context.Context, job Job) {
	jobCtx := s.logg.WithField(ctx, "event", "cron.job")
	s.logg.Info(jobCtx, "job start")
	start := time.Now()
	err := job.Run(jobCtx)
	duration := time.Since(start)
	jobCtx = s.logg.WithField(jobCtx, "duration_ms", duration.Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "job failed", err)
		s.metrics.RecordRun(job.Name(), metrics.JobOutcomeFailed, duration)
		return
	}
	s.logg.Info(jobCtx, "job completed")
	s.metrics.RecordRun(job.Name(), metrics.JobOutcomeSucceeded, duration)
}
