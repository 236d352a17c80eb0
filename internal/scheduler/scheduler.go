// Package scheduler fires configured prompts through the orchestration
// loop on cron schedules. Jobs come from configuration, each firing gets
// a fresh session, and a job never overlaps itself: if the previous run
// is still in flight the firing is skipped.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/crucible-ai/crucible/internal/agent"
	"github.com/crucible-ai/crucible/internal/config"
)

// Runner executes one orchestration run. *agent.Loop satisfies it.
type Runner interface {
	Run(ctx context.Context, sessionID, message string) (*agent.RunResult, error)
}

// Scheduler owns the cron runtime and the in-flight bookkeeping for
// configured jobs.
type Scheduler struct {
	runner  Runner
	logger  *slog.Logger
	metrics *Metrics
	cron    *cron.Cron

	mu       sync.Mutex
	inFlight map[string]bool
}

// New builds a scheduler from configuration. Every job's schedule is
// validated up front; a single bad expression fails construction so
// misconfiguration surfaces at startup rather than at first firing.
func New(cfg *config.SchedulerConfig, runner Runner, logger *slog.Logger) (*Scheduler, error) {
	if runner == nil {
		return nil, fmt.Errorf("scheduler: runner is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

	s := &Scheduler{
		runner:   runner,
		logger:   logger,
		cron:     cron.New(cron.WithParser(parser)),
		inFlight: make(map[string]bool),
	}

	for _, job := range cfg.Jobs {
		job := job
		if _, err := parser.Parse(job.Schedule); err != nil {
			return nil, fmt.Errorf("scheduler: job %q has invalid schedule %q: %w", job.Name, job.Schedule, err)
		}
		if _, err := s.cron.AddFunc(job.Schedule, func() {
			s.fireJob(context.Background(), job)
		}); err != nil {
			return nil, fmt.Errorf("scheduler: registering job %q: %w", job.Name, err)
		}
	}

	return s, nil
}

// WithMetrics attaches Prometheus metrics. Safe to skip.
func (s *Scheduler) WithMetrics(m *Metrics) *Scheduler {
	s.metrics = m
	return s
}

// Start begins firing jobs and returns a stop function. The stop
// function halts the cron runtime and waits for in-flight runs to
// finish, bounded by the context passed to it being implicit in the
// cron stop context.
func (s *Scheduler) Start(ctx context.Context) func() {
	s.logger.InfoContext(ctx, "scheduler started", "jobs", len(s.cron.Entries()))
	s.cron.Start()

	stopped := make(chan struct{})
	go func() {
		<-ctx.Done()
		select {
		case <-stopped:
		default:
			<-s.cron.Stop().Done()
		}
	}()

	return func() {
		close(stopped)
		<-s.cron.Stop().Done()
		s.logger.Info("scheduler stopped")
	}
}

// Jobs reports how many jobs are registered.
func (s *Scheduler) Jobs() int {
	return len(s.cron.Entries())
}

func (s *Scheduler) fireJob(ctx context.Context, job config.ScheduledRunConfig) {
	s.mu.Lock()
	if s.inFlight[job.Name] {
		s.mu.Unlock()
		s.logger.WarnContext(ctx, "scheduled run skipped, previous still in flight", "job", job.Name)
		if s.metrics != nil {
			s.metrics.JobsSkipped.Inc()
		}
		return
	}
	s.inFlight[job.Name] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.inFlight, job.Name)
		s.mu.Unlock()
	}()

	sessionID := uuid.New().String()
	start := time.Now()

	s.logger.InfoContext(ctx, "scheduled run firing",
		"job", job.Name,
		"session_id", sessionID,
	)
	if s.metrics != nil {
		s.metrics.JobsFired.Inc()
	}

	result, err := s.runner.Run(ctx, sessionID, job.Prompt)
	elapsed := time.Since(start)
	if s.metrics != nil {
		s.metrics.JobDuration.Observe(elapsed.Seconds())
	}

	switch {
	case err != nil:
		s.logger.ErrorContext(ctx, "scheduled run failed",
			"job", job.Name,
			"session_id", sessionID,
			"duration", elapsed,
			"error", err,
		)
		if s.metrics != nil {
			s.metrics.JobsFailed.Inc()
		}
	case !result.Success:
		s.logger.WarnContext(ctx, "scheduled run did not succeed",
			"job", job.Name,
			"session_id", sessionID,
			"duration", elapsed,
			"iterations", result.Iterations,
		)
		if s.metrics != nil {
			s.metrics.JobsFailed.Inc()
		}
	default:
		s.logger.InfoContext(ctx, "scheduled run succeeded",
			"job", job.Name,
			"session_id", sessionID,
			"duration", elapsed,
			"iterations", result.Iterations,
		)
		if s.metrics != nil {
			s.metrics.JobsSucceeded.Inc()
		}
	}
}
