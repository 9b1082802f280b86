/*
scheduler.go - Cron triggers for the bulk operations

PURPOSE:
  Runs the engine's bulk operations on cron schedules in the studio's time
  zone:

    daily batch          default "30 0 * * *"  (00:30 every day)
    salary finalization  default "55 23 * * *" (23:55, for that day)
    week generation      default "0 6 * * 0"   (Sunday 06:00)

  An empty spec disables that job. Overlapping runs of the same job are
  skipped rather than queued.

USAGE:
  sched, err := engine.NewScheduler(eng, engine.Schedules{...}, log)
  sched.Start()
  defer sched.Stop()

SEE ALSO:
  - engine.go: RunDailyBatch, FinalizeSalaries, GenerateNextWeek
*/
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Schedules holds one cron spec per job. Empty disables the job.
type Schedules struct {
	DailyBatch string
	Salaries   string
	Generation string
	// Timeout bounds one job run. Zero means 10 minutes.
	Timeout time.Duration
}

type Job string

const (
	JobDailyBatch Job = "daily_batch"
	JobSalaries   Job = "salaries"
	JobGeneration Job = "generation"
)

// Scheduler triggers the engine's bulk operations.
type Scheduler struct {
	engine  *Engine
	cron    *cron.Cron
	log     *zap.Logger
	timeout time.Duration

	mu      sync.Mutex
	started bool
}

func NewScheduler(e *Engine, specs Schedules, log *zap.Logger) (*Scheduler, error) {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Scheduler{
		engine:  e,
		log:     log,
		timeout: specs.Timeout,
		cron: cron.New(
			cron.WithLocation(e.settings.Loc()),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
	}
	if s.timeout <= 0 {
		s.timeout = 10 * time.Minute
	}

	jobs := []struct {
		job  Job
		spec string
	}{
		{JobDailyBatch, specs.DailyBatch},
		{JobSalaries, specs.Salaries},
		{JobGeneration, specs.Generation},
	}
	for _, j := range jobs {
		if j.spec == "" {
			continue
		}
		job := j.job
		if _, err := s.cron.AddFunc(j.spec, func() { s.trigger(job) }); err != nil {
			return nil, fmt.Errorf("schedule %s %q: %w", job, j.spec, err)
		}
		log.Info("job scheduled", zap.String("job", string(job)), zap.String("spec", j.spec))
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.cron.Start()
	s.started = true
	s.log.Info("scheduler started", zap.Int("jobs", len(s.cron.Entries())))
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	<-s.cron.Stop().Done()
	s.started = false
	s.log.Info("scheduler stopped")
}

// NextRuns returns the next activation of every scheduled job.
func (s *Scheduler) NextRuns() []time.Time {
	entries := s.cron.Entries()
	out := make([]time.Time, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Next)
	}
	return out
}

func (s *Scheduler) trigger(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.RunNow(ctx, job); err != nil {
		s.log.Error("scheduled job failed", zap.String("job", string(job)), zap.Error(err))
	}
}

// RunNow runs one job immediately (admin trigger, tests).
func (s *Scheduler) RunNow(ctx context.Context, job Job) error {
	switch job {
	case JobDailyBatch:
		_, err := s.engine.RunDailyBatch(ctx)
		return err
	case JobSalaries:
		_, err := s.engine.FinalizeSalaries(ctx, s.engine.settings.Today())
		return err
	case JobGeneration:
		_, err := s.engine.GenerateNextWeek(ctx)
		return err
	}
	return fmt.Errorf("unknown job %q", job)
}
