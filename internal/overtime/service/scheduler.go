package service

import (
	"context"
	"sync"
	"time"

	"github.com/timeflow/timeflow-backend/pkg/config"
	"github.com/timeflow/timeflow-backend/pkg/logger"
)

// Job is a unit of scheduled work
type Job interface {
	Name() string
	RunScheduled(ctx context.Context)
}

type scheduledJob struct {
	job Job
	at  config.Clock
}

// Scheduler runs jobs once a day at a wall-clock time in loc.
type Scheduler struct {
	loc    *time.Location
	jobs   []scheduledJob
	logger *logger.Logger
	now    func() time.Time
	wg     sync.WaitGroup
}

// NewScheduler creates a new scheduler
func NewScheduler(loc *time.Location, log *logger.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{loc: loc, logger: componentLogger(log, "scheduler"), now: time.Now}
}

// Add registers job to run daily at at.
func (s *Scheduler) Add(job Job, at config.Clock) {
	s.jobs = append(s.jobs, scheduledJob{job: job, at: at})
}

// Start launches one loop per job. Loops exit when ctx is cancelled; Wait
// blocks until they have.
func (s *Scheduler) Start(ctx context.Context) {
	for _, sj := range s.jobs {
		s.wg.Add(1)
		go s.loop(ctx, sj)
	}
}

// Wait blocks until every loop has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, sj scheduledJob) {
	defer s.wg.Done()
	log := s.logger.With().Str("job", sj.job.Name()).Logger()

	for {
		next := NextRun(s.now(), sj.at, s.loc)
		log.Info().Time("next_run", next).Msg("job scheduled")

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		s.run(ctx, sj.job)
	}
}

func (s *Scheduler) run(ctx context.Context, job Job) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Str("job", job.Name()).Msg("job panicked")
		}
	}()
	job.RunScheduled(ctx)
}

// NextRun returns the first instant strictly after now whose wall clock in
// loc reads at.
func NextRun(now time.Time, at config.Clock, loc *time.Location) time.Time {
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), at.Hour, at.Minute, 0, 0, loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, at.Hour, at.Minute, 0, 0, loc)
	}
	return next
}
