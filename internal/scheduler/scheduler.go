// Package scheduler runs the agent's recurring jobs on cron schedules: the
// market and news cycles, universe refresh, audit and quote-history cleanup,
// database maintenance and backups.
package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is one unit of scheduled work. Run errors are logged, never retried.
type Job interface {
	Run() error
	Name() string
}

// Scheduler owns the cron runner. A job whose previous run is still going is
// skipped for that tick, so a slow market cycle never queues up behind itself.
type Scheduler struct {
	cron *cron.Cron
	jobs map[string]cron.EntryID
	log  zerolog.Logger
}

// New creates a scheduler. Schedules use six fields with seconds first.
func New(log zerolog.Logger) *Scheduler {
	log = log.With().Str("component", "scheduler").Logger()
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.SkipIfStillRunning(cronLogger{log: log})),
		),
		jobs: make(map[string]cron.EntryID),
		log:  log,
	}
}

// Start begins firing registered jobs
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Int("jobs", len(s.jobs)).Msg("Scheduler started")
}

// Stop stops firing jobs and waits for running ones to return
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}

// AddJob registers a job. An empty schedule leaves the job disabled; job names
// must be unique.
//   - "0 */10 * * * *"  market cycle every 10 minutes
//   - "0 0 * * * *"     hourly news cycle
//   - "0 30 8 * * *"    universe refresh before the open
func (s *Scheduler) AddJob(schedule string, job Job) error {
	if schedule == "" {
		s.log.Info().Str("job", job.Name()).Msg("Job disabled, no schedule")
		return nil
	}
	if _, exists := s.jobs[job.Name()]; exists {
		return fmt.Errorf("job %s already registered", job.Name())
	}

	id, err := s.cron.AddFunc(schedule, func() {
		_ = s.run(job)
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q for job %s: %w", schedule, job.Name(), err)
	}
	s.jobs[job.Name()] = id

	s.log.Info().
		Str("schedule", schedule).
		Str("job", job.Name()).
		Msg("Job registered")
	return nil
}

// run executes a job once and reports a panic as an error
func (s *Scheduler) run(job Job) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name(), r)
		}
		if err != nil {
			s.log.Error().Err(err).Str("job", job.Name()).Dur("took", time.Since(start)).Msg("Job failed")
			return
		}
		s.log.Debug().Str("job", job.Name()).Dur("took", time.Since(start)).Msg("Job completed")
	}()
	return job.Run()
}

// Entries returns the number of registered jobs
func (s *Scheduler) Entries() int {
	return len(s.jobs)
}

// cronLogger routes cron's own messages (skipped ticks) to zerolog
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
