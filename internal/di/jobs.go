package di

import (
	"fmt"

	"github.com/aristath/tradeagent/internal/clientdata"
	"github.com/aristath/tradeagent/internal/config"
	"github.com/aristath/tradeagent/internal/reliability"
	"github.com/aristath/tradeagent/internal/scheduler"
	"github.com/rs/zerolog"
)

// RegisterJobs creates the scheduler and registers every enabled job.
// The scheduler is not started.
func RegisterJobs(container *Container, cfg *config.Config, log zerolog.Logger) error {
	sched := scheduler.New(log)

	maintained := make([]reliability.MaintainedDB, 0, 2)
	for _, db := range container.Databases() {
		maintained = append(maintained, db)
	}

	markets := func() []string {
		return container.Strategy.UniversePolicy().Markets
	}

	jobs := []struct {
		schedule string
		job      scheduler.Job
	}{
		{cfg.Schedules.Market, scheduler.NewMarketCycleJob(container.Agent, log)},
		{cfg.Schedules.News, scheduler.NewNewsCycleJob(container.Agent, log)},
		{cfg.Schedules.Universe, scheduler.NewUniverseRefreshJob(container.sourceRefresher(), container.BrokerSync, markets, log)},
		{cfg.Schedules.Cleanup, reliability.NewMaintenanceJob(maintained, cfg.DataDir, log)},
		{cfg.Schedules.Cleanup, clientdata.NewCleanupJob(container.ClientData, log)},
		{cfg.Schedules.Cleanup, scheduler.NewQuoteHistoryCleanupJob(container.QuoteHistory, cfg.Schedules.QuoteHistory, log)},
	}
	if container.Backup != nil {
		jobs = append(jobs, struct {
			schedule string
			job      scheduler.Job
		}{cfg.Schedules.Backup, reliability.NewBackupJob(container.Backup, cfg.Backup.Retention, log)})
	}

	for _, j := range jobs {
		if err := sched.AddJob(j.schedule, j.job); err != nil {
			return fmt.Errorf("failed to register %s: %w", j.job.Name(), err)
		}
	}

	container.Scheduler = sched
	log.Info().Int("jobs", sched.Entries()).Msg("Jobs registered")
	return nil
}

// sourceRefresher returns the catalog download refresher, or a nil interface
// when none is configured
func (c *Container) sourceRefresher() scheduler.SourceRefresher {
	if c.SourceSync == nil {
		return nil
	}
	return c.SourceSync
}
