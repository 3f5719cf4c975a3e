package clientdata

import (
	"time"

	"github.com/rs/zerolog"
)

// CleanupJob prunes audit rows past their retention window.
// It should be scheduled to run daily.
type CleanupJob struct {
	repo *Repository
	now  func() time.Time
	log  zerolog.Logger
}

// NewCleanupJob creates a new audit cleanup job
func NewCleanupJob(repo *Repository, log zerolog.Logger) *CleanupJob {
	return &CleanupJob{
		repo: repo,
		now:  time.Now,
		log:  log.With().Str("job", "audit_cleanup").Logger(),
	}
}

// Run removes expired rows from every audit table
func (j *CleanupJob) Run() error {
	var totalDeleted int64
	for _, table := range AllTables {
		count, err := j.repo.DeleteOlderThan(table, j.now().Add(-retentionFor(table)))
		if err != nil {
			j.log.Error().Err(err).Str("table", table).Msg("Failed to prune audit rows")
			return err
		}
		if count > 0 {
			j.log.Info().
				Str("table", table).
				Int64("deleted", count).
				Msg("Pruned audit rows")
			totalDeleted += count
		}
	}

	if totalDeleted > 0 {
		j.log.Info().Int64("total_deleted", totalDeleted).Msg("Audit cleanup completed")
	}
	return nil
}

// Name returns the job name for scheduling and logging
func (j *CleanupJob) Name() string {
	return "audit_cleanup"
}
