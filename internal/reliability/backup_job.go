package reliability

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// backupTimeout bounds snapshot plus upload
const backupTimeout = 15 * time.Minute

// BackupJob uploads a backup and rotates old ones
type BackupJob struct {
	service       *BackupService
	retentionDays int
	log           zerolog.Logger
}

// NewBackupJob creates the scheduled backup job
func NewBackupJob(service *BackupService, retentionDays int, log zerolog.Logger) *BackupJob {
	return &BackupJob{
		service:       service,
		retentionDays: retentionDays,
		log:           log.With().Str("job", "backup").Logger(),
	}
}

// Name returns the job name for scheduler
func (j *BackupJob) Name() string {
	return "backup"
}

// Run uploads a backup. Rotation failures are logged only.
func (j *BackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), backupTimeout)
	defer cancel()

	if _, err := j.service.CreateAndUploadBackup(ctx); err != nil {
		return err
	}
	if _, err := j.service.RotateOldBackups(ctx, j.retentionDays); err != nil {
		j.log.Warn().Err(err).Msg("Backup rotation failed")
	}
	return nil
}
