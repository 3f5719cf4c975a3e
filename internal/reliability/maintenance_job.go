package reliability

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"
)

// minFreeDiskGB is the free space below which maintenance fails
const minFreeDiskGB = 0.5

// MaintainedDB is a database the maintenance job checks and checkpoints
type MaintainedDB interface {
	Name() string
	HealthCheck(ctx context.Context) error
	WALCheckpoint(mode string) error
}

// MaintenanceJob runs integrity checks, WAL checkpoints and a disk space check
type MaintenanceJob struct {
	databases []MaintainedDB
	dataDir   string
	freeBytes func(path string) (uint64, error)
	log       zerolog.Logger
}

// NewMaintenanceJob creates the daily maintenance job
func NewMaintenanceJob(databases []MaintainedDB, dataDir string, log zerolog.Logger) *MaintenanceJob {
	return &MaintenanceJob{
		databases: databases,
		dataDir:   dataDir,
		freeBytes: diskFree,
		log:       log.With().Str("job", "maintenance").Logger(),
	}
}

// Name returns the job name for scheduler
func (j *MaintenanceJob) Name() string {
	return "maintenance"
}

// Run executes the maintenance pass
func (j *MaintenanceJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	for _, db := range j.databases {
		if err := db.HealthCheck(ctx); err != nil {
			j.log.Error().Err(err).Str("database", db.Name()).Msg("Integrity check failed")
			return err
		}
		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			j.log.Warn().Err(err).Str("database", db.Name()).Msg("WAL checkpoint failed")
		}
	}
	return j.checkDiskSpace()
}

func (j *MaintenanceJob) checkDiskSpace() error {
	free, err := j.freeBytes(j.dataDir)
	if err != nil {
		return fmt.Errorf("failed to read disk usage: %w", err)
	}
	freeGB := float64(free) / 1e9

	if freeGB < minFreeDiskGB {
		j.log.Error().Float64("available_gb", freeGB).Msg("Insufficient disk space")
		return fmt.Errorf("only %.2f GB free in %s", freeGB, j.dataDir)
	}
	if freeGB < 5.0 {
		j.log.Warn().Float64("available_gb", freeGB).Msg("Disk space running low")
	}
	return nil
}

func diskFree(path string) (uint64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}
