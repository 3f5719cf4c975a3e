// Package reliability snapshots the databases and ships them to object storage.
package reliability

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	backupPrefix    = "tradeagent-backup-"
	backupSuffix    = ".tar.gz"
	backupTimestamp = "2006-01-02-150405"
	metadataFile    = "backup-metadata.json"

	// minBackupsToKeep survive rotation regardless of age
	minBackupsToKeep = 3
)

// Snapshotter is a database that can write a consistent copy of itself
type Snapshotter interface {
	Name() string
	VacuumInto(ctx context.Context, dest string) error
}

// BackupMetadata is the manifest stored inside every archive
type BackupMetadata struct {
	Timestamp time.Time          `json:"timestamp"`
	Version   string             `json:"version"`
	Databases []DatabaseMetadata `json:"databases"`
}

// DatabaseMetadata describes one database file in the archive
type DatabaseMetadata struct {
	Name      string `json:"name"`
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// BackupInfo describes a backup stored in the bucket
type BackupInfo struct {
	Filename  string    `json:"filename"`
	Timestamp time.Time `json:"timestamp"`
	SizeBytes int64     `json:"size_bytes"`
	AgeHours  int64     `json:"age_hours"`
}

// BackupService archives the ledger and market databases to an object store
type BackupService struct {
	store     ObjectStore
	databases []Snapshotter
	dataDir   string
	now       func() time.Time
	log       zerolog.Logger
}

// NewBackupService creates a backup service. Staging files live under dataDir.
func NewBackupService(store ObjectStore, databases []Snapshotter, dataDir string, log zerolog.Logger) *BackupService {
	return &BackupService{
		store:     store,
		databases: databases,
		dataDir:   dataDir,
		now:       time.Now,
		log:       log.With().Str("service", "backup").Logger(),
	}
}

// CreateAndUploadBackup snapshots every database, archives the snapshots with a
// checksum manifest and uploads the archive. It returns the object key.
func (s *BackupService) CreateAndUploadBackup(ctx context.Context) (string, error) {
	s.log.Info().Msg("Starting backup")
	start := s.now()

	stagingDir, err := os.MkdirTemp(s.dataDir, "backup-staging-")
	if err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	metadata := BackupMetadata{
		Timestamp: start.UTC(),
		Version:   "1",
		Databases: make([]DatabaseMetadata, 0, len(s.databases)),
	}
	files := make([]string, 0, len(s.databases)+1)

	for _, db := range s.databases {
		filename := db.Name() + ".db"
		path := filepath.Join(stagingDir, filename)
		if err := db.VacuumInto(ctx, path); err != nil {
			return "", fmt.Errorf("failed to snapshot %s: %w", db.Name(), err)
		}

		info, err := os.Stat(path)
		if err != nil {
			return "", fmt.Errorf("failed to stat %s snapshot: %w", db.Name(), err)
		}
		checksum, err := fileChecksum(path)
		if err != nil {
			return "", fmt.Errorf("failed to checksum %s: %w", db.Name(), err)
		}

		metadata.Databases = append(metadata.Databases, DatabaseMetadata{
			Name:      db.Name(),
			Filename:  filename,
			SizeBytes: info.Size(),
			Checksum:  checksum,
		})
		files = append(files, filename)
	}

	if err := writeMetadata(filepath.Join(stagingDir, metadataFile), metadata); err != nil {
		return "", fmt.Errorf("failed to write metadata: %w", err)
	}
	files = append(files, metadataFile)

	key := backupPrefix + start.UTC().Format(backupTimestamp) + backupSuffix
	archivePath := filepath.Join(stagingDir, key)
	if err := createArchive(archivePath, stagingDir, files); err != nil {
		return "", fmt.Errorf("failed to create archive: %w", err)
	}

	archive, err := os.Open(archivePath)
	if err != nil {
		return "", fmt.Errorf("failed to open archive: %w", err)
	}
	defer archive.Close()

	if err := s.store.Upload(ctx, key, archive); err != nil {
		return "", err
	}

	s.log.Info().
		Str("archive", key).
		Int("databases", len(metadata.Databases)).
		Dur("duration", s.now().Sub(start)).
		Msg("Backup uploaded")
	return key, nil
}

// ListBackups returns stored backups newest first
func (s *BackupService) ListBackups(ctx context.Context) ([]BackupInfo, error) {
	objects, err := s.store.List(ctx, backupPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	now := s.now()
	backups := make([]BackupInfo, 0, len(objects))
	for _, obj := range objects {
		ts, ok := parseBackupKey(obj.Key)
		if !ok {
			s.log.Warn().Str("key", obj.Key).Msg("Skipping object with unexpected name")
			continue
		}
		backups = append(backups, BackupInfo{
			Filename:  obj.Key,
			Timestamp: ts,
			SizeBytes: obj.SizeBytes,
			AgeHours:  int64(now.Sub(ts).Hours()),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Timestamp.After(backups[j].Timestamp)
	})
	return backups, nil
}

// RotateOldBackups deletes backups older than retentionDays, always keeping the
// newest few. retentionDays <= 0 keeps everything.
func (s *BackupService) RotateOldBackups(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	backups, err := s.ListBackups(ctx)
	if err != nil {
		return 0, err
	}
	if len(backups) <= minBackupsToKeep {
		return 0, nil
	}

	cutoff := s.now().AddDate(0, 0, -retentionDays)
	deleted := 0
	for _, b := range backups[minBackupsToKeep:] {
		if !b.Timestamp.Before(cutoff) {
			continue
		}
		if err := s.store.Delete(ctx, b.Filename); err != nil {
			s.log.Error().Err(err).Str("filename", b.Filename).Msg("Failed to delete old backup")
			continue
		}
		deleted++
	}

	if deleted > 0 {
		s.log.Info().Int("deleted", deleted).Int("remaining", len(backups)-deleted).Msg("Rotated old backups")
	}
	return deleted, nil
}

func parseBackupKey(key string) (time.Time, bool) {
	if !strings.HasPrefix(key, backupPrefix) || !strings.HasSuffix(key, backupSuffix) {
		return time.Time{}, false
	}
	raw := strings.TrimSuffix(strings.TrimPrefix(key, backupPrefix), backupSuffix)
	ts, err := time.Parse(backupTimestamp, raw)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("sha256:%x", h.Sum(nil)), nil
}

func writeMetadata(path string, metadata BackupMetadata) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(metadata)
}

func createArchive(archivePath, sourceDir string, files []string) error {
	out, err := os.Create(archivePath)
	if err != nil {
		return err
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	for _, name := range files {
		if err := addFile(tw, filepath.Join(sourceDir, name), name); err != nil {
			return fmt.Errorf("failed to add %s: %w", name, err)
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	return gz.Close()
}

func addFile(tw *tar.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	header := &tar.Header{
		Name:    name,
		Size:    info.Size(),
		Mode:    int64(info.Mode().Perm()),
		ModTime: info.ModTime(),
	}
	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}
