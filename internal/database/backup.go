package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"therapycore/internal/config"

	"github.com/rs/zerolog"
)

const (
	backupPrefix    = "therapycore_"
	defaultInterval = 24 * time.Hour
)

// BackupService periodically snapshots the database file and prunes old snapshots.
type BackupService struct {
	db     *DB
	config config.BackupConfig
	logger *zerolog.Logger
}

func NewBackupService(db *DB, cfg config.BackupConfig, logger *zerolog.Logger) *BackupService {
	return &BackupService{
		db:     db,
		config: cfg,
		logger: logger,
	}
}

func (s *BackupService) interval() time.Duration {
	if s.config.Schedule == "" {
		return defaultInterval
	}
	d, err := time.ParseDuration(s.config.Schedule)
	if err != nil || d <= 0 {
		s.logger.Warn().Err(err).Str("schedule", s.config.Schedule).Msg("Bad backup schedule, using 24h")
		return defaultInterval
	}
	return d
}

func (s *BackupService) Start(ctx context.Context) {
	if !s.config.Enabled {
		s.logger.Info().Msg("Backup service is disabled")
		return
	}

	interval := s.interval()
	s.logger.Info().Dur("interval", interval).Int("retention_days", s.config.RetentionDays).Int("keep_last", s.config.KeepLast).Msg("Backup service started")

	run := func(kind string) {
		if _, err := s.PerformBackup(ctx); err != nil {
			s.logger.Error().Err(err).Str("run", kind).Msg("Backup failed")
			return
		}
		s.CleanupOldBackups()
	}

	run("initial")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run("scheduled")
		}
	}
}

// PerformBackup writes a consistent snapshot with VACUUM INTO, checks it and
// returns its path. A snapshot that fails the check is removed.
func (s *BackupService) PerformBackup(ctx context.Context) (string, error) {
	if err := os.MkdirAll(s.config.StoragePath, 0o755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	name := backupPrefix + s.db.stamp().Format("20060102_150405.000") + ".db"
	path := filepath.Join(s.config.StoragePath, name)

	err := s.db.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, path)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("failed to vacuum into %s: %w", path, err)
	}

	if err := verifySnapshot(ctx, path); err != nil {
		_ = os.Remove(path)
		return "", err
	}

	s.logger.Info().Str("path", path).Msg("Backup completed")
	return path, nil
}

func verifySnapshot(ctx context.Context, path string) error {
	snap, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer snap.Close()

	var result string
	if err := snap.QueryRowContext(ctx, `PRAGMA quick_check`).Scan(&result); err != nil {
		return fmt.Errorf("failed to check snapshot %s: %w", path, err)
	}
	if result != "ok" {
		return fmt.Errorf("snapshot %s is corrupt: %s", path, result)
	}
	return nil
}

type snapshotFile struct {
	name    string
	modTime time.Time
}

// CleanupOldBackups removes snapshots older than the retention window, except
// the KeepLast newest ones, and returns how many were removed. Files not
// produced by PerformBackup are left alone.
func (s *BackupService) CleanupOldBackups() int {
	if s.config.RetentionDays <= 0 {
		return 0
	}

	entries, err := os.ReadDir(s.config.StoragePath)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read backup directory for cleanup")
		return 0
	}

	var snapshots []snapshotFile
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), backupPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		snapshots = append(snapshots, snapshotFile{name: e.Name(), modTime: info.ModTime()})
	}
	// новые первыми
	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].modTime.After(snapshots[j].modTime) })

	cutoff := time.Now().AddDate(0, 0, -s.config.RetentionDays)
	removed := 0
	for i, f := range snapshots {
		if i < s.config.KeepLast || !f.modTime.Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.config.StoragePath, f.name)); err != nil {
			s.logger.Warn().Err(err).Str("file", f.name).Msg("Failed to delete old backup")
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info().Int("removed", removed).Msg("Old backups deleted")
	}
	return removed
}
