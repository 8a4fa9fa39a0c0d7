package services

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/doomedramen/autopwn-sub003/internal/repository"
	"github.com/doomedramen/autopwn-sub003/pkg/debug"
	"github.com/google/uuid"
)

// CleanupService removes post-job temporary artifacts: each job gets a
// working directory keyed by its id, and the sweep reclaims directories
// belonging to terminal jobs older than the retention window. Cleanup
// errors are logged, never escalated - a completed job stays completed
// even if its temp files linger.
type CleanupService struct {
	jobRepo   *repository.JobRepository
	tempDir   string
	retention time.Duration
}

// CleanupReport counts what a sweep deleted, or would delete in
// dry-run mode. Dry-run reports the same counts without deleting.
type CleanupReport struct {
	Directories int   `json:"directories"`
	Files       int   `json:"files"`
	Bytes       int64 `json:"bytes"`
}

// NewCleanupService creates a new CleanupService.
func NewCleanupService(jobRepo *repository.JobRepository, tempDir string, retention time.Duration) *CleanupService {
	return &CleanupService{
		jobRepo:   jobRepo,
		tempDir:   tempDir,
		retention: retention,
	}
}

// JobTempDir returns the scoped working directory for a job.
func (s *CleanupService) JobTempDir(jobID uuid.UUID) string {
	return filepath.Join(s.tempDir, jobID.String())
}

// CleanupJobTemp removes a job's working directory. Best effort: errors
// are logged and swallowed.
func (s *CleanupService) CleanupJobTemp(jobID uuid.UUID) {
	dir := s.JobTempDir(jobID)
	if err := os.RemoveAll(dir); err != nil {
		debug.Warning("Failed to clean up temp dir for job %s: %v", jobID, err)
		return
	}
	debug.Debug("Removed temp dir for job %s", jobID)
}

// Sweep scans the temp root for working directories whose jobs are
// terminal and older than the retention window, or whose jobs no longer
// exist. Both modes report identical counts; only dryRun=false deletes.
func (s *CleanupService) Sweep(ctx context.Context, dryRun bool) (*CleanupReport, error) {
	report := &CleanupReport{}

	entries, err := os.ReadDir(s.tempDir)
	if err != nil {
		if os.IsNotExist(err) {
			return report, nil
		}
		return nil, fmt.Errorf("failed to read temp root: %w", err)
	}

	cutoff := time.Now().Add(-s.retention)
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !entry.IsDir() {
			continue
		}

		jobID, err := uuid.Parse(entry.Name())
		if err != nil {
			debug.Debug("Skipping non-job temp entry %s", entry.Name())
			continue
		}

		eligible, err := s.isSweepable(ctx, jobID, cutoff)
		if err != nil {
			debug.Warning("Skipping temp dir %s: %v", jobID, err)
			continue
		}
		if !eligible {
			continue
		}

		dir := filepath.Join(s.tempDir, entry.Name())
		files, bytes, err := measureDir(dir)
		if err != nil {
			debug.Warning("Failed to measure temp dir %s: %v", jobID, err)
			continue
		}

		report.Directories++
		report.Files += files
		report.Bytes += bytes

		if dryRun {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			debug.Warning("Failed to remove temp dir %s: %v", jobID, err)
		}
	}

	debug.Info("Cleanup sweep (dry_run=%v): %d dirs, %d files, %d bytes",
		dryRun, report.Directories, report.Files, report.Bytes)
	return report, nil
}

// isSweepable reports whether the job behind a temp dir is terminal and
// past retention. Directories for deleted jobs are always sweepable.
func (s *CleanupService) isSweepable(ctx context.Context, jobID uuid.UUID, cutoff time.Time) (bool, error) {
	job, err := s.jobRepo.GetByIDAnyOwner(ctx, jobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return true, nil
		}
		return false, err
	}
	if !job.Status.IsTerminal() {
		return false, nil
	}
	if job.CompletedAt == nil {
		return job.UpdatedAt.Before(cutoff), nil
	}
	return job.CompletedAt.Before(cutoff), nil
}

func measureDir(dir string) (int, int64, error) {
	var files int
	var bytes int64
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files++
		bytes += info.Size()
		return nil
	})
	return files, bytes, err
}
