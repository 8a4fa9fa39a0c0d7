package worker

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/doomedramen/autopwn-sub003/internal/db"
	"github.com/doomedramen/autopwn-sub003/internal/models"
	"github.com/doomedramen/autopwn-sub003/internal/repository"
	"github.com/doomedramen/autopwn-sub003/internal/services"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func leasedJobRow(job *models.Job, status models.JobStatus) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "user_id", "network_id", "dictionary_id", "attack_mode", "status", "priority",
		"tags", "progress", "error_message", "config", "lease_token", "lease_pid",
		"scheduled_at", "started_at", "completed_at", "created_at", "updated_at",
	}).AddRow(
		job.ID.String(), job.UserID.String(), job.NetworkID.String(), job.DictionaryID.String(),
		string(job.AttackMode), string(status), "normal",
		"{}", 0, nil, []byte(`{"kind":"simple"}`), nil, nil,
		nil, nil, nil, now, now,
	)
}

func TestRunJobSkipsExecutionAfterPreRunCancel(t *testing.T) {
	// Unordered expectations: only the queries the pool actually issues
	// are consumed, and the tool marker tells us whether it ran.
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.MatchExpectationsInOrder(false)
	t.Cleanup(func() { sqlDB.Close() })

	database := &db.DB{DB: sqlDB}
	jobRepo := repository.NewJobRepository(database)
	networkRepo := repository.NewNetworkRepository(database)
	dictRepo := repository.NewDictionaryRepository(database)
	coordinator := services.NewQueueCoordinator(jobRepo, networkRepo, dictRepo, nil, nil,
		services.NewAuditNotifier(nil))
	recorder := services.NewResultRecorder(networkRepo)
	cleanup := services.NewCleanupService(jobRepo, t.TempDir(), time.Hour)

	marker := filepath.Join(t.TempDir(), "ran")
	tool := writeTool(t, "touch "+marker+"\n")
	executor := NewExecutor(tool, time.Minute)

	pool := NewPool(coordinator, jobRepo, networkRepo, dictRepo, recorder, cleanup, executor,
		1, time.Second)

	lease := uuid.New()
	job := &models.Job{
		ID:           uuid.New(),
		UserID:       uuid.New(),
		NetworkID:    uuid.New(),
		DictionaryID: uuid.New(),
		AttackMode:   models.AttackModeHandshake,
		Status:       models.JobStatusRunning,
		LeaseToken:   &lease,
		Config:       &models.JobConfig{Kind: models.JobConfigSimple},
	}

	dictFile := filepath.Join(t.TempDir(), "words.txt")
	require.NoError(t, os.WriteFile(dictFile, []byte("hunter2\n"), 0o644))

	// The pre-run re-read reports the job already cancelled.
	mock.ExpectQuery("FROM jobs").WillReturnRows(leasedJobRow(job, models.JobStatusCancelled))

	// Reachable only if execution wrongly proceeds past the re-read.
	mock.ExpectQuery("FROM dictionaries").WillReturnRows(sqlmock.NewRows([]string{
		"id", "user_id", "name", "file_path", "file_size", "word_count", "md5_hash",
		"dictionary_type", "status", "provenance", "created_at", "updated_at",
	}).AddRow(job.DictionaryID.String(), job.UserID.String(), "words", dictFile, 8, 1,
		"d41d8cd98f00b204e9800998ecf8427e", "uploaded", "ready", nil, time.Now(), time.Now()))
	mock.ExpectQuery("FROM networks").WillReturnRows(sqlmock.NewRows([]string{
		"id", "user_id", "ssid", "bssid", "capture_path", "status", "password", "cracked_at",
		"created_at", "updated_at",
	}).AddRow(job.NetworkID.String(), job.UserID.String(), "Office1", "aa:bb:cc:dd:ee:ff",
		dictFile, "pending", nil, nil, time.Now(), time.Now()))
	mock.ExpectExec("UPDATE networks").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE jobs").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE jobs").WillReturnResult(sqlmock.NewResult(0, 0))

	pool.runJob(context.Background(), job)

	_, statErr := os.Stat(marker)
	assert.True(t, os.IsNotExist(statErr),
		"tool must not start for a job cancelled before execution began")
}
