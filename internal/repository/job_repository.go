package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/doomedramen/autopwn-sub003/internal/db"
	"github.com/doomedramen/autopwn-sub003/internal/models"
	"github.com/doomedramen/autopwn-sub003/pkg/debug"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// jobColumns is the canonical column list scanned by scanJob. Keep the
// two in sync.
const jobColumns = `
	id, user_id, network_id, dictionary_id, attack_mode, status, priority,
	tags, progress, error_message, config, lease_token, lease_pid,
	scheduled_at, started_at, completed_at, created_at, updated_at`

// JobRepository handles database operations for jobs. All state
// transitions are status-guarded conditional updates so concurrent
// admission, cancellation, and completion cannot produce lost updates.
type JobRepository struct {
	db *db.DB
}

// NewJobRepository creates a new instance of JobRepository.
func NewJobRepository(database *db.DB) *JobRepository {
	return &JobRepository{db: database}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var job models.Job
	var tags pq.StringArray
	var errorMessage sql.NullString
	var config []byte
	var leaseToken uuid.NullUUID
	var leasePID sql.NullInt64
	var scheduledAt, startedAt, completedAt sql.NullTime

	err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.NetworkID,
		&job.DictionaryID,
		&job.AttackMode,
		&job.Status,
		&job.Priority,
		&tags,
		&job.Progress,
		&errorMessage,
		&config,
		&leaseToken,
		&leasePID,
		&scheduledAt,
		&startedAt,
		&completedAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Tags = []string(tags)
	if errorMessage.Valid {
		job.ErrorMessage = &errorMessage.String
	}
	if leaseToken.Valid {
		job.LeaseToken = &leaseToken.UUID
	}
	if leasePID.Valid {
		pid := int(leasePID.Int64)
		job.LeasePID = &pid
	}
	if scheduledAt.Valid {
		job.ScheduledAt = &scheduledAt.Time
	}
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}

	cfg, err := models.UnmarshalConfig(config)
	if err != nil {
		return nil, err
	}
	job.Config = cfg

	return &job, nil
}

// Create inserts a new job record and updates job.ID, CreatedAt and
// UpdatedAt from the returned row.
func (r *JobRepository) Create(ctx context.Context, job *models.Job) error {
	config, err := models.MarshalConfig(job.Config)
	if err != nil {
		return err
	}
	if job.Tags == nil {
		job.Tags = []string{}
	}

	query := `
		INSERT INTO jobs (user_id, network_id, dictionary_id, attack_mode, status, priority, priority_weight, tags, config, scheduled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at
	`
	err = r.db.QueryRowContext(ctx, query,
		job.UserID,
		job.NetworkID,
		job.DictionaryID,
		job.AttackMode,
		job.Status,
		job.Priority,
		job.Priority.Weight(),
		pq.StringArray(job.Tags),
		config,
		job.ScheduledAt,
	).Scan(&job.ID, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// GetByID retrieves a job by id scoped to its owner. A missing row and
// a row owned by someone else both return ErrNotFound.
func (r *JobRepository) GetByID(ctx context.Context, userID, jobID uuid.UUID) (*models.Job, error) {
	query := `SELECT` + jobColumns + ` FROM jobs WHERE id = $1 AND user_id = $2`
	job, err := scanJob(r.db.QueryRowContext(ctx, query, jobID, userID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get job %s: %w", jobID, err)
	}
	return job, nil
}

// GetByIDAnyOwner retrieves a job regardless of owner. Used by bulk
// operations that must distinguish not-found from not-owned in their
// summary without leaking that distinction through errors.
func (r *JobRepository) GetByIDAnyOwner(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	query := `SELECT` + jobColumns + ` FROM jobs WHERE id = $1`
	job, err := scanJob(r.db.QueryRowContext(ctx, query, jobID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get job %s: %w", jobID, err)
	}
	return job, nil
}

// AdmitNext atomically leases the next runnable job: highest priority
// weight first, oldest creation time within a tier, considering pending
// jobs and scheduled jobs whose scheduled_at has passed. The
// check-and-lease is a single conditional update with SKIP LOCKED so
// two workers can never lease the same job. Returns nil when the queue
// is empty.
func (r *JobRepository) AdmitNext(ctx context.Context, leaseToken uuid.UUID, leasePID int) (*models.Job, error) {
	query := `
		UPDATE jobs
		SET status = 'running', lease_token = $1, lease_pid = $2, started_at = NOW(), updated_at = NOW()
		WHERE id = (
			SELECT id FROM jobs
			WHERE lease_token IS NULL
			  AND (status = 'pending' OR (status = 'scheduled' AND scheduled_at <= NOW()))
			ORDER BY priority_weight DESC, created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING` + jobColumns

	job, err := scanJob(r.db.QueryRowContext(ctx, query, leaseToken, leasePID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to admit next job: %w", err)
	}
	return job, nil
}

// CompleteIfRunning transitions a job to completed only if it is still
// running under the given lease. A job cancelled mid-run keeps its
// cancelled status; the late completion is reported as false, not an
// error.
func (r *JobRepository) CompleteIfRunning(ctx context.Context, jobID, leaseToken uuid.UUID, progress int) (bool, error) {
	query := `
		UPDATE jobs
		SET status = 'completed', progress = $3, error_message = NULL,
		    lease_token = NULL, lease_pid = NULL, completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND lease_token = $2 AND status = 'running'
	`
	result, err := r.db.ExecContext(ctx, query, jobID, leaseToken, progress)
	if err != nil {
		return false, fmt.Errorf("failed to complete job %s: %w", jobID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check completion of job %s: %w", jobID, err)
	}
	return rows > 0, nil
}

// FailIfRunning transitions a job to failed with an error message, only
// if it is still running under the given lease.
func (r *JobRepository) FailIfRunning(ctx context.Context, jobID, leaseToken uuid.UUID, errorMessage string) (bool, error) {
	query := `
		UPDATE jobs
		SET status = 'failed', error_message = $3,
		    lease_token = NULL, lease_pid = NULL, completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND lease_token = $2 AND status = 'running'
	`
	result, err := r.db.ExecContext(ctx, query, jobID, leaseToken, errorMessage)
	if err != nil {
		return false, fmt.Errorf("failed to fail job %s: %w", jobID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check failure of job %s: %w", jobID, err)
	}
	return rows > 0, nil
}

// CancelIfCancellable transitions a job to cancelled if it is pending,
// scheduled, or running. Terminal jobs are left untouched and surface
// as ErrNotFound from the zero-row case. The returned row reflects the
// update; whether a live process must be signaled is recoverable from
// started_at, which is set iff the job had been admitted.
func (r *JobRepository) CancelIfCancellable(ctx context.Context, userID, jobID uuid.UUID) (*models.Job, error) {
	query := `
		UPDATE jobs
		SET status = 'cancelled', lease_token = NULL, lease_pid = NULL, completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND user_id = $2 AND status IN ('pending', 'scheduled', 'running')
		RETURNING` + jobColumns

	job, err := scanJob(r.db.QueryRowContext(ctx, query, jobID, userID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("job %s not cancellable: %w", jobID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to cancel job %s: %w", jobID, err)
	}
	return job, nil
}

// ResetForRetry re-admits a failed job: clears the error message,
// resets progress to zero, and drops any stale lease. Only the
// failed -> pending path exists out of a terminal state.
func (r *JobRepository) ResetForRetry(ctx context.Context, userID, jobID uuid.UUID) (*models.Job, error) {
	query := `
		UPDATE jobs
		SET status = 'pending', error_message = NULL, progress = 0,
		    lease_token = NULL, lease_pid = NULL,
		    started_at = NULL, completed_at = NULL, updated_at = NOW()
		WHERE id = $1 AND user_id = $2 AND status = 'failed'
		RETURNING` + jobColumns

	job, err := scanJob(r.db.QueryRowContext(ctx, query, jobID, userID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("job %s not retryable: %w", jobID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to reset job %s for retry: %w", jobID, err)
	}
	return job, nil
}

// UpdatePriority changes the priority of a job that has not yet been
// admitted. Running and terminal jobs reject the change.
func (r *JobRepository) UpdatePriority(ctx context.Context, userID, jobID uuid.UUID, priority models.JobPriority) (*models.Job, error) {
	query := `
		UPDATE jobs
		SET priority = $3, priority_weight = $4, updated_at = NOW()
		WHERE id = $1 AND user_id = $2 AND status IN ('pending', 'scheduled')
		RETURNING` + jobColumns

	job, err := scanJob(r.db.QueryRowContext(ctx, query, jobID, userID, priority, priority.Weight()))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("job %s priority not mutable: %w", jobID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to update priority of job %s: %w", jobID, err)
	}
	return job, nil
}

// UpdateTags replaces the tag set of a job. Tags carry no scheduling
// effect, so they stay mutable in every status.
func (r *JobRepository) UpdateTags(ctx context.Context, userID, jobID uuid.UUID, tags []string) (*models.Job, error) {
	if tags == nil {
		tags = []string{}
	}
	query := `
		UPDATE jobs
		SET tags = $3, updated_at = NOW()
		WHERE id = $1 AND user_id = $2
		RETURNING` + jobColumns

	job, err := scanJob(r.db.QueryRowContext(ctx, query, jobID, userID, pq.StringArray(tags)))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to update tags of job %s: %w", jobID, err)
	}
	return job, nil
}

// Schedule sets a future run time on a pending job, moving it to
// scheduled. Only pending jobs accept a schedule.
func (r *JobRepository) Schedule(ctx context.Context, userID, jobID uuid.UUID, scheduledAt time.Time) (*models.Job, error) {
	query := `
		UPDATE jobs
		SET status = 'scheduled', scheduled_at = $3, updated_at = NOW()
		WHERE id = $1 AND user_id = $2 AND status = 'pending'
		RETURNING` + jobColumns

	job, err := scanJob(r.db.QueryRowContext(ctx, query, jobID, userID, scheduledAt))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("job %s not schedulable: %w", jobID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to schedule job %s: %w", jobID, err)
	}
	return job, nil
}

// UpdateProgress records executor progress on a running job.
func (r *JobRepository) UpdateProgress(ctx context.Context, jobID uuid.UUID, progress int) error {
	query := `UPDATE jobs SET progress = $2, updated_at = NOW() WHERE id = $1 AND status = 'running'`
	if _, err := r.db.ExecContext(ctx, query, jobID, progress); err != nil {
		return fmt.Errorf("failed to update progress of job %s: %w", jobID, err)
	}
	return nil
}

// ListRunning returns all jobs currently marked running, for lease
// reconciliation after a worker restart.
func (r *JobRepository) ListRunning(ctx context.Context) ([]*models.Job, error) {
	query := `SELECT` + jobColumns + ` FROM jobs WHERE status = 'running'`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list running jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan running job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate running jobs: %w", err)
	}
	return jobs, nil
}

// FailOrphaned marks a running job as failed outside any lease check.
// Used only by restart reconciliation, where the lease holder is known
// dead.
func (r *JobRepository) FailOrphaned(ctx context.Context, jobID uuid.UUID, errorMessage string) error {
	query := `
		UPDATE jobs
		SET status = 'failed', error_message = $2,
		    lease_token = NULL, lease_pid = NULL, completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'running'
	`
	result, err := r.db.ExecContext(ctx, query, jobID, errorMessage)
	if err != nil {
		return fmt.Errorf("failed to fail orphaned job %s: %w", jobID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		debug.Warning("Could not get rows affected failing orphaned job %s: %v", jobID, err)
	} else if rows == 0 {
		return fmt.Errorf("orphaned job %s no longer running: %w", jobID, ErrNotFound)
	}
	return nil
}

// CountByStatus returns per-status job counts for one owner.
func (r *JobRepository) CountByStatus(ctx context.Context, userID uuid.UUID) (*models.JobStats, error) {
	query := `SELECT status, COUNT(*) FROM jobs WHERE user_id = $1 GROUP BY status`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs by status: %w", err)
	}
	defer rows.Close()

	stats := &models.JobStats{}
	for rows.Next() {
		var status models.JobStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan job count: %w", err)
		}
		stats.Total += count
		switch status {
		case models.JobStatusPending:
			stats.Pending = count
		case models.JobStatusScheduled:
			stats.Scheduled = count
		case models.JobStatusRunning:
			stats.Running = count
		case models.JobStatusCompleted:
			stats.Completed = count
		case models.JobStatusFailed:
			stats.Failed = count
		case models.JobStatusCancelled:
			stats.Cancelled = count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate job counts: %w", err)
	}
	return stats, nil
}

// Delete removes a job row. Only used by tests and administrative
// cleanup of terminal jobs.
func (r *JobRepository) Delete(ctx context.Context, jobID uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("failed to delete job %s: %w", jobID, err)
	}
	rows, err := result.RowsAffected()
	if err == nil && rows == 0 {
		return fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	return nil
}
