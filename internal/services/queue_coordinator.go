package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/doomedramen/autopwn-sub003/internal/dictionary"
	"github.com/doomedramen/autopwn-sub003/internal/models"
	"github.com/doomedramen/autopwn-sub003/internal/repository"
	"github.com/doomedramen/autopwn-sub003/pkg/debug"
	"github.com/google/uuid"
)

// CreateJobRequest is the admission request for a new cracking job.
// Multiple targets and multiple dictionaries consolidate into a single
// queue entry: the dictionaries are merged up front and every target's
// capture participates in one run.
type CreateJobRequest struct {
	NetworkIDs    []uuid.UUID        `json:"network_ids"`
	DictionaryIDs []uuid.UUID        `json:"dictionary_ids"`
	AttackMode    models.AttackMode  `json:"attack_mode"`
	Priority      models.JobPriority `json:"priority"`
	Tags          []string           `json:"tags"`
	ScheduledAt   *time.Time         `json:"scheduled_at,omitempty"`
}

// QueueCoordinator owns job admission and every lifecycle mutation that
// is not performed by the executing worker itself. It composes the
// repositories, the dictionary consolidator, the quota guard, and the
// audit notifier behind one service boundary.
type QueueCoordinator struct {
	jobRepo      *repository.JobRepository
	networkRepo  *repository.NetworkRepository
	dictRepo     *repository.DictionaryRepository
	consolidator *dictionary.Consolidator
	quota        *QuotaGuard
	audit        *AuditNotifier

	mu          sync.Mutex
	pausedUntil time.Time
	cancels     map[uuid.UUID]context.CancelFunc
}

// NewQueueCoordinator creates a new QueueCoordinator.
func NewQueueCoordinator(
	jobRepo *repository.JobRepository,
	networkRepo *repository.NetworkRepository,
	dictRepo *repository.DictionaryRepository,
	consolidator *dictionary.Consolidator,
	quota *QuotaGuard,
	audit *AuditNotifier,
) *QueueCoordinator {
	return &QueueCoordinator{
		jobRepo:      jobRepo,
		networkRepo:  networkRepo,
		dictRepo:     dictRepo,
		consolidator: consolidator,
		quota:        quota,
		audit:        audit,
		cancels:      make(map[uuid.UUID]context.CancelFunc),
	}
}

// CreateJob validates and admits a new job. With more than one
// dictionary the sources are merged into a generated dictionary first,
// gated by the owner's storage quota; with more than one target or
// dictionary the job carries a consolidated config recording the
// original request. A merge that succeeds but whose job insert fails is
// rolled back so no orphaned dictionary survives.
func (c *QueueCoordinator) CreateJob(ctx context.Context, userID uuid.UUID, req *CreateJobRequest) (*models.Job, error) {
	if !req.AttackMode.Valid() {
		return nil, fmt.Errorf("invalid attack mode %q", req.AttackMode)
	}
	if len(req.NetworkIDs) == 0 {
		return nil, errors.New("at least one target network is required")
	}
	if len(req.DictionaryIDs) == 0 {
		return nil, errors.New("at least one dictionary is required")
	}
	priority := req.Priority
	if priority == "" {
		priority = models.JobPriorityNormal
	}
	if !priority.Valid() {
		return nil, fmt.Errorf("invalid priority %q", priority)
	}
	tags, err := models.NormalizeTags(req.Tags)
	if err != nil {
		return nil, err
	}

	networks, err := c.networkRepo.ListByIDs(ctx, userID, req.NetworkIDs)
	if err != nil {
		return nil, err
	}
	if len(networks) != len(req.NetworkIDs) {
		return nil, fmt.Errorf("one or more networks missing: %w", repository.ErrNotFound)
	}
	byNetworkID := make(map[uuid.UUID]*models.Network, len(networks))
	for _, n := range networks {
		byNetworkID[n.ID] = n
	}

	dictionaries, err := c.dictRepo.ListByIDs(ctx, userID, req.DictionaryIDs)
	if err != nil {
		return nil, err
	}
	if len(dictionaries) != len(req.DictionaryIDs) {
		return nil, fmt.Errorf("one or more dictionaries missing: %w", repository.ErrNotFound)
	}
	for _, d := range dictionaries {
		if d.Status != models.DictionaryStatusReady {
			return nil, fmt.Errorf("dictionary %s has status %s: %w", d.ID, d.Status, dictionary.ErrSourceNotReady)
		}
	}

	// Merge before insert so the job only ever references a dictionary
	// that exists on disk.
	var merged *models.Dictionary
	jobDictionaryID := req.DictionaryIDs[0]
	if len(req.DictionaryIDs) > 1 {
		merged, err = c.mergeForJob(ctx, userID, req.DictionaryIDs, dictionaries)
		if err != nil {
			return nil, err
		}
		jobDictionaryID = merged.ID
	}

	config := &models.JobConfig{Kind: models.JobConfigSimple}
	if len(req.NetworkIDs) > 1 || len(req.DictionaryIDs) > 1 {
		capturePaths := make([]string, 0, len(req.NetworkIDs))
		for _, id := range req.NetworkIDs {
			capturePaths = append(capturePaths, byNetworkID[id].CapturePath)
		}
		config = &models.JobConfig{
			Kind:               models.JobConfigConsolidated,
			TargetIDs:          req.NetworkIDs,
			DictionaryIDs:      req.DictionaryIDs,
			TargetCapturePaths: capturePaths,
		}
		if merged != nil {
			config.MergedDictionaryID = &merged.ID
			config.AggregateWordCount = merged.WordCount
		}
	}

	status := models.JobStatusPending
	if req.ScheduledAt != nil {
		if req.ScheduledAt.Before(time.Now()) {
			return nil, errors.New("scheduled time must be in the future")
		}
		status = models.JobStatusScheduled
	}

	job := &models.Job{
		UserID:       userID,
		NetworkID:    req.NetworkIDs[0],
		DictionaryID: jobDictionaryID,
		AttackMode:   req.AttackMode,
		Status:       status,
		Priority:     priority,
		Tags:         tags,
		Config:       config,
		ScheduledAt:  req.ScheduledAt,
	}
	if err := c.jobRepo.Create(ctx, job); err != nil {
		if merged != nil {
			if rbErr := c.consolidator.Delete(ctx, userID, merged.ID); rbErr != nil {
				debug.Error("Failed to roll back merged dictionary %s: %v", merged.ID, rbErr)
			}
		}
		return nil, err
	}

	c.audit.Notify(userID, &job.ID, models.AuditActionJobCreated, map[string]interface{}{
		"attack_mode":  string(req.AttackMode),
		"priority":     string(priority),
		"targets":      len(req.NetworkIDs),
		"dictionaries": len(req.DictionaryIDs),
	})
	debug.Info("Created job %s (mode=%s, targets=%d, dictionaries=%d)",
		job.ID, req.AttackMode, len(req.NetworkIDs), len(req.DictionaryIDs))
	return job, nil
}

// mergeForJob materializes the merged dictionary for a multi-dictionary
// job, gated by the owner's quota using the summed source sizes as the
// upper bound of the output size.
func (c *QueueCoordinator) mergeForJob(ctx context.Context, userID uuid.UUID, sourceIDs []uuid.UUID, sources []*models.Dictionary) (*models.Dictionary, error) {
	var estimated int64
	for _, d := range sources {
		estimated += d.FileSize
	}
	if _, err := c.quota.CheckQuota(ctx, userID, estimated); err != nil {
		return nil, err
	}

	name := fmt.Sprintf("job-merge-%s", time.Now().UTC().Format("20060102-150405"))
	return c.consolidator.Merge(ctx, userID, name, sourceIDs, true, nil)
}

// MergeDictionaries is the standalone merge operation. It requires at
// least two sources and is quota gated like job-driven merges.
func (c *QueueCoordinator) MergeDictionaries(ctx context.Context, userID uuid.UUID, name string, sourceIDs []uuid.UUID, removeDuplicates bool, rules *models.MergeRules) (*models.Dictionary, error) {
	if len(sourceIDs) < 2 {
		return nil, dictionary.ErrInsufficientInputs
	}
	sources, err := c.dictRepo.ListByIDs(ctx, userID, sourceIDs)
	if err != nil {
		return nil, err
	}
	if len(sources) != len(sourceIDs) {
		return nil, fmt.Errorf("one or more dictionaries missing: %w", repository.ErrNotFound)
	}
	var estimated int64
	for _, d := range sources {
		estimated += d.FileSize
	}
	if _, err := c.quota.CheckQuota(ctx, userID, estimated); err != nil {
		return nil, err
	}
	return c.consolidator.Merge(ctx, userID, name, sourceIDs, removeDuplicates, rules)
}

// CancelJob cancels a pending, scheduled, or running job. For a running
// job the live executor is signaled after the row flips, so the worker's
// late completion attempt loses against the already-cancelled status.
func (c *QueueCoordinator) CancelJob(ctx context.Context, userID, jobID uuid.UUID) (*models.Job, error) {
	job, err := c.jobRepo.CancelIfCancellable(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}
	if job.StartedAt != nil {
		c.signalCancel(jobID)
	}
	c.audit.Notify(userID, &jobID, models.AuditActionJobCancelled, nil)
	debug.Info("Cancelled job %s", jobID)
	return job, nil
}

// BulkCancel cancels every cancellable job in ids and accounts for each
// skip in the summary. Not-found and not-owned are distinguished here,
// inside the summary, rather than through errors. When nothing at all
// was cancelled the summary is returned alongside ErrNotFound.
func (c *QueueCoordinator) BulkCancel(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (*models.BulkCancelSummary, error) {
	summary := &models.BulkCancelSummary{}
	for _, id := range ids {
		job, err := c.jobRepo.GetByIDAnyOwner(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				summary.SkippedNotFound++
				continue
			}
			return summary, err
		}
		if job.UserID != userID {
			summary.SkippedNotOwned++
			continue
		}
		if job.Status.IsTerminal() {
			summary.SkippedTerminal++
			continue
		}
		if _, err := c.CancelJob(ctx, userID, id); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				// Lost a race to the worker; the job went terminal
				// between the read and the cancel.
				summary.SkippedTerminal++
				continue
			}
			return summary, err
		}
		summary.Cancelled++
	}
	if summary.Cancelled == 0 && len(ids) > 0 {
		return summary, fmt.Errorf("no jobs cancelled: %w", repository.ErrNotFound)
	}
	return summary, nil
}

// RetryJob resurrects a failed job back to pending. The capture and
// dictionary files are re-checked first; a retry pointing at deleted
// files would only fail again immediately.
func (c *QueueCoordinator) RetryJob(ctx context.Context, userID, jobID uuid.UUID) (*models.Job, error) {
	job, err := c.jobRepo.GetByID(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusFailed {
		return nil, fmt.Errorf("job %s has status %s: %w", jobID, job.Status, ErrNotFailed)
	}

	network, err := c.networkRepo.GetByID(ctx, userID, job.NetworkID)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(network.CapturePath); err != nil {
		return nil, fmt.Errorf("capture file for network %s is gone: %w", network.ID, err)
	}
	dict, err := c.dictRepo.GetByID(ctx, userID, job.DictionaryID)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(dict.FilePath); err != nil {
		return nil, fmt.Errorf("dictionary file for %s is gone: %w", dict.ID, err)
	}
	if job.Config.IsConsolidated() {
		// Every consolidated target's capture is part of the run, not
		// just the primary's.
		for _, path := range job.Config.TargetCapturePaths {
			if _, err := os.Stat(path); err != nil {
				return nil, fmt.Errorf("capture file %s is gone: %w", path, err)
			}
		}
	}

	retried, err := c.jobRepo.ResetForRetry(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}
	c.audit.Notify(userID, &jobID, models.AuditActionJobRetried, nil)
	debug.Info("Retrying job %s", jobID)
	return retried, nil
}

// UpdatePriority changes a job's priority before it is admitted. Jobs
// that exist but already ran (or are running) reject with ErrNotMutable.
func (c *QueueCoordinator) UpdatePriority(ctx context.Context, userID, jobID uuid.UUID, priority models.JobPriority) (*models.Job, error) {
	if !priority.Valid() {
		return nil, fmt.Errorf("invalid priority %q", priority)
	}
	job, err := c.jobRepo.UpdatePriority(ctx, userID, jobID, priority)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			if existing, getErr := c.jobRepo.GetByID(ctx, userID, jobID); getErr == nil {
				return nil, fmt.Errorf("job %s has status %s: %w", jobID, existing.Status, ErrNotMutable)
			}
		}
		return nil, err
	}
	c.audit.Notify(userID, &jobID, models.AuditActionPriorityChanged, map[string]interface{}{
		"priority": string(priority),
	})
	return job, nil
}

// UpdateTags replaces a job's tags in any status.
func (c *QueueCoordinator) UpdateTags(ctx context.Context, userID, jobID uuid.UUID, tags []string) (*models.Job, error) {
	normalized, err := models.NormalizeTags(tags)
	if err != nil {
		return nil, err
	}
	job, err := c.jobRepo.UpdateTags(ctx, userID, jobID, normalized)
	if err != nil {
		return nil, err
	}
	c.audit.Notify(userID, &jobID, models.AuditActionTagsChanged, map[string]interface{}{
		"tags": normalized,
	})
	return job, nil
}

// ScheduleJob defers a pending job to a future run time.
func (c *QueueCoordinator) ScheduleJob(ctx context.Context, userID, jobID uuid.UUID, scheduledAt time.Time) (*models.Job, error) {
	if scheduledAt.Before(time.Now()) {
		return nil, errors.New("scheduled time must be in the future")
	}
	job, err := c.jobRepo.Schedule(ctx, userID, jobID, scheduledAt)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			if existing, getErr := c.jobRepo.GetByID(ctx, userID, jobID); getErr == nil {
				return nil, fmt.Errorf("job %s has status %s: %w", jobID, existing.Status, ErrNotMutable)
			}
		}
		return nil, err
	}
	c.audit.Notify(userID, &jobID, models.AuditActionJobScheduled, map[string]interface{}{
		"scheduled_at": scheduledAt.UTC().Format(time.RFC3339),
	})
	return job, nil
}

// GetJob returns one job scoped to its owner.
func (c *QueueCoordinator) GetJob(ctx context.Context, userID, jobID uuid.UUID) (*models.Job, error) {
	return c.jobRepo.GetByID(ctx, userID, jobID)
}

// GetStats returns per-status job counts for one owner.
func (c *QueueCoordinator) GetStats(ctx context.Context, userID uuid.UUID) (*models.JobStats, error) {
	return c.jobRepo.CountByStatus(ctx, userID)
}

// AdmitNext leases the next runnable job for a worker, unless admission
// is paused. Returns nil when the queue is empty or paused.
func (c *QueueCoordinator) AdmitNext(ctx context.Context, leaseToken uuid.UUID, leasePID int) (*models.Job, error) {
	c.mu.Lock()
	paused := time.Now().Before(c.pausedUntil)
	c.mu.Unlock()
	if paused {
		return nil, nil
	}
	return c.jobRepo.AdmitNext(ctx, leaseToken, leasePID)
}

// PauseAdmissions stops new leases for the given duration. Running jobs
// are unaffected. Used when the cracking tool probe fails, so the queue
// drains into a healthy tool instead of failing every job.
func (c *QueueCoordinator) PauseAdmissions(d time.Duration) {
	c.mu.Lock()
	c.pausedUntil = time.Now().Add(d)
	c.mu.Unlock()
	debug.Warning("Job admissions paused for %s", d)
}

// ResumeAdmissions lifts an admission pause immediately.
func (c *QueueCoordinator) ResumeAdmissions() {
	c.mu.Lock()
	wasPaused := time.Now().Before(c.pausedUntil)
	c.pausedUntil = time.Time{}
	c.mu.Unlock()
	if wasPaused {
		debug.Info("Job admissions resumed")
	}
}

// RegisterCancel makes a running job's context cancellable from
// CancelJob. Workers register on admission and unregister when the run
// finishes.
func (c *QueueCoordinator) RegisterCancel(jobID uuid.UUID, cancel context.CancelFunc) {
	c.mu.Lock()
	c.cancels[jobID] = cancel
	c.mu.Unlock()
}

// UnregisterCancel drops a job's cancel registration.
func (c *QueueCoordinator) UnregisterCancel(jobID uuid.UUID) {
	c.mu.Lock()
	delete(c.cancels, jobID)
	c.mu.Unlock()
}

func (c *QueueCoordinator) signalCancel(jobID uuid.UUID) {
	c.mu.Lock()
	cancel, ok := c.cancels[jobID]
	c.mu.Unlock()
	if ok {
		cancel()
		debug.Debug("Signaled cancel to running job %s", jobID)
	}
}
