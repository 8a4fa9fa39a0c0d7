package worker

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/doomedramen/autopwn-sub003/internal/models"
	"github.com/doomedramen/autopwn-sub003/internal/repository"
	"github.com/doomedramen/autopwn-sub003/internal/services"
	"github.com/doomedramen/autopwn-sub003/pkg/debug"
	"github.com/google/uuid"
	"github.com/shirou/gopsutil/process"
)

// Pool runs N workers that poll the queue, lease jobs, and drive each
// run from admission through result recording to its terminal status.
type Pool struct {
	coordinator  *services.QueueCoordinator
	networkRepo  *repository.NetworkRepository
	dictRepo     *repository.DictionaryRepository
	jobRepo      *repository.JobRepository
	recorder     *services.ResultRecorder
	cleanup      *services.CleanupService
	executor     *Executor
	workerCount  int
	pollInterval time.Duration
}

// NewPool creates a new worker pool.
func NewPool(
	coordinator *services.QueueCoordinator,
	jobRepo *repository.JobRepository,
	networkRepo *repository.NetworkRepository,
	dictRepo *repository.DictionaryRepository,
	recorder *services.ResultRecorder,
	cleanup *services.CleanupService,
	executor *Executor,
	workerCount int,
	pollInterval time.Duration,
) *Pool {
	return &Pool{
		coordinator:  coordinator,
		jobRepo:      jobRepo,
		networkRepo:  networkRepo,
		dictRepo:     dictRepo,
		recorder:     recorder,
		cleanup:      cleanup,
		executor:     executor,
		workerCount:  workerCount,
		pollInterval: pollInterval,
	}
}

// Run starts the workers and blocks until ctx is cancelled and all
// in-flight jobs have finished.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.workerCount; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.runWorker(ctx, id)
		}(i)
	}
	debug.Info("Worker pool started with %d workers", p.workerCount)
	wg.Wait()
	debug.Info("Worker pool stopped")
}

func (p *Pool) runWorker(ctx context.Context, id int) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, err := p.coordinator.AdmitNext(ctx, uuid.New(), os.Getpid())
			if err != nil {
				debug.Error("Worker %d failed to poll queue: %v", id, err)
				continue
			}
			if job == nil {
				continue
			}
			debug.Info("Worker %d leased job %s", id, job.ID)
			p.runJob(ctx, job)
		}
	}
}

// runJob executes one leased job to a terminal status. Every terminal
// write is lease-guarded, so a cancel that raced this run wins and the
// late completion lands as a no-op.
func (p *Pool) runJob(ctx context.Context, job *models.Job) {
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	p.coordinator.RegisterCancel(job.ID, cancel)
	defer p.coordinator.UnregisterCancel(job.ID)
	defer p.cleanup.CleanupJobTemp(job.ID)

	leaseToken := *job.LeaseToken

	// A cancel landing between admission and registration finds no
	// cancel func to signal. Re-read the row so that window cannot
	// start the tool.
	if current, err := p.jobRepo.GetByIDAnyOwner(ctx, job.ID); err == nil && current.Status != models.JobStatusRunning {
		debug.Info("Job %s went %s before execution started", job.ID, current.Status)
		return
	}

	outcome, runErr := p.execute(jobCtx, job)
	if runErr != nil {
		if jobCtx.Err() != nil {
			if ctx.Err() != nil {
				// Shutdown killed the run; restart reconciliation will
				// settle the row.
				debug.Warning("Shutdown interrupted job %s", job.ID)
			} else {
				// Cancelled through the coordinator; the row is
				// already cancelled, nothing to write.
				debug.Info("Job %s cancelled mid-run", job.ID)
			}
			return
		}
		p.fail(ctx, job.ID, leaseToken, runErr)
		return
	}

	recorded, err := p.recorder.Record(ctx, job, outcome.Cracked)
	if err != nil {
		p.fail(ctx, job.ID, leaseToken, fmt.Errorf("failed to record results: %w", err))
		return
	}

	wrote, err := p.jobRepo.CompleteIfRunning(ctx, job.ID, leaseToken, 100)
	if err != nil {
		debug.Error("Failed to complete job %s: %v", job.ID, err)
		return
	}
	if !wrote {
		debug.Info("Job %s went terminal elsewhere, completion skipped", job.ID)
		return
	}
	debug.Info("Job %s completed: %d cracked, %d recorded", job.ID, len(outcome.Cracked), recorded)
}

// execute resolves the job's file paths and runs the tool once per
// target capture, aggregating cracked pairs across captures.
func (p *Pool) execute(ctx context.Context, job *models.Job) (*Outcome, error) {
	dict, err := p.dictRepo.GetByID(ctx, job.UserID, job.DictionaryID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve dictionary: %w", err)
	}

	var capturePaths []string
	targetIDs := []uuid.UUID{job.NetworkID}
	if job.Config.IsConsolidated() && len(job.Config.TargetCapturePaths) > 0 {
		capturePaths = job.Config.TargetCapturePaths
		targetIDs = job.Config.TargetIDs
	} else {
		network, err := p.networkRepo.GetByID(ctx, job.UserID, job.NetworkID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve network: %w", err)
		}
		capturePaths = []string{network.CapturePath}
	}

	for _, id := range targetIDs {
		if err := p.networkRepo.UpdateStatus(ctx, id, models.NetworkStatusCracking); err != nil {
			debug.Warning("Failed to mark network %s cracking: %v", id, err)
		}
	}

	workDir := p.cleanup.JobTempDir(job.ID)
	combined := &Outcome{Exhausted: true}
	for i, capturePath := range capturePaths {
		outcome, err := p.executor.Execute(ctx, job.AttackMode, capturePath, dict.FilePath, workDir)
		if err != nil {
			return nil, err
		}
		combined.Cracked = append(combined.Cracked, outcome.Cracked...)
		if !outcome.Exhausted {
			combined.Exhausted = false
		}
		progress := (i + 1) * 100 / len(capturePaths)
		if err := p.jobRepo.UpdateProgress(ctx, job.ID, progress); err != nil {
			debug.Warning("Failed to update progress of job %s: %v", job.ID, err)
		}
	}
	return combined, nil
}

func (p *Pool) fail(ctx context.Context, jobID, leaseToken uuid.UUID, cause error) {
	wrote, err := p.jobRepo.FailIfRunning(ctx, jobID, leaseToken, cause.Error())
	if err != nil {
		debug.Error("Failed to fail job %s: %v", jobID, err)
		return
	}
	if !wrote {
		debug.Info("Job %s went terminal elsewhere, failure skipped", jobID)
		return
	}
	debug.Warning("Job %s failed: %v", jobID, cause)
}

// ReconcileOrphans fails running jobs whose lease holder process no
// longer exists. Run once at startup, before the pool begins polling,
// so a crash-restart cannot leave jobs stuck in running forever.
func (p *Pool) ReconcileOrphans(ctx context.Context) error {
	running, err := p.jobRepo.ListRunning(ctx)
	if err != nil {
		return err
	}
	for _, job := range running {
		alive := false
		if job.LeasePID != nil {
			exists, err := process.PidExists(int32(*job.LeasePID))
			if err != nil {
				debug.Warning("Could not probe pid %d for job %s: %v", *job.LeasePID, job.ID, err)
			}
			// A live pid belonging to this process is still an orphan:
			// the in-memory lease died with the previous run.
			alive = err == nil && exists && *job.LeasePID != os.Getpid()
		}
		if alive {
			continue
		}
		if err := p.jobRepo.FailOrphaned(ctx, job.ID, "orphaned on restart"); err != nil {
			debug.Error("Failed to reconcile orphaned job %s: %v", job.ID, err)
			continue
		}
		debug.Warning("Failed orphaned job %s from previous run", job.ID)
	}
	return nil
}
