package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/doomedramen/autopwn-sub003/internal/config"
	"github.com/doomedramen/autopwn-sub003/internal/db"
	"github.com/doomedramen/autopwn-sub003/internal/dictionary"
	"github.com/doomedramen/autopwn-sub003/internal/repository"
	"github.com/doomedramen/autopwn-sub003/internal/services"
	"github.com/doomedramen/autopwn-sub003/internal/worker"
	"github.com/doomedramen/autopwn-sub003/pkg/debug"
	"github.com/robfig/cron/v3"
)

// toolProbePause is how long admission stays paused after a failed
// availability probe. The next probe resumes it if the tool is back.
const toolProbePause = 5 * time.Minute

func main() {
	debug.Reinitialize()

	cfg, err := config.Load()
	if err != nil {
		debug.Error("Failed to load configuration: %v", err)
		os.Exit(1)
	}

	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		debug.Error("Failed to connect to database: %v", err)
		os.Exit(1)
	}
	defer database.Close()

	jobRepo := repository.NewJobRepository(database)
	networkRepo := repository.NewNetworkRepository(database)
	dictRepo := repository.NewDictionaryRepository(database)
	auditRepo := repository.NewAuditLogRepository(database)

	consolidator := dictionary.NewConsolidator(dictRepo, cfg.DictionariesDir)
	quota := services.NewQuotaGuard([]string{cfg.CapturesDir, cfg.DictionariesDir}, cfg.UserQuotaBytes)
	audit := services.NewAuditNotifier(auditRepo)
	coordinator := services.NewQueueCoordinator(jobRepo, networkRepo, dictRepo, consolidator, quota, audit)
	recorder := services.NewResultRecorder(networkRepo)
	cleanup := services.NewCleanupService(jobRepo, cfg.TempDir, cfg.RetentionWindow)
	executor := worker.NewExecutor(cfg.HashcatBinary, cfg.JobTimeout)

	pool := worker.NewPool(coordinator, jobRepo, networkRepo, dictRepo, recorder, cleanup, executor,
		cfg.WorkerCount, cfg.PollInterval)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Settle jobs orphaned by a previous run before taking new leases.
	if err := pool.ReconcileOrphans(ctx); err != nil {
		debug.Error("Failed to reconcile orphaned jobs: %v", err)
		os.Exit(1)
	}

	// Pause admission up front if the tool is missing rather than
	// failing the first leased job.
	if err := executor.CheckAvailability(ctx); err != nil {
		if errors.Is(err, services.ErrToolUnavailable) {
			debug.Error("Cracking tool unavailable at startup: %v", err)
			coordinator.PauseAdmissions(toolProbePause)
		} else {
			debug.Error("Tool probe failed: %v", err)
			os.Exit(1)
		}
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.CleanupSchedule, func() {
		if _, err := cleanup.Sweep(context.Background(), false); err != nil {
			debug.Error("Cleanup sweep failed: %v", err)
		}
	}); err != nil {
		debug.Error("Invalid cleanup schedule %q: %v", cfg.CleanupSchedule, err)
		os.Exit(1)
	}
	if _, err := scheduler.AddFunc("@every 1m", func() {
		probeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := executor.CheckAvailability(probeCtx); err != nil {
			debug.Warning("Tool probe failed, pausing admissions: %v", err)
			coordinator.PauseAdmissions(toolProbePause)
		} else {
			coordinator.ResumeAdmissions()
		}
	}); err != nil {
		debug.Error("Failed to register tool probe: %v", err)
		os.Exit(1)
	}
	scheduler.Start()
	defer scheduler.Stop()

	debug.Info("Server started (workers=%d, poll=%s)", cfg.WorkerCount, cfg.PollInterval)
	pool.Run(ctx)
	debug.Info("Server shut down")
}
