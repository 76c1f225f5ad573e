package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aristath/navhub/internal/clientdata"
	"github.com/aristath/navhub/internal/clients/amfi"
	"github.com/aristath/navhub/internal/clients/workflow"
	"github.com/aristath/navhub/internal/config"
	"github.com/aristath/navhub/internal/database"
	"github.com/aristath/navhub/internal/download"
	"github.com/aristath/navhub/internal/modules/jobs"
	"github.com/aristath/navhub/internal/modules/navdata"
	"github.com/aristath/navhub/internal/modules/schemes"
	"github.com/aristath/navhub/internal/reliability"
	"github.com/aristath/navhub/internal/scheduler"
	"github.com/aristath/navhub/internal/server"
	"github.com/aristath/navhub/pkg/logger"
)

func main() {
	// Load configuration first so the log level is honored from the start
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New(logger.Config{Level: "info", Pretty: true})
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().Str("data_dir", cfg.DataDir).Msg("Starting navhub")

	// Databases
	databases := map[string]*database.DB{}
	for _, def := range []struct {
		name    string
		profile database.DatabaseProfile
	}{
		{"catalog", database.ProfileStandard},
		{"navdata", database.ProfileStandard},
		{"jobs", database.ProfileStandard},
		{"cache", database.ProfileCache},
	} {
		db, err := database.New(database.Config{
			Path:    filepath.Join(cfg.DataDir, def.name+".db"),
			Profile: def.profile,
			Name:    def.name,
		})
		if err != nil {
			log.Fatal().Err(err).Str("database", def.name).Msg("Failed to open database")
		}
		defer db.Close()

		if err := db.Migrate(); err != nil {
			log.Fatal().Err(err).Str("database", def.name).Msg("Failed to run migrations")
		}
		databases[def.name] = db
	}

	// Repositories
	cacheRepo := clientdata.NewRepository(databases["cache"].Conn())
	jobsRepo := jobs.NewRepository(databases["jobs"].Conn(), log)
	navRepo := navdata.NewRepository(databases["navdata"].Conn(), log)
	schemeRepo := schemes.NewRepository(databases["catalog"].Conn(), log)
	schedulerRepo := scheduler.NewRepository(databases["catalog"].Conn(), log)

	// External clients
	fetcher := amfi.NewClient(amfi.Config{
		DailyURL:       cfg.Fetcher.DailyURL,
		HistoricalURL:  cfg.Fetcher.HistoricalURL,
		RequestTimeout: cfg.Fetcher.RequestTimeout,
		MaxAttempts:    cfg.Fetcher.MaxAttempts,
		RetryBaseDelay: cfg.Fetcher.RetryBaseDelay,
		MinCallGap:     cfg.Fetcher.MinCallGap,
	}, cacheRepo, log)
	workflowClient := workflow.NewClient(log)

	// Download orchestrator
	orchestrator := download.New(
		fetcher, jobsRepo, navRepo, schemeRepo,
		download.NewLockTable(), download.NewTracker(), log,
	)

	// Tenant schedules
	schedulerService := scheduler.NewService(schedulerRepo, workflowClient, cfg.CallbackBaseURL, log)
	if err := schedulerService.InitializeAll(); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize scheduler")
	}
	defer schedulerService.ShutdownAll()

	// Maintenance jobs
	runner := scheduler.NewRunner(log)

	if err := runner.AddJob("*/30 * * * *", clientdata.NewCleanupJob(cacheRepo, log)); err != nil {
		log.Fatal().Err(err).Msg("Failed to register cache cleanup job")
	}
	if err := runner.AddJob("0 2 * * *", reliability.NewDailyMaintenanceJob(databases, cfg.DataDir, log)); err != nil {
		log.Fatal().Err(err).Msg("Failed to register maintenance job")
	}

	var backupService *reliability.BackupService
	if cfg.Backup.Enabled {
		s3Client, err := reliability.NewS3Client(context.Background(), reliability.S3Config{
			Endpoint:  cfg.Backup.Endpoint,
			Region:    cfg.Backup.Region,
			Bucket:    cfg.Backup.Bucket,
			AccessKey: cfg.Backup.AccessKey,
			SecretKey: cfg.Backup.SecretKey,
		}, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create backup client")
		}

		backupService = reliability.NewBackupService(databases, s3Client, cfg.DataDir, cfg.Backup.RetentionDays, log)
		if err := runner.AddJob(cfg.Backup.Schedule, reliability.NewBackupJob(backupService)); err != nil {
			log.Fatal().Err(err).Msg("Failed to register backup job")
		}
	}

	runner.Start()
	defer runner.Stop()

	// HTTP server
	srv := server.New(server.Config{
		Port:         cfg.Port,
		DevMode:      cfg.DevMode,
		Log:          log,
		DataDir:      cfg.DataDir,
		Orchestrator: orchestrator,
		Scheduler:    schedulerService,
		JobsRepo:     jobsRepo,
		Backups:      backupService,
		Databases:    databases,
	})

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}

	// Let in-flight download pipelines reach a terminal state
	orchestrator.Wait()

	log.Info().Msg("Shutdown complete")
}
