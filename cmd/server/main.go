// Package main is the entry point for returnlab, the monthly panel alignment
// and walk-forward return prediction pipeline.
//
// By default the pipeline runs once and exits. With SCHEDULE set the pipeline
// reruns on that cron spec, and with API_ENABLED the stored runs are served
// over HTTP until the process is stopped.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/returnlab/internal/config"
	"github.com/aristath/returnlab/internal/database"
	"github.com/aristath/returnlab/internal/modules/pipeline"
	"github.com/aristath/returnlab/internal/modules/results"
	"github.com/aristath/returnlab/internal/scheduler"
	"github.com/aristath/returnlab/internal/server"
	"github.com/aristath/returnlab/pkg/logger"
)

// walCheckpointSchedule runs the WAL check at the top of every hour.
const walCheckpointSchedule = "0 0 * * * *"

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Use fallback logger if config fails
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: true,
	})
	logger.SetGlobalLogger(log)

	log.Info().Msg("Starting returnlab")

	resultsDB, err := database.New(database.Config{
		Path: cfg.ResultsDB,
		Name: "results",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open results database")
	}
	defer resultsDB.Close()

	if err := resultsDB.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate results database")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo := results.NewRepository(resultsDB.Conn(), log)
	research := pipeline.New(cfg, repo, log)
	researchJob := scheduler.NewResearchRunJob(ctx, func(ctx context.Context) error {
		_, err := research.Run(ctx)
		return err
	}, 0, log)

	// One-shot mode: run the pipeline and exit
	if cfg.Schedule == "" && !cfg.APIEnabled {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			<-quit
			log.Warn().Msg("Interrupted, cancelling research run")
			cancel()
		}()

		if err := researchJob.Run(); err != nil {
			log.Fatal().Err(err).Msg("Research run failed")
		}
		return
	}

	sched := scheduler.New(log)
	if err := sched.AddJob(walCheckpointSchedule, scheduler.NewCheckWALCheckpointsJob(log, resultsDB)); err != nil {
		log.Fatal().Err(err).Msg("Failed to register WAL checkpoint job")
	}
	if cfg.Schedule != "" {
		if err := sched.AddJob(cfg.Schedule, researchJob); err != nil {
			log.Fatal().Err(err).Str("schedule", cfg.Schedule).Msg("Invalid research schedule")
		}
		if next, ok := sched.NextRun(researchJob.Name()); ok {
			log.Info().Time("next_run", next).Msg("Research run scheduled")
		}
	} else {
		go func() {
			if err := sched.RunNow(researchJob); err != nil {
				log.Error().Err(err).Msg("Research run failed")
			}
		}()
	}
	sched.Start()

	var srv *server.Server
	if cfg.APIEnabled {
		srv = server.New(server.Config{
			Log:         log,
			ResultsDB:   resultsDB,
			Config:      cfg,
			Port:        cfg.Port,
			DevMode:     cfg.LogLevel == "debug",
			ResearchJob: researchJob,
		})

		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatal().Err(err).Msg("Failed to start server")
			}
		}()
		log.Info().Int("port", cfg.Port).Msg("Server started successfully")
	}

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")
	cancel()
	sched.Stop()

	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
	}

	log.Info().Msg("Stopped")
}
