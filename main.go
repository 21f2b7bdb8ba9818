package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Gt5678ax/FoxDesk-sub001/internal/api"
	"github.com/Gt5678ax/FoxDesk-sub001/internal/config"
	"github.com/Gt5678ax/FoxDesk-sub001/internal/database"
	"github.com/Gt5678ax/FoxDesk-sub001/internal/logger"
	"github.com/Gt5678ax/FoxDesk-sub001/internal/monitoring"
	"github.com/Gt5678ax/FoxDesk-sub001/internal/services"
	"github.com/Gt5678ax/FoxDesk-sub001/internal/websocket"
)

func main() {
	logger.Init()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Ensure working directories exist
	for _, dir := range []string{cfg.BackupDir, cfg.TempDir, cfg.CacheDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Fatal().Err(err).Str("dir", dir).Msg("Failed to create directory")
		}
	}

	// Set up the bookkeeping database
	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply database migrations")
	}

	// Set up WebSocket hub for progress events
	hub := websocket.NewHub()
	go hub.Run()

	// Set up services
	gate := services.NewOperationGate()
	settingsService := services.NewSettingsService(db)
	historyService := services.NewHistoryService(db)
	checkerService := services.NewCheckerService(settingsService, cfg.ReleaseFeedURL, cfg.CheckInterval, cfg.DownloadTimeout)
	validator := services.NewValidator(settingsService, cfg.RequiredEntries)
	backupService := services.NewBackupService(db, historyService, settingsService, gate, hub,
		cfg.InstallDir, cfg.BackupDir, cfg.TempDir, cfg.AppDatabasePath, cfg.CacheDir, cfg.MinFreeDiskBytes)
	invalidator := services.NewHostCacheInvalidator(cfg.CacheDir, cfg.RestartCmd)
	updaterService := services.NewUpdaterService(db, settingsService, validator, backupService, historyService, gate, invalidator, hub,
		cfg.InstallDir, cfg.TempDir, cfg.AppDatabasePath, cfg.RequiredEntries, cfg.DownloadTimeout, cfg.MaxPackageBytes, cfg.MinFreeDiskBytes)

	// Set up and run the background update-check scheduler
	scheduler := monitoring.NewScheduler(checkerService, cfg.CheckSchedule)
	go scheduler.Run()

	// Set up router
	router := api.NewRouter(hub, updaterService, checkerService, backupService, historyService, cfg.TempDir, cfg.MaxPackageBytes)

	// Set up server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.ServerPort),
		Handler: router,
	}

	// Graceful shutdown
	go func() {
		log.Info().Int("port", cfg.ServerPort).Msg("Maintenance service starting")
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("ListenAndServe()")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down...")

	scheduler.Stop()

	// Let an in-flight maintenance operation reach a terminal state before
	// the process exits; a file swap must never be interrupted.
	for i := 0; i < 60 && gate.Current() != ""; i++ {
		log.Info().Str("operation", gate.Current()).Msg("Waiting for maintenance operation to finish")
		time.Sleep(1 * time.Second)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exiting")
}
