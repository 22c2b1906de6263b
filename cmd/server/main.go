package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/LingByte/LingCall/cmd/bootstrap"
	"github.com/LingByte/LingCall/internal/models"
	"github.com/LingByte/LingCall/pkg/callbot"
	"github.com/LingByte/LingCall/pkg/config"
	"github.com/LingByte/LingCall/pkg/logger"
	"github.com/LingByte/LingCall/pkg/utils"
	"github.com/LingByte/LingCall/pkg/web"
)

func main() {
	// 1. Parse Command Line Parameters
	mode := flag.String("mode", "", "running environment (development, test, production)")
	initDB := flag.Bool("init", false, "initialize database")
	initSQL := flag.String("init-sql", "", "path to database init .sql script (optional)")
	flag.Parse()

	// 2. Set Environment Variables
	if *mode != "" {
		os.Setenv("APP_ENV", *mode)
	}

	// 3. Load Global Configuration
	if err := config.Load(); err != nil {
		panic("config load failed: " + err.Error())
	}
	if err := config.GlobalConfig.Validate(); err != nil {
		panic("config invalid: " + err.Error())
	}

	// 4. Load Log Configuration
	if err := logger.Init(&config.GlobalConfig.Log, config.GlobalConfig.Server.Mode); err != nil {
		panic(err)
	}
	defer logger.Sync()

	// 5. Print Banner
	if err := bootstrap.PrintBannerFromFile("banner.txt", config.GlobalConfig.Server.Name); err != nil {
		logger.Warn("banner unavailable", zap.Error(err))
	}

	// 6. Load Data Source
	db, err := bootstrap.SetupDatabase(os.Stdout, &bootstrap.Options{
		InitSQLPath: *initSQL,
		AutoMigrate: *initDB,
		SeedNonProd: *initDB,
	})
	if err != nil {
		logger.Error("database setup failed", zap.Error(err))
		return
	}

	// 7. Initialize Global Cache
	utils.InitGlobalCache(1024, 5*time.Minute)

	// 8. Build the answering service
	orch, err := callbot.NewOrchestrator(config.GlobalConfig, db)
	if err != nil {
		logger.Fatal("failed to build orchestrator", zap.Error(err))
	}

	// persisted settings override the env defaults for LLM and TTS
	if settings, err := models.GetSettings(db); err != nil {
		logger.Warn("could not load persisted settings, using env defaults", zap.Error(err))
	} else {
		orch.ApplyServiceSettings(settings)
	}

	startCtx, cancelStart := context.WithTimeout(context.Background(), time.Minute)
	if err := orch.Start(startCtx); err != nil {
		cancelStart()
		logger.Fatal("failed to start answering service", zap.Error(err))
	}
	cancelStart()

	// 9. HTTP monitoring API
	router := web.NewRouter(config.GlobalConfig, db, orch)
	httpServer := &http.Server{
		Addr:    config.GlobalConfig.Server.Addr,
		Handler: router,
	}
	go func() {
		logger.Info("HTTP API listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server stopped", zap.Error(err))
		}
	}()

	// 10. Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutdown signal received", zap.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown error", zap.Error(err))
	}
	if err := orch.Shutdown(shutdownCtx); err != nil {
		logger.Warn("service shutdown error", zap.Error(err))
	}
	logger.Info("goodbye")
}
