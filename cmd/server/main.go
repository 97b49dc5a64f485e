package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gyasca/alibaba-hack-2025-backend/internal/config"
	"github.com/gyasca/alibaba-hack-2025-backend/internal/db"
	"github.com/gyasca/alibaba-hack-2025-backend/internal/logger"
	"github.com/gyasca/alibaba-hack-2025-backend/internal/metrics"
	"github.com/gyasca/alibaba-hack-2025-backend/internal/routes"
	"github.com/gyasca/alibaba-hack-2025-backend/internal/services"
	"github.com/joho/godotenv"
)

func main() {
	envErr := godotenv.Load()

	cfg := config.Load()
	logger.Initialize(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	if envErr != nil {
		logger.Warn("No .env file found, using environment variables", nil)
	}

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", map[string]interface{}{"error": err.Error()})
	}

	database, err := db.Connect(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", map[string]interface{}{"error": err.Error()})
	}
	if err := db.AutoMigrate(database); err != nil {
		logger.Fatal("Failed to migrate database", map[string]interface{}{"error": err.Error()})
	}

	store, err := services.NewObjectStore(cfg.Storage)
	if err != nil {
		logger.Fatal("Failed to initialize object storage", map[string]interface{}{"error": err.Error()})
	}

	// The detection sidecar may still be loading weights; predict reports its own failures.
	httpRuntime := services.NewHTTPRuntime(cfg.Detector.URL, cfg.Detector.ModelPath, cfg.Detector.Timeout)
	loadCtx, cancelLoad := context.WithTimeout(context.Background(), 10*time.Second)
	if err := httpRuntime.Load(loadCtx); err != nil {
		logger.Warn("Detection runtime not ready", map[string]interface{}{
			"url":   cfg.Detector.URL,
			"error": err.Error(),
		})
	}
	cancelLoad()
	var runtime services.DetectionRuntime = httpRuntime
	if cfg.Detector.Serialize {
		runtime = services.Serialized(httpRuntime)
	}

	relay, err := services.NewChatRelay(cfg.Chat)
	if err != nil {
		logger.Fatal("Failed to initialize chat relay", map[string]interface{}{"error": err.Error()})
	}
	if (cfg.Chat.Provider == "openai" && cfg.Chat.APIKey == "") || (cfg.Chat.Provider == "gemini" && cfg.Chat.GeminiAPIKey == "") {
		logger.Warn("Chat API key is not configured; chat requests will fail", map[string]interface{}{
			"provider": cfg.Chat.Provider,
		})
	}

	sessions := services.NewSessionStore(cfg.SessionTTL)

	m, err := metrics.New(sessions.Len)
	if err != nil {
		logger.Fatal("Failed to register metrics", map[string]interface{}{"error": err.Error()})
	}

	if cfg.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := routes.NewRouter(cfg, routes.Deps{
		DB:       database,
		Store:    store,
		Runtime:  runtime,
		Model:    httpRuntime,
		Relay:    services.NewTrackedRelay(relay),
		Sessions: sessions,
		Metrics:  m,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Starting oral health analysis server", map[string]interface{}{
		"port":           cfg.Port,
		"gin_mode":       gin.Mode(),
		"db_type":        cfg.Database.Type,
		"storage_driver": cfg.Storage.Driver,
		"chat_provider":  cfg.Chat.Provider,
	})

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	<-sigChan
	logger.Info("Shutting down server gracefully...", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", map[string]interface{}{
			"error": err.Error(),
		})
	} else {
		logger.Info("Server exited gracefully", nil)
	}
}
