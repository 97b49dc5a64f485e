package main

import (
	"log"

	"github.com/gyasca/alibaba-hack-2025-backend/internal/config"
	"github.com/gyasca/alibaba-hack-2025-backend/internal/db"
	"github.com/gyasca/alibaba-hack-2025-backend/internal/logger"
	"github.com/joho/godotenv"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg := config.Load()
	logger.Initialize(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile})

	database, err := db.Connect(cfg.Database)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}

	log.Println("Running database migrations...")
	if err := db.AutoMigrate(database); err != nil {
		log.Fatalf("❌ %v", err)
	}

	log.Println("✅ Database migrations completed successfully!")
}
