package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/gyasca/alibaba-hack-2025-backend/internal/config"
	"github.com/gyasca/alibaba-hack-2025-backend/internal/db"
	"github.com/gyasca/alibaba-hack-2025-backend/internal/logger"
	"github.com/gyasca/alibaba-hack-2025-backend/internal/services"
	"github.com/joho/godotenv"
)

// HistoryData is one entry of the seed file, shaped like a save-results body.
type HistoryData struct {
	UserID      int64           `json:"user_id"`
	ImageURL    string          `json:"image_url"`
	Predictions json.RawMessage `json:"predictions"`
}

// JSONData represents the structure of the seed file
type JSONData struct {
	History []HistoryData `json:"history"`
}

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	path := "data/initial-history.json"
	if len(os.Args) > 1 {
		path = os.Args[1]
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

	log.Println("Seeding database with sample history...")
	n, err := seedHistory(context.Background(), services.NewHistoryService(database), path)
	if err != nil {
		log.Fatalf("❌ Error seeding history: %v", err)
	}

	log.Printf("✅ Database seeding completed successfully! (%d records)", n)
}

func seedHistory(ctx context.Context, history *services.HistoryService, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read history file: %w", err)
	}

	var jsonData JSONData
	if err := json.Unmarshal(data, &jsonData); err != nil {
		return 0, err
	}

	created := 0
	for i, h := range jsonData.History {
		predictions, count, err := services.NormalizePredictions(h.Predictions)
		if err != nil {
			log.Printf("⚠️  Skipping entry %d: %v", i, err)
			continue
		}
		row, err := history.Save(ctx, services.SaveInput{
			UserID:         h.UserID,
			ImageURL:       h.ImageURL,
			Predictions:    predictions,
			ConditionCount: count,
		})
		if err != nil {
			log.Printf("Error creating history entry %d: %v", i, err)
			continue
		}
		log.Printf("✅ Created history record %d for user %d", row.ID, row.UserID)
		created++
	}
	return created, nil
}
