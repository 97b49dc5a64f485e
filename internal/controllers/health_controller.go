package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gyasca/alibaba-hack-2025-backend/internal/db"
	"gorm.io/gorm"
)

const Version = "1.0.0"

const detectionCheckTimeout = 2 * time.Second

// ModelReporter is implemented by detection runtimes that know which model they serve.
type ModelReporter interface {
	Model() string
}

// runtimeChecker is implemented by runtimes that can re-check their backend.
type runtimeChecker interface {
	Load(ctx context.Context) error
}

type HealthController struct {
	db            *gorm.DB
	runtime       ModelReporter
	storageDriver string
}

func NewHealthController(database *gorm.DB, runtime ModelReporter, storageDriver string) *HealthController {
	return &HealthController{db: database, runtime: runtime, storageDriver: storageDriver}
}

func (hc *HealthController) Health(c *gin.Context) {
	dbStatus := "ok"
	var dbError string
	if hc.db == nil {
		dbStatus = "error"
		dbError = "database connection not initialized"
	} else if err := db.Ping(hc.db); err != nil {
		dbStatus = "error"
		dbError = err.Error()
	}

	detection := gin.H{"status": "unknown"}
	if hc.runtime != nil {
		model := hc.runtime.Model()
		if p, ok := hc.runtime.(runtimeChecker); ok && model == "" {
			ctx, cancel := context.WithTimeout(c.Request.Context(), detectionCheckTimeout)
			if err := p.Load(ctx); err == nil {
				model = hc.runtime.Model()
			}
			cancel()
		}
		if model != "" {
			detection = gin.H{"status": "ok", "model": model}
		} else {
			detection = gin.H{"status": "unavailable"}
		}
	}

	// Only the database decides overall health; the detection sidecar may come up later.
	overallStatus := "ok"
	statusCode := http.StatusOK
	if dbStatus != "ok" {
		overallStatus = "error"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, gin.H{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   Version,
		"services": gin.H{
			"database":  gin.H{"status": dbStatus, "error": dbError},
			"detection": detection,
			"storage":   gin.H{"driver": hc.storageDriver},
		},
	})
}
