package routes

import (
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gyasca/alibaba-hack-2025-backend/internal/config"
	"github.com/gyasca/alibaba-hack-2025-backend/internal/controllers"
	"github.com/gyasca/alibaba-hack-2025-backend/internal/metrics"
	"github.com/gyasca/alibaba-hack-2025-backend/internal/middleware"
	"github.com/gyasca/alibaba-hack-2025-backend/internal/services"
	"gorm.io/gorm"
)

// Deps are the long-lived collaborators built once at startup.
type Deps struct {
	DB       *gorm.DB
	Store    services.ObjectStore
	Runtime  services.DetectionRuntime
	Model    controllers.ModelReporter // optional, reported by /health
	Relay    *services.TrackedRelay
	Sessions *services.SessionStore
	Metrics  *metrics.Metrics // optional
}

func corsConfig(origin string) cors.Config {
	cc := cors.DefaultConfig()
	if origin == "" || origin == "*" {
		cc.AllowAllOrigins = true
	} else {
		cc.AllowOrigins = strings.Split(origin, ",")
		cc.AllowCredentials = true
	}
	cc.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	cc.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", controllers.SessionHeader}
	cc.ExposeHeaders = []string{controllers.SessionHeader}
	return cc
}

// NewRouter builds the engine with the middleware stack and all routes.
func NewRouter(cfg *config.Config, deps Deps) *gin.Engine {
	r := gin.New()
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	r.MaxMultipartMemory = cfg.UploadMax

	r.Use(middleware.RequestLogger())
	r.Use(cors.New(corsConfig(cfg.CORSOrigin)))
	if deps.Metrics != nil {
		r.Use(middleware.Metrics(deps.Metrics))
	}
	r.Use(middleware.Recovery())
	r.Use(middleware.ErrorHandler())

	SetupRoutes(r, cfg, deps)
	return r
}

// SetupRoutes configures all application routes
func SetupRoutes(r *gin.Engine, cfg *config.Config, deps Deps) {
	historyController := controllers.NewHistoryController(services.NewHistoryService(deps.DB), deps.Metrics)
	healthController := controllers.NewHealthController(deps.DB, deps.Model, cfg.Storage.Driver)

	oha := controllers.OhaModelDeps{
		Store:                  deps.Store,
		KeyPrefix:              cfg.Storage.Prefix,
		Runtime:                deps.Runtime,
		Sessions:               deps.Sessions,
		Metrics:                deps.Metrics,
		MaxUploadBytes:         cfg.UploadMax,
		CleanupOrphanedUploads: cfg.CleanupOrphanedUploads,
	}
	if deps.Relay != nil {
		oha.Relay = deps.Relay
		oha.Calls = deps.Relay
	}
	ohaController := controllers.NewOhaModelController(oha)

	r.GET("/health", healthController.Health)
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}
	r.POST("/chat", controllers.LegacyChat)

	if local, ok := deps.Store.(*services.LocalStore); ok {
		r.Static("/uploads", local.Dir())
	}

	auth := middleware.AuthMiddleware(cfg.JWTSecret, cfg.AuthRequired)
	// The call log holds chat replies from every session.
	adminOnly := middleware.AuthMiddleware(cfg.JWTSecret, true)

	ohamodel := r.Group("/ohamodel")
	ohamodel.Use(auth)
	{
		ohamodel.POST("/predict", ohaController.Predict)
		ohamodel.POST("/chat", ohaController.Chat)
		ohamodel.GET("/chat/session", ohaController.ChatSession)
		ohamodel.DELETE("/chat/session", ohaController.EndChatSession)
		ohamodel.GET("/chat/calls", adminOnly, ohaController.GetChatCalls)
		ohamodel.DELETE("/chat/calls", adminOnly, ohaController.ClearChatCalls)
	}

	history := r.Group("/history")
	history.Use(auth)
	{
		history.POST("/oha/save-results", historyController.SaveResults)
		history.GET("/oha/get-history", historyController.GetHistory)
		history.DELETE("/oha/delete-result", historyController.DeleteHistory)
	}
}
