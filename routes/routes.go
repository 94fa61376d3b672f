package routes

import (
	"time"

	"stock_monitor_backend/config"
	"stock_monitor_backend/controllers"
	"stock_monitor_backend/middleware"
	"stock_monitor_backend/services"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// SetupRoutes sets up all API routes
func SetupRoutes(router *gin.Engine, db *gorm.DB, monitor *services.MonitorService, store services.SnapshotStore, hub *services.Hub) {
	cfg := config.AppConfig

	loginLimiter := middleware.NewRateLimiter(5, 15*time.Minute, 30*time.Minute)

	authController := controllers.NewAuthController(db, cfg.JWTSecret, loginLimiter)
	ruleController := controllers.NewRuleController(db)
	monitorController := controllers.NewMonitorController(monitor, store, hub)

	// WebSocket endpoint for live updates
	router.GET("/ws", monitorController.HandleWebSocket)

	// API v1 group
	api := router.Group("/api/v1")
	{
		auth := api.Group("/auth")
		{
			auth.POST("/login", loginLimiter.LoginRateLimitMiddleware(), authController.Login)
		}

		stocks := api.Group("/stocks")
		{
			stocks.GET("/latest", monitorController.GetLatestStocks)
			stocks.GET("/:symbol/history", monitorController.GetStockHistory)
		}

		monitorGroup := api.Group("/monitor")
		{
			monitorGroup.GET("/status", monitorController.GetStatus)
			monitorGroup.POST("/trigger", middleware.JWTAuthMiddleware(cfg.JWTSecret), monitorController.TriggerRun)
		}

		rules := api.Group("/alert-rules")
		{
			rules.GET("", ruleController.GetRules)
			rules.GET("/:id", ruleController.GetRule)

			protected := rules.Group("", middleware.JWTAuthMiddleware(cfg.JWTSecret))
			{
				protected.POST("", ruleController.CreateRule)
				protected.PUT("/:id", ruleController.UpdateRule)
				protected.DELETE("/:id", ruleController.DeleteRule)
			}
		}
	}
}
