package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/mangalm/sales-backend/internal/handlers"
	"github.com/mangalm/sales-backend/internal/middleware"
)

type RouterConfig struct {
	AuthMiddleware *middleware.AuthMiddleware
	UploadHandler  *handlers.UploadHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	// Cors
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{
			"http://localhost:80",
			"http://localhost:3000",
		},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	// Public
	router.GET("/healthcheck", handlers.HealthCheck)

	// Protected
	api := router.Group("/api")
	api.Use(cfg.AuthMiddleware.RequireAuth())
	{
		api.POST("/uploads", cfg.UploadHandler.Submit)
		api.GET("/uploads", cfg.UploadHandler.List)
		api.GET("/uploads/:id/progress", cfg.UploadHandler.Progress)
		api.GET("/uploads/:id/errors", cfg.UploadHandler.Errors)
		api.POST("/uploads/:id/cancel", cfg.UploadHandler.Cancel)
	}

	return router
}
