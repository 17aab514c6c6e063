package main

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"vtuber-backend/internal/config"
	"vtuber-backend/internal/handler"
	"vtuber-backend/internal/metrics"
	"vtuber-backend/internal/service"
	"vtuber-backend/pkg/logger"
)

type routes struct {
	ws       *handler.WebSocketHandler
	history  *handler.HistoryHandler
	metrics  *metrics.Metrics
	registry *service.Registry
}

func setupRouter(cfg *config.Config, r routes) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	if logger.L().IsLevelEnabled(logrus.DebugLevel) {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	if gin.IsDebugging() {
		router.Use(gin.Logger())
	}
	router.Use(gin.Recovery())

	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.System.CORS.AllowedOrigins,
		AllowMethods:     cfg.System.CORS.AllowedMethods,
		AllowHeaders:     cfg.System.CORS.AllowedHeaders,
		ExposeHeaders:    cfg.System.CORS.ExposedHeaders,
		AllowCredentials: cfg.System.CORS.AllowCredentials,
		MaxAge:           time.Duration(cfg.System.CORS.MaxAge) * time.Second,
	}))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"sessions":  r.registry.Count(),
			"timestamp": time.Now().Unix(),
		})
	})

	if r.metrics != nil {
		router.GET(cfg.System.Metrics.Path, gin.WrapH(r.metrics.Handler()))
	}

	router.GET("/client-ws", r.ws.ServeWS)

	api := router.Group("/api")
	{
		api.GET("/history/:conf_uid", r.history.GetHistory)
		api.DELETE("/history/:conf_uid", r.history.ClearHistory)
	}

	router.Static("/live2d-models", cfg.System.Live2DDir)
	router.Static("/bg", cfg.System.BackgroundsDir)
	router.NoRoute(gin.WrapH(http.FileServer(http.Dir(cfg.System.FrontendDir))))

	return router
}
