package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yanqian/weathercards/internal/infra/config"
)

// NewRouter wires up the HTTP handlers and returns a configured server.
func NewRouter(cfg *config.Config, handler *Handler) *http.Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(
		gin.Recovery(),
		requestLogger(handler.logger),
		corsMiddleware(cfg.HTTP.AllowOrigins),
		errorHandlingMiddleware(handler.logger),
	)

	router.GET("/healthz", handler.Health)

	limits := cfg.HTTP.RateLimit
	generationLimit := rateLimitMiddleware(limits.Enabled, generationRule(limits), handler.logger)

	api := router.Group("/api/v1")
	api.Use(rateLimitMiddleware(limits.Enabled, crudRule(limits), handler.logger))
	{
		api.GET("/recipients", handler.ListRecipients)
		api.POST("/recipients", handler.CreateRecipient)
		api.PUT("/recipients/:id", handler.UpdateRecipient)
		api.DELETE("/recipients/:id", handler.DeleteRecipient)
		api.POST("/recipients/:id/cards", generationLimit, handler.GenerateCards)
		api.POST("/cards/refresh", generationLimit, handler.RefreshAll)
		api.GET("/widget", handler.Widget)
	}

	return &http.Server{
		Addr:           cfg.HTTP.Address,
		Handler:        router,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		logger.Info("http request", "method", c.Request.Method, "path", c.Request.URL.Path, "status", c.Writer.Status(), "latency_ms", latency.Milliseconds())
	}
}
