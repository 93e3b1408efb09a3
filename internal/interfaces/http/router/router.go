// Package router 提供 HTTP 路由配置
package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pustakam-api/internal/config"
	"pustakam-api/internal/interfaces/http/handler"
	"pustakam-api/internal/interfaces/http/middleware"
)

// Handlers 路由依赖的处理器
type Handlers struct {
	Health     *handler.HealthHandler
	Books      *handler.BookHandler
	Generation *handler.GenerationHandler
	Stream     *handler.StreamHandler
	Settings   *handler.SettingsHandler
}

// Router HTTP 路由器
type Router struct {
	engine   *gin.Engine
	cfg      *config.Config
	handlers Handlers
	limiter  middleware.RateLimiter
}

// New 创建路由器，limiter 为空时不限流
func New(cfg *config.Config, handlers Handlers, limiter middleware.RateLimiter) *Router {
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := &Router{
		engine:   gin.New(),
		cfg:      cfg,
		handlers: handlers,
		limiter:  limiter,
	}
	r.setupMiddleware()
	r.setupRoutes()
	return r
}

// Engine 返回 Gin Engine
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

func (r *Router) setupMiddleware() {
	r.engine.Use(middleware.Recovery())
	r.engine.Use(middleware.RequestID())
	r.engine.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: r.cfg.Security.CORS.AllowedOrigins,
		AllowedMethods: r.cfg.Security.CORS.AllowedMethods,
		AllowedHeaders: r.cfg.Security.CORS.AllowedHeaders,
	}))

	if r.cfg.Observability.Tracing.Enabled {
		r.engine.Use(middleware.Trace(r.cfg.App.Name, middleware.DefaultSkipPaths))
		r.engine.Use(middleware.TraceContext())
	}
	if r.cfg.Observability.Metrics.Enabled {
		r.engine.Use(middleware.Metrics())
	}
}

func (r *Router) setupRoutes() {
	h := r.handlers

	r.engine.GET("/health", h.Health.Health)
	r.engine.GET("/ready", h.Health.Ready)
	r.engine.GET("/live", h.Health.Live)
	if r.cfg.Observability.Metrics.Enabled {
		r.engine.GET(r.cfg.Observability.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	v1 := r.engine.Group("/v1")
	v1.Use(middleware.Auth(middleware.AuthConfig{
		Enabled:   r.cfg.Security.JWT.Enabled,
		Secret:    r.cfg.Security.JWT.Secret,
		Issuer:    r.cfg.Security.JWT.Issuer,
		SkipPaths: middleware.DefaultSkipPaths,
	}))
	v1.Use(middleware.RateLimit(middleware.RateLimitConfig{
		Enabled:           r.cfg.Security.RateLimit.Enabled,
		RequestsPerMinute: r.cfg.Security.RateLimit.RequestsPerMinute,
	}, r.limiter))

	books := v1.Group("/books")
	{
		books.POST("", h.Books.CreateBook)
		books.GET("", h.Books.ListBooks)
		books.GET("/:id", h.Books.GetBook)
		books.DELETE("/:id", h.Books.DeleteBook)

		books.POST("/:id/generate", h.Generation.Generate)
		books.POST("/:id/pause", h.Generation.Pause)
		books.POST("/:id/resume", h.Generation.Resume)
		books.POST("/:id/cancel", h.Generation.Cancel)
		books.POST("/:id/retry-failed", h.Generation.RetryFailed)
		books.POST("/:id/retry-decision", h.Generation.RetryDecision)
		books.GET("/:id/status", h.Generation.Status)

		books.GET("/:id/events", h.Stream.Events)
		books.GET("/:id/ws", h.Stream.WebSocket)

		books.POST("/:id/assemble", h.Books.AssembleBook)
		books.PUT("/:id/content", h.Books.UpdateContent)
		books.PUT("/:id/status", h.Books.UpdateStatus)
		books.POST("/:id/export", h.Books.ExportBook)
	}

	settings := v1.Group("/settings")
	{
		settings.GET("", h.Settings.GetSettings)
		settings.PUT("", h.Settings.UpdateSettings)
		settings.GET("/providers", h.Settings.ListProviders)
	}

	v1.DELETE("/data", h.Books.ClearAllData)
}
