package app

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ruanjf/nocobase-plugins/internal/auth/credentials"
	"github.com/ruanjf/nocobase-plugins/internal/auth/handler"
	"github.com/ruanjf/nocobase-plugins/internal/auth/userstore"
	"github.com/ruanjf/nocobase-plugins/internal/config"
	"github.com/ruanjf/nocobase-plugins/internal/logger"
	"github.com/ruanjf/nocobase-plugins/internal/metrics"
	"github.com/ruanjf/nocobase-plugins/internal/middleware"
	"github.com/ruanjf/nocobase-plugins/internal/session"
)

func setupHTTP(ctx context.Context, cfg *config.Config) (*gin.Engine, func() error, error) {
	infra, err := setupInfra(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	metrics.Init()

	// ----------------------------
	// Dependencies
	// ----------------------------

	users := userstore.NewPostgresStore(infra.DB)

	registry, err := buildRegistry(cfg, users)
	if err != nil {
		_ = infra.Close()
		return nil, nil, err
	}

	sessions := session.NewManager(
		session.NewRedisStore(infra.Redis.Client),
		session.NewTokens(cfg.Session.Secret, cfg.Session.Issuer),
		cfg.Session.TTL,
	)

	authHandler := handler.NewHandler(
		registry,
		sessions,
		credentials.NewService(infra.DB),
		users,
		handler.Options{
			PublicURL:       cfg.Server.PublicURL,
			PublicPath:      cfg.Server.PublicPath,
			DefaultRedirect: cfg.Server.DefaultRedirect,
		},
	)

	authMiddleware := middleware.NewAuthMiddleware(sessions)

	// ----------------------------
	// Router
	// ----------------------------

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	authHandler.RegisterRoutes(router, middleware.GinRequireAuth(authMiddleware))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router, infra.Close, nil
}

// requestLogger logs one line per request through zap.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		)
	}
}
