package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/ruanjf/nocobase-plugins/internal/app"
	"github.com/ruanjf/nocobase-plugins/internal/config"
	"github.com/ruanjf/nocobase-plugins/internal/logger"
)

func main() {
	config.InitFlags()
	pflag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.SecretGenerated() {
		logger.Warn("auto-generated session secret; set SESSION_SECRET to keep sessions across restarts")
	}

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	application, err := app.New(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialize app", zap.Error(err))
	}

	go func() {
		if err := application.Run(); err != nil {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	logger.Info("dingtalk-auth started",
		zap.Int("port", cfg.Server.Port),
		zap.Int("authenticators", len(cfg.Authenticators)),
	)

	<-ctx.Done() // wait for Ctrl+C

	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
		return
	}

	logger.Info("dingtalk-auth stopped cleanly")
}
