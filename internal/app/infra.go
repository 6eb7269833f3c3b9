package app

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/ruanjf/nocobase-plugins/internal/config"
	"github.com/ruanjf/nocobase-plugins/internal/db"
	"github.com/ruanjf/nocobase-plugins/internal/logger"
	"github.com/ruanjf/nocobase-plugins/internal/redis"
)

type Infra struct {
	DB    *db.DB
	Redis *redis.Client
}

func setupInfra(ctx context.Context, cfg *config.Config) (*Infra, error) {
	database, err := db.Open(ctx, cfg.Database.URL)
	if err != nil {
		return nil, err
	}

	if err := db.RunMigration(ctx, database.DB); err != nil {
		_ = database.Close()
		return nil, err
	}

	logger.Info("database ready")

	redisClient, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		_ = database.Close()
		return nil, err
	}

	logger.Info("redis ready", zap.String("addr", cfg.Redis.Addr))

	return &Infra{
		DB:    database,
		Redis: redisClient,
	}, nil
}

func (i *Infra) Close() error {
	return errors.Join(i.Redis.Close(), i.DB.Close())
}
