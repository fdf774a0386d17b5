package database

import (
	"context"
	"fmt"
	"time"

	"github.com/aihub/multimodal-rag/internal/config"
	"github.com/aihub/multimodal-rag/internal/logger"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NewRedisClient 创建Redis客户端并Ping一次
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		DB:           cfg.DB,
		Password:     cfg.Password,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis connected successfully", zap.String("addr", rdb.Options().Addr), zap.Int("db", cfg.DB))
	return rdb, nil
}
