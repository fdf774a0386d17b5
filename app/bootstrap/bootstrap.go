package bootstrap

import (
	"fmt"
	"log"
	"os"

	"github.com/aihub/multimodal-rag/app/middleware"
	"github.com/aihub/multimodal-rag/internal/config"
	"github.com/aihub/multimodal-rag/internal/di"
	"github.com/aihub/multimodal-rag/internal/kafka"
	"github.com/aihub/multimodal-rag/internal/logger"
	"github.com/aihub/multimodal-rag/internal/services"
	"github.com/joho/godotenv"
	"go.uber.org/dig"
	"go.uber.org/zap"
)

// Options 控制启动哪些后台组件
type Options struct {
	// StartConsumer 订阅其他实例的入库事件，CLI不需要
	StartConsumer bool
}

// App encapsulates lifecycle resources that need to be cleaned up on shutdown.
type App struct {
	Config    *config.Config
	Container *dig.Container
	Service   *services.KnowledgeService

	loader       *config.Loader
	cleanupTasks []func() error
}

// Init bootstraps configuration, logger and the dependency container.
func Init(opts Options) (*App, error) {
	// Load environment variables from .env if present (non-fatal if missing).
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	if err := logger.InitLogger(); err != nil {
		return nil, err
	}

	loader := config.NewLoader()
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	config.AppConfig = cfg

	app := &App{Config: cfg, loader: loader}

	if os.Getenv("CONFIG_FILE") != "" {
		loader.OnUpdate(func(oldConfig, newConfig *config.Config) {
			// 索引与客户端已经按旧配置建好，只有重启后才会生效
			config.AppConfig = newConfig
			logger.Info("Configuration file changed, restart to apply index settings",
				zap.Int("chunk_size", newConfig.Knowledge.ChunkSize),
				zap.Int("top_k_default", newConfig.Knowledge.TopKDefault))
		})
		if err := loader.Watch(); err != nil {
			logger.Warn("Failed to watch config file", zap.Error(err))
		}
	}

	container, err := di.InitContainer(cfg)
	if err != nil {
		return nil, fmt.Errorf("init container: %w", err)
	}
	app.Container = container

	if err := container.Invoke(func(svc *services.KnowledgeService, closers *di.Closers) {
		app.Service = svc
		app.cleanupTasks = append(app.cleanupTasks, closers.Close)
	}); err != nil {
		return nil, fmt.Errorf("resolve knowledge service: %w", err)
	}

	middleware.AllowOrigin(os.Getenv("CORS_ALLOWED_ORIGIN"))

	if opts.StartConsumer && cfg.Kafka.Enabled {
		app.startConsumer()
	}

	logger.Info("Application bootstrapped",
		zap.String("env", cfg.Server.Env),
		zap.String("index_dir", cfg.Knowledge.IndexDir),
		zap.Bool("kafka", cfg.Kafka.Enabled))
	return app, nil
}

// startConsumer 失败只记录日志，单实例部署不依赖Kafka
func (a *App) startConsumer() {
	groupID := a.Config.Kafka.GroupID
	if groupID == "" {
		hostname, _ := os.Hostname()
		groupID = "multimodal-rag-" + hostname
	}

	consumer, err := kafka.NewConsumer(a.Config.Kafka.Brokers, groupID, []string{a.Config.Kafka.Topic})
	if err != nil {
		logger.Warn("Failed to initialize Kafka consumer", zap.Error(err))
		return
	}
	consumer.RegisterHandler(a.Config.Kafka.Topic, kafka.IngestionEventHandler(a.Service.HandleIngestionEvent))
	consumer.Start()

	a.cleanupTasks = append(a.cleanupTasks, consumer.Close)
	logger.Info("Kafka consumer started",
		zap.String("group_id", groupID),
		zap.String("topic", a.Config.Kafka.Topic))
}

// Shutdown flushes/logs and closes resources gracefully.
func (a *App) Shutdown() {
	// Execute cleanup tasks in reverse order (best effort).
	for i := len(a.cleanupTasks) - 1; i >= 0; i-- {
		if err := a.cleanupTasks[i](); err != nil {
			log.Printf("Cleanup error: %v\n", err)
		}
	}

	logger.Sync()
}
