package router

import (
	"fmt"

	"github.com/aihub/multimodal-rag/app/controllers"
	"github.com/aihub/multimodal-rag/app/middleware"
	"github.com/aihub/multimodal-rag/internal/config"
	"github.com/aihub/multimodal-rag/internal/logger"
	"github.com/beego/beego/v2/server/web"
	"github.com/prometheus/client_golang/prometheus"
)

// Init 注册中间件与全部路由。必须在配置和容器初始化之后调用
func Init(factory *controllers.ControllerFactory, cfg *config.Config) error {
	knowledgeController, err := factory.CreateKnowledgeController()
	if err != nil {
		return fmt.Errorf("create knowledge controller: %w", err)
	}
	healthController, err := factory.CreateHealthController()
	if err != nil {
		return fmt.Errorf("create health controller: %w", err)
	}

	mm := middleware.NewMiddlewareManager(logger.Named("http"), cfg.FileUpload.MaxSize)
	mm.SetupDefaultMiddlewares()
	mm.ApplyAllFilters()

	web.Router("/", knowledgeController, "get:Home")
	web.Router("/health", healthController, "get:Health")
	web.Router("/ready", healthController, "get:Ready")

	web.Router("/api/upload", knowledgeController, "post:Upload")
	web.Router("/api/query", knowledgeController, "post:Query")
	web.Router("/api/search", knowledgeController, "get,post:Search")
	web.Router("/api/reset", knowledgeController, "post:Reset")
	web.Router("/api/status", knowledgeController, "get:Status")
	web.Router("/images/:name", knowledgeController, "get:Image")

	if cfg.Prometheus.Enabled {
		path := cfg.Prometheus.Path
		if path == "" {
			path = "/metrics"
		}
		web.Router(path, controllers.NewMetricsController(prometheus.DefaultGatherer), "get:Metrics")
	}
	return nil
}
