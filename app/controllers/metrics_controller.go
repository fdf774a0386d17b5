package controllers

import (
	"net/http"

	"github.com/beego/beego/v2/server/web"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsController 指标控制器
type MetricsController struct {
	web.Controller
	Handler http.Handler
}

// NewMetricsController gatherer为nil时使用默认注册表
func NewMetricsController(gatherer prometheus.Gatherer) *MetricsController {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &MetricsController{
		Handler: promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}),
	}
}

// Metrics 返回Prometheus格式的指标
func (c *MetricsController) Metrics() {
	c.Handler.ServeHTTP(c.Ctx.ResponseWriter, c.Ctx.Request)
}
