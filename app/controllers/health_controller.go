package controllers

import (
	"net/http"

	"github.com/aihub/multimodal-rag/internal/database"
	"github.com/aihub/multimodal-rag/internal/services"
)

// HealthController 健康检查控制器
type HealthController struct {
	BaseController
	Service      *services.KnowledgeService
	Dependencies *database.HealthRegistry
}

func (c *HealthController) Health() {
	c.JSONSuccess(map[string]string{"status": "healthy"})
}

// Ready 索引文件可读且已启用的外部依赖健康时才算就绪
func (c *HealthController) Ready() {
	if c.Service == nil {
		c.JSONError(http.StatusServiceUnavailable, "knowledge service not initialized")
		return
	}
	status, err := c.Service.Status(c.Ctx.Request.Context())
	if err != nil {
		c.JSONAppError(err)
		return
	}
	payload := map[string]interface{}{
		"status":          "ready",
		"has_text_index":  status.HasTextIndex,
		"has_image_index": status.HasImageIndex,
	}
	if c.Dependencies != nil {
		payload["dependencies"] = c.Dependencies.Results()
		if !c.Dependencies.Healthy() {
			payload["status"] = "degraded"
			c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
				"success": false,
				"data":    payload,
			})
			return
		}
	}
	c.JSONSuccess(payload)
}
