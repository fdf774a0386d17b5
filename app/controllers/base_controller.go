package controllers

import (
	"net/http"
	"strings"

	apperrors "github.com/aihub/multimodal-rag/internal/errors"
	"github.com/aihub/multimodal-rag/internal/logger"
	"github.com/beego/beego/v2/server/web"
	"go.uber.org/zap"
)

// BaseController provides helpers for consistent JSON responses.
type BaseController struct {
	web.Controller
}

// JSON writes a JSON response with the supplied HTTP status code.
func (c *BaseController) JSON(status int, payload interface{}) {
	c.Ctx.Output.SetStatus(status)
	c.Data["json"] = payload
	c.ServeJSON()
}

// JSONSuccess writes a standard success envelope.
func (c *BaseController) JSONSuccess(data interface{}) {
	c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    data,
	})
}

// JSONError writes an error envelope with message.
func (c *BaseController) JSONError(status int, message string) {
	c.JSON(status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

// JSONAppError 按AppError的HTTP状态码输出，非AppError一律500
func (c *BaseController) JSONAppError(err error) {
	appErr := apperrors.GetAppError(err)
	status := appErr.HTTPCode
	if status == 0 {
		status = http.StatusInternalServerError
	}

	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("path", c.Ctx.Request.URL.Path),
			zap.String("code", string(appErr.Code)),
			zap.String("ip", c.getClientIP()),
			zap.Error(err))
	}

	c.JSON(status, map[string]interface{}{
		"success": false,
		"error":   appErr.Message,
		"code":    appErr.Code,
	})
}

// getClientIP 获取客户端真实IP地址
func (c *BaseController) getClientIP() string {
	// X-Forwarded-For可能包含多个IP，取第一个
	if xForwardedFor := c.Ctx.Input.Header("X-Forwarded-For"); xForwardedFor != "" {
		ips := strings.Split(xForwardedFor, ",")
		return strings.TrimSpace(ips[0])
	}

	if xRealIP := c.Ctx.Input.Header("X-Real-IP"); xRealIP != "" {
		return xRealIP
	}

	return c.Ctx.Input.IP()
}
