package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/beego/beego/v2/server/web"
	beecontext "github.com/beego/beego/v2/server/web/context"
	"go.uber.org/zap"
)

const requestStartKey = "request_start"

// MiddlewareManager 中间件管理器
type MiddlewareManager struct {
	logger        *zap.Logger
	maxUploadSize int64
	globalFilters []web.FilterFunc
	routeFilters  map[string][]web.FilterFunc
}

// NewMiddlewareManager 创建中间件管理器，maxUploadSize<=0表示不限制
func NewMiddlewareManager(logger *zap.Logger, maxUploadSize int64) *MiddlewareManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MiddlewareManager{
		logger:        logger,
		maxUploadSize: maxUploadSize,
		globalFilters: make([]web.FilterFunc, 0),
		routeFilters:  make(map[string][]web.FilterFunc),
	}
}

// AddGlobalFilter 添加全局过滤器
func (mm *MiddlewareManager) AddGlobalFilter(filter web.FilterFunc) {
	mm.globalFilters = append(mm.globalFilters, filter)
}

// AddRouteFilter 添加路由特定过滤器
func (mm *MiddlewareManager) AddRouteFilter(pattern string, filter web.FilterFunc) {
	mm.routeFilters[pattern] = append(mm.routeFilters[pattern], filter)
}

// ApplyAllFilters 注册到beego
func (mm *MiddlewareManager) ApplyAllFilters() {
	for _, filter := range mm.globalFilters {
		web.InsertFilter("/*", web.BeforeRouter, filter)
	}
	for pattern, filters := range mm.routeFilters {
		for _, filter := range filters {
			web.InsertFilter(pattern, web.BeforeRouter, filter)
		}
	}
	web.InsertFilter("/*", web.FinishRouter, mm.accessLogFilter(), web.WithReturnOnOutput(false))
}

// SetupDefaultMiddlewares 设置默认中间件
func (mm *MiddlewareManager) SetupDefaultMiddlewares() {
	mm.AddGlobalFilter(mm.requestStartFilter())
	mm.AddGlobalFilter(SecurityHeaders)
	mm.AddGlobalFilter(CORSMiddleware)

	mm.AddRouteFilter("/api/upload", mm.uploadSizeFilter())
}

func (mm *MiddlewareManager) requestStartFilter() web.FilterFunc {
	return func(ctx *beecontext.Context) {
		ctx.Input.SetData(requestStartKey, time.Now())
	}
}

// accessLogFilter 请求完成后记录日志，按状态码区分级别
func (mm *MiddlewareManager) accessLogFilter() web.FilterFunc {
	return func(ctx *beecontext.Context) {
		status := ctx.ResponseWriter.Status
		if status == 0 {
			status = http.StatusOK
		}

		fields := []zap.Field{
			zap.String("method", ctx.Input.Method()),
			zap.String("path", ctx.Input.URL()),
			zap.Int("status", status),
			zap.String("remote_addr", getClientIP(ctx)),
		}
		if start, ok := ctx.Input.GetData(requestStartKey).(time.Time); ok {
			fields = append(fields, zap.Duration("duration", time.Since(start)))
		}

		switch {
		case status >= 500:
			mm.logger.Error("Request completed", fields...)
		case status >= 400:
			mm.logger.Warn("Request completed", fields...)
		default:
			mm.logger.Debug("Request completed", fields...)
		}
	}
}

// uploadSizeFilter 按Content-Length提前拒绝超大上传
func (mm *MiddlewareManager) uploadSizeFilter() web.FilterFunc {
	return func(ctx *beecontext.Context) {
		if mm.maxUploadSize <= 0 || ctx.Request.ContentLength <= mm.maxUploadSize {
			return
		}
		ctx.Output.SetStatus(http.StatusRequestEntityTooLarge)
		_ = ctx.Output.JSON(map[string]interface{}{
			"success": false,
			"error":   fmt.Sprintf("File exceeds the maximum upload size of %d bytes.", mm.maxUploadSize),
			"code":    "FILE_TOO_LARGE",
		}, false, false)
	}
}

// SecurityHeaders 安全头
func SecurityHeaders(ctx *beecontext.Context) {
	ctx.Output.Header("X-Content-Type-Options", "nosniff")
	ctx.Output.Header("X-Frame-Options", "DENY")
	ctx.Output.Header("Referrer-Policy", "strict-origin-when-cross-origin")
}

func getClientIP(ctx *beecontext.Context) string {
	if xff := ctx.Input.Header("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	if xRealIP := ctx.Input.Header("X-Real-IP"); xRealIP != "" {
		return xRealIP
	}
	return ctx.Input.IP()
}
